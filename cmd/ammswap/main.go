package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/allowance"
	"github.com/songzhibin97/ammswap/internal/chain/evm"
	"github.com/songzhibin97/ammswap/internal/configs"
	"github.com/songzhibin97/ammswap/internal/data"
	collectorData "github.com/songzhibin97/ammswap/internal/data/collector"
	"github.com/songzhibin97/ammswap/internal/data/collector/binance"
	"github.com/songzhibin97/ammswap/internal/data/collector/binancesdk"
	"github.com/songzhibin97/ammswap/internal/data/storage"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/ledger"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/observability"
	"github.com/songzhibin97/ammswap/internal/risk"
	"github.com/songzhibin97/ammswap/internal/session"
	"github.com/songzhibin97/ammswap/internal/system"
	"github.com/songzhibin97/ammswap/internal/trading"
	"github.com/songzhibin97/ammswap/internal/trading/amm"
	"github.com/songzhibin97/ammswap/internal/units"
)

var (
	flagconf     string
	flagUser     string
	flagPair     string
	flagSide     string
	flagAmount   string
	flagLimit    string
	flagIntent   bool
	flagExecute  string
	flagCancel   string
	flagBalances bool
	flagResync   bool
	flagTrades   bool

	log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
)

func init() {
	flag.StringVar(&flagconf, "conf", "../configs/config.json", "config path, eg: -conf config.json")
	flag.StringVar(&flagUser, "user", "", "user id")
	flag.StringVar(&flagPair, "pair", "ETH-USDT", "trading pair, eg: ETH-USDT")
	flag.StringVar(&flagSide, "side", "buy", "buy or sell")
	flag.StringVar(&flagAmount, "amount", "", "base token amount")
	flag.StringVar(&flagLimit, "limit", "", "limit price, empty for the reference price")
	flag.BoolVar(&flagIntent, "intent", false, "only submit a pending intent")
	flag.StringVar(&flagExecute, "execute-intent", "", "execute the pending intent with this id")
	flag.StringVar(&flagCancel, "cancel", "", "cancel the pending intent with this id")
	flag.BoolVar(&flagBalances, "balances", false, "print mirrored balances")
	flag.BoolVar(&flagResync, "resync", false, "rebuild mirrored balances from chain")
	flag.BoolVar(&flagTrades, "trades", false, "list trades")
}

func main() {
	flag.Parse()

	config, err := configs.Load(flagconf)
	if err != nil {
		log.Error("Error loading config", "err", err)
		os.Exit(1)
	}
	log.Debug("Loaded config", "rpc", config.Chain.RPCURL, "pairs", len(config.Pairs))

	if config.Proxy != "" {
		_ = os.Setenv("HTTP_PROXY", config.Proxy)
		_ = os.Setenv("HTTPS_PROXY", config.Proxy)
		log.Debug("set proxy ok", "proxy", config.Proxy)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, closeFn, err := build(ctx, config)
	if err != nil {
		log.Error("Error building system", "err", err)
		os.Exit(1)
	}
	out, err := app.run(ctx)
	closeFn()
	if err == nil {
		printJSON(out)
		return
	}
	// 链上已结算但对账失败时仍输出结果
	if result, ok := out.(*trading.Result); ok && result != nil {
		printJSON(result)
	}
	kind := errs.KindOf(err)
	log.Error("Command failed",
		"kind", kind,
		"category", kind.Category(),
		"severity", kind.Severity(),
		"stage", errs.StageOf(err),
		"err", err)
	printJSON(map[string]string{"error": string(kind), "message": err.Error()})
	stop()
	os.Exit(2)
}

type app struct {
	system *system.System
	signer *evm.KeyedSigner
}

func build(ctx context.Context, config *configs.Config) (*app, func(), error) {
	metrics := observability.NewMetrics("ammswap")
	if config.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(config.Metrics.Addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "err", err)
			}
		}()
		log.Debug("serving metrics", "addr", config.Metrics.Addr)
	}

	var store data.Storage
	closeFn := func() {}
	if config.Database.ConnStr != "" {
		pg, err := storage.NewPostgresStorage(config.Database.ConnStr)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = pg, func() { _ = pg.Close() }
		log.Debug("init postgres storage")
	} else {
		store = storage.NewMemoryStorage()
		log.Warn("no database configured, using in-memory storage")
	}

	registry, err := units.NewRegistry(config.Tokens)
	if err != nil {
		return nil, nil, err
	}

	collector := collectorData.NewMultiSourceCollector([]collectorData.DataSource{
		binance.NewBinanceDataSource(),
		binancesdk.NewPriceSource(config.ExchangeConfig.APIKey, config.ExchangeConfig.SecretKey, config.ExchangeConfig.Debug),
	}, log, collectorData.WithStore(store, config.PriceMaxAge()), collectorData.WithMetrics(metrics))
	log.Debug("init collector")

	pairs, err := trading.NewPairRegistry(config.Pairs, registry, collector, log)
	if err != nil {
		return nil, nil, err
	}

	rpc, err := evm.Dial(config.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	client := evm.NewClient(rpc, big.NewInt(config.Chain.ChainID), config.PollInterval())
	router := evm.NewRouter(client, config.Chain.Router)
	tokens := evm.NewTokens(client)
	log.Debug("init chain client", "chain_id", config.Chain.ChainID)

	var signer *evm.KeyedSigner
	if key := os.Getenv(config.Chain.SignerKeyEnv); key != "" {
		signer, err = evm.NewKeyedSigner(key)
		if err != nil {
			return nil, nil, err
		}
	}

	allowances := allowance.NewManager(config.ApprovalMode(), config.ConfirmTimeout(), log, metrics)
	executor, err := amm.NewExecutor(router, tokens, registry, pairs, allowances, amm.Config{
		Tolerance:      config.Tolerance(),
		DeadlineWindow: config.DeadlineWindow(),
		ConfirmTimeout: config.ConfirmTimeout(),
	}, log, metrics)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("init executor")

	var riskManager risk.RiskManager
	if config.RiskParams.Enabled() {
		rm := risk.NewBasicRiskManager(risk.RiskParameters{})
		if err := rm.SetRiskParameters(ctx, &config.RiskParams); err != nil {
			return nil, nil, err
		}
		riskManager = rm
		log.Debug("set risk parameters ok!")
	}

	reconciler := ledger.NewReconciler(store, store, log, metrics)
	sys := system.NewSystem(executor, pairs, registry, tokens, reconciler, store, riskManager, log)
	return &app{system: sys, signer: signer}, closeFn, nil
}

func (a *app) session(ctx context.Context) (*session.Session, error) {
	if a.signer == nil {
		return nil, errs.New(errs.WalletNotConnected, "main.session", "no signer key in environment")
	}
	return session.Connect(ctx, flagUser, a.signer)
}

func (a *app) order() (*trading.Order, error) {
	amount, err := units.ParseAmount(flagAmount)
	if err != nil {
		return nil, err
	}
	limit := decimal.Zero
	if flagLimit != "" {
		if limit, err = units.ParseAmount(flagLimit); err != nil {
			return nil, err
		}
	}
	return &trading.Order{Pair: flagPair, Side: models.Side(flagSide), Amount: amount, LimitPrice: limit}, nil
}

func (a *app) run(ctx context.Context) (interface{}, error) {
	if flagUser == "" {
		return nil, errs.New(errs.WalletNotConnected, "main.run", "-user is required")
	}

	switch {
	case flagBalances:
		return a.system.Balances(ctx, flagUser)
	case flagTrades:
		return a.system.ListTrades(ctx, flagUser)
	case flagCancel != "":
		return a.system.CancelOrder(ctx, flagUser, flagCancel)
	}

	sess, err := a.session(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case flagResync:
		return a.system.ResyncFromChain(ctx, sess)
	case flagExecute != "":
		return a.system.ExecuteIntent(ctx, sess, flagExecute)
	}

	order, err := a.order()
	if err != nil {
		return nil, err
	}
	if flagIntent {
		return a.system.SubmitIntent(ctx, sess, order)
	}
	return a.system.PlaceOrder(ctx, sess, order)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error("Error encoding output", "err", err)
	}
}
