package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/allowance"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/risk"
	"github.com/songzhibin97/ammswap/internal/slippage"
	"github.com/songzhibin97/ammswap/internal/units"
)

const defaultSignerKeyEnv = "SIGNER_KEY"

type Config struct {
	Proxy string `json:"proxy" yaml:"proxy"` // HTTP(S) 代理

	Database Database `json:"database" yaml:"database"`

	// 链与路由合约
	Chain ChainConfig `json:"chain" yaml:"chain"`

	// 代币精度表与交易对
	Tokens []units.Token        `json:"tokens" yaml:"tokens"`
	Pairs  []models.TradingPair `json:"pairs" yaml:"pairs"`

	// 交易参数
	TradingConfig TradingConfig `json:"trading_config" yaml:"trading_config"`

	// 风险控制参数
	RiskParams risk.RiskParameters `json:"risk_parameters" yaml:"risk_params"`

	// 交易所配置 (参考价格)
	ExchangeConfig ExchangeConfig `json:"exchange_config" yaml:"exchange_config"`

	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

type Database struct {
	ConnStr string `json:"conn_str" yaml:"conn_str"` // 数据库连接字符串, 为空时使用内存存储
}

type ChainConfig struct {
	RPCURL       string         `json:"rpc_url" yaml:"rpc_url"`
	ChainID      int64          `json:"chain_id" yaml:"chain_id"`
	Router       common.Address `json:"router" yaml:"router"`                 // AMM 路由合约地址
	SignerKeyEnv string         `json:"signer_key_env" yaml:"signer_key_env"` // 私钥所在的环境变量名
	PollInterval string         `json:"poll_interval" yaml:"poll_interval"`   // 回执轮询间隔
}

type TradingConfig struct {
	SlippageTolerance *decimal.Decimal `json:"slippage_tolerance" yaml:"slippage_tolerance"` // 滑点容忍度, 未配置时为默认值, 0 表示不容忍滑点
	DeadlineWindow    string           `json:"deadline_window" yaml:"deadline_window"`       // swap 截止时间窗口
	ConfirmTimeout    string           `json:"confirm_timeout" yaml:"confirm_timeout"`       // 等待链上确认的最长时间
	ApprovalMode      string           `json:"approval_mode" yaml:"approval_mode"`           // unbounded/exact
	PriceMaxAge       string           `json:"price_max_age" yaml:"price_max_age"`           // 缓存参考价格的有效期
}

type ExchangeConfig struct {
	Debug     bool   `json:"debug" yaml:"debug"`
	APIKey    string `json:"api_key" yaml:"api_key"`       // 交易所API密钥
	SecretKey string `json:"secret_key" yaml:"secret_key"` // 交易所密钥
}

type Metrics struct {
	Addr string `json:"addr" yaml:"addr"` // 为空时不启动 /metrics
}

// Load reads the JSON config at path, then applies overrides from .env files and the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := &Config{}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, errs.E(errs.InvalidConfiguration, "configs.load", fmt.Errorf("failed to parse config file: %w", err))
	}

	// .env 不存在时只使用进程环境变量
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Database.ConnStr = getEnv("DATABASE_URL", c.Database.ConnStr)
	c.Chain.RPCURL = getEnv("RPC_URL", c.Chain.RPCURL)
	c.ExchangeConfig.APIKey = getEnv("BINANCE_API_KEY", c.ExchangeConfig.APIKey)
	c.ExchangeConfig.SecretKey = getEnv("BINANCE_SECRET_KEY", c.ExchangeConfig.SecretKey)
	if c.Chain.SignerKeyEnv == "" {
		c.Chain.SignerKeyEnv = defaultSignerKeyEnv
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// Validate checks everything that can be checked without the network.
func (c *Config) Validate() error {
	const op = "configs.validate"
	if c.Chain.RPCURL == "" {
		return errs.New(errs.InvalidConfiguration, op, "chain.rpc_url is required")
	}
	if c.Chain.ChainID <= 0 {
		return errs.New(errs.InvalidConfiguration, op, "chain.chain_id must be positive")
	}
	if c.Chain.Router == (common.Address{}) {
		return errs.New(errs.InvalidConfiguration, op, "chain.router is required")
	}
	if len(c.Tokens) == 0 || len(c.Pairs) == 0 {
		return errs.New(errs.InvalidConfiguration, op, "at least one token and one pair are required")
	}
	if err := slippage.ValidateTolerance(c.Tolerance()); err != nil {
		return err
	}
	if _, err := allowance.ParseMode(c.TradingConfig.ApprovalMode); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"chain.poll_interval":            c.Chain.PollInterval,
		"trading_config.deadline_window": c.TradingConfig.DeadlineWindow,
		"trading_config.confirm_timeout": c.TradingConfig.ConfirmTimeout,
		"trading_config.price_max_age":   c.TradingConfig.PriceMaxAge,
	} {
		if _, err := parseDuration(v, 0); err != nil {
			return errs.New(errs.InvalidConfiguration, op, "%s: %v", name, err)
		}
	}
	return nil
}

func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}

// Tolerance is the configured slippage tolerance. An explicit 0 is kept.
func (c *Config) Tolerance() decimal.Decimal {
	if c.TradingConfig.SlippageTolerance == nil {
		return slippage.DefaultTolerance
	}
	return *c.TradingConfig.SlippageTolerance
}

func (c *Config) PollInterval() time.Duration {
	d, _ := parseDuration(c.Chain.PollInterval, 2*time.Second)
	return d
}

func (c *Config) DeadlineWindow() time.Duration {
	d, _ := parseDuration(c.TradingConfig.DeadlineWindow, slippage.DefaultDeadlineWindow)
	return d
}

func (c *Config) ConfirmTimeout() time.Duration {
	d, _ := parseDuration(c.TradingConfig.ConfirmTimeout, allowance.DefaultConfirmTimeout)
	return d
}

func (c *Config) PriceMaxAge() time.Duration {
	d, _ := parseDuration(c.TradingConfig.PriceMaxAge, time.Minute)
	return d
}

func (c *Config) ApprovalMode() allowance.Mode {
	m, _ := allowance.ParseMode(c.TradingConfig.ApprovalMode)
	return m
}
