package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/songzhibin97/ammswap/internal/data"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
)

var _ data.Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps everything in process. Used for dry runs and tests.
type MemoryStorage struct {
	mu          sync.RWMutex
	trades      map[string]models.Trade
	balances    map[string]models.Balances
	divergences []models.Divergence
	market      map[string][]models.MarketData
	nextID      int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		trades:   make(map[string]models.Trade),
		balances: make(map[string]models.Balances),
		market:   make(map[string][]models.MarketData),
	}
}

func (s *MemoryStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; ok {
		return nil
	}
	s.trades[trade.ID] = *trade
	return nil
}

func (s *MemoryStorage) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, errs.New(errs.TradeNotFound, "storage.get_trade", "no trade %s", id)
	}
	return &t, nil
}

func (s *MemoryStorage) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemoryStorage) TransitionTrade(ctx context.Context, id string, from, next models.TradeStatus) (*models.Trade, error) {
	if !models.CanTransition(from, next) {
		return nil, errs.New(errs.InvalidTransition, "storage.transition_trade", "trade %s: %s -> %s", id, from, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, errs.New(errs.TradeNotFound, "storage.transition_trade", "no trade %s", id)
	}
	if t.Status != from {
		return nil, errs.New(errs.InvalidTransition, "storage.transition_trade", "trade %s is %s, not %s", id, t.Status, from)
	}
	t.Status = next
	s.trades[id] = t
	return &t, nil
}

func (s *MemoryStorage) LoadBalances(ctx context.Context, userID string) (models.Balances, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[userID]; ok {
		return b.Clone(), nil
	}
	return make(models.Balances), nil
}

func (s *MemoryStorage) SaveBalances(ctx context.Context, userID string, balances models.Balances) error {
	for symbol, amount := range balances {
		if amount.IsNegative() {
			return errs.New(errs.InsufficientBalance, "storage.save_balances", "negative %s balance for %s", symbol, userID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balances.Clone()
	return nil
}

func (s *MemoryStorage) RecordDivergence(ctx context.Context, d *models.Divergence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.ID = s.nextID
	s.divergences = append(s.divergences, *d)
	return nil
}

func (s *MemoryStorage) ListDivergences(ctx context.Context, userID string) ([]models.Divergence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Divergence
	for _, d := range s.divergences {
		if d.UserID == userID && !d.Resolved() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStorage) ResolveDivergences(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.divergences {
		if s.divergences[i].UserID == userID && !s.divergences[i].Resolved() {
			resolved := at
			s.divergences[i].ResolvedAt = &resolved
		}
	}
	return nil
}

func (s *MemoryStorage) SaveMarketData(ctx context.Context, md *models.MarketData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market[md.Symbol] = append(s.market[md.Symbol], *md)
	return nil
}

func (s *MemoryStorage) LatestMarketData(ctx context.Context, symbol string) (*models.MarketData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.market[symbol]
	if len(history) == 0 {
		return nil, data.ErrNoMarketData
	}
	latest := history[0]
	for _, md := range history[1:] {
		if !md.Timestamp.Before(latest.Timestamp) {
			latest = md
		}
	}
	return &latest, nil
}
