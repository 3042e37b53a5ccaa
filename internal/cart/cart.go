// Package cart holds per-user cart state for the gateway. Local
// quantity adjustments apply instantly; add/update/remove/clear go to
// the upstream API and replace the state wholesale on success.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"clinicfront/internal/model"
)

// Mutator is the slice of the upstream client the cart needs.
type Mutator interface {
	GetCart(ctx context.Context, token string) (model.Cart, error)
	AddToCart(ctx context.Context, token, productID string, quantity int) (model.Cart, error)
	UpdateCart(ctx context.Context, token, productID string, quantity int) (model.Cart, error)
	RemoveFromCart(ctx context.Context, token, productID string) (model.Cart, error)
	ClearCart(ctx context.Context, token string) (model.Cart, error)
}

// Store is one user's cart. All mutation paths funnel through
// recompute so the totals always equal the fold over the items.
type Store struct {
	mu    sync.RWMutex
	items []model.CartItem

	totalItems  int
	totalAmount float64

	token    string
	upstream Mutator
	log      *slog.Logger
}

func NewStore(token string, upstream Mutator, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{token: token, upstream: upstream, log: log}
}

// Snapshot returns a copy of the current cart state.
func (s *Store) Snapshot() model.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]model.CartItem, len(s.items))
	copy(items, s.items)
	return model.Cart{Items: items, TotalItems: s.totalItems, TotalAmount: s.totalAmount}
}

// ApplyLocalDelta bumps one item's quantity by direction (+1 or -1)
// without contacting the server. Decrementing below 1 is a no-op:
// removal is an explicit separate operation.
func (s *Store) ApplyLocalDelta(productID string, direction int) {
	if direction != 1 && direction != -1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ProductID != productID {
			continue
		}
		next := s.items[i].Quantity + direction
		if next < 1 {
			return
		}
		s.items[i].Quantity = next
		s.recompute()
		return
	}
}

// ReplaceFromServer swaps the whole cart for the upstream's version.
// Totals are recomputed here rather than trusted from the wire.
func (s *Store) ReplaceFromServer(c model.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]model.CartItem, len(c.Items))
	copy(s.items, c.Items)
	s.recompute()
}

// recompute rebuilds both totals from the items. Callers hold mu.
func (s *Store) recompute() {
	total, amount := 0, 0.0
	for _, it := range s.items {
		total += it.Quantity
		amount += it.Price * float64(it.Quantity)
	}
	s.totalItems = total
	s.totalAmount = amount
}

// Refresh pulls the authoritative cart from upstream.
func (s *Store) Refresh(ctx context.Context) error {
	c, err := s.upstream.GetCart(ctx, s.token)
	if err != nil {
		return fmt.Errorf("refresh cart: %w", err)
	}
	s.ReplaceFromServer(c)
	return nil
}

// Add, Update, Remove and Clear are the authoritative mutations. On
// failure the local state stays exactly as it was and the error goes
// back to the caller (user-visible policy).

func (s *Store) Add(ctx context.Context, productID string, quantity int) error {
	c, err := s.upstream.AddToCart(ctx, s.token, productID, quantity)
	if err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	s.ReplaceFromServer(c)
	return nil
}

func (s *Store) Update(ctx context.Context, productID string, quantity int) error {
	c, err := s.upstream.UpdateCart(ctx, s.token, productID, quantity)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	s.ReplaceFromServer(c)
	return nil
}

func (s *Store) Remove(ctx context.Context, productID string) error {
	c, err := s.upstream.RemoveFromCart(ctx, s.token, productID)
	if err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}
	s.ReplaceFromServer(c)
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	c, err := s.upstream.ClearCart(ctx, s.token)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.ReplaceFromServer(c)
	return nil
}

// Manager hands out one Store per bearer token, created lazily.
type Manager struct {
	mu       sync.RWMutex
	stores   map[string]*Store
	upstream Mutator
	log      *slog.Logger
}

func NewManager(upstream Mutator, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{stores: make(map[string]*Store), upstream: upstream, log: log}
}

func (m *Manager) For(token string) *Store {
	m.mu.RLock()
	s, ok := m.stores[token]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.stores[token]; ok {
		return s
	}
	s = NewStore(token, m.upstream, m.log)
	m.stores[token] = s
	return s
}
