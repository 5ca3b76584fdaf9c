package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/internal/session"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

var (
	errGatewayRequired  = errors.New("cart gateway is required")
	errSessionsRequired = errors.New("cart session loader is required")
	errLoggerRequired   = errors.New("cart logger is required")
)

type remoteCart interface {
	FetchCart(ctx context.Context, userID string) (*gateway.CartSnapshot, error)
	AddToCart(ctx context.Context, userID, productID string, quantity, price decimal.Decimal) error
	DeleteCartItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

type sessionLoader interface {
	Load(ctx context.Context) (*session.Record, error)
}

type stockChecker interface {
	CheckStock(ctx context.Context, productID string) (bool, error)
}

// Manager mirrors the remote per-user cart. The backend owns the truth: every
// mutation is pushed upstream and the local mirror is replaced wholesale by
// the next fetch. Whether an add merges into an existing line or appends a
// new one is the backend's call and is never guessed locally.
type Manager struct {
	gateway  remoteCart
	sessions sessionLoader
	stock    stockChecker
	logger   *logger.Logger

	fetches singleflight.Group

	mu           sync.Mutex
	initializing bool
	userID       string
	lines        []gateway.CartLine
	subTotal     decimal.Decimal

	// fetchGen is bumped on every mutation; fetch results from an older
	// generation are discarded instead of installed.
	fetchGen uint64
}

// NewManager builds a cart manager. The stock checker is optional; without
// one, out-of-stock rejection is left to the backend.
func NewManager(gw remoteCart, sessions sessionLoader, stock stockChecker, logg *logger.Logger) (*Manager, error) {
	if gw == nil {
		return nil, errGatewayRequired
	}
	if sessions == nil {
		return nil, errSessionsRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	return &Manager{
		gateway:      gw,
		sessions:     sessions,
		stock:        stock,
		logger:       logg,
		initializing: true,
	}, nil
}

// LoadSession runs once at startup: it reads the persisted identity, binds
// the cart to it, and pulls the remote cart when someone is logged in. A
// missing session just leaves the cart signed out.
func (m *Manager) LoadSession(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
	}()

	record, err := m.sessions.Load(ctx)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotAuthenticated) {
		return nil
	}
	if err != nil {
		return err
	}

	m.SetSession(ctx, record.UserID)
	return nil
}

// SetSession binds the cart to a user and pulls their remote cart. An empty
// user id signs the cart out without any network call.
func (m *Manager) SetSession(ctx context.Context, userID string) {
	m.mu.Lock()
	previous := m.userID
	m.userID = userID
	m.lines = nil
	m.subTotal = decimal.Zero
	m.fetchGen++
	m.mu.Unlock()
	if previous != "" {
		m.fetches.Forget(fetchKey(previous))
	}

	if userID != "" {
		m.FetchCart(ctx)
	}
}

// FetchCart replaces the local mirror with the backend's cart. Concurrent
// fetches for the same user share one round trip. Degraded reads are not
// errors: on failure the mirror is emptied, a warning is logged, and the next
// fetch can recover.
func (m *Manager) FetchCart(ctx context.Context) {
	m.mu.Lock()
	userID := m.userID
	gen := m.fetchGen
	m.mu.Unlock()
	if userID == "" {
		return
	}

	result, err, _ := m.fetches.Do(fetchKey(userID), func() (any, error) {
		return m.gateway.FetchCart(ctx, userID)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID != userID || m.fetchGen != gen {
		// Session changed or the cart mutated mid-flight; this result is
		// stale and must not overwrite the mirror.
		return
	}
	if err != nil {
		m.logger.Warn(m.logger.WithUserID(ctx, userID), fmt.Sprintf("cart fetch failed, emptying mirror: %v", err))
		m.lines = nil
		m.subTotal = decimal.Zero
		return
	}

	snapshot := result.(*gateway.CartSnapshot)
	m.lines = snapshot.Lines
	m.subTotal = snapshot.SubTotal
}

// AddToCart stages a product line upstream, then resynchronizes before
// returning so the caller observes the backend's merge decision. Quantity is
// decimal because weight-based goods sell in fractional units.
func (m *Manager) AddToCart(ctx context.Context, productID string, unitPrice, quantity decimal.Decimal) error {
	userID, err := m.requireSession()
	if err != nil {
		return err
	}
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if !quantity.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
	}

	if m.stock != nil {
		available, err := m.stock.CheckStock(ctx, productID)
		if err != nil {
			// The backend enforces stock anyway; a failed pre-check is not fatal.
			m.logger.Warn(m.logger.WithUserID(ctx, userID), fmt.Sprintf("stock check failed for product %s: %v", productID, err))
		} else if !available {
			return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("product %s is out of stock", productID))
		}
	}

	if err := m.gateway.AddToCart(ctx, userID, productID, quantity, unitPrice); err != nil {
		return err
	}
	m.invalidate(userID)
	m.FetchCart(ctx)
	return nil
}

// RemoveFromCart deletes one line upstream. The delete is best effort: a
// failed delete is logged and the follow-up fetch decides what the cart
// really contains.
func (m *Manager) RemoveFromCart(ctx context.Context, itemID string) error {
	userID, err := m.requireSession()
	if err != nil {
		return err
	}
	if itemID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart item id is required")
	}

	if err := m.gateway.DeleteCartItem(ctx, userID, itemID); err != nil {
		m.logger.Warn(m.logger.WithUserID(ctx, userID), fmt.Sprintf("cart item delete failed, resyncing: %v", err))
	}
	m.invalidate(userID)
	m.FetchCart(ctx)
	return nil
}

// ClearCart requests a remote clear, then empties the local mirror
// unconditionally. Clearing is idempotent.
func (m *Manager) ClearCart(ctx context.Context) error {
	userID, err := m.requireSession()
	if err != nil {
		return err
	}

	clearErr := m.gateway.ClearCart(ctx, userID)

	m.mu.Lock()
	m.lines = nil
	m.subTotal = decimal.Zero
	m.fetchGen++
	m.mu.Unlock()
	m.fetches.Forget(fetchKey(userID))

	return clearErr
}

// Items returns a copy of the local cart lines.
func (m *Manager) Items() []gateway.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gateway.CartLine, len(m.lines))
	copy(out, m.lines)
	return out
}

// Total returns the backend sub_total when one was served, falling back to
// summing the line totals.
func (m *Manager) Total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.subTotal.IsZero() {
		return m.subTotal
	}
	total := decimal.Zero
	for _, line := range m.lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// UserID returns the bound user, empty when signed out.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Initializing reports whether LoadSession has completed yet.
func (m *Manager) Initializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializing
}

func (m *Manager) requireSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotAuthenticated, "no user session bound to cart")
	}
	return m.userID, nil
}

// invalidate marks every in-flight fetch for the user stale and evicts the
// shared flight, so the resync that follows a mutation cannot join a round
// trip that started before the mutation landed.
func (m *Manager) invalidate(userID string) {
	m.mu.Lock()
	m.fetchGen++
	m.mu.Unlock()
	m.fetches.Forget(fetchKey(userID))
}

func fetchKey(userID string) string {
	return fmt.Sprintf("fetch:%s", userID)
}
