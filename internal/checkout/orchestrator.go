package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/pkg/config"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

var (
	errGatewayRequired = errors.New("checkout gateway is required")
	errCartRequired    = errors.New("checkout cart is required")
	errLoggerRequired  = errors.New("checkout logger is required")
)

// Phase is where a purchase attempt currently stands.
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhaseCreatingOrder     Phase = "CREATING_ORDER"
	PhaseRequestingPayment Phase = "REQUESTING_PAYMENT"
	PhasePolling           Phase = "POLLING"
	PhaseSucceeded         Phase = "SUCCEEDED"
	PhaseFailed            Phase = "FAILED"
)

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Reason says why an attempt landed in Failed.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonOrderCreationFailed  Reason = "ORDER_CREATION_FAILED"
	ReasonPaymentRequestFailed Reason = "PAYMENT_REQUEST_FAILED"
	ReasonPaymentDeclined      Reason = "PAYMENT_DECLINED"
	ReasonAccountNotFound      Reason = "ACCOUNT_NOT_FOUND"
	ReasonPollTimeout          Reason = "POLL_TIMEOUT"
	ReasonCancelled            Reason = "CANCELLED"
)

// State is a snapshot of the current attempt.
type State struct {
	Phase       Phase
	OrderID     string
	Amount      decimal.Decimal
	PollAttempt int
	Reason      Reason
	PaymentURL  string
}

// Input starts a mobile-money purchase attempt.
type Input struct {
	UserID      string `validate:"required"`
	Phone       string `validate:"required"`
	Description string
	Amount      decimal.Decimal
}

// CardInput starts a card (DPO) purchase attempt. The processor wants the
// buyer profile and the delivery address, broken into the administrative
// divisions the backend stores, alongside the charge.
type CardInput struct {
	UserID           string `validate:"required"`
	FirstName        string `validate:"required"`
	LastName         string `validate:"required"`
	Email            string `validate:"required,email"`
	Phone            string `validate:"required"`
	Province         string `validate:"required"`
	District         string `validate:"required"`
	Sector           string `validate:"required"`
	Cell             string
	Village          string
	Street           string
	DescribedAddress string
	Description      string
	Amount           decimal.Decimal
}

type paymentGateway interface {
	CreateOrder(ctx context.Context, input gateway.OrderInput) (string, error)
	RequestPayment(ctx context.Context, orderID string, amount decimal.Decimal, phone string) error
	CheckPayment(ctx context.Context, orderID string) (gateway.PaymentStatus, error)
	CreateCardOrder(ctx context.Context, input gateway.CardOrderInput) (string, error)
}

type cartClearer interface {
	ClearCart(ctx context.Context) error
}

// TransitionFunc observes every phase change with a human-readable message.
type TransitionFunc func(state State, message string)

// Orchestrator drives one purchase attempt at a time through order creation,
// payment request, and the confirmation poll loop. Phases move forward
// monotonically except into Failed.
type Orchestrator struct {
	gateway  paymentGateway
	cart     cartClearer
	logger   *logger.Logger
	validate *validator.Validate

	pollInterval    time.Duration
	maxPollAttempts int

	mu           sync.Mutex
	state        State
	cancelRun    context.CancelFunc
	onTransition TransitionFunc
}

// NewOrchestrator builds a checkout orchestrator.
func NewOrchestrator(gw paymentGateway, cart cartClearer, cfg config.CheckoutConfig, logg *logger.Logger) (*Orchestrator, error) {
	if gw == nil {
		return nil, errGatewayRequired
	}
	if cart == nil {
		return nil, errCartRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	maxPollAttempts := cfg.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = 40
	}

	return &Orchestrator{
		gateway:         gw,
		cart:            cart,
		logger:          logg,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		state:           State{Phase: PhaseIdle},
	}, nil
}

// OnTransition registers the phase observer. Must be set before Start.
func (o *Orchestrator) OnTransition(fn TransitionFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTransition = fn
}

// State returns a snapshot of the current attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start begins a mobile-money attempt. Legal from Idle and from terminal
// phases; STATE_CONFLICT while another attempt is in flight. The attempt runs
// on its own goroutine; watch OnTransition or poll State for the outcome.
func (o *Orchestrator) Start(ctx context.Context, input Input) error {
	if err := o.validate.Struct(input); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout input")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout amount must be positive")
	}

	runCtx, err := o.begin(ctx, input.Amount)
	if err != nil {
		return err
	}

	go o.run(runCtx, input)
	return nil
}

// begin claims the orchestrator for a new attempt and enters CreatingOrder.
func (o *Orchestrator) begin(ctx context.Context, amount decimal.Decimal) (context.Context, error) {
	o.mu.Lock()
	if !o.state.Phase.Terminal() && o.state.Phase != PhaseIdle {
		phase := o.state.Phase
		o.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("checkout already in flight (phase %s)", phase))
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancelRun = cancel
	o.state = State{Phase: PhaseCreatingOrder, Amount: amount}
	o.mu.Unlock()

	o.notify(o.State(), "creating order")
	return runCtx, nil
}

func (o *Orchestrator) run(ctx context.Context, input Input) {
	ctx = o.logger.WithUserID(ctx, input.UserID)

	orderID, err := o.gateway.CreateOrder(ctx, gateway.OrderInput{
		UserID:      input.UserID,
		Description: input.Description,
		Phone:       input.Phone,
	})
	if err != nil {
		o.fail(ctx, ReasonOrderCreationFailed, err)
		return
	}

	ctx = o.logger.WithOrderID(ctx, orderID)
	o.transition(func(s *State) {
		s.Phase = PhaseRequestingPayment
		s.OrderID = orderID
	}, fmt.Sprintf("order %s created, requesting payment", orderID))

	if err := o.gateway.RequestPayment(ctx, orderID, input.Amount, input.Phone); err != nil {
		o.fail(ctx, ReasonPaymentRequestFailed, err)
		return
	}

	o.transition(func(s *State) {
		s.Phase = PhasePolling
	}, "payment requested, waiting for confirmation")

	o.poll(ctx, orderID)
}

// poll checks the charge on a ticker until a terminal status, cancellation,
// or attempt exhaustion. Checks are strictly serialized: the next one is only
// issued after the previous resolves.
func (o *Orchestrator) poll(ctx context.Context, orderID string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			o.fail(ctx, ReasonCancelled, ctx.Err())
			return
		case <-ticker.C:
		}

		o.transition(func(s *State) { s.PollAttempt = attempt },
			fmt.Sprintf("checking payment (attempt %d)", attempt))

		status, err := o.gateway.CheckPayment(ctx, orderID)
		switch {
		case err != nil && ctx.Err() != nil:
			o.fail(ctx, ReasonCancelled, ctx.Err())
			return
		case err != nil:
			// Transient check failures are not terminal; the next tick retries.
			o.logger.Warn(ctx, fmt.Sprintf("payment check failed: %v", err))
		case status == gateway.PaymentConfirmed:
			o.succeed(ctx)
			return
		case status == gateway.PaymentAccountNotFound:
			o.fail(ctx, ReasonAccountNotFound, nil)
			return
		case status == gateway.PaymentFailed:
			o.fail(ctx, ReasonPaymentDeclined, nil)
			return
		}

		if attempt >= o.maxPollAttempts {
			o.fail(ctx, ReasonPollTimeout, nil)
			return
		}
	}
}

// succeed finishes the attempt and clears the cart exactly once. A failed
// clear does not demote the success; the next cart fetch resynchronizes.
func (o *Orchestrator) succeed(ctx context.Context) {
	if err := o.cart.ClearCart(ctx); err != nil {
		o.logger.Warn(ctx, fmt.Sprintf("cart clear after payment failed: %v", err))
	}

	o.release()
	o.transition(func(s *State) {
		s.Phase = PhaseSucceeded
		s.Reason = ReasonNone
	}, "payment confirmed")
	o.logger.Info(ctx, "checkout succeeded")
}

func (o *Orchestrator) fail(ctx context.Context, reason Reason, err error) {
	// A cancelled context wins over whatever error it caused downstream.
	if ctx.Err() != nil {
		reason = ReasonCancelled
	}

	o.release()
	o.transition(func(s *State) {
		s.Phase = PhaseFailed
		s.Reason = reason
	}, fmt.Sprintf("checkout failed: %s", reason))

	if err != nil && reason != ReasonCancelled {
		o.logger.Error(ctx, "checkout failed", err)
	} else {
		o.logger.Info(ctx, fmt.Sprintf("checkout ended: %s", reason))
	}
}

// release drops the stored cancel func so terminal states hold no resources.
func (o *Orchestrator) release() {
	o.mu.Lock()
	cancel := o.cancelRun
	o.cancelRun = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancel aborts the in-flight attempt without notifying the backend. It is a
// no-op from Idle and from terminal phases.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.state.Phase == PhaseIdle || o.state.Phase.Terminal() || o.cancelRun == nil {
		o.mu.Unlock()
		return
	}
	cancel := o.cancelRun
	o.mu.Unlock()
	cancel()
}

// StartCardPayment runs the card (DPO) variant synchronously: it opens the
// card order and returns the hosted payment page URL. Confirmation happens
// out of band on the processor's page, so the cart is left untouched.
func (o *Orchestrator) StartCardPayment(ctx context.Context, input CardInput) (string, error) {
	if err := o.validate.Struct(input); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid card checkout input")
	}
	if !input.Amount.IsPositive() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "checkout amount must be positive")
	}

	if _, err := o.begin(ctx, input.Amount); err != nil {
		return "", err
	}
	ctx = o.logger.WithUserID(ctx, input.UserID)

	pageURL, err := o.gateway.CreateCardOrder(ctx, gateway.CardOrderInput{
		UserID:           input.UserID,
		FirstName:        input.FirstName,
		LastName:         input.LastName,
		Email:            input.Email,
		Phone:            input.Phone,
		Province:         input.Province,
		District:         input.District,
		Sector:           input.Sector,
		Cell:             input.Cell,
		Village:          input.Village,
		Street:           input.Street,
		DescribedAddress: input.DescribedAddress,
		Description:      input.Description,
		Amount:           input.Amount,
	})
	if err != nil {
		o.fail(ctx, ReasonOrderCreationFailed, err)
		return "", err
	}

	o.release()
	o.transition(func(s *State) {
		s.Phase = PhaseSucceeded
		s.PaymentURL = pageURL
	}, "card order created, hand off to payment page")
	return pageURL, nil
}

// transition mutates the state under lock, then notifies the observer with a
// copy.
func (o *Orchestrator) transition(mutate func(*State), message string) {
	o.mu.Lock()
	mutate(&o.state)
	snapshot := o.state
	fn := o.onTransition
	o.mu.Unlock()

	if fn != nil {
		fn(snapshot, message)
	}
}

func (o *Orchestrator) notify(state State, message string) {
	o.mu.Lock()
	fn := o.onTransition
	o.mu.Unlock()
	if fn != nil {
		fn(state, message)
	}
}
