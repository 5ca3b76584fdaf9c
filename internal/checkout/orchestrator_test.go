package checkout

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/pkg/config"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

type checkResult struct {
	status gateway.PaymentStatus
	err    error
}

type fakeGateway struct {
	mu           sync.Mutex
	orderID      string
	createErr    error
	requestErr   error
	checkResults []checkResult
	cardURL      string
	cardErr      error
	cardInput    gateway.CardOrderInput

	createCalls  int
	requestCalls int
	checkCalls   int
	cardCalls    int

	createGate chan struct{}
}

func (f *fakeGateway) CreateOrder(ctx context.Context, input gateway.OrderInput) (string, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.orderID, nil
}

func (f *fakeGateway) RequestPayment(ctx context.Context, orderID string, amount decimal.Decimal, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCalls++
	return f.requestErr
}

func (f *fakeGateway) CheckPayment(ctx context.Context, orderID string) (gateway.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++

	if len(f.checkResults) == 0 {
		return gateway.PaymentPending, nil
	}
	result := f.checkResults[0]
	if len(f.checkResults) > 1 {
		f.checkResults = f.checkResults[1:]
	}
	return result.status, result.err
}

func (f *fakeGateway) CreateCardOrder(ctx context.Context, input gateway.CardOrderInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardCalls++
	f.cardInput = input
	if f.cardErr != nil {
		return "", f.cardErr
	}
	return f.cardURL, nil
}

func (f *fakeGateway) calls() (create, request, check int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.requestCalls, f.checkCalls
}

type fakeCart struct {
	mu         sync.Mutex
	clearCalls int
	clearErr   error
}

func (f *fakeCart) ClearCart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return f.clearErr
}

func (f *fakeCart) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clearCalls
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
}

func fastConfig() config.CheckoutConfig {
	return config.CheckoutConfig{PollInterval: time.Millisecond, MaxPollAttempts: 40}
}

func validInput() Input {
	return Input{
		UserID:      "42",
		Phone:       "0788000000",
		Description: "weekly groceries",
		Amount:      decimal.NewFromInt(4500),
	}
}

// newOrchestrator wires an orchestrator whose transitions stream to a channel.
func newOrchestrator(t *testing.T, gw *fakeGateway, cart *fakeCart, cfg config.CheckoutConfig) (*Orchestrator, chan State) {
	t.Helper()

	o, err := NewOrchestrator(gw, cart, cfg, testLogger())
	require.NoError(t, err)

	states := make(chan State, 128)
	o.OnTransition(func(state State, message string) {
		states <- state
	})
	return o, states
}

func waitForTerminal(t *testing.T, states chan State) State {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-states:
			if state.Phase.Terminal() {
				return state
			}
		case <-deadline:
			t.Fatal("checkout never reached a terminal phase")
		}
	}
}

func TestStart_ConfirmedAfterPendingPolls(t *testing.T) {
	gw := &fakeGateway{
		orderID: "981",
		checkResults: []checkResult{
			{status: gateway.PaymentPending},
			{status: gateway.PaymentPending},
			{status: gateway.PaymentConfirmed},
		},
	}
	cart := &fakeCart{}
	o, states := newOrchestrator(t, gw, cart, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, PhaseSucceeded, final.Phase)
	assert.Equal(t, "981", final.OrderID)
	assert.Equal(t, 3, final.PollAttempt)

	_, _, checks := gw.calls()
	assert.Equal(t, 3, checks)
	assert.Equal(t, 1, cart.calls())
}

func TestStart_PhasesMoveForward(t *testing.T) {
	gw := &fakeGateway{
		orderID:      "981",
		checkResults: []checkResult{{status: gateway.PaymentConfirmed}},
	}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))

	var seen []Phase
	for state := range states {
		if len(seen) == 0 || seen[len(seen)-1] != state.Phase {
			seen = append(seen, state.Phase)
		}
		if state.Phase.Terminal() {
			break
		}
	}
	assert.Equal(t, []Phase{PhaseCreatingOrder, PhaseRequestingPayment, PhasePolling, PhaseSucceeded}, seen)
}

func TestStart_AccountNotFoundStopsPolling(t *testing.T) {
	gw := &fakeGateway{
		orderID:      "981",
		checkResults: []checkResult{{status: gateway.PaymentAccountNotFound}},
	}
	cart := &fakeCart{}
	o, states := newOrchestrator(t, gw, cart, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, PhaseFailed, final.Phase)
	assert.Equal(t, ReasonAccountNotFound, final.Reason)
	assert.Equal(t, 0, cart.calls())

	// No further checks after the terminal status.
	time.Sleep(20 * time.Millisecond)
	_, _, checks := gw.calls()
	assert.Equal(t, 1, checks)
}

func TestStart_DeclinedPayment(t *testing.T) {
	gw := &fakeGateway{
		orderID:      "981",
		checkResults: []checkResult{{status: gateway.PaymentFailed}},
	}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, PhaseFailed, final.Phase)
	assert.Equal(t, ReasonPaymentDeclined, final.Reason)
}

func TestStart_OrderCreationFailure(t *testing.T) {
	gw := &fakeGateway{createErr: pkgerrors.New(pkgerrors.CodeGatewayRejected, "EMPTY_CART")}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, ReasonOrderCreationFailed, final.Reason)
	_, requests, checks := gw.calls()
	assert.Equal(t, 0, requests)
	assert.Equal(t, 0, checks)
}

func TestStart_PaymentRequestDeclined(t *testing.T) {
	gw := &fakeGateway{
		orderID:    "981",
		requestErr: pkgerrors.New(pkgerrors.CodeGatewayRejected, "payment request declined"),
	}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, ReasonPaymentRequestFailed, final.Reason)
	assert.Equal(t, "981", final.OrderID)
	_, _, checks := gw.calls()
	assert.Equal(t, 0, checks)
}

func TestStart_TransientCheckErrorsAreRetried(t *testing.T) {
	gw := &fakeGateway{
		orderID: "981",
		checkResults: []checkResult{
			{err: fmt.Errorf("timeout")},
			{err: fmt.Errorf("timeout")},
			{status: gateway.PaymentConfirmed},
		},
	}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, PhaseSucceeded, final.Phase)
	assert.Equal(t, 3, final.PollAttempt)
}

func TestStart_PollTimeout(t *testing.T) {
	gw := &fakeGateway{orderID: "981"} // always pending
	cfg := fastConfig()
	cfg.MaxPollAttempts = 3
	cart := &fakeCart{}
	o, states := newOrchestrator(t, gw, cart, cfg)

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)

	assert.Equal(t, ReasonPollTimeout, final.Reason)
	assert.Equal(t, 3, final.PollAttempt)
	assert.Equal(t, 0, cart.calls())
	_, _, checks := gw.calls()
	assert.Equal(t, 3, checks)
}

func TestStart_RejectedWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	gw := &fakeGateway{orderID: "981", createGate: gate, checkResults: []checkResult{{status: gateway.PaymentConfirmed}}}
	o, states := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))

	err := o.Start(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	close(gate)
	waitForTerminal(t, states)
}

func TestStart_LegalAgainFromTerminalPhase(t *testing.T) {
	gw := &fakeGateway{
		orderID:      "981",
		checkResults: []checkResult{{status: gateway.PaymentConfirmed}},
	}
	cart := &fakeCart{}
	o, states := newOrchestrator(t, gw, cart, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))
	waitForTerminal(t, states)

	gw.mu.Lock()
	gw.checkResults = []checkResult{{status: gateway.PaymentConfirmed}}
	gw.mu.Unlock()

	require.NoError(t, o.Start(context.Background(), validInput()))
	final := waitForTerminal(t, states)
	assert.Equal(t, PhaseSucceeded, final.Phase)
	assert.Equal(t, 2, cart.calls())
}

func TestStart_ValidatesInput(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{}, &fakeCart{}, fastConfig())

	input := validInput()
	input.Phone = ""
	err := o.Start(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input = validInput()
	input.Amount = decimal.Zero
	err = o.Start(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Equal(t, PhaseIdle, o.State().Phase)
}

func TestCancel_DuringPolling(t *testing.T) {
	gw := &fakeGateway{orderID: "981"} // always pending
	cart := &fakeCart{}
	o, states := newOrchestrator(t, gw, cart, fastConfig())

	require.NoError(t, o.Start(context.Background(), validInput()))

	// Wait for the poll phase before cancelling.
	for state := range states {
		if state.Phase == PhasePolling {
			break
		}
	}
	o.Cancel()

	final := waitForTerminal(t, states)
	assert.Equal(t, PhaseFailed, final.Phase)
	assert.Equal(t, ReasonCancelled, final.Reason)
	assert.Equal(t, 0, cart.calls())
}

func TestCancel_FromIdleIsNoop(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{}, &fakeCart{}, fastConfig())

	o.Cancel()
	assert.Equal(t, PhaseIdle, o.State().Phase)
}

func TestStartCardPayment_ReturnsPaymentPage(t *testing.T) {
	gw := &fakeGateway{cardURL: "https://secure.3gdirectpay.com/pay.asp?ID=ABC-123"}
	cart := &fakeCart{}
	o, _ := newOrchestrator(t, gw, cart, fastConfig())

	pageURL, err := o.StartCardPayment(context.Background(), CardInput{
		UserID:           "42",
		FirstName:        "Alice",
		LastName:         "M",
		Email:            "a@example.com",
		Phone:            "0788000000",
		Province:         "Kigali City",
		District:         "Gasabo",
		Sector:           "Remera",
		Cell:             "Rukiri I",
		Village:          "Amahoro",
		Street:           "KG 11 Ave",
		DescribedAddress: "blue gate opposite the stadium",
		Amount:           decimal.NewFromInt(4500),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://secure.3gdirectpay.com/pay.asp?ID=ABC-123", pageURL)
	assert.Equal(t, "Gasabo", gw.cardInput.District)
	assert.Equal(t, "Remera", gw.cardInput.Sector)
	assert.Equal(t, "KG 11 Ave", gw.cardInput.Street)

	state := o.State()
	assert.Equal(t, PhaseSucceeded, state.Phase)
	assert.Equal(t, pageURL, state.PaymentURL)
	// Confirmation is out of band; the cart stays as is.
	assert.Equal(t, 0, cart.calls())
}

func TestStartCardPayment_Failure(t *testing.T) {
	gw := &fakeGateway{cardErr: pkgerrors.New(pkgerrors.CodeMalformedResponse, "no token")}
	o, _ := newOrchestrator(t, gw, &fakeCart{}, fastConfig())

	_, err := o.StartCardPayment(context.Background(), CardInput{
		UserID:    "42",
		FirstName: "Alice",
		LastName:  "M",
		Email:     "a@example.com",
		Phone:     "0788000000",
		Province:  "Kigali City",
		District:  "Gasabo",
		Sector:    "Remera",
		Amount:    decimal.NewFromInt(4500),
	})
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, o.State().Phase)
	assert.Equal(t, ReasonOrderCreationFailed, o.State().Reason)
}

func TestNewOrchestrator_NilCollaborators(t *testing.T) {
	logg := testLogger()
	if _, err := NewOrchestrator(nil, &fakeCart{}, fastConfig(), logg); err == nil {
		t.Fatal("expected nil gateway to be rejected")
	}
	if _, err := NewOrchestrator(&fakeGateway{}, nil, fastConfig(), logg); err == nil {
		t.Fatal("expected nil cart to be rejected")
	}
	if _, err := NewOrchestrator(&fakeGateway{}, &fakeCart{}, fastConfig(), nil); err == nil {
		t.Fatal("expected nil logger to be rejected")
	}
}
