package auth

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/internal/session"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

type fakeGateway struct {
	creds       *gateway.Credentials
	loginErr    error
	registerErr error
}

func (f *fakeGateway) Login(ctx context.Context, username, password string) (*gateway.Credentials, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.creds, nil
}

func (f *fakeGateway) Register(ctx context.Context, input gateway.RegistrationInput) error {
	return f.registerErr
}

type fakeStore struct {
	saved      *session.Record
	saveErr    error
	clearCalls int
}

func (f *fakeStore) Save(ctx context.Context, record session.Record) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = &record
	return nil
}

func (f *fakeStore) Clear(ctx context.Context) error {
	f.clearCalls++
	f.saved = nil
	return nil
}

type fakeCart struct {
	boundUser string
	setCalls  int
}

func (f *fakeCart) SetSession(ctx context.Context, userID string) {
	f.setCalls++
	f.boundUser = userID
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "auth-test", Output: io.Discard})
}

func newService(t *testing.T, gw *fakeGateway, store *fakeStore, cart *fakeCart) *Service {
	t.Helper()
	svc, err := NewService(gw, store, cart, testLogger())
	require.NoError(t, err)
	return svc
}

func TestLogin_PersistsSessionAndBindsCart(t *testing.T) {
	gw := &fakeGateway{creds: &gateway.Credentials{
		UserID: "42", Token: "tok-1", FirstName: "Alice", Email: "a@example.com", Phone: "0788000000",
	}}
	store := &fakeStore{}
	cart := &fakeCart{}
	svc := newService(t, gw, store, cart)

	record, err := svc.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "42", record.UserID)

	require.NotNil(t, store.saved)
	assert.Equal(t, "tok-1", store.saved.Token)
	assert.Equal(t, "42", cart.boundUser)
}

func TestLogin_EmptyCredentials(t *testing.T) {
	svc := newService(t, &fakeGateway{}, &fakeStore{}, &fakeCart{})

	_, err := svc.Login(context.Background(), "", "secret")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Login(context.Background(), "alice", "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLogin_GatewayRejectionLeavesNoSession(t *testing.T) {
	gw := &fakeGateway{loginErr: pkgerrors.New(pkgerrors.CodeGatewayRejected, "login rejected")}
	store := &fakeStore{}
	cart := &fakeCart{}
	svc := newService(t, gw, store, cart)

	_, err := svc.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Nil(t, store.saved)
	assert.Equal(t, 0, cart.setCalls)
}

func TestRegister_ValidatesInput(t *testing.T) {
	svc := newService(t, &fakeGateway{}, &fakeStore{}, &fakeCart{})

	err := svc.Register(context.Background(), gateway.RegistrationInput{
		FirstName: "Alice", LastName: "M", Email: "not-an-email", Phone: "0788000000", Username: "alice", Password: "secret1",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Register(context.Background(), gateway.RegistrationInput{
		FirstName: "Alice", LastName: "M", Email: "a@example.com", Phone: "0788000000", Password: "secret1",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Register(context.Background(), gateway.RegistrationInput{
		FirstName: "Alice", LastName: "M", Email: "a@example.com", Phone: "0788000000", Username: "alice", Password: "secret1",
	})
	require.NoError(t, err)
}

func TestLogout_ClearsSessionAndCart(t *testing.T) {
	store := &fakeStore{saved: &session.Record{UserID: "42", Token: "tok-1"}}
	cart := &fakeCart{boundUser: "42"}
	svc := newService(t, &fakeGateway{}, store, cart)

	require.NoError(t, svc.Logout(context.Background()))
	assert.Nil(t, store.saved)
	assert.Empty(t, cart.boundUser)
	assert.Equal(t, 1, cart.setCalls)
}
