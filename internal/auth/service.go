package auth

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/internal/session"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

var (
	errGatewayRequired  = errors.New("auth gateway is required")
	errSessionsRequired = errors.New("auth session store is required")
	errCartRequired     = errors.New("auth cart binder is required")
	errLoggerRequired   = errors.New("auth logger is required")
)

type authGateway interface {
	Login(ctx context.Context, username, password string) (*gateway.Credentials, error)
	Register(ctx context.Context, input gateway.RegistrationInput) error
}

type sessionStore interface {
	Save(ctx context.Context, record session.Record) error
	Clear(ctx context.Context) error
}

type cartBinder interface {
	SetSession(ctx context.Context, userID string)
}

// Service owns the login lifecycle: remote authentication, local session
// persistence, and handing the identity to the cart.
type Service struct {
	gateway  authGateway
	sessions sessionStore
	cart     cartBinder
	logger   *logger.Logger
	validate *validator.Validate
}

// NewService builds the auth service.
func NewService(gw authGateway, sessions sessionStore, cart cartBinder, logg *logger.Logger) (*Service, error) {
	if gw == nil {
		return nil, errGatewayRequired
	}
	if sessions == nil {
		return nil, errSessionsRequired
	}
	if cart == nil {
		return nil, errCartRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	return &Service{
		gateway:  gw,
		sessions: sessions,
		cart:     cart,
		logger:   logg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Login authenticates remotely, persists the session locally, and binds the
// cart to the user.
func (s *Service) Login(ctx context.Context, username, password string) (*session.Record, error) {
	if username == "" || password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username and password are required")
	}

	creds, err := s.gateway.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	record := session.Record{
		UserID:    creds.UserID,
		Token:     creds.Token,
		FirstName: creds.FirstName,
		LastName:  creds.LastName,
		Email:     creds.Email,
		Phone:     creds.Phone,
	}
	if err := s.sessions.Save(ctx, record); err != nil {
		return nil, err
	}

	s.cart.SetSession(ctx, creds.UserID)
	s.logger.Info(s.logger.WithUserID(ctx, creds.UserID), "logged in")
	return &record, nil
}

// Register creates the remote account. The caller logs in afterwards.
func (s *Service) Register(ctx context.Context, input gateway.RegistrationInput) error {
	if err := s.validate.Struct(input); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid registration input")
	}
	return s.gateway.Register(ctx, input)
}

// Logout clears the persisted session and signs the cart out. Logging out
// while logged out is a no-op.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return err
	}
	s.cart.SetSession(ctx, "")
	s.logger.Info(ctx, "logged out")
	return nil
}
