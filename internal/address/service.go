package address

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
	errGatewayRequired  = errors.New("address gateway is required")
	errSessionsRequired = errors.New("address session store is required")
	errLoggerRequired   = errors.New("address logger is required")
)

type addressGateway interface {
	CreateAddress(ctx context.Context, input gateway.AddressInput) (string, error)
}

type addressStore interface {
	SaveAddress(ctx context.Context, addr session.Address) error
}

// Service captures the delivery address: stored remotely so orders can
// reference it, and mirrored into the local session so the card checkout can
// read it back without a round trip.
type Service struct {
	gateway  addressGateway
	sessions addressStore
	logger   *logger.Logger
	validate *validator.Validate
}

// NewService builds the address service.
func NewService(gw addressGateway, sessions addressStore, logg *logger.Logger) (*Service, error) {
	if gw == nil {
		return nil, errGatewayRequired
	}
	if sessions == nil {
		return nil, errSessionsRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	return &Service{
		gateway:  gw,
		sessions: sessions,
		logger:   logg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Save validates and persists the address remotely, then mirrors it into the
// session. Returns the backend address id.
func (s *Service) Save(ctx context.Context, input gateway.AddressInput) (string, error) {
	if err := s.validate.Struct(input); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid address input")
	}

	addressID, err := s.gateway.CreateAddress(ctx, input)
	if err != nil {
		return "", err
	}

	err = s.sessions.SaveAddress(ctx, session.Address{
		ID:               addressID,
		Province:         input.Province,
		District:         input.District,
		Sector:           input.Sector,
		Cell:             input.Cell,
		Village:          input.Village,
		Street:           input.Street,
		DescribedAddress: input.DescribedAddress,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info(s.logger.WithUserID(ctx, input.UserID), "delivery address saved")
	return addressID, nil
}
