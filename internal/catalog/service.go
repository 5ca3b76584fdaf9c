package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gbdelivering/storefront/internal/gateway"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

var (
	errGatewayRequired = errors.New("catalog gateway is required")
	errLoggerRequired  = errors.New("catalog logger is required")
)

// stockScanPageLimit bounds how far CheckStock walks the paged catalog when
// the product has not been seen yet.
const stockScanPageLimit = 50

type productLister interface {
	ListProducts(ctx context.Context, page int) ([]gateway.Product, error)
	FetchProductImage(ctx context.Context, productID string) (string, error)
}

// Service is the read side of the catalog: paged listings, client-side
// search, image resolution, and stock checks. The backend has no search or
// single-product action, so search filters a fetched page and stock checks
// lean on an index of everything listed so far.
type Service struct {
	gateway productLister
	cache   *ImageCache
	logger  *logger.Logger

	mu   sync.Mutex
	seen map[string]gateway.Product
}

// NewService builds a catalog service. The image cache may be nil.
func NewService(gw productLister, cache *ImageCache, logg *logger.Logger) (*Service, error) {
	if gw == nil {
		return nil, errGatewayRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	return &Service{
		gateway: gw,
		cache:   cache,
		logger:  logg,
		seen:    make(map[string]gateway.Product),
	}, nil
}

// ListProducts fetches one catalog page and remembers what it saw.
func (s *Service) ListProducts(ctx context.Context, page int) ([]gateway.Product, error) {
	products, err := s.gateway.ListProducts(ctx, page)
	if err != nil {
		return nil, err
	}
	s.remember(products)
	return products, nil
}

// SearchProducts filters one fetched page by name or subcategory,
// case-insensitive. An empty term returns the whole page.
func (s *Service) SearchProducts(ctx context.Context, term string, page int) ([]gateway.Product, error) {
	products, err := s.ListProducts(ctx, page)
	if err != nil {
		return nil, err
	}

	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return products, nil
	}

	matches := make([]gateway.Product, 0, len(products))
	for _, product := range products {
		if strings.Contains(strings.ToLower(product.Name), term) ||
			strings.Contains(strings.ToLower(product.Subcategory), term) {
			matches = append(matches, product)
		}
	}
	return matches, nil
}

// FetchImage resolves a product's primary image URL through the cache. Image
// failures never block listing: they are logged and an empty URL is returned.
func (s *Service) FetchImage(ctx context.Context, productID string) string {
	if cached, ok := s.cache.Get(ctx, productID); ok {
		return cached
	}

	imageURL, err := s.gateway.FetchProductImage(ctx, productID)
	if err != nil {
		s.logger.Warn(ctx, fmt.Sprintf("image fetch failed for product %s: %v", productID, err))
		return ""
	}
	s.cache.Set(ctx, productID, imageURL)
	return imageURL
}

// CheckStock reports whether the product has stock remaining. Products listed
// earlier are answered from the index; unknown ones trigger a bounded page
// scan.
func (s *Service) CheckStock(ctx context.Context, productID string) (bool, error) {
	s.mu.Lock()
	product, ok := s.seen[productID]
	s.mu.Unlock()
	if ok {
		return product.InStock(), nil
	}

	for page := 1; page <= stockScanPageLimit; page++ {
		products, err := s.ListProducts(ctx, page)
		if err != nil {
			return false, err
		}
		if len(products) == 0 {
			break
		}
		for _, candidate := range products {
			if candidate.ID == productID {
				return candidate.InStock(), nil
			}
		}
	}
	return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s not found in catalog", productID))
}

func (s *Service) remember(products []gateway.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, product := range products {
		s.seen[product.ID] = product
	}
}
