package catalog

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdelivering/storefront/internal/gateway"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
)

type fakeLister struct {
	pages      map[int][]gateway.Product
	listErr    error
	imageURL   string
	imageErr   error
	listCalls  int
	imageCalls int
}

func (f *fakeLister) ListProducts(ctx context.Context, page int) ([]gateway.Product, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages[page], nil
}

func (f *fakeLister) FetchProductImage(ctx context.Context, productID string) (string, error) {
	f.imageCalls++
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return f.imageURL, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "catalog-test", Output: io.Discard})
}

func samplePage() []gateway.Product {
	return []gateway.Product{
		{ID: "7", Name: "Rice 5kg", Subcategory: "Grains", Price: decimal.NewFromInt(1000), StockQuantity: 14},
		{ID: "9", Name: "Sunflower Oil 1L", Subcategory: "Cooking", Price: decimal.NewFromInt(2500), StockQuantity: 0},
	}
}

func newCachedService(t *testing.T, lister *fakeLister) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, err := NewService(lister, NewImageCache(client, time.Minute), testLogger())
	require.NoError(t, err)
	return svc, mr
}

func TestSearchProducts_FiltersByNameAndSubcategory(t *testing.T) {
	lister := &fakeLister{pages: map[int][]gateway.Product{1: samplePage()}}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	byName, err := svc.SearchProducts(context.Background(), "rice", 1)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "7", byName[0].ID)

	bySubcategory, err := svc.SearchProducts(context.Background(), "cooking", 1)
	require.NoError(t, err)
	require.Len(t, bySubcategory, 1)
	assert.Equal(t, "9", bySubcategory[0].ID)

	all, err := svc.SearchProducts(context.Background(), "  ", 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := svc.SearchProducts(context.Background(), "bicycle", 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFetchImage_CachesResolvedURL(t *testing.T) {
	lister := &fakeLister{imageURL: "https://gbdelivering.com/uploads/rice.jpg"}
	svc, _ := newCachedService(t, lister)

	first := svc.FetchImage(context.Background(), "7")
	assert.Equal(t, "https://gbdelivering.com/uploads/rice.jpg", first)

	second := svc.FetchImage(context.Background(), "7")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, lister.imageCalls)
}

func TestFetchImage_CacheExpiry(t *testing.T) {
	lister := &fakeLister{imageURL: "https://gbdelivering.com/uploads/rice.jpg"}
	svc, mr := newCachedService(t, lister)

	svc.FetchImage(context.Background(), "7")
	mr.FastForward(2 * time.Minute)

	svc.FetchImage(context.Background(), "7")
	assert.Equal(t, 2, lister.imageCalls)
}

func TestFetchImage_FailureReturnsEmpty(t *testing.T) {
	lister := &fakeLister{imageErr: fmt.Errorf("missing")}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	assert.Empty(t, svc.FetchImage(context.Background(), "7"))
}

func TestFetchImage_NilCacheIsNoop(t *testing.T) {
	lister := &fakeLister{imageURL: "https://gbdelivering.com/uploads/rice.jpg"}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "https://gbdelivering.com/uploads/rice.jpg", svc.FetchImage(context.Background(), "7"))
	assert.Equal(t, "https://gbdelivering.com/uploads/rice.jpg", svc.FetchImage(context.Background(), "7"))
	assert.Equal(t, 2, lister.imageCalls)
}

func TestCheckStock_AnswersFromIndex(t *testing.T) {
	lister := &fakeLister{pages: map[int][]gateway.Product{1: samplePage()}}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	_, err = svc.ListProducts(context.Background(), 1)
	require.NoError(t, err)
	lister.listCalls = 0

	inStock, err := svc.CheckStock(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, inStock)

	inStock, err = svc.CheckStock(context.Background(), "9")
	require.NoError(t, err)
	assert.False(t, inStock)

	assert.Equal(t, 0, lister.listCalls)
}

func TestCheckStock_ScansPagesForUnknownProduct(t *testing.T) {
	lister := &fakeLister{pages: map[int][]gateway.Product{
		1: samplePage(),
		2: {{ID: "31", Name: "Sugar 1kg", StockQuantity: 3}},
	}}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	inStock, err := svc.CheckStock(context.Background(), "31")
	require.NoError(t, err)
	assert.True(t, inStock)
}

func TestCheckStock_UnknownProduct(t *testing.T) {
	lister := &fakeLister{pages: map[int][]gateway.Product{1: samplePage()}}
	svc, err := NewService(lister, nil, testLogger())
	require.NoError(t, err)

	_, err = svc.CheckStock(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
