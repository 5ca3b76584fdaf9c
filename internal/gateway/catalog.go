package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type productWire struct {
	ID            flexID          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Subcategory   string          `json:"subcategory"`
	StockQuantity flexInt         `json:"stock_quantity"`
	Discounted    flexBool        `json:"discounted"`
	Image         string          `json:"image"`
}

// ListProducts fetches one page of the catalog. Pages are 1-based.
func (c *Client) ListProducts(ctx context.Context, page int) ([]Product, error) {
	if page < 1 {
		page = 1
	}
	form := url.Values{}
	form.Set("action", ActionGetProductsPages)
	form.Set("pageno", strconv.Itoa(page))

	body, err := c.postForm(ctx, endpointSelect, ActionGetProductsPages, form)
	if err != nil {
		return nil, err
	}

	var wires []productWire
	if err := json.Unmarshal(body, &wires); err != nil {
		return nil, malformed(err, ActionGetProductsPages)
	}

	products := make([]Product, 0, len(wires))
	for _, wire := range wires {
		products = append(products, Product{
			ID:            wire.ID.String(),
			Name:          wire.Name,
			Description:   wire.Description,
			Price:         wire.Price,
			Subcategory:   wire.Subcategory,
			StockQuantity: int(wire.StockQuantity),
			Discounted:    bool(wire.Discounted),
			ImageRef:      wire.Image,
		})
	}
	return products, nil
}

// FetchProductImage resolves the primary image URL for a product. The backend
// returns a one-element array holding either an absolute URL or a file name
// relative to the uploads directory.
func (c *Client) FetchProductImage(ctx context.Context, productID string) (string, error) {
	form := url.Values{}
	form.Set("action", ActionGetProductImages)
	form.Set("product_id", productID)

	body, err := c.postForm(ctx, endpointSelect, ActionGetProductImages, form)
	if err != nil {
		return "", err
	}

	var refs []string
	if err := json.Unmarshal(body, &refs); err != nil {
		return "", malformed(err, ActionGetProductImages)
	}
	if len(refs) == 0 || strings.TrimSpace(refs[0]) == "" {
		return "", malformed(fmt.Errorf("no image reference returned"), ActionGetProductImages)
	}
	return c.resolveImageRef(refs[0]), nil
}

// resolveImageRef anchors relative file names at the uploads base URL.
func (c *Client) resolveImageRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return fmt.Sprintf("%s/%s", c.uploadsBaseURL, strings.TrimLeft(ref, "/"))
}
