package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
)

type cartLineWire struct {
	ItemID    flexID          `json:"item_id"`
	ProductID flexID          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"cart_item_price"`
	Quantity  decimal.Decimal `json:"cart_item_product_quantity"`
	Image     string          `json:"image"`
}

// FetchCart returns the authoritative cart for the user. The backend replies
// with a positional array: a status row, an items row, and a sub_total row.
func (c *Client) FetchCart(ctx context.Context, userID string) (*CartSnapshot, error) {
	form := url.Values{}
	form.Set("action", ActionGetCartItems)
	form.Set("customer_id", userID)

	body, err := c.postForm(ctx, endpointSelect, ActionGetCartItems, form)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, malformed(err, ActionGetCartItems)
	}

	snapshot := &CartSnapshot{Lines: []CartLine{}}
	if len(rows) > 1 {
		var itemsRow struct {
			Items []cartLineWire `json:"items"`
		}
		if err := json.Unmarshal(rows[1], &itemsRow); err != nil {
			return nil, malformed(err, ActionGetCartItems)
		}
		for _, wire := range itemsRow.Items {
			snapshot.Lines = append(snapshot.Lines, CartLine{
				ItemID:    wire.ItemID.String(),
				ProductID: wire.ProductID.String(),
				Name:      wire.Name,
				UnitPrice: wire.UnitPrice,
				Quantity:  wire.Quantity,
				ImageRef:  wire.Image,
			})
		}
	}
	if len(rows) > 2 {
		var totalRow struct {
			SubTotal decimal.Decimal `json:"sub_total"`
		}
		if err := json.Unmarshal(rows[2], &totalRow); err != nil {
			return nil, malformed(err, ActionGetCartItems)
		}
		snapshot.SubTotal = totalRow.SubTotal
	}

	return snapshot, nil
}

// AddToCart stages one product line for the user. The backend decides whether
// that merges with an existing line or appends a new one.
func (c *Client) AddToCart(ctx context.Context, userID, productID string, quantity, price decimal.Decimal) error {
	form := url.Values{}
	form.Set("action", ActionAddToCart)
	form.Set("product_id", productID)
	form.Set("customer_id", userID)
	form.Set("product_quantity", quantity.String())
	form.Set("price", price.String())

	body, err := c.postForm(ctx, endpointInsert, ActionAddToCart, form)
	if err != nil {
		return err
	}
	return expectStatus(body, ActionAddToCart, "SUCCESS")
}

// DeleteCartItem removes one cart line by its backend item id. The delete
// script keys on the line alone; the user id is only log context.
func (c *Client) DeleteCartItem(ctx context.Context, userID, itemID string) error {
	ctx = c.logger.WithUserID(ctx, userID)

	form := url.Values{}
	form.Set("action", ActionDeleteCartItem)
	form.Set("item_id", itemID)

	body, err := c.postForm(ctx, endpointDelete, ActionDeleteCartItem, form)
	if err != nil {
		return err
	}
	return expectStatus(body, ActionDeleteCartItem, "SUCCESS")
}

// ClearCart drops every line in the user's remote cart.
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	form := url.Values{}
	form.Set("action", ActionClearCart)
	form.Set("customer_id", userID)

	body, err := c.postForm(ctx, endpointDelete, ActionClearCart, form)
	if err != nil {
		return err
	}
	return expectStatus(body, ActionClearCart, "SUCCESS")
}

// expectStatus decodes the leading status row and rejects anything but want.
func expectStatus(body []byte, label, want string) error {
	status, err := leadingStatus(body)
	if err != nil {
		return malformed(err, label)
	}
	if !strings.EqualFold(status, want) {
		return pkgerrors.New(pkgerrors.CodeGatewayRejected, fmt.Sprintf("%s rejected with status %q", label, status))
	}
	return nil
}

// leadingStatus pulls array[0].status out of a positional response.
func leadingStatus(body []byte) (string, error) {
	var rows []struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("empty response array")
	}
	return rows[0].Status, nil
}
