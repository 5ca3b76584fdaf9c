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

// failedPaymentMarker is how PAYMENT_REQUEST reports a declined charge: the
// script echoes the marker somewhere in an otherwise free-form body.
const failedPaymentMarker = "FAILED_PAYMENT"

// CreateOrder opens an order for the user's current cart and returns the
// backend order id.
func (c *Client) CreateOrder(ctx context.Context, input OrderInput) (string, error) {
	form := url.Values{}
	form.Set("action", ActionOrderCheckout)
	form.Set("customer_id", input.UserID)
	form.Set("order_description", input.Description)
	form.Set("pay_phone_no", input.Phone)

	body, err := c.postForm(ctx, endpointInsert, ActionOrderCheckout, form)
	if err != nil {
		return "", err
	}

	var rows []struct {
		Status  string `json:"status"`
		OrderID flexID `json:"order_id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", malformed(err, ActionOrderCheckout)
	}
	if len(rows) == 0 {
		return "", malformed(fmt.Errorf("empty response array"), ActionOrderCheckout)
	}
	if !strings.EqualFold(rows[0].Status, "SUCCESS") {
		return "", pkgerrors.New(pkgerrors.CodeGatewayRejected,
			fmt.Sprintf("order checkout rejected with status %q", rows[0].Status))
	}
	orderID := rows[0].OrderID.String()
	if orderID == "" {
		return "", malformed(fmt.Errorf("success row carries no order_id"), ActionOrderCheckout)
	}
	return orderID, nil
}

// RequestPayment triggers the mobile-money charge against the phone on file.
// The endpoint replies with free-form text; acceptance is the absence of the
// FAILED_PAYMENT marker.
func (c *Client) RequestPayment(ctx context.Context, orderID string, amount decimal.Decimal, phone string) error {
	ctx = c.logger.WithOrderID(ctx, orderID)
	c.logger.Info(c.logger.WithField(ctx, "phone", redactPhone(phone)), "requesting payment")

	form := url.Values{}
	form.Set("action", ActionPaymentRequest)
	form.Set("order_id", orderID)
	form.Set("grand_total", amount.String())
	form.Set("phone_no", phone)

	body, err := c.postForm(ctx, endpointInsert, ActionPaymentRequest, form)
	if err != nil {
		return err
	}
	if strings.Contains(string(body), failedPaymentMarker) {
		return pkgerrors.New(pkgerrors.CodeGatewayRejected, "payment request declined")
	}
	return nil
}

// CheckPayment polls the charge state for an order. Unrecognized statuses
// come back as PENDING so callers keep polling.
func (c *Client) CheckPayment(ctx context.Context, orderID string) (PaymentStatus, error) {
	form := url.Values{}
	form.Set("action", ActionCheckPayment)
	form.Set("order_id", orderID)

	body, err := c.postForm(ctx, endpointSelect, ActionCheckPayment, form)
	if err != nil {
		return "", err
	}
	status, err := leadingStatus(body)
	if err != nil {
		return "", malformed(err, ActionCheckPayment)
	}
	return paymentStatusFromRaw(status), nil
}

// CreateCardOrder opens a card order through the DPO processor and returns
// the redirect URL of the hosted payment page.
func (c *Client) CreateCardOrder(ctx context.Context, input CardOrderInput) (string, error) {
	form := url.Values{}
	form.Set("action", ActionOrderCheckoutDPO)
	form.Set("customer_id", input.UserID)
	form.Set("first_name", input.FirstName)
	form.Set("last_name", input.LastName)
	form.Set("email", input.Email)
	form.Set("phone_no", input.Phone)
	form.Set("province", input.Province)
	form.Set("district", input.District)
	form.Set("sector", input.Sector)
	form.Set("cell", input.Cell)
	form.Set("village", input.Village)
	form.Set("street", input.Street)
	form.Set("described_address", input.DescribedAddress)
	form.Set("order_description", input.Description)
	form.Set("amount", input.Amount.String())

	body, err := c.postForm(ctx, endpointInsert, ActionOrderCheckoutDPO, form)
	if err != nil {
		return "", err
	}

	var envelope struct {
		Token json.RawMessage `json:"token"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", malformed(err, ActionOrderCheckoutDPO)
	}
	if len(envelope.Token) == 0 || string(envelope.Token) == "null" {
		message := envelope.Error
		if message == "" {
			message = "no token returned"
		}
		return "", pkgerrors.New(pkgerrors.CodeGatewayRejected,
			fmt.Sprintf("card order rejected: %s", message))
	}

	token, err := extractCardToken(envelope.Token)
	if err != nil {
		return "", malformed(err, ActionOrderCheckoutDPO)
	}
	return c.paymentPageURL(token), nil
}

// extractCardToken handles the two shapes the DPO bridge is known to emit
// under the token key: a plain JSON string, or an object whose token sits
// under the "0" key.
func extractCardToken(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return "", fmt.Errorf("empty token")
		}
		return asString, nil
	}

	var asObject map[string]string
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return "", fmt.Errorf("token is neither string nor object: %s", strings.TrimSpace(string(raw)))
	}
	if token, ok := asObject["0"]; ok && token != "" {
		return token, nil
	}
	if len(asObject) == 1 {
		for _, token := range asObject {
			if token != "" {
				return token, nil
			}
		}
	}
	return "", fmt.Errorf("no usable token in object")
}

func (c *Client) paymentPageURL(token string) string {
	return fmt.Sprintf("https://%s/pay.asp?ID=%s", c.paymentHost, url.QueryEscape(token))
}
