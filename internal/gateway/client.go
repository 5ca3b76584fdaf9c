package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gbdelivering/storefront/pkg/config"
	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
	"github.com/gbdelivering/storefront/pkg/logger"
	"github.com/gbdelivering/storefront/pkg/metrics"
)

// Gateway endpoints, relative to the configured base URL. The backend routes
// every call through one of four PHP scripts keyed by an "action" form field.
const (
	endpointSelect = "select.php"
	endpointInsert = "insert.php"
	endpointDelete = "delete.php"
	endpointLogin  = "login_api.php"
)

// Actions consumed by the client core.
const (
	ActionGetCartItems     = "GET_CART_ITEMS_API"
	ActionAddToCart        = "ADD_TO_CART_API"
	ActionDeleteCartItem   = "DELETE_CART_ITEM_API"
	ActionClearCart        = "CLEAR_CART_API"
	ActionOrderCheckout    = "ORDER_CHECKOUT_API"
	ActionPaymentRequest   = "PAYMENT_REQUEST"
	ActionCheckPayment     = "CHECK_PAYMENT_API"
	ActionOrderCheckoutDPO = "ORDER_CHECKOUT_CARD_DPO"
	ActionGetProductsPages = "GET_PRODUCTS_PAGES_API"
	ActionGetProductImages = "GET_PRODUCT_IMAGES_API"
	ActionCreateAccount    = "CREATE_ACCOUNT_API"
	ActionCreateAddress    = "CREATE_ADDRESS_API"

	// login_api.php takes no action field; the label is used for logs/metrics.
	labelLogin = "LOGIN_API"
)

const responseBodyReadLimit int64 = 1 << 20

var (
	errBaseURLRequired = errors.New("gateway base url is required")
	errLoggerRequired  = errors.New("gateway logger is required")
)

// Client wraps the form-encoded PHP gateway with centralized logging, metrics,
// request correlation, and status-string translation. Every raw backend status
// is mapped into the pkg/errors taxonomy here and nowhere else.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	uploadsBaseURL string
	paymentHost    string
	logger         *logger.Logger
	metrics        *metrics.GatewayMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics attaches gateway instrumentation.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds the gateway client from config.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		uploadsBaseURL: strings.TrimRight(strings.TrimSpace(cfg.UploadsBaseURL), "/"),
		paymentHost:    strings.TrimSpace(cfg.PaymentHost),
		logger:         logg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// UploadsBaseURL returns the base URL product image names are anchored at.
func (c *Client) UploadsBaseURL() string {
	if c == nil {
		return ""
	}
	return c.uploadsBaseURL
}

// postForm issues one form-encoded POST and returns the raw response body.
// Transport and non-200 failures come back as GATEWAY_UNREACHABLE.
func (c *Client) postForm(ctx context.Context, endpoint, label string, form url.Values) ([]byte, error) {
	requestID := uuid.NewString()
	ctx = c.logger.WithRequestID(ctx, requestID)
	ctx = c.logger.WithAction(ctx, label)

	c.logger.Debug(ctx, "gateway request")
	started := time.Now()

	body, err := c.doPost(ctx, endpoint, form)
	c.metrics.ObserveDuration(label, time.Since(started))
	if err != nil {
		c.metrics.IncFailure(label, string(pkgerrors.CodeGatewayUnreachable))
		c.logger.Warn(ctx, fmt.Sprintf("gateway request failed: %v", err))
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, fmt.Sprintf("%s request failed", label))
	}

	c.metrics.IncSuccess(label)
	c.logger.Debug(ctx, "gateway response")
	return body, nil
}

func (c *Client) doPost(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	target := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// malformed wraps a parse failure into the taxonomy.
func malformed(err error, label string) error {
	return pkgerrors.Wrap(pkgerrors.CodeMalformedResponse, err, fmt.Sprintf("decode %s response", label))
}

// redactPhone keeps phone numbers out of log lines.
func redactPhone(value string) string {
	if value == "" {
		return ""
	}
	return "[REDACTED]"
}
