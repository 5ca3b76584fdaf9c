package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// flexID decodes a value the backend serves as either a JSON string or a
// number. PHP mysqli rows flip between the two depending on the query path.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", trimmed)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// flexInt tolerates quoted and unquoted integers.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var id flexID
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	if id == "" {
		*f = 0
		return nil
	}
	parsed, err := strconv.Atoi(string(id))
	if err != nil {
		return fmt.Errorf("parse int %q: %w", string(id), err)
	}
	*f = flexInt(parsed)
	return nil
}

// flexBool tolerates "1"/"0", 1/0, and JSON booleans.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", `"true"`, "1", `"1"`:
		*f = true
	default:
		*f = false
	}
	return nil
}

// CartLine is one row of the remote cart. Quantity is decimal because
// weight-based goods sell in fractional units.
type CartLine struct {
	ItemID    string
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  decimal.Decimal
	ImageRef  string
}

// LineTotal is UnitPrice multiplied by Quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// CartSnapshot is the authoritative cart state as served by the backend.
type CartSnapshot struct {
	Lines    []CartLine
	SubTotal decimal.Decimal
}

// Product is one catalog entry.
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	Subcategory   string
	StockQuantity int
	Discounted    bool
	ImageRef      string
}

// InStock reports whether the backend advertises remaining stock.
func (p Product) InStock() bool { return p.StockQuantity > 0 }

// Credentials is the profile returned by a successful login.
type Credentials struct {
	Token     string
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// RegistrationInput carries the fields of a new account request. Username is
// what the account later logs in with.
type RegistrationInput struct {
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
	Email     string `validate:"required,email"`
	Phone     string `validate:"required"`
	Username  string `validate:"required"`
	Password  string `validate:"required,min=6"`
}

// AddressInput carries a delivery address for a user, following the
// administrative divisions the backend stores.
type AddressInput struct {
	UserID           string `validate:"required"`
	Province         string `validate:"required"`
	District         string `validate:"required"`
	Sector           string `validate:"required"`
	Cell             string
	Village          string
	Street           string
	DescribedAddress string
}

// OrderInput is what ORDER_CHECKOUT_API needs to open an order.
type OrderInput struct {
	UserID      string
	Description string
	Phone       string
}

// CardOrderInput is what the card (DPO) checkout variant needs: the processor
// wants the buyer profile and the full delivery address alongside the charge.
type CardOrderInput struct {
	UserID           string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Province         string
	District         string
	Sector           string
	Cell             string
	Village          string
	Street           string
	DescribedAddress string
	Description      string
	Amount           decimal.Decimal
}

// PaymentStatus is the polled state of a mobile-money charge.
type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "PENDING"
	PaymentConfirmed       PaymentStatus = "SUCCESS"
	PaymentFailed          PaymentStatus = "FAILED"
	PaymentAccountNotFound PaymentStatus = "ACCOUNT_NOT_FOUND"
)

// Terminal reports whether polling should stop at this status.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentConfirmed, PaymentFailed, PaymentAccountNotFound:
		return true
	}
	return false
}

// paymentStatusFromRaw folds any unrecognized backend string into PENDING,
// which keeps the poll loop going the way the upstream expects.
func paymentStatusFromRaw(raw string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(PaymentConfirmed):
		return PaymentConfirmed
	case string(PaymentFailed):
		return PaymentFailed
	case string(PaymentAccountNotFound):
		return PaymentAccountNotFound
	default:
		return PaymentPending
	}
}
