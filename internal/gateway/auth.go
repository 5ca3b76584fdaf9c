package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
)

// Login exchanges credentials for a profile. login_api.php is the one script
// that takes no action field and reports success as a numeric 200 status.
func (c *Client) Login(ctx context.Context, username, password string) (*Credentials, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	body, err := c.postForm(ctx, endpointLogin, labelLogin, form)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status    json.Number `json:"status"`
		Token     string      `json:"token"`
		UserID    flexID      `json:"userid"`
		FirstName string      `json:"first_name"`
		LastName  string      `json:"last_name"`
		Email     string      `json:"email"`
		Phone     flexID      `json:"phone"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, malformed(err, labelLogin)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "login rejected")
	}
	if rows[0].Status.String() != "200" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected,
			fmt.Sprintf("login rejected with status %s", rows[0].Status.String()))
	}

	creds := &Credentials{
		Token:     rows[0].Token,
		UserID:    rows[0].UserID.String(),
		FirstName: rows[0].FirstName,
		LastName:  rows[0].LastName,
		Email:     rows[0].Email,
		Phone:     rows[0].Phone.String(),
	}
	if creds.UserID == "" {
		return nil, malformed(fmt.Errorf("login success row carries no userid"), labelLogin)
	}

	c.logger.Info(c.logger.WithUserID(ctx, creds.UserID), "login accepted")
	return creds, nil
}

// Register creates a new account. The backend confirms with ACCOUNT_CREATED.
func (c *Client) Register(ctx context.Context, input RegistrationInput) error {
	form := url.Values{}
	form.Set("action", ActionCreateAccount)
	form.Set("first_name", input.FirstName)
	form.Set("last_name", input.LastName)
	form.Set("email", input.Email)
	form.Set("phone_no", input.Phone)
	form.Set("username", strings.TrimSpace(input.Username))
	form.Set("password", input.Password)

	body, err := c.postForm(ctx, endpointInsert, ActionCreateAccount, form)
	if err != nil {
		return err
	}
	return expectStatus(body, ActionCreateAccount, "ACCOUNT_CREATED")
}

// CreateAddress stores a delivery address and returns its backend id.
func (c *Client) CreateAddress(ctx context.Context, input AddressInput) (string, error) {
	form := url.Values{}
	form.Set("action", ActionCreateAddress)
	form.Set("user_id", input.UserID)
	form.Set("province", input.Province)
	form.Set("district", input.District)
	form.Set("sector", input.Sector)
	form.Set("cell", input.Cell)
	form.Set("village", input.Village)
	form.Set("street", input.Street)
	form.Set("described_address", input.DescribedAddress)

	body, err := c.postForm(ctx, endpointInsert, ActionCreateAddress, form)
	if err != nil {
		return "", err
	}

	var rows []struct {
		Status    string `json:"status"`
		AddressID flexID `json:"address_id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", malformed(err, ActionCreateAddress)
	}
	if len(rows) == 0 || rows[0].Status == "" {
		return "", malformed(fmt.Errorf("empty response array"), ActionCreateAddress)
	}
	if rows[0].Status != "SUCCESS" {
		return "", pkgerrors.New(pkgerrors.CodeGatewayRejected,
			fmt.Sprintf("address creation rejected with status %q", rows[0].Status))
	}
	return rows[0].AddressID.String(), nil
}
