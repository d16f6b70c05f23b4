// Package directory is the REST client for the identity directory, the
// service that owns local user accounts.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/idtoken"
	"github.com/dgellow/auth-relay/internal/ioutil"
	"github.com/dgellow/auth-relay/internal/log"
)

// User is the account record the directory returns
type User struct {
	ExternalIdentifier string `json:"external_identifier"`
	EmailAddress       string `json:"email_address"`
	FirstName          string `json:"first_name"`
}

type createUserRequest struct {
	EmailAddress string `json:"email_address"`
	FirstName    string `json:"first_name"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Client talks to the directory with a fixed timeout. Requests are never
// retried: a create that timed out may still have been applied.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) userURL(externalID string) string {
	return c.baseURL + "/user/" + url.PathEscape(externalID)
}

// GetUser returns nil without error when the directory does not answer with
// an account, whatever the status
func (c *Client) GetUser(ctx context.Context, externalID string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL(externalID), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDirectoryProvider, "failed to build directory request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode != http.StatusNotFound {
			log.LogWarnWithFields("directory", "User lookup failed", map[string]any{
				"status": resp.StatusCode,
			})
		}
		return nil, nil
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperr.Wrap(apperr.KindDirectoryProvider, "malformed directory response", err)
	}
	return &user, nil
}

// UserExists reports whether GetUser finds an account
func (c *Client) UserExists(ctx context.Context, externalID string) (bool, error) {
	user, err := c.GetUser(ctx, externalID)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// CreateUser registers an account for info
func (c *Client) CreateUser(ctx context.Context, info *idtoken.UserInfo) (*User, error) {
	payload, err := json.Marshal(createUserRequest{
		EmailAddress: info.Email,
		FirstName:    info.FirstName,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDirectoryProvider, "failed to encode user", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.userURL(info.ExternalIdentifier), bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDirectoryProvider, "failed to build directory request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperr.Wrap(apperr.KindDirectoryProvider, "malformed directory response", err)
	}
	if user.ExternalIdentifier == "" {
		user = User{
			ExternalIdentifier: info.ExternalIdentifier,
			EmailAddress:       info.Email,
			FirstName:          info.FirstName,
		}
	}
	return &user, nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.KindTimeout, "Account service timeout", err)
	}
	return apperr.Wrap(apperr.KindDirectoryProvider, "Account service is unavailable", err)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusBadGateway {
		return apperr.New(apperr.KindDirectoryProvider, "Account service is unavailable")
	}
	if resp.StatusCode >= 500 {
		return apperr.Newf(apperr.KindDirectoryProvider, "%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var body errorBody
	raw := ioutil.ReadLimited(resp.Body, 4096)
	if err := json.Unmarshal([]byte(raw), &body); err != nil || body.Message == "" {
		body.Message = fmt.Sprintf("%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return apperr.New(apperr.KindResourceNotFound, body.Message)
	case http.StatusConflict:
		return apperr.New(apperr.KindResourceAlreadyExists, "user exists, please login")
	default:
		return apperr.New(apperr.KindDirectoryProvider, body.Message)
	}
}
