package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SubjectVerifier checks an access token locally and returns its subject.
type SubjectVerifier interface {
	VerifySubject(ctx context.Context, token string) (string, error)
}

const discardTimeout = 5 * time.Second

// HostedConfig configures HostedClient.
type HostedConfig struct {
	BaseURL string
	APIKey  string
	// Verifier, when set, checks every exchanged access token against the
	// provider's JWKS and requires its subject to match the returned user.
	Verifier   SubjectVerifier
	HTTPClient *http.Client
}

// HostedClient calls a hosted GoTrue-style auth provider over HTTP.
type HostedClient struct {
	baseURL    string
	apiKey     string
	verifier   SubjectVerifier
	httpClient *http.Client
	now        func() time.Time
}

// APIError represents a provider error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth provider: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth provider: %d: %s", e.Status, e.Message)
}

// NewHostedClient constructs a provider client.
func NewHostedClient(cfg HostedConfig) (*HostedClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("hosted provider base url required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HostedClient{
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		verifier:   cfg.Verifier,
		httpClient: httpClient,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Exchange performs the password grant.
func (c *HostedClient) Exchange(ctx context.Context, email, password string) (DelegatedSession, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", payload, &resp); err != nil {
		return DelegatedSession{}, rejectedOr(err)
	}
	ds, err := c.sessionFrom(ctx, resp)
	if err != nil {
		c.discard(ctx, resp.AccessToken)
		return DelegatedSession{}, err
	}
	return ds, nil
}

// Refresh performs the refresh-token grant.
func (c *HostedClient) Refresh(ctx context.Context, s DelegatedSession) (DelegatedSession, error) {
	if strings.TrimSpace(s.RefreshToken) == "" {
		return DelegatedSession{}, ErrRejected
	}
	payload := map[string]string{"refresh_token": s.RefreshToken}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", payload, &resp); err != nil {
		return DelegatedSession{}, rejectedOr(err)
	}
	next, err := c.sessionFrom(ctx, resp)
	if err != nil {
		c.discard(ctx, resp.AccessToken)
		return DelegatedSession{}, err
	}
	if next.UserID != s.UserID {
		c.discard(ctx, resp.AccessToken)
		return DelegatedSession{}, fmt.Errorf("auth provider refreshed session for a different user")
	}
	return next, nil
}

// Revoke terminates this session only (scope=local). A token the provider
// no longer accepts is already terminated.
func (c *HostedClient) Revoke(ctx context.Context, s DelegatedSession) error {
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/logout?scope=local", s.AccessToken, nil, nil)
	if apiErr, ok := err.(*APIError); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
		return nil
	}
	return err
}

// discard revokes tokens the provider issued but this client refused. It runs
// even when ctx has expired; errors are dropped.
func (c *HostedClient) discard(ctx context.Context, accessToken string) {
	if strings.TrimSpace(accessToken) == "" {
		return
	}
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	_ = c.Revoke(revokeCtx, DelegatedSession{AccessToken: accessToken})
}

// Active asks the provider who owns the access token.
func (c *HostedClient) Active(ctx context.Context, s DelegatedSession) (bool, error) {
	var user struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", s.AccessToken, nil, &user)
	if apiErr, ok := err.(*APIError); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.ID == s.UserID, nil
}

func (c *HostedClient) sessionFrom(ctx context.Context, resp tokenResponse) (DelegatedSession, error) {
	userID := strings.TrimSpace(resp.User.ID)
	if userID == "" || resp.AccessToken == "" {
		return DelegatedSession{}, fmt.Errorf("auth provider returned an incomplete session")
	}
	if c.verifier != nil {
		subject, err := c.verifier.VerifySubject(ctx, resp.AccessToken)
		if err != nil {
			return DelegatedSession{}, fmt.Errorf("verify provider token: %w", err)
		}
		if subject != userID {
			return DelegatedSession{}, fmt.Errorf("provider token subject %q does not match user %q", subject, userID)
		}
	}
	expires := c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresAt > 0 {
		expires = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	return DelegatedSession{
		UserID:       userID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expires,
	}, nil
}

// rejectedOr maps grant refusals onto ErrRejected and leaves transport and
// server errors alone.
func rejectedOr(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
	}
	return err
}

func (c *HostedClient) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
			Msg         string `json:"msg"`
			ErrorCode   string `json:"error_code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := firstNonEmpty(errResp.Description, errResp.Msg, errResp.Error, resp.Status)
		code := firstNonEmpty(errResp.ErrorCode, errResp.Error)
		return &APIError{Status: resp.StatusCode, Message: msg, Code: code}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
