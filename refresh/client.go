package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-credentials/core"
)

const (
	defaultHTTPTimeout       = 30 * time.Second
	defaultResponseBodyLimit = 1 << 20 // 1 MiB

	// Providers that omit expires_in get a conservative one hour lifetime.
	DefaultTokenLifetime = time.Hour
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client exchanges refresh tokens for fresh access tokens. When an exchange
// service URL is configured it is tried first; infrastructure failures there
// (unreachable, 5xx, missing route, malformed body) fall back to the
// provider's own token endpoint. Provider-level rejections (4xx) are final
// and never trigger the fallback.
type Client struct {
	http        HTTPDoer
	exchangeURL string
	registry    *DescriptorRegistry
	logger      core.Logger
	nowFn       func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

func WithExchangeURL(exchangeURL string) ClientOption {
	return func(c *Client) {
		c.exchangeURL = strings.TrimSpace(exchangeURL)
	}
}

func WithDescriptorRegistry(registry *DescriptorRegistry) ClientOption {
	return func(c *Client) {
		if registry != nil {
			c.registry = registry
		}
	}
}

func WithLogger(logger core.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.nowFn = now
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		registry: NewBuiltinRegistry(),
		logger:   glog.Nop(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	return client
}

// Refresh implements core.TokenRefresher.
func (c *Client) Refresh(ctx context.Context, req core.RefreshTokenRequest) (core.RefreshTokenResult, error) {
	if c == nil {
		return core.RefreshTokenResult{}, fmt.Errorf("refresh: client is not configured")
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return core.RefreshTokenResult{}, core.NewReauthRequiredError(
			fmt.Sprintf("tenant %q has no refresh token", req.TenantID),
		)
	}

	if c.exchangeURL != "" {
		bundle, err := c.refreshViaExchange(ctx, req)
		if err == nil {
			return core.RefreshTokenResult{Bundle: bundle}, nil
		}
		if !shouldFallBack(err) {
			return core.RefreshTokenResult{}, c.classifyForProvider(req.ProviderID, err)
		}
		c.logger.Warn("exchange service failed, falling back to direct refresh",
			"tenant_id", req.TenantID,
			"provider_id", req.ProviderID,
			"error", err.Error(),
		)
		bundle, directErr := c.refreshDirect(ctx, req)
		if directErr != nil {
			return core.RefreshTokenResult{}, c.classifyForProvider(req.ProviderID, directErr)
		}
		return core.RefreshTokenResult{Bundle: bundle, UsedDirectFallback: true}, nil
	}

	bundle, err := c.refreshDirect(ctx, req)
	if err != nil {
		return core.RefreshTokenResult{}, c.classifyForProvider(req.ProviderID, err)
	}
	return core.RefreshTokenResult{Bundle: bundle}, nil
}

// Validate checks an access token against the provider's identity endpoint
// without refreshing it. A 401 or 403 means the provider no longer honors
// the token and the tenant should be re-authorized.
func (c *Client) Validate(ctx context.Context, providerID string, accessToken string) error {
	if c == nil {
		return fmt.Errorf("refresh: client is not configured")
	}
	if strings.TrimSpace(accessToken) == "" {
		return core.NewReauthRequiredError(
			fmt.Sprintf("provider %q has no access token to validate", providerID),
		)
	}
	descriptor, ok := c.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("refresh: no descriptor registered for provider %q", providerID)
	}
	if strings.TrimSpace(descriptor.IdentityURL) == "" {
		return fmt.Errorf("refresh: provider %q has no identity endpoint", providerID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor.IdentityURL, nil)
	if err != nil {
		return fmt.Errorf("refresh: create identity request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("refresh: identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultResponseBodyLimit))
	if err != nil {
		return fmt.Errorf("refresh: read identity response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return c.classifyForProvider(providerID, core.NewReauthRequiredError(
			fmt.Sprintf("provider %q rejected the access token: %s", providerID, summarizeBody(body)),
		))
	case resp.StatusCode >= http.StatusBadRequest:
		return c.classifyForProvider(providerID,
			fmt.Errorf("refresh: identity endpoint returned %d: %s", resp.StatusCode, summarizeBody(body)),
		)
	}
	return nil
}

// classifyForProvider pins the descriptor's error-pattern verdict, when one
// matches, so the shared classifier honors provider-specific phrasing.
func (c *Client) classifyForProvider(providerID string, err error) error {
	if err == nil {
		return nil
	}
	descriptor, ok := c.registry.Get(providerID)
	if !ok {
		return err
	}
	if class, matched := descriptor.MatchError(err); matched {
		return core.WithErrorClass(err, class)
	}
	return err
}

type exchangeRequestPayload struct {
	TenantID     string `json:"tenant_id"`
	ProviderID   string `json:"provider_id"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) refreshViaExchange(ctx context.Context, req core.RefreshTokenRequest) (core.TokenBundle, error) {
	payload, err := json.Marshal(exchangeRequestPayload{
		TenantID:     req.TenantID,
		ProviderID:   req.ProviderID,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: encode exchange request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL, strings.NewReader(string(payload)))
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: create exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.TokenBundle{}, infrastructureError(fmt.Errorf("refresh: exchange request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultResponseBodyLimit))
	if err != nil {
		return core.TokenBundle{}, infrastructureError(fmt.Errorf("refresh: read exchange response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusNotFound {
		return core.TokenBundle{}, infrastructureError(
			fmt.Errorf("refresh: exchange service returned %d: %s", resp.StatusCode, summarizeBody(body)),
		)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return core.TokenBundle{}, providerRejection(resp.StatusCode, body)
	}

	bundle, err := c.parseTokenResponse(body, req.RefreshToken)
	if err != nil {
		// A broken exchange response is an exchange problem, not a
		// provider verdict.
		return core.TokenBundle{}, infrastructureError(err)
	}
	return bundle, nil
}

func (c *Client) refreshDirect(ctx context.Context, req core.RefreshTokenRequest) (core.TokenBundle, error) {
	descriptor, ok := c.registry.Get(req.ProviderID)
	if !ok {
		return core.TokenBundle{}, fmt.Errorf("refresh: no token endpoint registered for provider %q", req.ProviderID)
	}
	if strings.TrimSpace(req.Credentials.ClientID) == "" {
		return core.TokenBundle{}, core.NewReauthRequiredError(
			fmt.Sprintf("client credentials are not configured for provider %q", req.ProviderID),
		)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", req.Credentials.ClientID)
	form.Set("client_secret", req.Credentials.ClientSecret)
	for key, value := range descriptor.ExtraFormParams {
		form.Set(key, value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, descriptor.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultResponseBodyLimit))
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: read token response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return core.TokenBundle{}, providerRejection(resp.StatusCode, body)
	}

	return c.parseTokenResponse(body, req.RefreshToken)
}

type tokenResponsePayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// parseTokenResponse normalizes a provider token response into a bundle.
// expires_in becomes an absolute instant; a missing refresh token keeps the
// one that was just used, since most providers only rotate it sometimes.
func (c *Client) parseTokenResponse(body []byte, previousRefreshToken string) (core.TokenBundle, error) {
	payload := tokenResponsePayload{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.TokenBundle{}, fmt.Errorf("refresh: decode token response: %w", err)
	}
	if payload.Error != "" {
		return core.TokenBundle{}, oauthError(payload.Error, payload.ErrorDesc)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenBundle{}, fmt.Errorf("refresh: token response has no access token")
	}

	bundle := core.TokenBundle{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    strings.TrimSpace(payload.TokenType),
		Scope:        strings.TrimSpace(payload.Scope),
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = previousRefreshToken
	}
	if bundle.TokenType == "" {
		bundle.TokenType = "bearer"
	}

	lifetime := DefaultTokenLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	bundle.ExpiresAt = c.nowFn().Add(lifetime)
	return bundle, nil
}

// shouldFallBack reports whether an exchange failure warrants going straight
// to the provider. Provider rejections carry an auth/authz/bad-input
// category; everything else is exchange infrastructure.
func shouldFallBack(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return true
	}
	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryBadInput, goerrors.CategoryRateLimit:
		return false
	default:
		return true
	}
}

func infrastructureError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "exchange service unavailable").
		WithTextCode("EXCHANGE_UNAVAILABLE")
}

func providerRejection(statusCode int, body []byte) error {
	payload := tokenResponsePayload{}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return oauthError(payload.Error, payload.ErrorDesc)
	}
	category := goerrors.CategoryAuth
	switch statusCode {
	case http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case http.StatusBadRequest:
		category = goerrors.CategoryBadInput
	case http.StatusForbidden:
		category = goerrors.CategoryAuthz
	}
	return goerrors.New(
		fmt.Sprintf("token endpoint returned %d: %s", statusCode, summarizeBody(body)),
		category,
	).WithCode(statusCode)
}

// oauthError surfaces the provider's error code in the message so the shared
// classifier can bucket it.
func oauthError(code string, description string) error {
	message := strings.TrimSpace(code)
	if strings.TrimSpace(description) != "" {
		message = message + ": " + strings.TrimSpace(description)
	}
	category := goerrors.CategoryAuth
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "invalid_request", "unsupported_grant_type":
		category = goerrors.CategoryBadInput
	case "temporarily_unavailable":
		category = goerrors.CategoryExternal
	}
	return goerrors.New(message, category)
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "<empty body>"
	}
	return text
}

var _ core.TokenRefresher = (*Client)(nil)
