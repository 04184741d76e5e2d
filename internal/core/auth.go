package core

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/oauth2"
)

// skewBuffer is the "currently valid" margin spec.md §4.5 names: a cached
// token is used as-is only while now < expires_at - 5min.
const skewBuffer = 5 * time.Minute

// AuthConfigStore is the config collaborator C7 writes through to and
// re-reads on an invalid_grant race (spec.md §4.5, §5 "Configuration file —
// file-lock on write; re-read on auth refresh collision"). Implementations
// live in internal/config, adapting its existing Viper-backed file.
type AuthConfigStore interface {
	LoadProviderAuth(ctx context.Context, providerID string) (StoredAuth, error)
	SaveProviderAuth(ctx context.Context, providerID string, auth StoredAuth) error
}

// StoredAuth is the persisted token triple for one provider entry.
type StoredAuth struct {
	AccessToken  string
	RefreshToken string
	ExpiresAtMs  int64
}

func (s StoredAuth) expired(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAtMs-skewBuffer.Milliseconds()
}

// OAuthRefresher is the per-provider struct {local_id, access_token,
// refresh_token, expires_at_ms} guarded by a single mutex that spec.md
// §4.5 calls for. It implements TokenSource so adapters consume it
// directly. Grounded on internal/llm/codeassist.go's refreshAccessToken
// (manual form-POST token refresh, cache-then-reload-on-failure shape),
// generalized to any provider's token endpoint via oauth2.Config, and on
// the shared config-race handling spec.md §4.5 describes for invalid_grant.
type OAuthRefresher struct {
	ProviderID   string
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTP         *http.Client
	Store        AuthConfigStore

	mu    sync.Mutex
	state StoredAuth
}

// NewOAuthRefresher seeds a refresher with its initial token triple.
func NewOAuthRefresher(providerID, clientID, clientSecret, tokenURL string, store AuthConfigStore, initial StoredAuth) *OAuthRefresher {
	return &OAuthRefresher{
		ProviderID:   providerID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Store:        store,
		state:        initial,
	}
}

func (r *OAuthRefresher) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

// AccessToken returns the cached token if it is still outside the skew
// buffer, else performs a refresh.
func (r *OAuthRefresher) AccessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.AccessToken != "" && !r.state.expired(time.Now()) {
		return r.state.AccessToken, nil
	}
	return r.refreshLocked(ctx)
}

// ForceRefresh unconditionally refreshes, used on the single 401/
// SessionCorrupted retry spec.md §4.4(i)/(viii) allow.
func (r *OAuthRefresher) ForceRefresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *OAuthRefresher) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: r.TokenURL},
	}
}

// refreshLocked performs the refresh-token grant and, on invalid_grant,
// the config-race recovery spec.md §4.5 specifies: reload the persisted
// config in case a concurrent process already rotated the refresh token;
// if its token differs and is fresher, adopt it (refreshing once more if
// it too is expired); otherwise the refresh token is genuinely dead and
// RefreshTokenExpired is surfaced for the UI to prompt re-login.
func (r *OAuthRefresher) refreshLocked(ctx context.Context) (string, error) {
	newState, err := r.doRefresh(ctx, r.state.RefreshToken)
	if err == nil {
		r.state = newState
		if r.Store != nil {
			_ = r.Store.SaveProviderAuth(ctx, r.ProviderID, newState)
		}
		return newState.AccessToken, nil
	}

	if !isInvalidGrant(err) || r.Store == nil {
		return "", &AdapterError{Class: ClassAuth, Wrapped: err}
	}

	reloaded, loadErr := r.Store.LoadProviderAuth(ctx, r.ProviderID)
	if loadErr != nil || reloaded.RefreshToken == r.state.RefreshToken {
		return "", &AdapterError{Class: ClassRefreshTokenExpired, Wrapped: err}
	}

	r.state = reloaded
	if !reloaded.expired(time.Now()) {
		return reloaded.AccessToken, nil
	}

	retried, retryErr := r.doRefresh(ctx, reloaded.RefreshToken)
	if retryErr != nil {
		return "", &AdapterError{Class: ClassRefreshTokenExpired, Wrapped: retryErr}
	}
	r.state = retried
	_ = r.Store.SaveProviderAuth(ctx, r.ProviderID, retried)
	return retried.AccessToken, nil
}

func (r *OAuthRefresher) doRefresh(ctx context.Context, refreshToken string) (StoredAuth, error) {
	if refreshToken == "" {
		return StoredAuth{}, &AdapterError{Class: ClassRefreshTokenExpired, Body: "no refresh token on file"}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient())
	src := r.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return StoredAuth{}, err
	}
	return StoredAuth{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshTokenOrPrevious(tok.RefreshToken, refreshToken),
		ExpiresAtMs:  tok.Expiry.UnixMilli(),
	}, nil
}

func refreshTokenOrPrevious(fresh, previous string) string {
	if fresh != "" {
		return fresh
	}
	return previous
}

// isInvalidGrant reports whether an oauth2 token-endpoint error is the
// invalid_grant response spec.md §4.5 names as the trigger for the
// config-reload race-recovery path.
func isInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	if retrieveErr, ok := err.(*oauth2.RetrieveError); ok {
		return strings.Contains(retrieveErr.ErrorCode, "invalid_grant")
	}
	return strings.Contains(strings.ToLower(err.Error()), "invalid_grant")
}

// ValidateAnthropicAccessToken confirms a cached or freshly-refreshed
// Anthropic access token still authenticates, per spec.md §4.5's login
// validation step. Grounded on internal/llm/anthropic.go's
// validateAnthropicToken: a cheap Models.List call using the real
// anthropic-sdk-go client rather than a hand-rolled request, since this path
// runs once at login/refresh time outside the streaming hot path C5 owns
// (the adapters' own request/response plumbing stays on FrameSSE so C9
// network accounting and C11 transaction logging keep seeing raw bytes).
func ValidateAnthropicAccessToken(ctx context.Context, accessToken string) error {
	client := anthropic.NewClient(option.WithAPIKey(accessToken))
	_, err := client.Models.List(ctx, anthropic.ModelListParams{})
	return err
}

// StaticTokenSource implements TokenSource for providers authenticated by a
// long-lived API key with no refresh cycle (the OpenAI-compatible generic
// dialect, static Gemini API keys).
type StaticTokenSource struct {
	Token string
}

func (s StaticTokenSource) AccessToken(ctx context.Context) (string, error) { return s.Token, nil }
func (s StaticTokenSource) ForceRefresh(ctx context.Context) (string, error) {
	return s.Token, nil
}

// CopilotTokenExchanger implements TokenSource for GitHub Copilot Chat's
// token-exchange flow (spec.md §6): the long-lived GitHub access token is
// exchanged for a short-lived Copilot token at
// POST https://api.github.com/copilot_internal/v2/token, cached and reused
// until it is within the same 5-minute skew buffer of its own expiry.
type CopilotTokenExchanger struct {
	GitHubToken string
	HTTP        *http.Client

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

func NewCopilotTokenExchanger(githubToken string) *CopilotTokenExchanger {
	return &CopilotTokenExchanger{GitHubToken: githubToken}
}

func (c *CopilotTokenExchanger) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *CopilotTokenExchanger) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != "" && time.Now().Before(c.expiresAt.Add(-skewBuffer)) {
		return c.cached, nil
	}
	return c.exchangeLocked(ctx)
}

func (c *CopilotTokenExchanger) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchangeLocked(ctx)
}

func (c *CopilotTokenExchanger) exchangeLocked(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/copilot_internal/v2/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", "token "+c.GitHubToken)
	req.Header.Set("editor-version", "vscode/1.99.3")
	req.Header.Set("editor-plugin-version", "copilot-chat/0.26.7")
	req.Header.Set("user-agent", "GitHubCopilotChat/0.26.7")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &AdapterError{Class: ClassHTTP, Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &AdapterError{Class: ClassAuth, Status: resp.StatusCode, Body: "copilot token exchange failed"}
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"` // unix seconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AdapterError{Class: ClassAPI, Wrapped: err}
	}

	c.cached = body.Token
	c.expiresAt = time.Unix(body.ExpiresAt, 0)
	return c.cached, nil
}
