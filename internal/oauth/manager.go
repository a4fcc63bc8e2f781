// Package oauth runs the authorization-code flow (with PKCE where the
// platform requires it) and stores the resulting credential.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/httpclient"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/pending"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/storage"
	"github.com/young1lin/research2post/pkg/logger"
)

const (
	DefaultHTTPTimeout = 15 * time.Second
	maxProfileBytes    = 1 << 20
)

// Callback carries the query parameters of the platform redirect.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Manager runs the authorization flow for one platform.
type Manager struct {
	platform  *platform.Platform
	config    *oauth2.Config
	verifiers pending.Store
	creds     storage.CredentialStore
	client    *http.Client
	log       *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a new OAuth manager for p.
func NewManager(p *platform.Platform, verifiers pending.Store, creds storage.CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		platform:  p,
		config:    p.OAuth2Config(),
		verifiers: verifiers,
		creds:     creds,
		client:    httpclient.New("oauth."+p.Name, DefaultHTTPTimeout),
		log:       logger.Named("oauth"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("platform", p.Name))
	return m
}

func (m *Manager) Platform() *platform.Platform {
	return m.platform
}

// AuthorizationURL returns the consent URL for userID, which doubles as the
// OAuth state. For PKCE platforms a fresh verifier replaces any pending one
// for the same user.
func (m *Manager) AuthorizationURL(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.Validation("user_id is required")
	}

	var opts []oauth2.AuthCodeOption
	if m.platform.PKCE {
		if m.verifiers == nil {
			return "", domain.Configuration(m.platform.DisplayName + " requires a verifier store")
		}
		verifier := oauth2.GenerateVerifier()
		if err := m.verifiers.Put(ctx, m.verifierKey(userID), verifier); err != nil {
			return "", fmt.Errorf("store verifier: %w", err)
		}
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	logger.FromContext(ctx, m.log).Info("authorization started", zap.String("user_id", userID), zap.Bool("pkce", m.platform.PKCE))
	return m.config.AuthCodeURL(userID, opts...), nil
}

// Complete handles the callback: exchanges the code, resolves the platform
// identity and upserts the credential. Nothing is written unless every step
// succeeds.
func (m *Manager) Complete(ctx context.Context, cb Callback) (models.AuthorizationResult, error) {
	log := logger.FromContext(ctx, m.log).With(zap.String("user_id", cb.State))

	if cb.Error != "" {
		msg := "authorization denied: " + cb.Error
		if cb.ErrorDescription != "" {
			msg += " (" + cb.ErrorDescription + ")"
		}
		log.Warn("authorization denied by user or platform", zap.String("error", cb.Error))
		return models.AuthorizationResult{}, domain.New(domain.ErrAuthorizationDenied, msg, nil)
	}
	if cb.Code == "" || cb.State == "" {
		return models.AuthorizationResult{}, domain.Validation("code and state are required")
	}

	var opts []oauth2.AuthCodeOption
	if m.platform.PKCE {
		verifier, ok, err := m.verifiers.Take(ctx, m.verifierKey(cb.State))
		if err != nil {
			return models.AuthorizationResult{}, fmt.Errorf("load verifier: %w", err)
		}
		if !ok {
			return models.AuthorizationResult{}, domain.New(domain.ErrMissingVerifier, "invalid or expired OAuth state", nil)
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := m.config.Exchange(context.WithValue(ctx, oauth2.HTTPClient, m.client), cb.Code, opts...)
	if err != nil {
		log.Warn("token exchange failed", zap.Error(err))
		return models.AuthorizationResult{}, m.exchangeError(err)
	}

	identity, err := m.fetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		log.Warn("profile lookup failed", zap.Error(err))
		return models.AuthorizationResult{}, err
	}

	cred := models.Credential{UserID: cb.State, AccessToken: tok.AccessToken, PlatformIdentity: identity}
	if err := m.creds.Upsert(ctx, m.platform.Name, cred); err != nil {
		return models.AuthorizationResult{}, fmt.Errorf("store credential: %w", err)
	}

	log.Info("authorization completed")
	return models.AuthorizationResult{Status: models.StatusSuccess, UserID: cb.State}, nil
}

// verifierKey scopes a state to this platform so managers can share a store.
func (m *Manager) verifierKey(state string) string {
	return m.platform.Name + ":" + state
}

func (m *Manager) exchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		msg := m.platform.DisplayName + " token exchange failed"
		if rErr.Response != nil {
			msg = fmt.Sprintf("%s (%d)", msg, rErr.Response.StatusCode)
		}
		switch {
		case rErr.ErrorDescription != "":
			msg += ": " + rErr.ErrorDescription
		case rErr.ErrorCode != "":
			msg += ": " + rErr.ErrorCode
		}
		e := domain.New(domain.ErrTokenExchange, msg, nil)
		e.Payload = string(rErr.Body)
		return e
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.Upstream(m.platform.DisplayName+" token endpoint unreachable", err)
	}
	return domain.New(domain.ErrTokenExchange, m.platform.DisplayName+" token exchange failed", err)
}

func (m *Manager) fetchIdentity(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.platform.ProfileURL, nil)
	if err != nil {
		return "", domain.New(domain.ErrProfileFetch, "build profile request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", domain.New(domain.ErrProfileFetch, m.platform.DisplayName+" profile request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return "", domain.New(domain.ErrProfileFetch, "read profile response", err)
	}
	if resp.StatusCode != http.StatusOK {
		e := domain.New(domain.ErrProfileFetch,
			fmt.Sprintf("%s profile request failed (%d)", m.platform.DisplayName, resp.StatusCode), nil)
		e.Payload = string(body)
		return "", e
	}

	var profile map[string]any
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", domain.New(domain.ErrProfileFetch, "invalid profile response", err)
	}
	identity := m.platform.Identity(profile)
	if identity == "" {
		return "", domain.New(domain.ErrMissingIdentity,
			fmt.Sprintf("%s profile has no %s", m.platform.DisplayName, m.platform.IdentityField), nil)
	}
	return identity, nil
}
