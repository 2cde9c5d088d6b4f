package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"tailortalk/internal/apperr"
	"tailortalk/internal/config"
	appLog "tailortalk/internal/log"
)

const defaultStateTTL = 10 * time.Minute

// Scopes requested on login.
var Scopes = []string{
	googleoauth2.OpenIDScope,
	googleoauth2.UserinfoEmailScope,
	googleoauth2.UserinfoProfileScope,
	gcal.CalendarScope,
}

// Identity is the Google account that completed the consent flow.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OAuthConfig builds the OAuth client from a client secrets file when one
// is configured, otherwise from the client id and secret.
func OAuthConfig(c config.GoogleConfig) (*oauth2.Config, error) {
	if c.CredentialsPath != "" {
		data, err := os.ReadFile(c.CredentialsPath)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "read google credentials").WithContext("path", c.CredentialsPath)
		}
		oc, err := google.ConfigFromJSON(data, Scopes...)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "parse google credentials").WithContext("path", c.CredentialsPath)
		}
		if c.RedirectURL != "" {
			oc.RedirectURL = c.RedirectURL
		}
		return oc, nil
	}

	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "google oauth client is not configured")
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}, nil
}

// Manager runs the OAuth consent flow and hands out authorized clients.
type Manager struct {
	oauth *oauth2.Config
	store *TokenStore

	stateTTL     time.Duration
	now          func() time.Time
	userinfoOpts []option.ClientOption

	mu     sync.Mutex
	states map[string]time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithUserinfoOptions adds client options to the userinfo lookup.
func WithUserinfoOptions(opts ...option.ClientOption) ManagerOption {
	return func(m *Manager) { m.userinfoOpts = append(m.userinfoOpts, opts...) }
}

// WithManagerClock replaces the wall clock.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(oc *oauth2.Config, store *TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		oauth:    oc,
		store:    store,
		stateTTL: defaultStateTTL,
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoginURL starts a consent flow and returns the URL to send the browser
// to along with the state value it carries.
func (m *Manager) LoginURL() (string, string) {
	state := uuid.NewString()

	m.mu.Lock()
	now := m.now()
	for s, issued := range m.states {
		if now.Sub(issued) > m.stateTTL {
			delete(m.states, s)
		}
	}
	m.states[state] = now
	m.mu.Unlock()

	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state
}

func (m *Manager) consumeState(state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	issued, ok := m.states[state]
	if !ok {
		return false
	}
	delete(m.states, state)
	return m.now().Sub(issued) <= m.stateTTL
}

// Exchange completes the consent flow: it validates state, trades code for
// a token, looks up the account and persists the token under its email.
func (m *Manager) Exchange(ctx context.Context, code, state string) (Identity, error) {
	if strings.TrimSpace(code) == "" {
		return Identity{}, apperr.New(apperr.CodeInvalidInput, "authorization code is empty")
	}
	if !m.consumeState(state) {
		return Identity{}, apperr.New(apperr.CodeAuthRequired, "unknown or expired oauth state")
	}

	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, apperr.Wrap(err, apperr.CodeAuthRequired, "exchange authorization code")
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(m.oauth.Client(ctx, tok))}, m.userinfoOpts...)
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return Identity{}, apperr.Wrap(err, apperr.CodeInternal, "userinfo service")
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Identity{}, apperr.Wrap(err, apperr.CodeAuthRequired, "fetch userinfo")
	}
	if info.Email == "" {
		return Identity{}, apperr.New(apperr.CodeAuthRequired, "account has no email")
	}

	id := Identity{Email: info.Email, Name: info.Name}
	if err := m.store.save(id.Email, id.Name, tok); err != nil {
		return Identity{}, err
	}
	appLog.Info("user logged in", "user", id.Email, "refreshable", tok.RefreshToken != "")
	return id, nil
}

// IsAuthenticated reports whether user has a token that is valid or can be
// refreshed.
func (m *Manager) IsAuthenticated(user string) bool {
	tok, err := m.store.Load(user)
	if err != nil {
		return false
	}
	return tok.Valid() || tok.RefreshToken != ""
}

// Client returns an HTTP client authorized as user. Refreshed tokens are
// written back to the store.
func (m *Manager) Client(ctx context.Context, user string) (*http.Client, error) {
	tok, err := m.store.Load(user)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		user:  user,
		store: m.store,
		base:  m.oauth.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, src), nil
}

// Logout forgets user's token.
func (m *Manager) Logout(user string) error {
	if err := m.store.Delete(user); err != nil {
		return err
	}
	appLog.Info("user logged out", "user", user)
	return nil
}

// persistingSource saves every newly minted access token.
type persistingSource struct {
	user  string
	store *TokenStore
	base  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, apperr.Wrap(err, apperr.CodeAuthRequired, "refresh token").WithContext("user", p.user)
		}
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if serr := p.store.Save(p.user, tok); serr != nil {
			appLog.Error("persist refreshed token failed", serr, "user", p.user)
		} else {
			appLog.Debug("refreshed token persisted", "user", p.user)
		}
	}
	return tok, nil
}

// OpenGate admits every non-empty identity. It stands in for Manager when
// the calendar lives on local disk.
type OpenGate struct{}

func (OpenGate) IsAuthenticated(user string) bool {
	return strings.TrimSpace(user) != ""
}
