// Package tokenstore persists per-login OAuth refresh tokens and exchanges
// them for short-lived access credentials.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

const DefaultTimeout = 30 * time.Second

// storeFile is the on-disk shape of token-store.json.
type storeFile struct {
	Logins []models.Login `json:"logins"`
}

// legacyFile is the pre-multi-login shape, accepted on read only.
type legacyFile struct {
	RefreshToken string `json:"refreshToken"`
	Label        string `json:"label,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Store manages refresh-token rotation for all logins. Writes are exclusive
// per login; access credentials are cached in memory and never persisted.
type Store struct {
	path       string
	loginURL   string
	httpClient *http.Client
	logger     *common.Logger
	clock      common.Clock

	mu    sync.Mutex // guards file reads/writes and creds
	creds map[string]*models.AccessCredentials
}

// Option configures the store
type Option func(*Store)

// WithHTTPClient sets the HTTP client used for the OAuth exchange
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used for rotation timestamps
func WithClock(clock common.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates a token store backed by the JSON file at path.
// loginURL is the broker's OAuth host (e.g. https://login.questrade.com).
func NewStore(path, loginURL string, opts ...Option) *Store {
	s := &Store{
		path:       path,
		loginURL:   loginURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
		clock:      common.SystemClock{},
		creds:      make(map[string]*models.AccessCredentials),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// load reads and parses the store file, tolerating the legacy shape.
func (s *Store) load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storeFile{}, nil
		}
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}

	var sf storeFile
	if err := json.Unmarshal(data, &sf); err == nil && len(sf.Logins) > 0 {
		return &sf, nil
	}

	var legacy legacyFile
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.RefreshToken != "" {
		return &storeFile{Logins: []models.Login{{
			ID:           "default",
			Label:        legacy.Label,
			Email:        legacy.Email,
			RefreshToken: legacy.RefreshToken,
		}}}, nil
	}

	return nil, fmt.Errorf("failed to parse token store %s", s.path)
}

// save atomically rewrites the store file (temp file + rename).
func (s *Store) save(sf *storeFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ListLogins returns all known logins.
func (s *Store) ListLogins() ([]models.Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	return sf.Logins, nil
}

// GetLogin returns one login by id.
func (s *Store) GetLogin(id string) (*models.Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range sf.Logins {
		if sf.Logins[i].ID == id {
			return &sf.Logins[i], nil
		}
	}
	return nil, fmt.Errorf("login '%s' not found", id)
}

// tokenResponse is the broker's OAuth exchange response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	APIServer    string `json:"api_server"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshAccessToken exchanges the login's refresh token for access
// credentials. The rotated refresh token is persisted atomically before the
// credentials are returned; the exchange itself is detached from the
// caller's cancellation so a rotation is never lost mid-flight.
func (s *Store) RefreshAccessToken(ctx context.Context, loginID string) (*models.AccessCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range sf.Logins {
		if sf.Logins[i].ID == loginID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("login '%s' not found", loginID)
	}

	// Refreshes must complete even if the request is cancelled.
	reqCtx := context.WithoutCancel(ctx)

	q := url.Values{}
	q.Set("grant_type", "refresh_token")
	q.Set("refresh_token", sf.Logins[idx].RefreshToken)
	reqURL := fmt.Sprintf("%s/oauth2/token?%s", s.loginURL, q.Encode())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &models.TokenRefreshError{HTTPStatus: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &models.TokenRefreshError{HTTPStatus: resp.StatusCode, Body: "unparseable response"}
	}
	if tr.AccessToken == "" || tr.APIServer == "" {
		return nil, &models.TokenRefreshError{HTTPStatus: resp.StatusCode, Body: "response missing access_token or api_server"}
	}

	// Persist the rotated refresh token before handing out credentials.
	if tr.RefreshToken != "" {
		sf.Logins[idx].RefreshToken = tr.RefreshToken
		sf.Logins[idx].UpdatedAt = s.clock.Now().UTC()
		if err := s.save(sf); err != nil {
			return nil, fmt.Errorf("refresh succeeded but persist failed: %w", err)
		}
	}

	creds := &models.AccessCredentials{
		AccessToken:       tr.AccessToken,
		APIServer:         tr.APIServer,
		AccessTokenExpiry: s.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	s.creds[loginID] = creds

	s.logger.Debug().Str("login", loginID).Msg("Refresh token rotated")
	return creds, nil
}

// CachedCredentials returns the in-memory credentials for a login, if any
// are held and not expired.
func (s *Store) CachedCredentials(loginID string) *models.AccessCredentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds := s.creds[loginID]
	if creds == nil || s.clock.Now().After(creds.AccessTokenExpiry) {
		return nil
	}
	return creds
}
