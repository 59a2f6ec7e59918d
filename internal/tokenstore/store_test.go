package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/models"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func writeStoreFile(t *testing.T, path string, logins ...models.Login) {
	t.Helper()
	data, err := json.MarshalIndent(storeFile{Logins: logins}, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func readRefreshToken(t *testing.T, path, loginID string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sf storeFile
	require.NoError(t, json.Unmarshal(data, &sf))
	for _, l := range sf.Logins {
		if l.ID == loginID {
			return l.RefreshToken
		}
	}
	t.Fatalf("login %s not found in %s", loginID, path)
	return ""
}

func TestRefreshRotatesTokenOnDiskBeforeReturning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	writeStoreFile(t, path, models.Login{ID: "main", RefreshToken: "old-token"})

	var sawToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.URL.Query().Get("refresh_token")
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"at1","refresh_token":"new-token","api_server":"https://api01.example.com/","expires_in":1800}`)
	}))
	defer srv.Close()

	clock := &fixedClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	store := NewStore(path, srv.URL, WithClock(clock))

	creds, err := store.RefreshAccessToken(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "old-token", sawToken)
	assert.Equal(t, "at1", creds.AccessToken)
	assert.Equal(t, "https://api01.example.com/", creds.APIServer)
	assert.Equal(t, clock.now.Add(1800*time.Second), creds.AccessTokenExpiry)

	// The rotated refresh token must already be on disk.
	assert.Equal(t, "new-token", readRefreshToken(t, path, "main"))

	login, err := store.GetLogin("main")
	require.NoError(t, err)
	assert.Equal(t, clock.now, login.UpdatedAt)
}

func TestRefreshFailureKeepsOldTokenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	writeStoreFile(t, path, models.Login{ID: "main", RefreshToken: "old-token"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	store := NewStore(path, srv.URL)

	_, err := store.RefreshAccessToken(context.Background(), "main")
	require.Error(t, err)

	var tre *models.TokenRefreshError
	require.ErrorAs(t, err, &tre)
	assert.Equal(t, http.StatusBadRequest, tre.HTTPStatus)

	assert.Equal(t, "old-token", readRefreshToken(t, path, "main"))
}

func TestRefreshSurvivesCallerCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	writeStoreFile(t, path, models.Login{ID: "main", RefreshToken: "old-token"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"at1","refresh_token":"new-token","api_server":"https://api01.example.com/","expires_in":1800}`)
	}))
	defer srv.Close()

	store := NewStore(path, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	creds, err := store.RefreshAccessToken(ctx, "main")
	require.NoError(t, err, "a cancelled caller must not abort the exchange")
	assert.Equal(t, "at1", creds.AccessToken)
	assert.Equal(t, "new-token", readRefreshToken(t, path, "main"))
}

func TestRefreshUnknownLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	writeStoreFile(t, path, models.Login{ID: "main", RefreshToken: "old-token"})

	store := NewStore(path, "http://localhost:0")
	_, err := store.RefreshAccessToken(context.Background(), "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadAcceptsLegacySingleTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	legacy := `{"refreshToken":"legacy-token","label":"Main"}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	store := NewStore(path, "http://localhost:0")

	logins, err := store.ListLogins()
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "default", logins[0].ID)
	assert.Equal(t, "legacy-token", logins[0].RefreshToken)
	assert.Equal(t, "Main", logins[0].Label)
}

func TestListLoginsMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"), "http://localhost:0")
	logins, err := store.ListLogins()
	require.NoError(t, err)
	assert.Empty(t, logins)
}

func TestCachedCredentialsExpire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-store.json")
	writeStoreFile(t, path, models.Login{ID: "main", RefreshToken: "old-token"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"at1","refresh_token":"new-token","api_server":"https://api01.example.com/","expires_in":1800}`)
	}))
	defer srv.Close()

	clock := &fixedClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	store := NewStore(path, srv.URL, WithClock(clock))

	assert.Nil(t, store.CachedCredentials("main"), "nothing cached before a refresh")

	_, err := store.RefreshAccessToken(context.Background(), "main")
	require.NoError(t, err)

	cached := store.CachedCredentials("main")
	require.NotNil(t, cached)
	assert.Equal(t, "at1", cached.AccessToken)

	clock.now = clock.now.Add(2 * time.Hour)
	assert.Nil(t, store.CachedCredentials("main"), "expired credentials are not handed out")
}
