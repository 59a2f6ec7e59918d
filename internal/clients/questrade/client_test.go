package questrade

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/models"
)

// stubTokens hands out rotating access tokens and counts refreshes.
type stubTokens struct {
	mu        sync.Mutex
	apiServer string
	refreshes int
	err       error
}

func (s *stubTokens) ListLogins() ([]models.Login, error) {
	return []models.Login{{ID: "main"}}, nil
}

func (s *stubTokens) GetLogin(id string) (*models.Login, error) {
	return &models.Login{ID: id}, nil
}

func (s *stubTokens) RefreshAccessToken(ctx context.Context, loginID string) (*models.AccessCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.refreshes++
	return &models.AccessCredentials{
		AccessToken:       fmt.Sprintf("tok%d", s.refreshes),
		APIServer:         s.apiServer,
		AccessTokenExpiry: time.Now().Add(30 * time.Minute),
	}, nil
}

func (s *stubTokens) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// sleepRecorder captures backoff waits instead of sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *stubTokens, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &stubTokens{apiServer: srv.URL + "/"}
	rec := &sleepRecorder{}
	base := []ClientOption{
		WithMinSpacing(time.Millisecond),
		WithRetryBudget(3),
		withSleep(rec.sleep),
	}
	c := NewClient("main", tokens, append(base, opts...)...)
	return c, tokens, rec
}

func TestRateLimitHonorsRetryAfterThenFails(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c, _, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchAccounts(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsRateLimitError(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "retry budget is 3 attempts")
	require.Len(t, rec.waits, 2, "two backoffs between three attempts")
	for _, wait := range rec.waits {
		assert.GreaterOrEqual(t, wait, time.Second, "Retry-After must floor the backoff")
	}
}

func TestRateLimitRecoversWithinBudget(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"accounts":[{"number":"111","type":"TFSA"}]}`)
	})

	accounts, err := c.FetchAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "111", accounts[0].Number)
}

func TestUnauthorizedForcesSingleRefreshThenRetries(t *testing.T) {
	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The initial credentials carry tok1; only the refreshed tok2 passes.
		if r.Header.Get("Authorization") != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"accounts":[{"number":"111","type":"TFSA"}]}`)
	})

	accounts, err := c.FetchAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, 2, tokens.refreshCount(), "one initial exchange plus one forced refresh")
}

func TestSecondUnauthorizedSurfacesAuthError(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.FetchAccounts(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsAuthError(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls, "one retry after the forced refresh, then give up")
	assert.Equal(t, 2, tokens.refreshCount())
}

func TestServerErrorRetriesThenSurfacesTransient(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.FetchAccounts(context.Background())
	require.Error(t, err)

	var be *models.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, models.ErrKindTransient, be.Kind)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestFetchActivitiesRejectsWideWindow(t *testing.T) {
	var calls int
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.FetchActivities(context.Background(), "111", start, start.AddDate(0, 0, 45))
	require.Error(t, err)

	var wide *models.WindowTooWideError
	require.ErrorAs(t, err, &wide)
	assert.Equal(t, ActivityWindowDays, wide.MaxDays)
	assert.Zero(t, calls, "the cap is enforced before any HTTP call")
}

func TestFetchSymbolCandlesResolvesSymbolID(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/symbols/search":
			fmt.Fprint(w, `{"symbols":[{"symbol":"QQQ","symbolId":12345}]}`)
		case "/v1/markets/candles/12345":
			fmt.Fprint(w, `{"candles":[{"start":"2026-08-20T00:00:00Z","end":"2026-08-21T00:00:00Z","close":450.5}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	candles, err := c.FetchSymbolCandles(context.Background(), "QQQ", "OneDay", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.InDelta(t, 450.5, candles[0].Close, 1e-9)

	// Second fetch reuses the memoized symbol id.
	_, err = c.FetchSymbolCandles(context.Background(), "QQQ", "OneDay", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
}

func TestSymbolCurrencyFromSuffix(t *testing.T) {
	assert.Equal(t, "CAD", SymbolCurrency("DLR.TO"))
	assert.Equal(t, "CAD", SymbolCurrency("XYZ.VN"))
	assert.Equal(t, "USD", SymbolCurrency("QQQ"))
	assert.Equal(t, "USD", SymbolCurrency("DLR.U.TO.X"))
}
