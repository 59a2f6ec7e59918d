package questrade

import (
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

// Factory hands out one Client per login; each login carries its own
// limiter and semaphore.
type Factory struct {
	tokens  interfaces.TokenStore
	logger  *common.Logger
	maxConc int
	spacing time.Duration
	retries int

	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory creates a client factory with per-login limiter settings.
func NewFactory(tokens interfaces.TokenStore, logger *common.Logger, maxConcurrent int, minSpacing time.Duration, retryBudget int) *Factory {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}
	if retryBudget <= 0 {
		retryBudget = DefaultRetryBudget
	}
	return &Factory{
		tokens:  tokens,
		logger:  logger,
		maxConc: maxConcurrent,
		spacing: minSpacing,
		retries: retryBudget,
		clients: make(map[string]*Client),
	}
}

// ClientFor returns the client for the given login id, creating it on first use.
func (f *Factory) ClientFor(loginID string) (interfaces.BrokerClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[loginID]; ok {
		return c, nil
	}
	if _, err := f.tokens.GetLogin(loginID); err != nil {
		return nil, err
	}
	c := NewClient(loginID, f.tokens,
		WithLogger(f.logger),
		WithMaxConcurrent(f.maxConc),
		WithMinSpacing(f.spacing),
		WithRetryBudget(f.retries),
	)
	f.clients[loginID] = c
	return c, nil
}
