package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// TokenStore persists per-login OAuth refresh tokens and hands out
// short-lived access credentials.
type TokenStore interface {
	// ListLogins returns all known logins
	ListLogins() ([]models.Login, error)

	// GetLogin returns one login by id
	GetLogin(id string) (*models.Login, error)

	// RefreshAccessToken exchanges the login's refresh token for access
	// credentials, atomically persisting the rotated refresh token before
	// returning. Refreshes are never cancelled mid-flight.
	RefreshAccessToken(ctx context.Context, loginID string) (*models.AccessCredentials, error)
}

// ConfigStore reads and mutates the accounts configuration file.
type ConfigStore interface {
	// Accounts returns the per-account settings overlay keyed by account id
	// suffix (account number) or full id.
	Accounts() (map[string]*models.Account, error)

	// Groups returns the account-group tree (cycles already broken).
	Groups() ([]models.AccountGroup, error)

	// SetTargetProportions replaces the target proportions for an account.
	SetTargetProportions(accountID string, percents map[string]float64) error

	// SetSymbolNotes sets the note for one symbol on an account.
	SetSymbolNotes(accountID, symbol, note string) error

	// SetPlanningContext replaces the free-form planning context text.
	SetPlanningContext(accountID, text string) error

	// MarkAccountRebalanced stamps lastRebalance = today on the named model
	// (or all models when model is empty).
	MarkAccountRebalanced(accountID, model string, today time.Time) error
}

// PriceSource serves daily closing prices with gap detection. A range query
// is a hit only when a covered range fully contains it.
type PriceSource interface {
	// GetDailyCloses returns cached points for [startKey, endKey], or a miss.
	GetDailyCloses(symbol, startKey, endKey string) ([]models.PricePoint, bool)

	// Record merges fetched points and their covered range into the cache.
	// Today's key is never admitted.
	Record(symbol string, fetched models.DateRange, points []models.PricePoint) error
}

// InvestmentModel evaluates one configured model against current holdings.
// Implementations are pure: the same inputs always produce the same outputs.
type InvestmentModel interface {
	// Name returns the model identifier used in account configuration
	Name() string

	// Evaluate produces the hold/rebalance decision and target allocation
	Evaluate(in ModelInputs) models.ModelEvaluation
}

// ModelInputs is everything an investment model may consult. PriceHistory is
// ascending daily closes for the model's benchmark symbol.
type ModelInputs struct {
	Positions    []models.Position
	Balances     *models.Balances
	PriceHistory []models.PricePoint
	Config       models.InvestmentModelConfig
	Today        time.Time
}
