// Package accounts reads and mutates the accounts configuration file.
//
// The file is free-form nested JSON: any object carrying an "id", "number",
// or "accountId" field is treated as an account override, wherever it nests.
// Mutations re-read the file, patch the matching node in place, and rewrite
// the whole file atomically.
package accounts

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// Store is the accounts-config file handle with a (size, mtime)-keyed cache.
type Store struct {
	path   string
	logger *common.Logger

	mu     sync.Mutex
	key    cacheKey
	cached *projection
}

type cacheKey struct {
	size  int64
	mtime time.Time
}

// projection is the parsed view of the file.
type projection struct {
	raw      interface{}
	accounts map[string]*models.Account // keyed by account number AND full id
	groups   []models.AccountGroup
}

// NewStore creates a config store for the given file path.
func NewStore(path string, logger *common.Logger) *Store {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Store{path: path, logger: logger}
}

// load returns the cached projection when the file is unchanged, otherwise
// re-reads and re-projects it.
func (s *Store) load() (*projection, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return &projection{accounts: map[string]*models.Account{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat accounts file: %w", err)
	}

	k := cacheKey{size: info.Size(), mtime: info.ModTime()}
	if s.cached != nil && s.key == k {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, models.NewConfigError(models.CodeParseError, "accounts file is not valid JSON: %v", err)
	}

	p := project(raw)
	s.key = k
	s.cached = p
	s.logger.Debug().Int("accounts", len(p.accounts)).Int("groups", len(p.groups)).Msg("Accounts config loaded")
	return p, nil
}

// invalidate drops the cache after a write.
func (s *Store) invalidate() {
	s.key = cacheKey{}
	s.cached = nil
}

// Accounts returns the per-account settings overlay. Each account appears
// under its bare number and, when a login id is known, under "loginId:number".
func (s *Store) Accounts() (map[string]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Account, len(p.accounts))
	for k, v := range p.accounts {
		out[k] = v
	}
	return out, nil
}

// Groups returns the account-group tree with parent cycles broken.
func (s *Store) Groups() ([]models.AccountGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load()
	if err != nil {
		return nil, err
	}
	return p.groups, nil
}

// project walks the raw tree and derives the account and group views.
func project(raw interface{}) *projection {
	p := &projection{
		raw:      raw,
		accounts: map[string]*models.Account{},
	}

	walk(raw, func(node map[string]interface{}) {
		if isGroupNode(node) {
			return
		}
		num := accountNumberOf(node)
		if num == "" {
			return
		}
		acct := decodeAccount(node)
		acct.Number = num
		p.accounts[num] = acct
		if acct.LoginID != "" {
			p.accounts[acct.LoginID+":"+num] = acct
		}
	})

	p.groups = collectGroups(raw, p.accounts)
	breakCycles(p.groups)
	return p
}

// walk visits every JSON object in the tree, depth first.
func walk(node interface{}, visit func(map[string]interface{})) {
	switch v := node.(type) {
	case map[string]interface{}:
		visit(v)
		for _, child := range v {
			walk(child, visit)
		}
	case []interface{}:
		for _, child := range v {
			walk(child, visit)
		}
	}
}

// accountNumberOf extracts the account number from an override node.
// Keys tried in order: number, accountId, id. Full ids keep only the suffix
// after the last ':'.
func accountNumberOf(node map[string]interface{}) string {
	for _, key := range []string{"number", "accountId", "id"} {
		if v, ok := node[key].(string); ok && v != "" {
			if idx := strings.LastIndex(v, ":"); idx >= 0 {
				return v[idx+1:]
			}
			return v
		}
		// Account numbers sometimes appear as bare JSON numbers.
		if v, ok := node[key].(float64); ok && v == math.Trunc(v) && v > 0 {
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// isGroupNode distinguishes explicit group definitions from account nodes.
func isGroupNode(node map[string]interface{}) bool {
	_, hasAccounts := node["accounts"].([]interface{})
	return hasAccounts
}

// decodeAccount round-trips an override node into the typed Account.
// Unknown keys are ignored, which is what keeps legacy shapes readable.
func decodeAccount(node map[string]interface{}) *models.Account {
	acct := &models.Account{}
	data, err := json.Marshal(node)
	if err != nil {
		return acct
	}
	_ = json.Unmarshal(data, acct)
	return acct
}

// collectGroups gathers explicit group definitions and infers groups from
// per-account accountGroup attributes.
func collectGroups(raw interface{}, accts map[string]*models.Account) []models.AccountGroup {
	var groups []models.AccountGroup
	seen := map[string]int{} // group id -> index in groups

	upsert := func(g models.AccountGroup) {
		if idx, ok := seen[g.ID]; ok {
			if g.Parent != "" {
				groups[idx].Parent = g.Parent
			}
			groups[idx].Accounts = append(groups[idx].Accounts, g.Accounts...)
			return
		}
		seen[g.ID] = len(groups)
		groups = append(groups, g)
	}

	// Explicit definitions: any object with a name/id and an accounts array.
	walk(raw, func(node map[string]interface{}) {
		if !isGroupNode(node) {
			return
		}
		g := models.AccountGroup{}
		if v, ok := node["id"].(string); ok {
			g.ID = v
		}
		if v, ok := node["name"].(string); ok {
			g.Name = v
			if g.ID == "" {
				g.ID = v
			}
		}
		if g.ID == "" {
			return
		}
		if v, ok := node["parent"].(string); ok {
			g.Parent = v
		}
		if members, ok := node["accounts"].([]interface{}); ok {
			for _, m := range members {
				if id, ok := m.(string); ok {
					g.Accounts = append(g.Accounts, id)
				}
			}
		}
		upsert(g)
	})

	// Inferred from accountGroup attributes.
	for key, acct := range accts {
		if strings.Contains(key, ":") {
			continue // full-id alias; the bare-number entry covers it
		}
		if acct.AccountGroup == "" {
			continue
		}
		upsert(models.AccountGroup{
			ID:       acct.AccountGroup,
			Name:     acct.AccountGroup,
			Accounts: []string{acct.ID()},
		})
	}

	return groups
}

// breakCycles clears the parent edge of any group participating in a cycle,
// making it a root.
func breakCycles(groups []models.AccountGroup) {
	parents := make(map[string]string, len(groups))
	for _, g := range groups {
		if g.Parent != "" {
			parents[g.ID] = g.Parent
		}
	}
	for i := range groups {
		seen := map[string]bool{groups[i].ID: true}
		cur := groups[i].Parent
		for cur != "" {
			if seen[cur] {
				groups[i].Parent = ""
				break
			}
			seen[cur] = true
			cur = parents[cur]
		}
	}
}

// --- Mutations ---

// mutate re-reads the file, applies fn to the matching account node, and
// atomically rewrites the whole file. fn receives the node to patch.
func (s *Store) mutate(accountID string, fn func(node map[string]interface{}) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw interface{}
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		raw = map[string]interface{}{}
	case err != nil:
		return fmt.Errorf("failed to read accounts file: %w", err)
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return models.NewConfigError(models.CodeParseError, "accounts file is not valid JSON: %v", err)
		}
	}

	node := findAccountNode(raw, accountID)
	if node == nil {
		// First-time override: append a minimal node to the accounts list.
		root, ok := raw.(map[string]interface{})
		if !ok {
			return models.NewConfigError(models.CodeInvalidAccount, "account '%s' not found and file root is not an object", accountID)
		}
		node = map[string]interface{}{"number": bareNumber(accountID)}
		if idx := strings.LastIndex(accountID, ":"); idx > 0 {
			node["loginId"] = accountID[:idx]
		}
		list, _ := root["accounts"].([]interface{})
		root["accounts"] = append(list, node)
	}

	if err := fn(node); err != nil {
		return err
	}

	if err := s.save(raw); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// findAccountNode scans every nested container for the first node matching
// the selector by number, accountId, id, or suffix after the last ':'.
func findAccountNode(raw interface{}, selector string) map[string]interface{} {
	want := bareNumber(selector)
	var found map[string]interface{}
	walk(raw, func(node map[string]interface{}) {
		if found != nil || isGroupNode(node) {
			return
		}
		if accountNumberOf(node) == want {
			found = node
		}
	})
	return found
}

func bareNumber(selector string) string {
	if idx := strings.LastIndex(selector, ":"); idx >= 0 {
		return selector[idx+1:]
	}
	return selector
}

// save atomically rewrites the file (temp file + rename).
func (s *Store) save(raw interface{}) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".accounts-*")
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

// symbolsOf returns the node's symbols map, creating it when absent.
func symbolsOf(node map[string]interface{}) map[string]interface{} {
	if m, ok := node["symbols"].(map[string]interface{}); ok {
		return m
	}
	m := map[string]interface{}{}
	node["symbols"] = m
	return m
}

// SetTargetProportions replaces the target proportions (percent) for an
// account, preserving any notes already attached to the symbols.
func (s *Store) SetTargetProportions(accountID string, percents map[string]float64) error {
	if len(percents) == 0 {
		return models.NewConfigError(models.CodeInvalidProportions, "no proportions supplied")
	}
	for sym, pct := range percents {
		if strings.TrimSpace(sym) == "" {
			return models.NewConfigError(models.CodeInvalidSymbol, "empty symbol")
		}
		if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
			return models.NewConfigError(models.CodeInvalidProportions, "proportion for %s must be a non-negative number", sym)
		}
	}

	return s.mutate(accountID, func(node map[string]interface{}) error {
		symbols := symbolsOf(node)
		// Clear existing proportions; notes survive.
		for sym, v := range symbols {
			if entry, ok := v.(map[string]interface{}); ok {
				delete(entry, "targetProportion")
				if len(entry) == 0 {
					delete(symbols, sym)
				}
			}
		}
		for sym, pct := range percents {
			entry, _ := symbols[sym].(map[string]interface{})
			if entry == nil {
				entry = map[string]interface{}{}
				symbols[sym] = entry
			}
			entry["targetProportion"] = pct
		}
		return nil
	})
}

// SetSymbolNotes sets the note for one symbol on an account. An empty note
// removes the entry.
func (s *Store) SetSymbolNotes(accountID, symbol, note string) error {
	if strings.TrimSpace(symbol) == "" {
		return models.NewConfigError(models.CodeInvalidSymbol, "symbol is required")
	}
	return s.mutate(accountID, func(node map[string]interface{}) error {
		symbols := symbolsOf(node)
		entry, _ := symbols[symbol].(map[string]interface{})
		if entry == nil {
			entry = map[string]interface{}{}
			symbols[symbol] = entry
		}
		if note == "" {
			delete(entry, "notes")
			if len(entry) == 0 {
				delete(symbols, symbol)
			}
		} else {
			entry["notes"] = note
		}
		return nil
	})
}

// SetPlanningContext replaces the free-form planning context text.
func (s *Store) SetPlanningContext(accountID, text string) error {
	return s.mutate(accountID, func(node map[string]interface{}) error {
		if text == "" {
			delete(node, "planningContext")
		} else {
			node["planningContext"] = text
		}
		return nil
	})
}

// MarkAccountRebalanced stamps lastRebalance = today on the named model, or
// on every configured model when model is empty.
func (s *Store) MarkAccountRebalanced(accountID, model string, today time.Time) error {
	stamp := common.DateKey(today)
	return s.mutate(accountID, func(node map[string]interface{}) error {
		list, _ := node["investmentModels"].([]interface{})
		if len(list) == 0 {
			if model == "" {
				return models.NewConfigError(models.CodeNotFound, "account '%s' has no investment models", accountID)
			}
			node["investmentModels"] = []interface{}{
				map[string]interface{}{"model": model, "lastRebalance": stamp},
			}
			return nil
		}
		matched := false
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := m["model"].(string)
			if model == "" || name == model {
				m["lastRebalance"] = stamp
				matched = true
			}
		}
		if !matched {
			return models.NewConfigError(models.CodeNotFound, "model '%s' not configured on account '%s'", model, accountID)
		}
		return nil
	})
}
