package aggregator

import (
	"strings"

	"github.com/bobmcallan/tally/internal/models"
)

// GroupPrefix marks a selector as naming an account group.
const GroupPrefix = "group:"

// resolveSelection maps an accountId selector to the accounts it covers.
// "", "default", and "all" select everything; "group:<id>" selects a group
// and its descendants; anything else selects the single matching account.
func resolveSelection(selector string, accounts []models.Account, groups []models.AccountGroup) []models.Account {
	switch selector {
	case "", "default", "all":
		return accounts
	}

	if strings.HasPrefix(selector, GroupPrefix) {
		return groupMembers(strings.TrimPrefix(selector, GroupPrefix), accounts, groups)
	}

	for i := range accounts {
		if accounts[i].MatchesID(selector) {
			return accounts[i : i+1]
		}
	}
	return nil
}

// groupMembers collects the accounts of a group and every group below it.
func groupMembers(groupID string, accounts []models.Account, groups []models.AccountGroup) []models.Account {
	wanted := map[string]bool{}
	collectGroupAccounts(groupID, groups, map[string]bool{}, wanted)

	var out []models.Account
	for i := range accounts {
		acc := &accounts[i]
		for selector := range wanted {
			if acc.MatchesID(selector) {
				out = append(out, *acc)
				break
			}
		}
		// Accounts may also point at their group directly.
		if acc.AccountGroup == groupID {
			if len(out) == 0 || out[len(out)-1].ID() != acc.ID() {
				out = append(out, *acc)
			}
		}
	}
	return out
}

func collectGroupAccounts(groupID string, groups []models.AccountGroup, seen map[string]bool, wanted map[string]bool) {
	if seen[groupID] {
		return
	}
	seen[groupID] = true
	for _, g := range groups {
		if g.ID == groupID || g.Name == groupID {
			for _, id := range g.Accounts {
				wanted[id] = true
			}
		}
		if g.Parent == groupID {
			collectGroupAccounts(g.ID, groups, seen, wanted)
		}
	}
}
