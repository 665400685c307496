package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// legacyPrefixLen is the token prefix length older deployments used as an id.
const legacyPrefixLen = 16

// ErrLegacyCollision is returned when two accounts share a legacy token prefix.
var ErrLegacyCollision = errors.New("account: legacy token prefix collision")

// LegacyID derives the token-prefix identifier older clients send as an
// account hint. It prefers the session token and returns "" when both are
// empty.
//
// Compatibility shim only: accounts are addressed by numeric id or email.
// Callers must run CheckLegacyCollisions before trusting a prefix match.
func LegacyID(sessionToken, accessToken string) string {
	tok := sessionToken
	if tok == "" {
		tok = accessToken
	}
	if len(tok) > legacyPrefixLen {
		return tok[:legacyPrefixLen]
	}
	return tok
}

// CheckLegacyCollisions fails when any two accounts derive the same legacy id.
func CheckLegacyCollisions(accounts []Account) error {
	seen := make(map[string][]string, len(accounts))
	for i := range accounts {
		id := LegacyID(accounts[i].SessionToken, accounts[i].AccessToken)
		if id == "" {
			continue
		}
		seen[id] = append(seen[id], accounts[i].Label())
	}

	var clashes []string
	for _, labels := range seen {
		if len(labels) > 1 {
			clashes = append(clashes, strings.Join(labels, "/"))
		}
	}
	if len(clashes) == 0 {
		return nil
	}
	sort.Strings(clashes)
	return fmt.Errorf("%w: %s", ErrLegacyCollision, strings.Join(clashes, ", "))
}

// MatchLegacy returns the account whose legacy id equals prefix.
// It refuses to match anything when the pool has prefix collisions.
func MatchLegacy(accounts []Account, prefix string) (Account, bool, error) {
	if prefix == "" {
		return Account{}, false, nil
	}
	if err := CheckLegacyCollisions(accounts); err != nil {
		return Account{}, false, err
	}
	for i := range accounts {
		if LegacyID(accounts[i].SessionToken, accounts[i].AccessToken) == prefix {
			return accounts[i], true, nil
		}
	}
	return Account{}, false, nil
}
