package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Wildcard allows every user on a platform.
const Wildcard = "*"

// Allowlist holds the users permitted to talk to the agent, per platform.
// The zero value allows nobody.
type Allowlist struct {
	users map[string]map[string]struct{}
}

// ParseAllowlist reads "platform:user_id" entries. The user id may itself
// contain colons, as Matrix ids do, and may be "*" to allow a whole platform.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, e := range entries {
		platform, userID, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || platform == "" || userID == "" {
			return nil, fmt.Errorf("invalid allowlist entry %q, want platform:user_id", e)
		}
		a.Allow(platform, userID)
	}
	return a, nil
}

// Allow adds a user.
func (a *Allowlist) Allow(platform, userID string) {
	if a.users == nil {
		a.users = make(map[string]map[string]struct{})
	}
	if a.users[platform] == nil {
		a.users[platform] = make(map[string]struct{})
	}
	a.users[platform][userID] = struct{}{}
}

// Allowed reports whether userID may use the agent on platform.
func (a *Allowlist) Allowed(platform, userID string) bool {
	if a == nil || userID == "" {
		return false
	}
	users := a.users[platform]
	if _, ok := users[Wildcard]; ok {
		return true
	}
	_, ok := users[userID]
	return ok
}

// Entries returns the sorted list in "platform:user_id" form.
func (a *Allowlist) Entries() []string {
	if a == nil {
		return nil
	}
	var out []string
	for p, users := range a.users {
		for u := range users {
			out = append(out, p+":"+u)
		}
	}
	sort.Strings(out)
	return out
}
