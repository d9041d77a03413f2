// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

import "fmt"

// Build metadata, set with -ldflags "-X" at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies chatty to the providers and homeservers it talks to.
func UserAgent() string {
	return fmt.Sprintf("chatty/%s (%s)", Version, Sha)
}
