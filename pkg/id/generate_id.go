// Package id generates and checks the opaque identifiers used for request
// ids, lock tokens and operation intents.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	reUUID  = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[1-5][a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}$`)
	reHex32 = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// NewID32 returns exactly 32 hex characters (no separators/prefixes).
func NewID32() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Valid reports whether s is a lowercase 32-hex id or a lowercase RFC 4122
// UUID (versions 1-5). Surrounding spaces are ignored.
func Valid(s string) bool {
	s = strings.TrimSpace(s)
	return reHex32.MatchString(s) || reUUID.MatchString(s)
}
