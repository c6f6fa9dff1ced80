// Package fingerprint deduplicates webhook deliveries with a deterministic hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Event carries the fields that identify one logical webhook delivery.
type Event struct {
	Type              string
	Code              string
	ExternalItemID    string
	ExternalAccountID string
	SessionID         string
	ArrivedAt         time.Time
}

// Generate hashes the event's identifying fields plus its arrival time truncated
// to a minute bucket. The bucket tolerates near-duplicate re-deliveries (same
// minute) while letting a genuinely repeated event land on a fresh fingerprint
// later.
func Generate(e Event) string {
	bucket := e.ArrivedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)

	canonical := strings.Join([]string{
		e.Type,
		e.Code,
		e.ExternalItemID,
		e.ExternalAccountID,
		e.SessionID,
		bucket,
	}, "|")

	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}
