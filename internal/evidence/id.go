package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeID derives the evidence identifier from the kind and the source
// keys that disambiguate the item (repo full name, sha, issue number, ...).
// The same coordinates always produce the same ID, which is what makes
// re-collection idempotent. Never random.
func ComputeID(kind string, keys ...string) string {
	h := sha256.Sum256([]byte(kind + "|" + strings.Join(keys, "|")))
	return kind + "-" + hex.EncodeToString(h[:8])
}
