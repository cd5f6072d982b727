package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ContentHash computes the staging uniqueness key for an external record:
// a digest over (source identifier, posted date, normalized description,
// signed amount). Re-parsing the same physical line with superficial
// formatting differences yields the same hash, so re-ingesting a source file
// never creates duplicate staged rows.
func ContentHash(source string, postedAt time.Time, description string, amount decimal.Decimal) string {
	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(source)),
		NormalizeDate(postedAt).Format("2006-01-02"),
		NormalizeDescriptor(description, nil),
		amount.Round(2).String(),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Hash returns the content hash of the external record itself.
func (r *ExternalRecord) Hash() string {
	return ContentHash(r.Source, r.PostedAt, r.Description, r.Amount)
}
