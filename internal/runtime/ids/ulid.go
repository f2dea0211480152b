package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TransactionPrefix is prepended to every synthetic transaction identifier.
const TransactionPrefix = "TXN-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
	now       = time.Now
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Identifiers minted within the same millisecond stay strictly increasing.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(now()), entropy)
	return id.String()
}

// NewTransactionID derives a payment transaction id from the current time.
func NewTransactionID() string {
	return TransactionPrefix + CreateULID()
}

// TransactionTime extracts the creation time encoded in a transaction id.
func TransactionTime(txID string) (time.Time, error) {
	if len(txID) > len(TransactionPrefix) && txID[:len(TransactionPrefix)] == TransactionPrefix {
		txID = txID[len(TransactionPrefix):]
	}
	id, err := ulid.Parse(txID)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
