package session

import (
	"errors"
	"time"

	"nudge/internal/protocol"
)

// Passphrase is the key a pending transfer is stored under. Comparison is
// exact and case-sensitive.
type Passphrase string

var ErrPassphraseTaken = errors.New("passphrase already in use")

// TransferRecord is a pending transfer. It is created on registration and
// removed exactly once, by a hash-verified confirmation or by expiry.
type TransferRecord struct {
	protocol.FileInfo
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *TransferRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// VerifyHash reports whether claimed matches the registered hash. A null
// hash only matches null.
func (r *TransferRecord) VerifyHash(claimed *string) bool {
	if r.FileHash == nil || claimed == nil {
		return r.FileHash == nil && claimed == nil
	}
	return subtleConstantTimeCompare(*r.FileHash, *claimed) == 1
}

type StoreInterface interface {
	// Insert stores rec under p, failing with ErrPassphraseTaken when p is
	// already live.
	Insert(p Passphrase, rec *TransferRecord) error
	Get(p Passphrase) (*TransferRecord, bool)
	// Consume removes and returns the record only if present and its hash
	// matches claimedHash. Otherwise the record is left untouched.
	Consume(p Passphrase, claimedHash *string) (*TransferRecord, bool)
	Len() int
	OnExpire(func(p Passphrase))
	Close() error
}
