// Package vault stores named credential records encrypted at rest.
// Each record lives under a realm, and at most one record per realm
// exists at any time. Storage faults never escape as errors: callers
// see absent/false results and the fault is logged at debug level,
// because credential storage is a non-critical path.
package vault

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// MetaExpiresAt is the metadata key holding an absolute expiry as unix
// seconds. IsValid treats a record with this key as invalid once the
// timestamp passes, whether or not a max age was supplied.
const MetaExpiresAt = "expires_at"

// Record is one stored credential: an opaque secret plus arbitrary
// metadata, stamped with the time it was stored.
type Record struct {
	Realm    string            `json:"realm"`
	Secret   string            `json:"secret"`
	Metadata map[string]string `json:"metadata,omitempty"`
	StoredAt time.Time         `json:"stored_at"`
}

// ExpiresAt returns the metadata expiry, if the record carries one.
func (r Record) ExpiresAt() (time.Time, bool) {
	raw, ok := r.Metadata[MetaExpiresAt]
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// SecretStore is the narrow capability the vault needs from the
// underlying secure store. Implementations must be safe for concurrent
// use.
type SecretStore interface {
	Get(realm string) (Record, bool, error)
	Set(rec Record) error
	Delete(realm string) error
}

// Vault wraps a SecretStore with the one-record-per-realm and
// freshness rules.
type Vault struct {
	store SecretStore
	now   func() time.Time
}

// New creates a vault over the given store.
func New(store SecretStore) *Vault {
	return &Vault{store: store, now: time.Now}
}

// Store replaces any existing record for the realm with a new one.
// The delete-first step keeps exactly one live record per realm even
// when the underlying store would otherwise accumulate duplicates.
func (v *Vault) Store(realm, secret string, metadata map[string]string) bool {
	if err := v.store.Delete(realm); err != nil {
		log.Debugf("vault: delete before store for realm %q: %v", realm, err)
	}
	rec := Record{
		Realm:    realm,
		Secret:   secret,
		Metadata: metadata,
		StoredAt: v.now(),
	}
	if err := v.store.Set(rec); err != nil {
		log.Debugf("vault: store for realm %q failed: %v", realm, err)
		return false
	}
	return true
}

// Load returns the record for the realm, or absent. Callers receive a
// copy; the vault owns the persisted bytes.
func (v *Vault) Load(realm string) (Record, bool) {
	rec, ok, err := v.store.Get(realm)
	if err != nil {
		log.Debugf("vault: load for realm %q failed: %v", realm, err)
		return Record{}, false
	}
	return rec, ok
}

// Delete removes the record for the realm, if any.
func (v *Vault) Delete(realm string) bool {
	if err := v.store.Delete(realm); err != nil {
		log.Debugf("vault: delete for realm %q failed: %v", realm, err)
		return false
	}
	return true
}

// IsValid reports whether a record exists for the realm and is still
// fresh. A maxAge of zero disables the age check; the metadata expiry,
// when present, is always enforced.
func (v *Vault) IsValid(realm string, maxAge time.Duration) bool {
	rec, ok := v.Load(realm)
	if !ok {
		return false
	}
	now := v.now()
	if maxAge > 0 && now.Sub(rec.StoredAt) > maxAge {
		return false
	}
	if exp, ok := rec.ExpiresAt(); ok && now.After(exp) {
		return false
	}
	return true
}
