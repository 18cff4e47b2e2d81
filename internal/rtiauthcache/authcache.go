// Package rtiauthcache persists refreshed ChatGPT auth tokens to the OS
// keyring so a restarted runtime generation doesn't need to force a fresh
// auth round-trip with the agent subprocess. Adapted from the teacher's
// internal/rtm/token_storage_secure.go, generalized from one fixed
// service/user pair to one keyring entry per account id.
package rtiauthcache

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"

	"github.com/dkoosis/agentrt/internal/rtilog"
)

const keyringService = "agentrt-chatgpt-auth"

// Entry is the persisted shape of a refreshed auth token.
type Entry struct {
	AccessToken     string    `json:"accessToken"`
	ChatGPTAccountID string   `json:"chatgptAccountId"`
	ChatGPTPlanType *string   `json:"chatgptPlanType,omitempty"`
	SavedAtUTC      time.Time `json:"savedAtUtc"`
}

// Cache wraps the OS keyring, keyed by ChatGPT account id.
type Cache struct {
	log rtilog.Logger
}

// New builds a Cache.
func New() *Cache {
	return &Cache{log: rtilog.GetLogger("authcache")}
}

// IsAvailable checks whether the OS keyring service is reachable.
func (c *Cache) IsAvailable() bool {
	_, err := keyring.Get(keyringService, "__probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		c.log.Warn("keyring service is inaccessible", "error", err)
		return false
	}
	return true
}

// Load retrieves the cached entry for accountID. A missing entry returns
// (nil, nil), not an error.
func (c *Cache) Load(accountID string) (*Entry, error) {
	raw, err := keyring.Get(keyringService, accountID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "rtiauthcache: loading entry from keyring")
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warn("cached auth entry is corrupted, deleting", "account", accountID, "error", err)
		_ = c.Delete(accountID)
		return nil, errors.Wrap(err, "rtiauthcache: parsing cached entry")
	}
	return &entry, nil
}

// Save writes entry to the keyring, keyed by entry.ChatGPTAccountID.
func (c *Cache) Save(entry Entry) error {
	if entry.ChatGPTAccountID == "" {
		return errors.New("rtiauthcache: cannot save entry with empty account id")
	}
	if entry.SavedAtUTC.IsZero() {
		entry.SavedAtUTC = time.Now().UTC()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "rtiauthcache: encoding entry")
	}
	if err := keyring.Set(keyringService, entry.ChatGPTAccountID, string(raw)); err != nil {
		return errors.Wrap(err, "rtiauthcache: writing entry to keyring")
	}
	return nil
}

// Delete removes the cached entry for accountID, if any.
func (c *Cache) Delete(accountID string) error {
	if err := keyring.Delete(keyringService, accountID); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "rtiauthcache: deleting entry from keyring")
	}
	return nil
}
