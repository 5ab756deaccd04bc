package postbox

import (
	"context"
	"fmt"

	"github.com/rbaliyan/postbox/store"
)

// profileKeys is the set of profile entry keys clients may write.
var profileKeys = map[string]bool{
	"name":               true,
	"organization":       true,
	"footer":             true,
	"avatar_type":        true,
	"avatar_data":        true,
	"mk_backup_reminder": true,
}

// Profile lists the account's profile entries with a stamp strictly
// greater than modifiedAfter, ordered by key.
func (c *client) Profile(ctx context.Context, modifiedAfter uint64) ([]*ProfileEntry, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	entries, err := c.service.store.ListProfile(ctx, c.address.String(), modifiedAfter)
	if err != nil {
		return nil, fmt.Errorf("list profile: %w", err)
	}
	return entries, nil
}

// SetProfile creates or updates a profile entry under CAS. A new entry
// requires lastModified 0; an update requires the entry's current stamp.
// On a stale stamp the returned error carries the current stamp; extract
// it with AsConflict.
func (c *client) SetProfile(ctx context.Context, key string, value []byte, lastModified uint64) (*ProfileMeta, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if !profileKeys[key] {
		return nil, &ValidationError{Field: "key", Message: "unknown profile key"}
	}

	m, err := c.service.store.UpsertProfile(ctx, c.address.String(), key, value, lastModified)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.service.logger.Debug("profile entry set", "address", c.raw, "key", key)
	return m, nil
}
