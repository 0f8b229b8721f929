package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/gofrs/flock"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const lockRetryDelay = 50 * time.Millisecond

// Entry records which bot owns one broker position.
type Entry struct {
	// Key is the broker position key, the OCC option symbol.
	Key        string            `json:"key"`
	Owner      string            `json:"owner"`
	StrategyID string            `json:"strategy_id"`
	ClaimedAt  time.Time         `json:"claimed_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Registry is the cross-process position ownership table: a shared JSON file
// guarded by an exclusive file lock. Every operation is one
// lock/read/modify/write critical section; the lock is never held across a
// network call. Writes go through a temp file and rename so a crashed writer
// cannot leave a half-written table.
type Registry struct {
	path string
	lock *flock.Flock

	now func() time.Time
}

func New(path string) *Registry {
	return &Registry{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
}

// Claim records ownership of a position key. Ownership is set-once: a claim
// for a key someone already owns is rejected, never overwritten.
func (r *Registry) Claim(ctx context.Context, entry Entry) error {
	if entry.Key == "" || entry.Owner == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "claim needs key and owner")
	}

	return r.withLock(ctx, func(table map[string]Entry) (bool, error) {
		if existing, ok := table[entry.Key]; ok {
			return false, errors.Wrap(exception.ErrRegistryConflict, "position already claimed").
				With("key", entry.Key).
				With("owner", existing.Owner)
		}
		if entry.ClaimedAt.IsZero() {
			entry.ClaimedAt = r.now()
		}
		table[entry.Key] = entry
		logs.Infof("registry: %s claimed %s", entry.Owner, entry.Key)
		return true, nil
	})
}

// Release removes a claim. Only the owner may release its own key.
func (r *Registry) Release(ctx context.Context, key, owner string) error {
	return r.withLock(ctx, func(table map[string]Entry) (bool, error) {
		existing, ok := table[key]
		if !ok {
			return false, errors.Wrap(exception.ErrRegistryNotFound, "release").
				With("key", key)
		}
		if existing.Owner != owner {
			return false, errors.Wrap(exception.ErrRegistryConflict, "release by non-owner").
				With("key", key).
				With("owner", existing.Owner).
				With("caller", owner)
		}
		delete(table, key)
		logs.Infof("registry: %s released %s", owner, key)
		return true, nil
	})
}

// Lookup returns the entry for a key, if any.
func (r *Registry) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := r.withLock(ctx, func(table map[string]Entry) (bool, error) {
		entry, found = table[key]
		return false, nil
	})
	return entry, found, err
}

// Entries returns a snapshot of the whole table.
func (r *Registry) Entries(ctx context.Context) (map[string]Entry, error) {
	var snapshot map[string]Entry
	err := r.withLock(ctx, func(table map[string]Entry) (bool, error) {
		snapshot = make(map[string]Entry, len(table))
		for k, v := range table {
			snapshot[k] = v
		}
		return false, nil
	})
	return snapshot, err
}

// withLock runs fn as one critical section and persists the table when fn
// reports a mutation.
func (r *Registry) withLock(ctx context.Context, fn func(map[string]Entry) (bool, error)) error {
	locked, err := r.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return errors.Wrap(exception.ErrRegistryLock, "acquire registry lock").
			With("path", r.path)
	}
	defer func() {
		if unlockErr := r.lock.Unlock(); unlockErr != nil {
			logs.Warnf("registry: unlock failed: %v", unlockErr)
		}
	}()

	table, err := r.load()
	if err != nil {
		return err
	}
	mutated, err := fn(table)
	if err != nil {
		return err
	}
	if !mutated {
		return nil
	}
	return r.store(table)
}

func (r *Registry) load() (map[string]Entry, error) {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read registry").With("path", r.path)
	}
	table := make(map[string]Entry)
	if len(raw) == 0 {
		return table, nil
	}
	if err := sonic.ConfigFastest.Unmarshal(raw, &table); err != nil {
		return nil, errors.Wrap(err, "decode registry").With("path", r.path)
	}
	return table, nil
}

func (r *Registry) store(table map[string]Entry) error {
	raw, err := sonic.ConfigFastest.Marshal(table)
	if err != nil {
		return errors.Wrap(err, "encode registry")
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*")
	if err != nil {
		return errors.Wrap(err, "create registry temp file")
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "write registry temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "close registry temp file")
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "replace registry file")
	}
	return nil
}
