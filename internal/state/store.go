package state

import (
	"os"
	"path/filepath"
	"time"

	"main/internal/breaker"
	"main/internal/schema"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Snapshot is everything that must survive a restart: the open groups with
// their entry details and the breaker standing, so hold time, credit and a
// daily halt are not lost to a crash.
type Snapshot struct {
	SavedAt time.Time               `json:"saved_at"`
	BotID   string                  `json:"bot_id"`
	Groups  []*schema.PositionGroup `json:"groups"`
	Orphans []*schema.OrderTicket   `json:"orphans,omitempty"`
	Breaker breaker.Standing        `json:"breaker"`
}

// Store persists snapshots to one JSON file. Writes go through a temp file
// and rename; a crash mid-write leaves the previous snapshot intact.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the snapshot atomically.
func (s *Store) Save(snap Snapshot) error {
	raw, err := sonic.ConfigFastest.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "create snapshot temp file")
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "write snapshot temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "close snapshot temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "replace snapshot").With("path", s.path)
	}
	return nil
}

// Load reads the last snapshot. A missing file is a clean first start, not
// an error.
func (s *Store) Load() (Snapshot, bool, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "read snapshot").With("path", s.path)
	}

	var snap Snapshot
	if err := sonic.ConfigFastest.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "decode snapshot").With("path", s.path)
	}
	logs.Infof("snapshot restored: %d groups, breaker %s, saved %s",
		len(snap.Groups), snap.Breaker.State, snap.SavedAt.Format(time.RFC3339))
	return snap, true, nil
}
