package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/breaker"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))

	entry := time.Date(2025, 9, 15, 14, 30, 0, 0, time.UTC)
	snap := Snapshot{
		SavedAt: entry.Add(time.Hour),
		BotID:   "bot-a",
		Groups: []*schema.PositionGroup{{
			ID:         3,
			StrategyID: "strangle-45d",
			Underlying: "SPY",
			EntryTime:  entry,
			State:      schema.GroupStateOpen,
			Legs: []*schema.Leg{{
				Spec: schema.LegSpec{
					Symbol:   "SPY250919P00540000",
					Role:     schema.LegRoleIncome,
					Side:     schema.OrderSideSellToOpen,
					Quantity: 2,
				},
				FillPrice: decimal.NewFromFloat(1.25),
				FillQty:   2,
				Verified:  true,
			}},
			StopPolicyVersion: "credit/v1",
		}},
		Orphans: []*schema.OrderTicket{{
			BrokerID: "884213",
			Symbol:   "SPY250919C00560000",
			Status:   schema.OrderStatusOrphaned,
		}},
		Breaker: breaker.Standing{
			State:       breaker.StateDailyHalt,
			SessionDate: "2025-09-15",
			Trips:       3,
		},
	}
	require.NoError(t, store.Save(snap))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)

	require.Len(t, loaded.Groups, 1)
	group := loaded.Groups[0]
	assert.Equal(t, uint64(3), group.ID)
	assert.Equal(t, schema.GroupStateOpen, group.State)
	assert.Equal(t, "credit/v1", group.StopPolicyVersion)
	assert.True(t, group.EntryTime.Equal(entry))
	require.Len(t, group.Legs, 1)
	assert.Equal(t, "1.25", group.Legs[0].FillPrice.String())
	assert.True(t, group.Legs[0].Verified)

	assert.Equal(t, breaker.StateDailyHalt, loaded.Breaker.State)
	assert.Equal(t, 3, loaded.Breaker.Trips)

	require.Len(t, loaded.Orphans, 1)
	assert.Equal(t, "884213", loaded.Orphans[0].BrokerID)
	assert.Equal(t, schema.OrderStatusOrphaned, loaded.Orphans[0].Status)
}

func TestLoadMissingFileIsCleanStart(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	_, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	store := NewStore(path)

	require.NoError(t, store.Save(Snapshot{BotID: "first"}))
	require.NoError(t, store.Save(Snapshot{BotID: "second"}))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", loaded.BotID)

	// no temp leftovers
	matches, err := filepath.Glob(filepath.Join(dir, ".snapshot-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// the file on disk is the whole snapshot, not a partial write
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"second"`)
}
