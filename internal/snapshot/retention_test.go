package snapshot

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/bastion/internal/model"
)

func snap(runID uuid.UUID, age time.Duration, pinned bool, now time.Time) model.Snapshot {
	s := model.Snapshot{RunID: runID, CreatedAt: now.Add(-age), Status: model.SnapshotPresent}
	if pinned {
		t := now
		s.PinnedAt = &t
	}
	return s
}

func TestSelectForRetentionKeepLast(t *testing.T) {
	now := time.Now()
	var snaps []model.Snapshot
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		snaps = append(snaps, snap(id, time.Duration(i)*24*time.Hour, false, now))
	}

	keep, del := SelectForRetention(snaps, 2, 0, now)
	assert.Len(t, keep, 2)
	assert.Len(t, del, 3)
	assert.Equal(t, ids[0], keep[0].RunID)
	assert.Equal(t, ids[1], keep[1].RunID)
}

func TestSelectForRetentionKeepDays(t *testing.T) {
	now := time.Now()
	recent := snap(uuid.New(), 1*time.Hour, false, now)
	old := snap(uuid.New(), 10*24*time.Hour, false, now)

	keep, del := SelectForRetention([]model.Snapshot{recent, old}, 0, 5, now)
	assert.Len(t, keep, 1)
	assert.Equal(t, recent.RunID, keep[0].RunID)
	assert.Len(t, del, 1)
	assert.Equal(t, old.RunID, del[0].RunID)
}

func TestSelectForRetentionPinnedAlwaysKept(t *testing.T) {
	now := time.Now()
	pinned := snap(uuid.New(), 100*24*time.Hour, true, now)
	unpinned := snap(uuid.New(), 100*24*time.Hour, false, now)

	keep, del := SelectForRetention([]model.Snapshot{pinned, unpinned}, 0, 1, now)
	assert.Len(t, keep, 1)
	assert.Equal(t, pinned.RunID, keep[0].RunID)
	assert.Len(t, del, 1)
	assert.Equal(t, unpinned.RunID, del[0].RunID)
}

func TestSelectForRetentionUnionOfBothPolicies(t *testing.T) {
	now := time.Now()
	var snaps []model.Snapshot
	for i := 0; i < 4; i++ {
		snaps = append(snaps, snap(uuid.New(), time.Duration(i)*24*time.Hour, false, now))
	}
	// keep-last=1 keeps only the newest by count; keep-days=2 additionally
	// keeps anything within the last 2 days. Union means index 0 and 1
	// both survive even though keep-last alone would only keep index 0.
	keep, _ := SelectForRetention(snaps, 1, 2, now)
	assert.GreaterOrEqual(t, len(keep), 2)
}
