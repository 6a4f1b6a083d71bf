package locking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/journal"
	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

func TestNewManagerRejects(t *testing.T) {
	_, err := NewManager(configs.Default(), nil)
	assert.Error(t, err)

	cfg := configs.Default()
	cfg.Partitions = 0
	_, err = NewManager(cfg, resource.MustRegistry(resource.Node))
	assert.Error(t, err)

	m, err := NewManager(nil, resource.MustRegistry(resource.Node))
	require.NoError(t, err)
	assert.Equal(t, configs.DefaultPartitions, m.Config().Partitions)
	require.NoError(t, m.Close())
}

func TestSessionIDs(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	assert.Equal(t, int64(1), a.LockSessionID())
	assert.Equal(t, int64(2), b.LockSessionID())
	assert.Equal(t, "client 2", b.String())
	assert.Len(t, m.Clients(), 2)
	require.NoError(t, a.Close())
	assert.Equal(t, []*Client{b}, m.Clients())
}

func TestManagerClose(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()
	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	done := goAcquire(func() error { return b.AcquireShared(ctx, resource.Node, 1) })
	waitUntilParked(t, b)

	require.NoError(t, m.Close())
	assert.True(t, errors.Is(receive(t, done), utils.ErrClientStopped))
	_, err := m.NewClient()
	assert.True(t, errors.Is(err, utils.ErrManagerClosed))
	assert.True(t, errors.Is(m.Close(), utils.ErrManagerClosed))

	// owners can still clean up
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, m.Table().Size())
}

func TestSnapshot(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	c := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	require.NoError(t, c.AcquireShared(ctx, resource.Relationship, 3))
	done := goAcquire(func() error { return b.AcquireShared(ctx, resource.Node, 1) })
	waitUntilParked(t, b)

	snap := m.Snapshot()
	assert.Equal(t, []int64{1, 2, 3}, snap.Clients)
	require.Len(t, snap.Locks, 2)
	assert.Equal(t, "NODE(1)", snap.Locks[0].Resource)
	assert.Equal(t, []HolderState{{Session: 1, Mode: "EXCLUSIVE"}}, snap.Locks[0].Holders)
	assert.Equal(t, []HolderState{{Session: 2, Mode: "SHARED"}}, snap.Locks[0].Waiters)
	assert.Equal(t, "RELATIONSHIP(3)", snap.Locks[1].Resource)
	assert.Equal(t, []Edge{{From: 2, To: 1, Resource: "NODE(1)", Mode: "SHARED"}}, snap.WaitsFor)
	assert.Equal(t, snap.WaitsFor, snap.WaitingFor(2))
	assert.Empty(t, snap.WaitingFor(1))

	dump := snap.String()
	assert.Contains(t, dump, "3 clients, 2 locks")
	assert.Contains(t, dump, "NODE(1) holders=[1:EXCLUSIVE] waiters=[2:SHARED]")
	assert.Contains(t, dump, "client 2 waits for client 1 on NODE(1) (SHARED)")

	byt, err := snap.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(byt, &decoded))
	assert.Contains(t, decoded, "locks")
	assert.Contains(t, decoded, "waits_for")
	assert.Contains(t, decoded, "clients")

	require.NoError(t, a.Close())
	require.NoError(t, receive(t, done))
	assert.Empty(t, m.Snapshot().WaitsFor)
}

func TestJournalRecordsTimeoutsAndDeadlocks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	m := newTestManager(t, func(cfg *configs.Config) {
		cfg.UseJournal = true
		cfg.JournalDir = dir
		cfg.JournalBatchInterval = time.Millisecond
		cfg.LockAcquisitionTimeout = 200 * time.Millisecond
	})
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	require.NoError(t, b.AcquireExclusive(ctx, resource.Node, 2))
	assert.True(t, errors.Is(b.AcquireShared(ctx, resource.Node, 1), utils.ErrLockTimeout))

	aDone := goAcquire(func() error { return a.AcquireExclusive(ctx, resource.Node, 2) })
	waitUntilParked(t, a)
	assert.True(t, errors.Is(b.AcquireExclusive(ctx, resource.Node, 1), utils.ErrDeadlockDetected))
	require.NoError(t, b.Close())
	require.NoError(t, receive(t, aDone))
	require.NoError(t, m.Close())

	j, err := journal.Open(dir, time.Hour)
	require.NoError(t, err)
	defer j.Close()
	recs, err := j.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, journal.KindTimeout, recs[0].Kind)
	assert.Equal(t, b.LockSessionID(), recs[0].Session)
	assert.Equal(t, "NODE(1)", recs[0].Key)
	assert.Equal(t, "SHARED", recs[0].Mode)
	assert.Equal(t, journal.KindDeadlock, recs[1].Kind)
	assert.Contains(t, recs[1].Cycle, "client 2 waits for client 1")
}

func TestWaitStatRetentionIsBounded(t *testing.T) {
	const waits = 50
	m := newTestManager(t, func(cfg *configs.Config) {
		cfg.LockAcquisitionTimeout = time.Millisecond
		cfg.WaitSampleSize = 8
	})
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()
	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	for i := 0; i < waits; i++ {
		assert.True(t, errors.Is(b.AcquireShared(ctx, resource.Node, 1), utils.ErrLockTimeout))
	}
	s := m.Stat().Summary()
	assert.Equal(t, waits, s.Count)
	assert.Equal(t, waits, s.Timeouts)
	assert.GreaterOrEqual(t, s.P50, time.Millisecond)
	assert.Equal(t, 8, m.Stat().Retained())
}

func TestCloseWaitsForParkedClients(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()
	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	done := goAcquire(func() error { return b.AcquireShared(ctx, resource.Node, 1) })
	waitUntilParked(t, b)

	require.NoError(t, m.Close())
	// b has unwound and recorded its wait before Close returned
	assert.Nil(t, b.waiting.Load())
	assert.Equal(t, 1, m.Stat().Summary().Stopped)
	assert.True(t, errors.Is(receive(t, done), utils.ErrClientStopped))
}
