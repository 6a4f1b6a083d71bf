package locking

import (
	"context"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

func requireVictim(t *testing.T, err error, victim *Client, others ...*Client) *DeadlockError {
	var dl *DeadlockError
	require.True(t, errors.As(err, &dl), "expected deadlock error, got %v", err)
	assert.True(t, errors.Is(err, utils.ErrDeadlockDetected))
	assert.True(t, utils.IsTransient(err))
	assert.Equal(t, victim.LockSessionID(), dl.Session)
	assert.Equal(t, victim.LockSessionID(), dl.Cycle.Victim)
	assert.True(t, dl.Cycle.Contains(victim.LockSessionID()))
	for _, o := range others {
		assert.True(t, dl.Cycle.Contains(o.LockSessionID()))
	}
	return dl
}

func TestDeadlockTwoClients(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	require.NoError(t, b.AcquireExclusive(ctx, resource.Node, 2))
	aDone := goAcquire(func() error { return a.AcquireExclusive(ctx, resource.Node, 2) })
	waitUntilParked(t, a)
	bDone := goAcquire(func() error { return b.AcquireExclusive(ctx, resource.Node, 1) })

	dl := requireVictim(t, receive(t, bDone), b, a)
	assert.Len(t, dl.Cycle.Members, 2)
	assert.Contains(t, dl.Error(), "waits for")

	require.NoError(t, b.Close())
	require.NoError(t, receive(t, aDone))
	require.NoError(t, a.Close())
	assert.Equal(t, 1, m.Stat().Summary().Deadlocks)
}

func TestDeadlockOnUpgrade(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireShared(ctx, resource.Node, 1))
	require.NoError(t, b.AcquireShared(ctx, resource.Node, 1))
	aDone := goAcquire(func() error { return a.AcquireExclusive(ctx, resource.Node, 1) })
	waitUntilParked(t, a)
	bDone := goAcquire(func() error { return b.AcquireExclusive(ctx, resource.Node, 1) })

	requireVictim(t, receive(t, bDone), b, a)
	// the failed upgrade leaves the shared hold in place
	assert.Equal(t, []ActiveLock{{Key: resource.NewKey(resource.Node, 1), Mode: Shared, Reentrancy: 1}}, b.ActiveLocks())
	require.NoError(t, b.Close())
	require.NoError(t, receive(t, aDone))
	assert.Equal(t, 2, a.ActiveLockCount())
}

func TestDeadlockAcrossResourceTypes(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	c := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	require.NoError(t, b.AcquireShared(ctx, resource.Relationship, 1))
	require.NoError(t, c.AcquireExclusive(ctx, resource.Schema, 1))

	aDone := goAcquire(func() error { return a.AcquireExclusive(ctx, resource.Relationship, 1) })
	waitUntilParked(t, a)
	bDone := goAcquire(func() error { return b.AcquireShared(ctx, resource.Schema, 1) })
	waitUntilParked(t, b)
	cDone := goAcquire(func() error { return c.AcquireShared(ctx, resource.Node, 1) })

	dl := requireVictim(t, receive(t, cDone), c, a, b)
	assert.Len(t, dl.Cycle.Members, 3)
	require.NoError(t, c.Close())
	require.NoError(t, receive(t, bDone))
	require.NoError(t, b.Close())
	require.NoError(t, receive(t, aDone))
	require.NoError(t, a.Close())
	assert.Equal(t, 0, m.Table().Size())
}

func TestNoDeadlockWhenWaitingIsAcyclic(t *testing.T) {
	m := newTestManager(t)
	a := newTestClient(t, m)
	b := newTestClient(t, m)
	ctx := context.Background()

	require.NoError(t, a.AcquireExclusive(ctx, resource.Node, 1))
	_, found := m.Detector().DetectDeadlock(a)
	assert.False(t, found)

	done := goAcquire(func() error { return b.AcquireExclusive(ctx, resource.Node, 1) })
	waitUntilParked(t, b)
	_, found = m.Detector().DetectDeadlock(b)
	assert.False(t, found)
	require.NoError(t, a.ReleaseExclusive(resource.Node, 1))
	require.NoError(t, receive(t, done))
}

func TestNoFalsePositivesWithOrderedAcquisition(t *testing.T) {
	m := newTestManager(t)
	types := []resource.Type{resource.Node, resource.Relationship, resource.Schema}
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < ThreadNumber; i++ {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(i)))
			c, err := m.NewClient()
			if err != nil {
				return err
			}
			defer c.Close()
			for txn := 0; txn < 100; txn++ {
				keys := make([]resource.Key, 0, 4)
				for k := 0; k < 4; k++ {
					keys = append(keys, resource.NewKey(types[r.Intn(len(types))], int64(r.Intn(6))))
				}
				resource.SortKeys(keys)
				for j, k := range keys {
					// a repeated key could turn into an upgrade
					if j > 0 && keys[j-1] == k {
						continue
					}
					if r.Intn(2) == 0 {
						err = c.AcquireShared(ctx, k.Type, k.ID)
					} else {
						err = c.AcquireExclusive(ctx, k.Type, k.ID)
					}
					if err != nil {
						return err
					}
				}
				if err := c.ReleaseAll(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, m.Table().Size())
	assert.Equal(t, 0, m.Stat().Summary().Deadlocks)
}

func TestNoFalsePositivesExclusiveOrdered(t *testing.T) {
	m := newTestManager(t)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < ThreadNumber; i++ {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(i) + 100))
			c, err := m.NewClient()
			if err != nil {
				return err
			}
			defer c.Close()
			for txn := 0; txn < 100; txn++ {
				keys := []resource.Key{
					resource.NewKey(resource.Node, int64(r.Intn(5))),
					resource.NewKey(resource.Relationship, int64(r.Intn(5))),
					resource.NewKey(resource.Node, int64(r.Intn(5))),
				}
				resource.SortKeys(keys)
				for _, k := range keys {
					if err := c.AcquireExclusive(ctx, k.Type, k.ID); err != nil {
						return err
					}
				}
				if err := c.ReleaseAll(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, m.Stat().Summary().Deadlocks)
}

func TestRandomOrderAlwaysMakesProgress(t *testing.T) {
	m := newTestManager(t)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < ThreadNumber; i++ {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(i) + 7))
			c, err := m.NewClient()
			if err != nil {
				return err
			}
			defer c.Close()
			for txn := 0; txn < 50; {
				ok := true
				for k := 0; k < 3 && ok; k++ {
					id := int64(r.Intn(4))
					if r.Intn(3) == 0 {
						err = c.AcquireShared(ctx, resource.Node, id)
					} else {
						err = c.AcquireExclusive(ctx, resource.Node, id)
					}
					if err != nil {
						if !utils.IsTransient(err) {
							return err
						}
						ok = false
					}
				}
				if err := c.ReleaseAll(); err != nil {
					return err
				}
				if ok {
					txn++
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, m.Table().Size())
}
