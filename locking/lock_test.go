package locking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakewins/neo4j-sub001/locks"
	"github.com/jakewins/neo4j-sub001/resource"
)

var node1 = resource.NewKey(resource.Node, 1)

func fakeClient(id int64) *Client {
	return &Client{id: id, latch: locks.NewWaitLatch(0)}
}

func fakeEntry(c *Client, mode LockMode) *lockEntry {
	e := &lockEntry{}
	e.reset(c, node1, mode)
	return e
}

func waitModes(l *Lock) []string {
	res := make([]string, 0)
	for w := l.waitList; w != nil; w = w.next {
		res = append(res, w.String())
	}
	return res
}

func TestLockGrantable(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	assert.True(t, l.Free())
	assert.True(t, l.grantable(Shared))
	assert.True(t, l.grantable(Exclusive))

	a := fakeClient(1)
	l.addHolder(fakeEntry(a, Shared))
	assert.False(t, l.Free())
	assert.True(t, l.grantable(Shared))
	assert.False(t, l.grantable(Exclusive))

	// a queued request stops new shared holders from overtaking it
	l.enqueue(fakeEntry(fakeClient(2), Exclusive))
	assert.False(t, l.grantable(Shared))
}

func TestLockHolderInvariant(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	l.addHolder(fakeEntry(fakeClient(1), Exclusive))
	assert.Panics(t, func() { l.addHolder(fakeEntry(fakeClient(2), Shared)) })
	assert.Panics(t, func() { l.removeHolder(fakeEntry(fakeClient(3), Shared)) })
}

func TestUpgradeQueuePlacement(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	a, b, c, d := fakeClient(1), fakeClient(2), fakeClient(3), fakeClient(4)
	l.addHolder(fakeEntry(a, Shared))
	l.addHolder(fakeEntry(b, Shared))

	l.enqueue(fakeEntry(d, Exclusive))
	l.enqueue(fakeEntry(c, Shared))
	l.enqueue(fakeEntry(a, Upgrade))
	l.enqueue(fakeEntry(b, Upgrade))
	assert.Equal(t, []string{
		"client 4 EXCLUSIVE NODE(1)",
		"client 1 UPGRADE NODE(1)",
		"client 2 UPGRADE NODE(1)",
		"client 3 SHARED NODE(1)",
	}, waitModes(l))
}

func TestWakeGrantsUpgradeOutOfOrder(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	a, b, d := fakeClient(1), fakeClient(2), fakeClient(4)
	ha := fakeEntry(a, Shared)
	hb := fakeEntry(b, Shared)
	l.addHolder(ha)
	l.addHolder(hb)
	wd := fakeEntry(d, Exclusive)
	l.enqueue(wd)
	wa := fakeEntry(a, Upgrade)
	ha.ownerNext = wa
	l.enqueue(wa)

	l.wakeWaiters()
	assert.False(t, wa.granted.Load())

	l.removeHolder(hb)
	l.wakeWaiters()
	assert.True(t, wa.granted.Load())
	assert.True(t, a.latch.TryAcquire(0))
	assert.Equal(t, ha, l.exclusiveHolder)
	assert.Equal(t, Exclusive, ha.mode)
	assert.Nil(t, ha.ownerNext)
	assert.False(t, wd.granted.Load())
	assert.Equal(t, []string{"client 4 EXCLUSIVE NODE(1)"}, waitModes(l))
}

func TestWakeStopsAtFirstBlockedWaiter(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	x := fakeEntry(fakeClient(1), Exclusive)
	l.addHolder(x)
	s1 := fakeEntry(fakeClient(2), Shared)
	s2 := fakeEntry(fakeClient(3), Shared)
	ex := fakeEntry(fakeClient(4), Exclusive)
	s3 := fakeEntry(fakeClient(5), Shared)
	for _, e := range []*lockEntry{s1, s2, ex, s3} {
		l.enqueue(e)
	}

	l.removeHolder(x)
	l.wakeWaiters()
	assert.True(t, s1.granted.Load())
	assert.True(t, s2.granted.Load())
	assert.False(t, ex.granted.Load())
	assert.False(t, s3.granted.Load())
	assert.Equal(t, 2, l.sharedCount)

	l.removeHolder(s1)
	l.removeHolder(s2)
	l.wakeWaiters()
	assert.True(t, ex.granted.Load())
	assert.False(t, s3.granted.Load())
	assert.Equal(t, ex, l.exclusiveHolder)
}

func TestWaitsForEdges(t *testing.T) {
	l := &Lock{}
	l.reset(node1)
	a, b, c, d, e := fakeClient(1), fakeClient(2), fakeClient(3), fakeClient(4), fakeClient(5)
	ha := fakeEntry(a, Shared)
	l.addHolder(ha)
	l.addHolder(fakeEntry(b, Shared))
	wc := fakeEntry(c, Exclusive)
	l.enqueue(wc)
	wd := fakeEntry(d, Shared)
	l.enqueue(wd)
	we := fakeEntry(e, Exclusive)
	l.enqueue(we)
	wa := fakeEntry(a, Upgrade)
	l.enqueue(wa)

	ids := func(cs []*Client) []int64 {
		res := make([]int64, 0, len(cs))
		for _, c := range cs {
			res = append(res, c.id)
		}
		return res
	}
	// exclusive waiter: both shared holders
	assert.ElementsMatch(t, []int64{2, 1}, ids(l.waitsFor(wc, nil)))
	// upgrader: the other shared holder only
	assert.Equal(t, []int64{2}, ids(l.waitsFor(wa, nil)))
	// shared waiter: queued exclusive and upgrade requests ahead of it
	assert.ElementsMatch(t, []int64{3, 1}, ids(l.waitsFor(wd, nil)))
	// exclusive waiter at the tail: holders and every earlier waiter
	assert.ElementsMatch(t, []int64{2, 1, 3, 1, 4}, ids(l.waitsFor(we, nil)))

	require.Equal(t, wd, l.waiter(d))
	assert.Nil(t, l.waiter(b))
	assert.True(t, l.dequeue(wd))
	assert.False(t, l.dequeue(wd))
}

func TestLockModeIndex(t *testing.T) {
	assert.Equal(t, 0, Exclusive.Index())
	assert.Equal(t, 1, Shared.Index())
	assert.Equal(t, 2, Upgrade.Index())
	assert.Equal(t, 4, None.Index())
	assert.Equal(t, "UPGRADE", Upgrade.String())
	assert.Equal(t, "NONBLOCKING", NonBlocking.String())
}
