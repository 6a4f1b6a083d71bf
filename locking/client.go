package locking

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/journal"
	"github.com/jakewins/neo4j-sub001/locks"
	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

// waitState is what a parked client is waiting for. A fresh one is
// published for every wait, so the deadlock detector can mark exactly that
// wait as the victim.
type waitState struct {
	key   resource.Key
	mode  LockMode
	since time.Time
	cycle atomic.Pointer[Cycle]
}

// Client is the lock handle of one transaction. Apart from Stop, its
// methods must be called from a single goroutine.
type Client struct {
	id      int64
	manager *Manager
	latch   *locks.WaitLatch
	// held indexes the holding entries by resource type id, then resource id.
	held []map[int64]*lockEntry
	free []*lockEntry

	waiting atomic.Pointer[waitState]
	stopped atomic.Bool
	closed  atomic.Bool
}

// ActiveLock is one hold reported by Client.ActiveLocks.
type ActiveLock struct {
	Key        resource.Key
	Mode       LockMode
	Reentrancy int
}

func newClient(id int64, m *Manager) *Client {
	res := &Client{
		id:      id,
		manager: m,
		latch:   locks.NewWaitLatch(m.cfg.SpinIterations),
		held:    make([]map[int64]*lockEntry, m.registry.Size()),
		free:    make([]*lockEntry, 0, configs.MaxFreeEntriesPerClient),
	}
	for _, t := range m.registry.Types() {
		res.held[t.ID] = make(map[int64]*lockEntry)
	}
	return res
}

// LockSessionID is the id the manager numbered this client with.
func (c *Client) LockSessionID() int64 {
	return c.id
}

func (c *Client) String() string {
	return fmt.Sprintf("client %d", c.id)
}

func (c *Client) AcquireShared(ctx context.Context, t resource.Type, id int64) error {
	_, err := c.acquire(ctx, resource.NewKey(t, id), Shared, Blocking)
	return err
}

func (c *Client) AcquireExclusive(ctx context.Context, t resource.Type, id int64) error {
	_, err := c.acquire(ctx, resource.NewKey(t, id), Exclusive, Blocking)
	return err
}

// TryShared takes a shared lock if it can be had without waiting.
func (c *Client) TryShared(t resource.Type, id int64) (bool, error) {
	return c.acquire(context.Background(), resource.NewKey(t, id), Shared, NonBlocking)
}

// TryExclusive takes an exclusive lock if it can be had without waiting.
func (c *Client) TryExclusive(t resource.Type, id int64) (bool, error) {
	return c.acquire(context.Background(), resource.NewKey(t, id), Exclusive, NonBlocking)
}

func (c *Client) checkUsable(key resource.Key) error {
	if c.closed.Load() {
		return errors.Wrapf(utils.ErrClientClosed, "%s", c)
	}
	if !c.manager.registry.Contains(key.Type) {
		return errors.Newf("unknown resource type %s (id %d)", key.Type.Name, key.Type.ID)
	}
	return nil
}

func (c *Client) acquire(ctx context.Context, key resource.Key, mode LockMode, am AcquireMode) (bool, error) {
	if err := c.checkUsable(key); err != nil {
		return false, err
	}
	if c.stopped.Load() {
		return false, errors.Wrapf(utils.ErrClientStopped, "%s", c)
	}
	p := c.manager.table.Partition(key)
	held := c.held[key.Type.ID]

	if h := held[key.ID]; h != nil {
		if mode == Shared || h.reentrancy[Exclusive] > 0 {
			h.reentrancy[mode]++
			return true, nil
		}
		w := c.newEntry(key, Upgrade)
		defer c.freeEntry(w)
		switch p.acquire(w, h, am == Blocking) {
		case resultWouldBlock:
			return false, nil
		case resultQueued:
			if err := c.await(ctx, p, w, h); err != nil {
				return false, err
			}
		}
		h.reentrancy[Exclusive] = 1
		return true, nil
	}

	e := c.newEntry(key, mode)
	switch p.acquire(e, nil, am == Blocking) {
	case resultWouldBlock:
		c.freeEntry(e)
		return false, nil
	case resultQueued:
		if err := c.await(ctx, p, e, nil); err != nil {
			c.freeEntry(e)
			return false, err
		}
	}
	e.reentrancy[mode] = 1
	held[key.ID] = e
	return true, nil
}

// await parks until w is granted, the wait is chosen as a deadlock victim,
// the client is stopped, ctx is done or the acquisition timeout passes.
func (c *Client) await(ctx context.Context, p *Partition, w, holding *lockEntry) error {
	cfg := c.manager.cfg
	ws := &waitState{key: w.key, mode: w.mode, since: time.Now()}
	c.waiting.Store(ws)
	defer c.waiting.Store(nil)
	defer c.latch.Drain()

	timeout := cfg.LockAcquisitionTimeout
	if timeout <= 0 {
		timeout = locks.MaxTimeOut
	}
	deadline := ws.since.Add(timeout)
	configs.DPrintf("%s waits %s on %s", c, w.mode, w.key)

	detect := true
	var cause error
	outcome := utils.Granted
	for cause == nil {
		if w.granted.Load() {
			break
		}
		if detect {
			c.manager.detector.DetectDeadlock(c)
			detect = false
		}
		remaining := time.Until(deadline)
		switch {
		case ws.cycle.Load() != nil:
			outcome = utils.Deadlock
			cause = &DeadlockError{Session: c.id, Cycle: ws.cycle.Load()}
		case c.stopped.Load():
			outcome = utils.Stopped
			cause = errors.Wrapf(utils.ErrClientStopped, "%s waiting %s on %s", c, w.mode, w.key)
		case ctx.Err() != nil:
			outcome = utils.Stopped
			cause = errors.Wrapf(ctx.Err(), "%s waiting %s on %s", c, w.mode, w.key)
		case remaining <= 0:
			outcome = utils.Timeout
			cause = errors.Wrapf(utils.ErrLockTimeout, "%s waiting %s on %s for %s", c, w.mode, w.key, timeout)
		default:
			if !c.latch.TryAcquireContext(ctx, utils.MinDuration(remaining, cfg.DeadlockDetectInterval)) {
				detect = true
			}
		}
	}
	if cause != nil && p.abandon(w, holding) {
		// granted while giving up; the grant stands
		cause = nil
		outcome = utils.Granted
	}
	c.manager.recordWait(c, ws, outcome)
	return cause
}

func (c *Client) ReleaseShared(t resource.Type, id int64) error {
	key := resource.NewKey(t, id)
	h, err := c.holding(key, Shared)
	if err != nil {
		return err
	}
	h.reentrancy[Shared]--
	if !h.held() {
		c.releaseEntry(h)
	}
	return nil
}

func (c *Client) ReleaseExclusive(t resource.Type, id int64) error {
	key := resource.NewKey(t, id)
	h, err := c.holding(key, Exclusive)
	if err != nil {
		return err
	}
	h.reentrancy[Exclusive]--
	if h.reentrancy[Exclusive] > 0 {
		return nil
	}
	if h.reentrancy[Shared] > 0 {
		c.manager.table.Partition(key).downgrade(h)
		return nil
	}
	c.releaseEntry(h)
	return nil
}

func (c *Client) holding(key resource.Key, mode LockMode) (*lockEntry, error) {
	if err := c.checkUsable(key); err != nil {
		return nil, err
	}
	h := c.held[key.Type.ID][key.ID]
	if h == nil || h.reentrancy[mode] == 0 {
		return nil, errors.Wrapf(utils.ErrLockNotHeld, "%s releasing %s on %s", c, mode, key)
	}
	return h, nil
}

func (c *Client) releaseEntry(h *lockEntry) {
	c.manager.table.Partition(h.key).release(h)
	delete(c.held[h.key.Type.ID], h.key.ID)
	c.freeEntry(h)
}

// ReleaseAll drops every lock the client holds, whatever the reentrancy.
func (c *Client) ReleaseAll() error {
	if c.closed.Load() {
		return errors.Wrapf(utils.ErrClientClosed, "%s", c)
	}
	c.releaseAll()
	return nil
}

func (c *Client) releaseAll() {
	for _, held := range c.held {
		for id, h := range held {
			c.manager.table.Partition(h.key).release(h)
			delete(held, id)
			c.freeEntry(h)
		}
	}
}

// Stop makes a pending and every later acquire fail with ErrClientStopped.
// Unlike the other methods it may be called from any goroutine.
func (c *Client) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		glog.V(2).Infof("%s stopped", c)
	}
	c.latch.Release()
}

// Close releases everything and retires the client. Closing twice fails.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.Wrapf(utils.ErrClientClosed, "%s closed twice", c)
	}
	c.releaseAll()
	c.manager.deregister(c)
	return nil
}

// ActiveLockCount is the number of (resource, mode) pairs held.
func (c *Client) ActiveLockCount() int {
	n := 0
	for _, held := range c.held {
		for _, h := range held {
			if h.reentrancy[Exclusive] > 0 {
				n++
			}
			if h.reentrancy[Shared] > 0 {
				n++
			}
		}
	}
	return n
}

// ActiveLocks lists the holds, ordered by resource key and then mode.
func (c *Client) ActiveLocks() []ActiveLock {
	res := make([]ActiveLock, 0)
	for _, held := range c.held {
		for _, h := range held {
			if h.reentrancy[Exclusive] > 0 {
				res = append(res, ActiveLock{Key: h.key, Mode: Exclusive, Reentrancy: h.reentrancy[Exclusive]})
			}
			if h.reentrancy[Shared] > 0 {
				res = append(res, ActiveLock{Key: h.key, Mode: Shared, Reentrancy: h.reentrancy[Shared]})
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if cmp := res[i].Key.Compare(res[j].Key); cmp != 0 {
			return cmp < 0
		}
		return res[i].Mode < res[j].Mode
	})
	return res
}

func (c *Client) newEntry(key resource.Key, mode LockMode) *lockEntry {
	var e *lockEntry
	if n := len(c.free); n > 0 {
		e = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		e = &lockEntry{}
	}
	e.reset(c, key, mode)
	return e
}

func (c *Client) freeEntry(e *lockEntry) {
	if len(c.free) < configs.MaxFreeEntriesPerClient {
		c.free = append(c.free, e)
	}
}

func (c *Client) journalRecord(kind string, ws *waitState) journal.Record {
	r := journal.Record{
		Kind:    kind,
		Session: c.id,
		Key:     ws.key.String(),
		Mode:    ws.mode.String(),
		WaitNs:  int64(time.Since(ws.since)),
	}
	if cyc := ws.cycle.Load(); cyc != nil {
		r.Cycle = cyc.String()
	}
	return r
}
