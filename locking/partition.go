package locking

import (
	"github.com/viney-shih/go-lock"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/resource"
)

type acquireResult uint8

const (
	resultGranted acquireResult = iota
	resultQueued
	resultWouldBlock
)

// Partition owns the locks of one slice of one resource type. All Lock
// state transitions for those resources happen under its latch.
type Partition struct {
	index int
	latch lock.Mutex
	locks map[int64]*Lock
	free  []*Lock
}

func NewPartition(index int) *Partition {
	return &Partition{
		index: index,
		latch: lock.NewCASMutex(),
		locks: make(map[int64]*Lock),
		free:  make([]*Lock, 0, configs.MaxFreeLocksPerPartition),
	}
}

func (p *Partition) getOrCreate(key resource.Key) *Lock {
	if l, ok := p.locks[key.ID]; ok {
		return l
	}
	var l *Lock
	if n := len(p.free); n > 0 {
		l = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		l = &Lock{}
	}
	l.reset(key)
	p.locks[key.ID] = l
	return l
}

// evictIfFree drops l from the table once nobody holds or waits for it. It
// runs under the latch, so an acquirer either found l before this check or
// will create a fresh one after it.
func (p *Partition) evictIfFree(l *Lock) {
	if !l.Free() {
		return
	}
	if cur, ok := p.locks[l.key.ID]; !ok || cur != l {
		return
	}
	delete(p.locks, l.key.ID)
	if len(p.free) < configs.MaxFreeLocksPerPartition {
		p.free = append(p.free, l)
	}
}

// acquire grants req right away when the lock allows it, otherwise queues
// it when wait is set. An Upgrade request carries the requester's shared
// holding entry.
func (p *Partition) acquire(req, holding *lockEntry, wait bool) acquireResult {
	p.latch.Lock()
	defer p.latch.Unlock()
	if req.mode == Upgrade {
		l := holding.lock
		if l.soleSharedHolder(holding) {
			l.promote(holding)
			return resultGranted
		}
		if !wait {
			return resultWouldBlock
		}
		holding.ownerNext = req
		l.enqueue(req)
		return resultQueued
	}

	l := p.getOrCreate(req.key)
	if l.grantable(req.mode) {
		l.addHolder(req)
		return resultGranted
	}
	if !wait {
		return resultWouldBlock
	}
	l.enqueue(req)
	return resultQueued
}

// abandon takes a waiter off its lock after a timeout, a deadlock or a
// stop. It returns true when the wait was granted in the meantime, in which
// case the grant stands.
func (p *Partition) abandon(w, holding *lockEntry) bool {
	p.latch.Lock()
	defer p.latch.Unlock()
	if w.granted.Load() {
		return true
	}
	l := w.lock
	configs.Assert(l.dequeue(w), "abandoned waiter is not on the wait list")
	if holding != nil {
		holding.ownerNext = nil
	}
	l.wakeWaiters()
	p.evictIfFree(l)
	return false
}

// release drops the hold e has on its lock.
func (p *Partition) release(e *lockEntry) {
	p.latch.Lock()
	defer p.latch.Unlock()
	l := e.lock
	l.removeHolder(e)
	l.wakeWaiters()
	p.evictIfFree(l)
}

// downgrade turns the exclusive hold of e into a shared one.
func (p *Partition) downgrade(e *lockEntry) {
	p.latch.Lock()
	defer p.latch.Unlock()
	l := e.lock
	l.demote(e)
	l.wakeWaiters()
}

// waitsFor returns the clients c is waiting for on key, or nil when c is no
// longer waiting there.
func (p *Partition) waitsFor(c *Client, key resource.Key) []*Client {
	p.latch.Lock()
	defer p.latch.Unlock()
	return p.waitsForLocked(c, key)
}

func (p *Partition) waitsForLocked(c *Client, key resource.Key) []*Client {
	l, ok := p.locks[key.ID]
	if !ok {
		return nil
	}
	w := l.waiter(c)
	if w == nil || w.granted.Load() {
		return nil
	}
	return l.waitsFor(w, nil)
}

// Size is the number of locks currently in the partition's table.
func (p *Partition) Size() int {
	p.latch.Lock()
	defer p.latch.Unlock()
	return len(p.locks)
}
