package locking

import (
	"github.com/cockroachdb/errors"

	"github.com/jakewins/neo4j-sub001/resource"
)

// Lock is the contention state of one resource. Every field is guarded by
// the latch of the partition owning the resource.
type Lock struct {
	key             resource.Key
	exclusiveHolder *lockEntry
	sharedHolders   *lockEntry
	sharedCount     int
	// waitList is in arrival order, except that Upgrade requests go ahead
	// of queued Shared requests.
	waitList *lockEntry
}

func (l *Lock) reset(key resource.Key) {
	*l = Lock{key: key}
}

// Free reports whether nobody holds or waits for the lock.
func (l *Lock) Free() bool {
	return l.exclusiveHolder == nil && l.sharedHolders == nil && l.waitList == nil
}

func (l *Lock) grantable(mode LockMode) bool {
	if l.waitList != nil || l.exclusiveHolder != nil {
		return false
	}
	return mode == Shared || l.sharedHolders == nil
}

// soleSharedHolder reports whether e is the only holder of the lock.
func (l *Lock) soleSharedHolder(e *lockEntry) bool {
	return l.exclusiveHolder == nil && l.sharedCount == 1 && l.sharedHolders == e
}

func (l *Lock) addHolder(e *lockEntry) {
	e.lock = l
	e.next = nil
	if e.mode == Exclusive {
		if l.exclusiveHolder != nil || l.sharedHolders != nil {
			panic(errors.AssertionFailedf("%s granted exclusive while held", l.key))
		}
		l.exclusiveHolder = e
		return
	}
	if l.exclusiveHolder != nil {
		panic(errors.AssertionFailedf("%s granted shared while held exclusively", l.key))
	}
	e.next = l.sharedHolders
	l.sharedHolders = e
	l.sharedCount++
}

func (l *Lock) removeHolder(e *lockEntry) {
	if l.exclusiveHolder == e {
		l.exclusiveHolder = nil
		return
	}
	var prev *lockEntry
	for cur := l.sharedHolders; cur != nil; cur = cur.next {
		if cur == e {
			if prev == nil {
				l.sharedHolders = cur.next
			} else {
				prev.next = cur.next
			}
			cur.next = nil
			l.sharedCount--
			return
		}
		prev = cur
	}
	panic(errors.AssertionFailedf("%s is not a holder of %s", e, l.key))
}

// promote turns the sole shared holder e into the exclusive holder.
func (l *Lock) promote(e *lockEntry) {
	l.removeHolder(e)
	e.mode = Exclusive
	l.addHolder(e)
}

// demote turns the exclusive holder e back into a shared holder.
func (l *Lock) demote(e *lockEntry) {
	l.removeHolder(e)
	e.mode = Shared
	l.addHolder(e)
}

// enqueue appends e to the wait list. Upgrade requests are placed behind
// the leading run of Upgrade and Exclusive waiters and ahead of everyone
// else.
func (l *Lock) enqueue(e *lockEntry) {
	e.lock = l
	e.next = nil
	var prev *lockEntry
	cur := l.waitList
	if e.mode == Upgrade {
		for cur != nil && (cur.mode == Upgrade || cur.mode == Exclusive) {
			prev, cur = cur, cur.next
		}
	} else {
		for cur != nil {
			prev, cur = cur, cur.next
		}
	}
	e.next = cur
	if prev == nil {
		l.waitList = e
	} else {
		prev.next = e
	}
}

// dequeue unlinks e from the wait list and reports whether it was there.
func (l *Lock) dequeue(e *lockEntry) bool {
	var prev *lockEntry
	for cur := l.waitList; cur != nil; cur = cur.next {
		if cur == e {
			if prev == nil {
				l.waitList = cur.next
			} else {
				prev.next = cur.next
			}
			cur.next = nil
			return true
		}
		prev = cur
	}
	return false
}

// wakeWaiters grants every waiter the current holders allow. An Upgrade
// waiter is granted as soon as its own shared hold is the only hold. Other
// waiters are granted in order and stop at the first one that is blocked.
func (l *Lock) wakeWaiters() {
	blocked := false
	for w := l.waitList; w != nil; {
		next := w.next
		switch w.mode {
		case Upgrade:
			holding := l.sharedHolders
			if holding != nil && holding.owner == w.owner && l.soleSharedHolder(holding) {
				l.dequeue(w)
				l.promote(holding)
				holding.ownerNext = nil
				l.grant(w)
			} else {
				blocked = true
			}
		case Shared:
			if !blocked && l.exclusiveHolder == nil {
				l.dequeue(w)
				l.addHolder(w)
				l.grant(w)
			} else {
				blocked = true
			}
		case Exclusive:
			if !blocked && l.exclusiveHolder == nil && l.sharedHolders == nil {
				l.dequeue(w)
				l.addHolder(w)
				l.grant(w)
			} else {
				blocked = true
			}
		default:
			panic(errors.AssertionFailedf("%s waiting with mode %s", w, w.mode))
		}
		w = next
	}
}

// grant hands w back to its owner, which may recycle w as soon as granted
// is visible.
func (l *Lock) grant(w *lockEntry) {
	owner := w.owner
	w.granted.Store(true)
	owner.latch.Release()
}

// waitsFor appends the owners blocking w, a waiter on l, to out. Conflicting
// holders block every waiter. Earlier waiters block an Exclusive waiter, and
// earlier Exclusive or Upgrade waiters block a Shared waiter.
func (l *Lock) waitsFor(w *lockEntry, out []*Client) []*Client {
	if h := l.exclusiveHolder; h != nil && h.owner != w.owner {
		out = append(out, h.owner)
	}
	if w.mode != Shared {
		for h := l.sharedHolders; h != nil; h = h.next {
			if h.owner != w.owner {
				out = append(out, h.owner)
			}
		}
	}
	if w.mode == Upgrade {
		return out
	}
	for q := l.waitList; q != nil && q != w; q = q.next {
		if q.owner == w.owner {
			continue
		}
		if w.mode == Exclusive || q.mode != Shared {
			out = append(out, q.owner)
		}
	}
	return out
}

// waiter finds the entry c is waiting with, if any.
func (l *Lock) waiter(c *Client) *lockEntry {
	for w := l.waitList; w != nil; w = w.next {
		if w.owner == c {
			return w
		}
	}
	return nil
}
