package locking

import (
	"fmt"
	"sync/atomic"

	"github.com/jakewins/neo4j-sub001/resource"
)

// lockEntry is one client's hold on, or wait for, one Lock.
//
// A holding entry sits either as the lock's exclusive holder or on its
// shared list. A waiting entry sits on the lock's wait list. The lock-side
// fields (lock, mode, next, ownerNext) are guarded by the partition latch;
// reentrancy is only touched by the owning client.
type lockEntry struct {
	owner *Client
	lock  *Lock
	key   resource.Key
	mode  LockMode
	// reentrancy counts nested acquires, indexed by Exclusive and Shared.
	reentrancy [2]int
	// next is the following entry on the lock's shared list or wait list.
	next *lockEntry
	// If owner holds several lock types on the same lock, this will point to
	// the next entry for the same owner: a holding entry points at its
	// pending Upgrade entry.
	ownerNext *lockEntry
	// granted is set under the partition latch when a waiting entry is
	// granted, and read by the owner after it wakes.
	granted atomic.Bool
}

func (e *lockEntry) reset(owner *Client, key resource.Key, mode LockMode) {
	e.owner = owner
	e.lock = nil
	e.key = key
	e.mode = mode
	e.reentrancy = [2]int{}
	e.next = nil
	e.ownerNext = nil
	e.granted.Store(false)
}

func (e *lockEntry) held() bool {
	return e.reentrancy[Exclusive] > 0 || e.reentrancy[Shared] > 0
}

func (e *lockEntry) String() string {
	return fmt.Sprintf("client %d %s %s", e.owner.id, e.mode, e.key)
}
