package locking

import (
	"github.com/jakewins/neo4j-sub001/resource"
)

// LockTable routes a resource key to the partition that owns it. There are
// a fixed number of partitions per resource type.
type LockTable struct {
	partitions [][]*Partition
	all        []*Partition
	perType    int
}

func NewLockTable(registry *resource.Registry, partitionsPerType int) *LockTable {
	res := &LockTable{
		partitions: make([][]*Partition, registry.Size()),
		all:        make([]*Partition, 0, len(registry.Types())*partitionsPerType),
		perType:    partitionsPerType,
	}
	for _, t := range registry.Types() {
		ps := make([]*Partition, partitionsPerType)
		for i := range ps {
			ps[i] = NewPartition(len(res.all))
			res.all = append(res.all, ps[i])
		}
		res.partitions[t.ID] = ps
	}
	return res
}

// Partition returns the partition owning key, or nil for an unregistered
// resource type.
func (t *LockTable) Partition(key resource.Key) *Partition {
	if key.Type.ID < 0 || key.Type.ID >= len(t.partitions) {
		return nil
	}
	ps := t.partitions[key.Type.ID]
	if ps == nil {
		return nil
	}
	return ps[key.Hash()%uint64(t.perType)]
}

// StopTheWorld latches every partition, in index order, so the caller sees
// a consistent view of all locks. Pair with ResumeTheWorld.
func (t *LockTable) StopTheWorld() {
	for _, p := range t.all {
		p.latch.Lock()
	}
}

func (t *LockTable) ResumeTheWorld() {
	for i := len(t.all) - 1; i >= 0; i-- {
		t.all[i].latch.Unlock()
	}
}

// Size is the number of live locks over all partitions.
func (t *LockTable) Size() int {
	n := 0
	for _, p := range t.all {
		n += p.Size()
	}
	return n
}

// forEachLocked visits every live lock. The world must be stopped.
func (t *LockTable) forEachLocked(fn func(l *Lock)) {
	for _, p := range t.all {
		for _, l := range p.locks {
			fn(l)
		}
	}
}
