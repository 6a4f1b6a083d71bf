package locking

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/golang/glog"

	"github.com/jakewins/neo4j-sub001/resource"
)

// Member is one waiting client on a waits-for cycle. It waits for the next
// member, and the last member waits for the first.
type Member struct {
	SessionID int64        `json:"session"`
	Key       resource.Key `json:"-"`
	Resource  string       `json:"resource"`
	Mode      LockMode     `json:"-"`
	ModeName  string       `json:"mode"`
}

// Cycle is a deadlock found by the DeadlockDetector.
type Cycle struct {
	Members []Member `json:"members"`
	Victim  int64    `json:"victim"`
}

func (c *Cycle) String() string {
	var b strings.Builder
	for i, m := range c.Members {
		if i > 0 {
			b.WriteString(", ")
		}
		next := c.Members[(i+1)%len(c.Members)]
		fmt.Fprintf(&b, "client %d waits for client %d on %s (%s)", m.SessionID, next.SessionID, m.Key, m.Mode)
	}
	return b.String()
}

// Contains reports whether the client with the given session id is on the cycle.
func (c *Cycle) Contains(session int64) bool {
	for _, m := range c.Members {
		if m.SessionID == session {
			return true
		}
	}
	return false
}

// DeadlockDetector searches the waits-for graph of the parked clients. It
// keeps no state between calls.
//
// The search itself latches one partition at a time, so what it finds is
// only a candidate. A candidate is confirmed with the world stopped before
// the youngest member, the one with the highest session id, is made the
// victim.
type DeadlockDetector struct {
	table *LockTable
}

func NewDeadlockDetector(table *LockTable) *DeadlockDetector {
	return &DeadlockDetector{table: table}
}

// DetectDeadlock looks for a cycle reachable from the waiting client c. When
// one is confirmed its victim's wait is failed and the cycle is returned.
func (d *DeadlockDetector) DetectDeadlock(c *Client) (*Cycle, bool) {
	candidate := d.findCandidate(c)
	if candidate == nil {
		return nil, false
	}
	return d.confirm(candidate)
}

func (d *DeadlockDetector) blockers(c *Client) []*Client {
	ws := c.waiting.Load()
	if ws == nil {
		return nil
	}
	p := d.table.Partition(ws.key)
	if p == nil {
		return nil
	}
	return p.waitsFor(c, ws.key)
}

func (d *DeadlockDetector) findCandidate(start *Client) []*Client {
	visited := mapset.NewThreadUnsafeSet()
	onPath := mapset.NewThreadUnsafeSet()
	path := make([]*Client, 0, 8)

	var dfs func(c *Client) []*Client
	dfs = func(c *Client) []*Client {
		visited.Add(c)
		onPath.Add(c)
		path = append(path, c)
		for _, next := range d.blockers(c) {
			if onPath.Contains(next) {
				for i, m := range path {
					if m == next {
						return append([]*Client(nil), path[i:]...)
					}
				}
			}
			if visited.Contains(next) {
				continue
			}
			if cycle := dfs(next); cycle != nil {
				return cycle
			}
		}
		onPath.Remove(c)
		path = path[:len(path)-1]
		return nil
	}
	return dfs(start)
}

func (d *DeadlockDetector) confirm(members []*Client) (*Cycle, bool) {
	d.table.StopTheWorld()
	defer d.table.ResumeTheWorld()

	states := make([]*waitState, len(members))
	cycle := &Cycle{Members: make([]Member, 0, len(members))}
	victim := 0
	for i, c := range members {
		ws := c.waiting.Load()
		if ws == nil {
			return nil, false
		}
		next := members[(i+1)%len(members)]
		found := false
		for _, b := range d.table.Partition(ws.key).waitsForLocked(c, ws.key) {
			if b == next {
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
		states[i] = ws
		cycle.Members = append(cycle.Members, Member{
			SessionID: c.id,
			Key:       ws.key,
			Resource:  ws.key.String(),
			Mode:      ws.mode,
			ModeName:  ws.mode.String(),
		})
		if c.id > members[victim].id {
			victim = i
		}
	}
	cycle.Victim = members[victim].id
	if states[victim].cycle.CompareAndSwap(nil, cycle) {
		glog.V(4).Infof("deadlock: %s, victim client %d", cycle, cycle.Victim)
		members[victim].latch.Release()
	}
	return cycle, true
}
