package locking

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/goccy/go-json"

	"github.com/jakewins/neo4j-sub001/resource"
)

type HolderState struct {
	Session int64  `json:"session"`
	Mode    string `json:"mode"`
}

type LockState struct {
	Key      resource.Key  `json:"-"`
	Resource string        `json:"resource"`
	Holders  []HolderState `json:"holders"`
	Waiters  []HolderState `json:"waiters"`
}

// Edge says client From waits for client To on Resource.
type Edge struct {
	From     int64  `json:"from"`
	To       int64  `json:"to"`
	Resource string `json:"resource"`
	Mode     string `json:"mode"`
}

// Snapshot is a consistent, read-only view of every live lock and of the
// waits-for graph, taken with the world stopped.
type Snapshot struct {
	Clients  []int64     `json:"clients"`
	Locks    []LockState `json:"locks"`
	WaitsFor []Edge      `json:"waits_for"`
}

func (m *Manager) Snapshot() *Snapshot {
	clients := m.Clients()
	res := &Snapshot{
		Clients:  make([]int64, 0, len(clients)),
		Locks:    make([]LockState, 0),
		WaitsFor: make([]Edge, 0),
	}
	for _, c := range clients {
		res.Clients = append(res.Clients, c.id)
	}

	m.table.StopTheWorld()
	m.table.forEachLocked(func(l *Lock) {
		st := LockState{Key: l.key, Resource: l.key.String(), Holders: make([]HolderState, 0), Waiters: make([]HolderState, 0)}
		if h := l.exclusiveHolder; h != nil {
			st.Holders = append(st.Holders, HolderState{Session: h.owner.id, Mode: h.mode.String()})
		}
		for h := l.sharedHolders; h != nil; h = h.next {
			st.Holders = append(st.Holders, HolderState{Session: h.owner.id, Mode: h.mode.String()})
		}
		for w := l.waitList; w != nil; w = w.next {
			st.Waiters = append(st.Waiters, HolderState{Session: w.owner.id, Mode: w.mode.String()})
		}
		res.Locks = append(res.Locks, st)
	})
	for _, c := range clients {
		ws := c.waiting.Load()
		if ws == nil {
			continue
		}
		seen := mapset.NewThreadUnsafeSet()
		for _, b := range m.table.Partition(ws.key).waitsForLocked(c, ws.key) {
			if !seen.Add(b.id) {
				continue
			}
			res.WaitsFor = append(res.WaitsFor, Edge{From: c.id, To: b.id, Resource: ws.key.String(), Mode: ws.mode.String()})
		}
	}
	m.table.ResumeTheWorld()

	sort.Slice(res.Locks, func(i, j int) bool { return res.Locks[i].Key.Less(res.Locks[j].Key) })
	sort.Slice(res.WaitsFor, func(i, j int) bool {
		if res.WaitsFor[i].From != res.WaitsFor[j].From {
			return res.WaitsFor[i].From < res.WaitsFor[j].From
		}
		return res.WaitsFor[i].To < res.WaitsFor[j].To
	})
	return res
}

// Lock returns the state of the lock on key, if it is live.
func (s *Snapshot) Lock(key resource.Key) (LockState, bool) {
	for _, l := range s.Locks {
		if l.Key == key {
			return l, true
		}
	}
	return LockState{}, false
}

// WaitingFor returns the edges leaving the given client.
func (s *Snapshot) WaitingFor(session int64) []Edge {
	res := make([]Edge, 0)
	for _, e := range s.WaitsFor {
		if e.From == session {
			res = append(res, e)
		}
	}
	return res
}

func (s *Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d clients, %d locks\n", len(s.Clients), len(s.Locks))
	for _, l := range s.Locks {
		fmt.Fprintf(&b, "%s holders=%s waiters=%s\n", l.Resource, holders(l.Holders), holders(l.Waiters))
	}
	for _, e := range s.WaitsFor {
		fmt.Fprintf(&b, "client %d waits for client %d on %s (%s)\n", e.From, e.To, e.Resource, e.Mode)
	}
	return b.String()
}

func holders(hs []HolderState) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = fmt.Sprintf("%d:%s", h.Session, h.Mode)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s *Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}
