// Package locking is a partitioned, deadlock-detecting lock manager for
// shared and exclusive locks on typed resources.
//
// A Manager hands out one Client per transaction. Each resource type has a
// fixed set of partitions and every lock state change happens under the
// latch of the owning partition. A client that has to wait parks on its own
// WaitLatch and runs the deadlock detector before parking and then once per
// detect interval.
package locking

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/journal"
	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

const closeDrainTimeout = time.Second

type Manager struct {
	cfg      *configs.Config
	registry *resource.Registry
	table    *LockTable
	detector *DeadlockDetector
	journal  *journal.LogManager
	stat     *utils.Stat

	clientCounter int64
	mu            sync.Mutex
	clients       map[int64]*Client
	closed        bool
}

// NewManager builds a lock manager over the given resource types. A nil
// cfg means configs.Default().
func NewManager(cfg *configs.Config, registry *resource.Registry) (*Manager, error) {
	if registry == nil || len(registry.Types()) == 0 {
		return nil, errors.New("there needs to be at least one lock resource type")
	}
	if cfg == nil {
		cfg = configs.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "lock manager config")
	}
	table := NewLockTable(registry, cfg.Partitions)
	res := &Manager{
		cfg:      cfg,
		registry: registry,
		table:    table,
		detector: NewDeadlockDetector(table),
		stat:     utils.NewStatWithSampleSize(cfg.WaitSampleSize),
		clients:  make(map[int64]*Client),
	}
	if cfg.UseJournal {
		j, err := journal.Open(cfg.JournalDir, cfg.JournalBatchInterval)
		if err != nil {
			return nil, err
		}
		res.journal = j
	}
	glog.V(2).Infof("lock manager started: %d resource types, %d partitions each", len(registry.Types()), cfg.Partitions)
	return res, nil
}

// NewClient returns a client for one transaction; session ids count up
// from 1.
func (m *Manager) NewClient() (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.WithStack(utils.ErrManagerClosed)
	}
	c := newClient(atomic.AddInt64(&m.clientCounter, 1), m)
	m.clients[c.id] = c
	return c, nil
}

func (m *Manager) deregister(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.id)
}

// Clients returns the live clients ordered by session id.
func (m *Manager) Clients() []*Client {
	m.mu.Lock()
	res := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		res = append(res, c)
	}
	m.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res
}

func (m *Manager) Config() *configs.Config {
	return m.cfg
}

func (m *Manager) Registry() *resource.Registry {
	return m.registry
}

func (m *Manager) Table() *LockTable {
	return m.table
}

func (m *Manager) Detector() *DeadlockDetector {
	return m.detector
}

// Stat aggregates every wait a client had to park for. Counts are exact;
// latency percentiles come from at most cfg.WaitSampleSize retained waits.
func (m *Manager) Stat() *utils.Stat {
	return m.stat
}

func (m *Manager) recordWait(c *Client, ws *waitState, outcome utils.Outcome) {
	info := utils.NewInfo()
	info.Outcome = outcome
	info.Blocked = true
	info.Latency = time.Since(ws.since)
	info.IsCommit = outcome == utils.Granted
	m.stat.Append(info)

	var kind string
	switch outcome {
	case utils.Timeout:
		kind = journal.KindTimeout
		glog.V(4).Infof("%s timed out after %s waiting %s on %s", c, info.Latency, ws.mode, ws.key)
	case utils.Deadlock:
		kind = journal.KindDeadlock
	default:
		configs.DPrintf("%s done waiting %s on %s: %s after %s", c, ws.mode, ws.key, outcome, info.Latency)
		return
	}
	if m.journal != nil {
		m.journal.Append(c.journalRecord(kind, ws))
	}
}

// Close refuses new clients and stops the live ones. Their locks stay until
// each is closed by its owner. Clients parked at that point are given until
// closeDrainTimeout to unwind, so their records reach the journal before it
// closes.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WithStack(utils.ErrManagerClosed)
	}
	m.closed = true
	live := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Stop()
	}
	m.drain(live)
	glog.V(2).Infof("lock manager closed with %d live clients", len(live))
	if m.journal != nil {
		return m.journal.Close()
	}
	return nil
}

func (m *Manager) drain(live []*Client) {
	deadline := time.Now().Add(closeDrainTimeout)
	for _, c := range live {
		for c.waiting.Load() != nil {
			if time.Now().After(deadline) {
				glog.Warningf("%s still waiting after %s, closing anyway", c, closeDrainTimeout)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// Journal returns the event journal, or nil when it is disabled.
func (m *Manager) Journal() *journal.LogManager {
	return m.journal
}
