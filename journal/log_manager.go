// Package journal appends lock manager events (deadlock victims, acquire
// timeouts) to a write-ahead log so operators can inspect them after the fact.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/tidwall/wal"

	"github.com/jakewins/neo4j-sub001/configs"
)

const (
	KindDeadlock = "deadlock"
	KindTimeout  = "timeout"
)

// Record is one journal entry.
type Record struct {
	Kind    string `json:"kind"`
	Session int64  `json:"session"`
	Key     string `json:"key"`
	Mode    string `json:"mode"`
	Cycle   string `json:"cycle,omitempty"`
	WaitNs  int64  `json:"wait_ns"`
	At      int64  `json:"at"`
}

type LogManager struct {
	latch   sync.Mutex
	lsn     uint64
	synced  uint64
	logs    *wal.Log
	buffer  *wal.Batch
	cancel  context.CancelFunc
	stopped chan struct{}
	closed  bool
}

// Open opens (or creates) the journal under dir and starts the goroutine that
// writes buffered records every interval.
func Open(dir string, interval time.Duration) (*LogManager, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", dir)
	}
	res := &LogManager{logs: log, buffer: &wal.Batch{}, stopped: make(chan struct{})}
	res.lsn, err = log.LastIndex()
	if err != nil {
		_ = log.Close()
		return nil, errors.Wrapf(err, "read last index of journal %s", dir)
	}
	res.synced = res.lsn
	ctx, cancel := context.WithCancel(context.Background())
	res.cancel = cancel
	go res.localBatchSyncLogger(ctx, interval)
	return res, nil
}

// Append buffers r; it reaches the log at the next batch write. Records
// appended after Close are dropped.
func (c *LogManager) Append(r Record) {
	if r.At == 0 {
		r.At = time.Now().UnixNano()
	}
	byt, err := json.Marshal(r)
	if err != nil {
		glog.Warningf("drop journal record %v: %v", r, err)
		return
	}
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.closed {
		glog.V(4).Infof("journal closed, dropping %s", byt)
		return
	}
	c.lsn++
	c.buffer.Write(c.lsn, byt)
	configs.DPrintf("journal %d-%s", c.lsn, byt)
}

// Flush writes the buffered records.
func (c *LogManager) Flush() error {
	c.latch.Lock()
	defer c.latch.Unlock()
	return c.flushLocked()
}

func (c *LogManager) flushLocked() error {
	if c.lsn == c.synced {
		return nil
	}
	if err := c.logs.WriteBatch(c.buffer); err != nil {
		return errors.Wrap(err, "write journal batch")
	}
	c.buffer.Clear()
	c.synced = c.lsn
	return nil
}

func (c *LogManager) localBatchSyncLogger(ctx context.Context, interval time.Duration) {
	defer close(c.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				glog.Errorf("journal: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Records reads back every record in the log, oldest first.
func (c *LogManager) Records() ([]Record, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	first, err := c.logs.FirstIndex()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	last, err := c.logs.LastIndex()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	res := make([]Record, 0)
	if first == 0 {
		return res, nil
	}
	for i := first; i <= last; i++ {
		byt, err := c.logs.Read(i)
		if err != nil {
			return nil, errors.Wrapf(err, "read journal index %d", i)
		}
		var r Record
		if err := json.Unmarshal(byt, &r); err != nil {
			return nil, errors.Wrapf(err, "decode journal index %d", i)
		}
		res = append(res, r)
	}
	return res, nil
}

// Close stops the batch goroutine, writes what is buffered and closes the log.
func (c *LogManager) Close() error {
	c.latch.Lock()
	if c.closed {
		c.latch.Unlock()
		return nil
	}
	c.closed = true
	c.latch.Unlock()

	c.cancel()
	<-c.stopped

	c.latch.Lock()
	defer c.latch.Unlock()
	err := c.flushLocked()
	return errors.CombineErrors(err, c.logs.Close())
}
