package benchmark

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/pingcap/go-ycsb/pkg/generator"
	"golang.org/x/sync/errgroup"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/locking"
	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

// Workload describes the YCSB style lock traffic: every transaction locks
// TransactionLength zipfian distributed records, shared with probability
// ReadPercentage and exclusive otherwise.
type Workload struct {
	Types             []resource.Type
	RecordsPerType    int
	TransactionLength int
	ReadPercentage    float64
	Skewness          float64
	Clients           int
	// SortKeys makes each transaction lock its records in key order, which
	// rules out deadlocks.
	SortKeys bool
	// HoldTime is how long a transaction keeps its locks before committing.
	HoldTime time.Duration
	WarmUp   time.Duration
	Duration time.Duration
}

// DefaultWorkload builds a workload from the configs workload parameters.
func DefaultWorkload() *Workload {
	types := resource.DefaultResourceTypes
	if configs.NumberOfResourceTypes < len(types) {
		types = types[:configs.NumberOfResourceTypes]
	}
	return &Workload{
		Types:             types,
		RecordsPerType:    configs.NumberOfRecordsPerType,
		TransactionLength: configs.TransactionLength,
		ReadPercentage:    configs.ReadPercentage,
		Skewness:          configs.YCSBDataSkewness,
		Clients:           configs.ClientRoutineNumber,
		WarmUp:            configs.WarmUpTime,
		Duration:          time.Duration(configs.RunTestInterval) * time.Second,
	}
}

func (w *Workload) Validate() error {
	if len(w.Types) == 0 {
		return errors.New("workload needs at least one resource type")
	}
	if w.RecordsPerType < 2 || w.TransactionLength <= 0 || w.Clients <= 0 {
		return errors.Newf("invalid workload: %d records, %d locks per txn, %d clients",
			w.RecordsPerType, w.TransactionLength, w.Clients)
	}
	if w.ReadPercentage < 0 || w.ReadPercentage > 1 {
		return errors.Newf("invalid read percentage %v", w.ReadPercentage)
	}
	return nil
}

// TxnOpt is one lock request of a generated transaction.
type TxnOpt struct {
	Key       resource.Key
	Exclusive bool
}

type YCSBStmt struct {
	stat    *utils.Stat
	manager *locking.Manager
	wl      *Workload
	stop    int32
}

type YCSBClient struct {
	md   int
	from *YCSBStmt
	r    *rand.Rand
	zip  *generator.Zipfian
}

func NewYCSBStmt(manager *locking.Manager, wl *Workload) *YCSBStmt {
	return &YCSBStmt{stat: utils.NewStat(), manager: manager, wl: wl}
}

func (c *YCSBClient) generateTxnOpts(TID uint64) []TxnOpt {
	wl := c.from.wl
	opts := make([]TxnOpt, 0, wl.TransactionLength)
	for i := 0; i < wl.TransactionLength; i++ {
		t := wl.Types[c.r.Intn(len(wl.Types))]
		key := resource.NewKey(t, c.zip.Next(c.r))
		isRead := c.r.Float64() < wl.ReadPercentage
		configs.TPrintf("TXN" + strconv.FormatUint(TID, 10) + ": " + key.String() + " read=" + strconv.FormatBool(isRead))
		opts = append(opts, TxnOpt{Key: key, Exclusive: !isRead})
	}
	if wl.SortKeys {
		// exclusive first per key, so a repeated key never needs an upgrade
		keys := make([]resource.Key, 0, len(opts))
		exclusive := make(map[resource.Key]bool, len(opts))
		for _, o := range opts {
			if _, ok := exclusive[o.Key]; !ok {
				keys = append(keys, o.Key)
			}
			exclusive[o.Key] = exclusive[o.Key] || o.Exclusive
		}
		resource.SortKeys(keys)
		opts = opts[:0]
		for _, k := range keys {
			opts = append(opts, TxnOpt{Key: k, Exclusive: exclusive[k]})
		}
	}
	return opts
}

// runOnce executes opts with a fresh lock client and always closes it.
func (c *YCSBClient) runOnce(ctx context.Context, opts []TxnOpt) error {
	client, err := c.from.manager.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()
	for _, o := range opts {
		if o.Exclusive {
			err = client.AcquireExclusive(ctx, o.Key.Type, o.Key.ID)
		} else {
			err = client.AcquireShared(ctx, o.Key.Type, o.Key.ID)
		}
		if err != nil {
			return err
		}
	}
	if c.from.wl.HoldTime > 0 {
		time.Sleep(c.from.wl.HoldTime)
	}
	return nil
}

// performTransaction retries opts until they all get locked, the error is
// not transient, or the statement is stopped.
func (c *YCSBClient) performTransaction(ctx context.Context, TID uint64, opts []TxnOpt) *utils.Info {
	defer configs.TimeTrack(time.Now(), "performTransaction")
	info := utils.NewInfo()
	start := time.Now()
	for {
		err := c.runOnce(ctx, opts)
		if err == nil {
			info.IsCommit = true
			break
		}
		switch {
		case errors.Is(err, utils.ErrDeadlockDetected):
			info.Outcome = utils.Deadlock
		case errors.Is(err, utils.ErrLockTimeout):
			info.Outcome = utils.Timeout
		default:
			info.Outcome = utils.Stopped
		}
		if !utils.IsTransient(err) || c.from.Stopped() {
			configs.DPrintf("TXN%v: Abort on client %v: %v", TID, c.md, err)
			break
		}
		info.RetryCount++
		configs.DPrintf("TXN%v: Retry on client %v: %v", TID, c.md, err)
	}
	info.Latency = time.Since(start)
	if info.IsCommit {
		configs.DPrintf("TXN%v: Commit on client %v", TID, c.md)
	}
	return info
}

func (stmt *YCSBStmt) Stopped() bool {
	return atomic.LoadInt32(&stmt.stop) != 0
}

func (stmt *YCSBStmt) Stop() {
	atomic.StoreInt32(&stmt.stop, 1)
}

func (stmt *YCSBStmt) startYCSBClient(ctx context.Context, seed int, md int) error {
	client := YCSBClient{md: md, from: stmt}
	client.r = rand.New(rand.NewSource(int64(seed)*11 + 31))
	client.zip = generator.NewZipfianWithRange(0, int64(stmt.wl.RecordsPerType-1), stmt.wl.Skewness)
	for !stmt.Stopped() && ctx.Err() == nil {
		TID := utils.GetTxnID()
		info := client.performTransaction(ctx, TID, client.generateTxnOpts(TID))
		if info.IsCommit || !stmt.Stopped() {
			stmt.stat.Append(info)
		}
	}
	return nil
}

// Run drives the workload for WarmUp plus Duration and returns the summary
// of the measured part.
func (stmt *YCSBStmt) Run(ctx context.Context) (utils.Summary, error) {
	if err := stmt.wl.Validate(); err != nil {
		return utils.Summary{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < stmt.wl.Clients; i++ {
		i := i
		g.Go(func() error { return stmt.startYCSBClient(gctx, i*11+13, i) })
	}
	configs.TPrintf("All clients Started")

	sleep := func(d time.Duration) bool {
		select {
		case <-time.After(d):
			return true
		case <-ctx.Done():
			return false
		}
	}
	var res utils.Summary
	if sleep(stmt.wl.WarmUp) {
		stmt.stat.Clear()
		stmt.manager.Stat().Clear()
		sleep(stmt.wl.Duration)
	}
	res = stmt.stat.Summary()
	stmt.Stop()
	cancel()
	if err := g.Wait(); err != nil {
		return res, err
	}
	glog.Info(res.String())
	glog.Infof("lock waits: %s", stmt.manager.Stat().Summary().String())
	return res, nil
}
