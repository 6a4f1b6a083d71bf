package utils

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Outcome of one lock acquisition attempt.
type Outcome int

const (
	Granted Outcome = iota
	Timeout
	Deadlock
	Stopped
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Timeout:
		return "timeout"
	case Deadlock:
		return "deadlock"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Info describes one acquisition or one transaction, depending on who records it.
type Info struct {
	Outcome    Outcome
	Blocked    bool
	Latency    time.Duration
	RetryCount int
	IsCommit   bool
}

func NewInfo() *Info {
	return &Info{Outcome: Granted}
}

// DefaultSampleSize bounds the latencies a Stat keeps for its percentiles.
const DefaultSampleSize = 4096

// Stat aggregates Info records between two Clear calls. Counts and the
// average are exact; percentiles come from a reservoir sample of at most
// sampleSize latencies, so retention does not grow with the number of records.
type Stat struct {
	mu         *sync.Mutex
	sum        Summary
	latencySum int64
	latencyCnt int64
	samples    []int64
	sampleSize int
	rnd        *rand.Rand
	beginTime  time.Time
	endTime    time.Time
}

func NewStat() *Stat {
	return NewStatWithSampleSize(DefaultSampleSize)
}

func NewStatWithSampleSize(size int) *Stat {
	if size <= 0 {
		size = DefaultSampleSize
	}
	res := &Stat{
		mu:         &sync.Mutex{},
		samples:    make([]int64, 0, Min(size, 1024)),
		sampleSize: size,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		beginTime:  time.Now(),
		endTime:    time.Now(),
	}
	return res
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endTime = time.Now()
	st.sum.Count++
	st.sum.Retries += info.RetryCount
	if info.IsCommit {
		st.sum.Committed++
	}
	if info.Blocked {
		st.sum.Blocked++
	}
	switch info.Outcome {
	case Timeout:
		st.sum.Timeouts++
	case Deadlock:
		st.sum.Deadlocks++
	case Stopped:
		st.sum.Stopped++
	}
	if info.Latency <= 0 {
		return
	}
	st.latencySum += int64(info.Latency)
	st.latencyCnt++
	if len(st.samples) < st.sampleSize {
		st.samples = append(st.samples, int64(info.Latency))
	} else if j := st.rnd.Int63n(st.latencyCnt); j < int64(st.sampleSize) {
		st.samples[j] = int64(info.Latency)
	}
}

// Retained is the number of latencies currently kept for percentiles.
func (st *Stat) Retained() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.samples)
}

// Summary is the aggregate of the records collected since the last Clear.
type Summary struct {
	Count     int
	Committed int
	Blocked   int
	Timeouts  int
	Deadlocks int
	Stopped   int
	Retries   int
	P50       time.Duration
	P90       time.Duration
	P99       time.Duration
	Average   time.Duration
	Elapsed   time.Duration
}

func (st *Stat) Summary() Summary {
	st.mu.Lock()
	res := st.sum
	res.Elapsed = st.endTime.Sub(st.beginTime)
	latencies := append([]int64(nil), st.samples...)
	if st.latencyCnt > 0 {
		res.Average = time.Duration(st.latencySum / st.latencyCnt)
	}
	st.mu.Unlock()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	if n := len(latencies); n > 0 {
		res.P99 = time.Duration(latencies[Min((n*99+99)/100, n-1)])
		res.P90 = time.Duration(latencies[Min((n*9+9)/10, n-1)])
		res.P50 = time.Duration(latencies[Min((n+1)/2, n-1)])
	}
	return res
}

func (s Summary) String() string {
	msg := "txn_cnt:" + strconv.Itoa(s.Count) + ";"
	msg += "commit:" + strconv.Itoa(s.Committed) + ";"
	msg += "blocked:" + strconv.Itoa(s.Blocked) + ";"
	msg += "timeout_abort:" + strconv.Itoa(s.Timeouts) + ";"
	msg += "deadlock_abort:" + strconv.Itoa(s.Deadlocks) + ";"
	msg += "retry:" + strconv.Itoa(s.Retries) + ";"
	if s.Count > 0 && s.Average > 0 {
		msg += "p99_latency:" + s.P99.String() + ";"
		msg += "p90_latency:" + s.P90.String() + ";"
		msg += "p50_latency:" + s.P50.String() + ";"
		msg += "ave_latency:" + s.Average.String() + ";"
	} else {
		msg += "p99_latency:nil;"
		msg += "p90_latency:nil;"
		msg += "p50_latency:nil;"
		msg += "ave_latency:nil;"
	}
	if s.Elapsed > 0 {
		msg += "throughput:" + fmt.Sprintf("%.1f", float64(s.Committed)/s.Elapsed.Seconds()) + "/s;"
	}
	return msg
}

func (st *Stat) Log() {
	glog.Info(st.Summary().String())
}

func (st *Stat) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sum = Summary{}
	st.latencySum = 0
	st.latencyCnt = 0
	st.samples = st.samples[:0]
	st.beginTime = time.Now()
	st.endTime = st.beginTime
}
