package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/jakewins/neo4j-sub001/benchmark"
	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/resource"
)

var (
	configFile     string
	partitions     int
	timeout        time.Duration
	detectInterval time.Duration
	spin           int
	journalDir     string
	useJournal     bool
	con            int
	l              int
	rw             float64
	sk             float64
	tb             int
	types          []string
	hold           time.Duration
	warmUp         time.Duration
	duration       time.Duration
	sorted         bool
	debug          bool
	cpuProfile     string
	memProfile     string
)

func init() {
	pflag.StringVar(&configFile, "config", "", "a .properties file with f2.* lock manager settings")
	pflag.IntVar(&partitions, "partitions", configs.DefaultPartitions, "the number of partitions per resource type")
	pflag.DurationVar(&timeout, "timeout", 0, "the lock acquisition timeout, 0 to wait up to an hour")
	pflag.DurationVar(&detectInterval, "detect-interval", configs.DefaultDeadlockDetectInterval, "how often a waiting client re-runs deadlock detection")
	pflag.IntVar(&spin, "spin", configs.DefaultSpinIterations, "the yields a waiter spends before parking")
	pflag.BoolVar(&useJournal, "journal", false, "journal deadlocks and timeouts")
	pflag.StringVar(&journalDir, "journal-dir", configs.DefaultJournalDir, "the journal directory")
	pflag.IntVarP(&con, "clients", "c", configs.ClientRoutineNumber, "the number of clients")
	pflag.IntVar(&l, "len", configs.TransactionLength, "the locks per transaction")
	pflag.Float64Var(&rw, "rw", configs.ReadPercentage, "the shared lock percentage")
	pflag.Float64Var(&sk, "skew", configs.YCSBDataSkewness, "the skew factor for ycsb zipf")
	pflag.IntVar(&tb, "tb", configs.NumberOfRecordsPerType, "the records per resource type")
	pflag.StringSliceVar(&types, "types", []string{"NODE", "RELATIONSHIP", "SCHEMA"}, "the resource types to lock")
	pflag.DurationVar(&hold, "hold", 0, "how long a transaction holds its locks")
	pflag.DurationVar(&warmUp, "warmup", configs.WarmUpTime, "the warm up time")
	pflag.DurationVar(&duration, "duration", time.Duration(configs.RunTestInterval)*time.Second, "the measured time")
	pflag.BoolVar(&sorted, "sorted", false, "lock the records of a transaction in key order")
	pflag.BoolVar(&debug, "debug", false, "print debug info")
	pflag.StringVar(&cpuProfile, "cpu_prof", "", "write cpu profiling")
	pflag.StringVar(&memProfile, "mem_prof", "", "write memory profiling")
	// glog registers its flags on the standard flag set
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

func resourceTypes(names []string) ([]resource.Type, error) {
	res := make([]resource.Type, 0, len(names))
	for _, n := range names {
		found := false
		for _, t := range resource.DefaultResourceTypes {
			if strings.EqualFold(t.Name, n) {
				res = append(res, t)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Newf("unknown resource type %q", n)
		}
	}
	return res, nil
}

func main() {
	pflag.Parse()
	defer glog.Flush()

	cfg := configs.Default()
	if configFile != "" {
		var err error
		cfg, err = configs.LoadFile(configFile)
		configs.CheckError(err)
	}
	if pflag.CommandLine.Changed("partitions") {
		cfg.Partitions = partitions
	}
	if pflag.CommandLine.Changed("timeout") {
		cfg.LockAcquisitionTimeout = timeout
	}
	if pflag.CommandLine.Changed("detect-interval") {
		cfg.DeadlockDetectInterval = detectInterval
	}
	if pflag.CommandLine.Changed("spin") {
		cfg.SpinIterations = spin
	}
	if pflag.CommandLine.Changed("journal") {
		cfg.UseJournal = useJournal
	}
	if pflag.CommandLine.Changed("journal-dir") {
		cfg.JournalDir = journalDir
	}
	configs.ShowDebugInfo = debug
	configs.ShowTestInfo = debug

	glog.Infof("lock manager config: %s", configs.JToString(cfg))

	rts, err := resourceTypes(types)
	configs.CheckError(err)
	wl := &benchmark.Workload{
		Types:             rts,
		RecordsPerType:    tb,
		TransactionLength: l,
		ReadPercentage:    rw,
		Skewness:          sk,
		Clients:           con,
		SortKeys:          sorted,
		HoldTime:          hold,
		WarmUp:            warmUp,
		Duration:          duration,
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			glog.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			glog.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := benchmark.TestYCSB(ctx, cfg, wl)
	configs.CheckError(err)
	fmt.Println(res.String())

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			glog.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			glog.Fatal("could not write memory profile: ", err)
		}
	}
}
