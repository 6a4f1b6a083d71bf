package configs

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Debugging parameters.
var (
	ShowDebugInfo = false
	ShowTestInfo  = ShowDebugInfo
)

// System parameters.
const (
	DefaultPartitions             = 128
	DefaultSpinIterations         = 100
	DefaultDeadlockDetectInterval = 50 * time.Millisecond
	DefaultJournalBatchInterval   = 10 * time.Millisecond
	DefaultJournalDir             = "./logs/f2"
	DefaultWaitSampleSize         = 4096

	// MaxFreeLocksPerPartition bounds the recycled lock objects kept by one partition.
	MaxFreeLocksPerPartition = 64
	// MaxFreeEntriesPerClient bounds the recycled lock entries kept by one client.
	MaxFreeEntriesPerClient = 16
)

// Property keys understood by LoadFile.
const (
	PartitionsKey             = "f2.partitions"
	LockAcquisitionTimeoutKey = "f2.lock_acquisition_timeout"
	SpinIterationsKey         = "f2.spin_iterations"
	DeadlockDetectIntervalKey = "f2.deadlock_detect_interval"
	JournalEnabledKey         = "f2.journal.enabled"
	JournalDirKey             = "f2.journal.dir"
	JournalBatchIntervalKey   = "f2.journal.batch_interval"
	WaitSampleSizeKey         = "f2.stat.wait_sample_size"
)

// Workload parameters that could be changed by args.
var (
	NumberOfRecordsPerType = 10000
	NumberOfResourceTypes  = 3
	TransactionLength      = 8
	ReadPercentage         = 0.5
	YCSBDataSkewness       = 0.9
	ClientRoutineNumber    = 16
	WarmUpTime             = 2 * time.Second
	RunTestInterval        = 5
)

// Config holds the knobs consumed by the lock manager. The zero value is not
// usable; start from Default.
type Config struct {
	// Partitions is the number of partitions per resource type.
	Partitions int
	// LockAcquisitionTimeout bounds every blocking acquire. Zero or negative
	// means wait up to locks.MaxTimeOut.
	LockAcquisitionTimeout time.Duration
	// SpinIterations is the number of yields a waiter spends before parking.
	SpinIterations int
	// DeadlockDetectInterval is how often a parked client re-runs deadlock
	// detection.
	DeadlockDetectInterval time.Duration
	// WaitSampleSize bounds the wait latencies kept for percentiles.
	WaitSampleSize int

	UseJournal           bool
	JournalDir           string
	JournalBatchInterval time.Duration
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Partitions:             DefaultPartitions,
		LockAcquisitionTimeout: 0,
		SpinIterations:         DefaultSpinIterations,
		DeadlockDetectInterval: DefaultDeadlockDetectInterval,
		WaitSampleSize:         DefaultWaitSampleSize,
		UseJournal:             false,
		JournalDir:             DefaultJournalDir,
		JournalBatchInterval:   DefaultJournalBatchInterval,
	}
}

// Validate reports the first knob that cannot be used.
func (c *Config) Validate() error {
	if c.Partitions <= 0 {
		return errors.Newf("invalid partition count %d", c.Partitions)
	}
	if c.SpinIterations < 0 {
		return errors.Newf("invalid spin iterations %d", c.SpinIterations)
	}
	if c.DeadlockDetectInterval <= 0 {
		return errors.Newf("invalid deadlock detect interval %s", c.DeadlockDetectInterval)
	}
	if c.WaitSampleSize <= 0 {
		return errors.Newf("invalid wait sample size %d", c.WaitSampleSize)
	}
	if c.UseJournal {
		if c.JournalDir == "" {
			return errors.New("journal enabled without a journal directory")
		}
		if c.JournalBatchInterval <= 0 {
			return errors.Newf("invalid journal batch interval %s", c.JournalBatchInterval)
		}
	}
	return nil
}
