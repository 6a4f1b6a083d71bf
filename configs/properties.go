package configs

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/magiconair/properties"
)

// LoadFile reads a properties file on top of Default. Keys that are absent
// keep their default value.
func LoadFile(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return FromProperties(p)
}

// FromProperties is LoadFile for an already parsed property set.
func FromProperties(p *properties.Properties) (*Config, error) {
	cfg := Default()
	cfg.Partitions = p.GetInt(PartitionsKey, cfg.Partitions)
	cfg.SpinIterations = p.GetInt(SpinIterationsKey, cfg.SpinIterations)
	cfg.WaitSampleSize = p.GetInt(WaitSampleSizeKey, cfg.WaitSampleSize)
	cfg.UseJournal = p.GetBool(JournalEnabledKey, cfg.UseJournal)
	cfg.JournalDir = p.GetString(JournalDirKey, cfg.JournalDir)

	var err error
	if cfg.LockAcquisitionTimeout, err = duration(p, LockAcquisitionTimeoutKey, cfg.LockAcquisitionTimeout); err != nil {
		return nil, err
	}
	if cfg.DeadlockDetectInterval, err = duration(p, DeadlockDetectIntervalKey, cfg.DeadlockDetectInterval); err != nil {
		return nil, err
	}
	if cfg.JournalBatchInterval, err = duration(p, JournalBatchIntervalKey, cfg.JournalBatchInterval); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func duration(p *properties.Properties, key string, def time.Duration) (time.Duration, error) {
	s, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "property %s", key)
	}
	return d, nil
}
