package glitch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration fully determines a simulation run together with the node
// and client set. Identical configurations and seeds produce identical runs.
type Configuration struct {
	// Seed for the single RNG stream all randomness derives from.
	Seed uint64
	// TickInterval is the virtual period between global ticks.
	TickInterval time.Duration
	// MaxSimTime is the hard cap on virtual time. Exceeding it without
	// every client finishing is a liveness failure.
	MaxSimTime time.Duration
	// CheckEveryNEvents additionally runs the invariant checker every N
	// processed events. Zero checks only at ticks.
	CheckEveryNEvents int

	Network NetworkConfig
	Failure FailureConfig
}

// NetworkConfig controls message latency, duplication, link outages, and
// network partitions.
type NetworkConfig struct {
	MinMessageLatency time.Duration
	MaxMessageLatency time.Duration

	// DuplicateProbability is the chance that a send schedules a second,
	// independent delivery of the same message. At most one duplicate per
	// send.
	DuplicateProbability float64

	// HoldProbability is the chance that a failing link holds traffic
	// instead of dropping it. Held messages are released, with fresh
	// latency samples, when the link recovers.
	HoldProbability float64

	// MeanTimeBetweenLinkFailures enables link outages when non-nil.
	MeanTimeBetweenLinkFailures *time.Duration
	MeanLinkRecoveryTime        time.Duration

	// MeanTimeBetweenPartitions enables network partitions when non-nil.
	// Partitions split the server nodes into two or more groups that
	// cannot reach each other; clients are never partitioned.
	MeanTimeBetweenPartitions *time.Duration
	MeanPartitionRecoveryTime time.Duration
}

// FailureConfig controls node crashes and recoveries.
type FailureConfig struct {
	// MeanTimeBetweenFailures enables node crashes when non-nil. A crash
	// is only admitted while a strict minority of nodes is down.
	MeanTimeBetweenFailures *time.Duration
	MeanTimeToRecover       time.Duration
}

// DefaultConfiguration returns a configuration with moderate fault rates:
// all fault classes enabled, 10% duplication, 30% link holds.
func DefaultConfiguration() Configuration {
	linkMTBF := 1000 * time.Millisecond
	partitionMTBF := 4000 * time.Millisecond
	nodeMTBF := 3000 * time.Millisecond
	return Configuration{
		Seed:         1,
		TickInterval: 50 * time.Millisecond,
		MaxSimTime:   10 * time.Second,
		Network: NetworkConfig{
			MinMessageLatency:           0,
			MaxMessageLatency:           100 * time.Millisecond,
			DuplicateProbability:        0.1,
			HoldProbability:             0.3,
			MeanTimeBetweenLinkFailures: &linkMTBF,
			MeanLinkRecoveryTime:        300 * time.Millisecond,
			MeanTimeBetweenPartitions:   &partitionMTBF,
			MeanPartitionRecoveryTime:   1000 * time.Millisecond,
		},
		Failure: FailureConfig{
			MeanTimeBetweenFailures: &nodeMTBF,
			MeanTimeToRecover:       2000 * time.Millisecond,
		},
	}
}

// ReliableNetwork returns a configuration with every fault class disabled:
// messages are only delayed, never lost, duplicated, or reordered by
// outages.
func ReliableNetwork() Configuration {
	cfg := DefaultConfiguration()
	cfg.Network.DuplicateProbability = 0
	cfg.Network.HoldProbability = 0
	cfg.Network.MeanTimeBetweenLinkFailures = nil
	cfg.Network.MeanTimeBetweenPartitions = nil
	cfg.Failure.MeanTimeBetweenFailures = nil
	return cfg
}

func (c *Configuration) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfiguration)
	}
	if c.MaxSimTime <= 0 {
		return fmt.Errorf("%w: max simulation time must be positive", ErrInvalidConfiguration)
	}
	if c.CheckEveryNEvents < 0 {
		return fmt.Errorf("%w: check frequency must be non-negative", ErrInvalidConfiguration)
	}
	n := &c.Network
	if n.MinMessageLatency < 0 {
		return fmt.Errorf("%w: min message latency must be non-negative", ErrInvalidConfiguration)
	}
	if n.MaxMessageLatency < n.MinMessageLatency {
		return fmt.Errorf("%w: max message latency %s is below min %s",
			ErrInvalidConfiguration, n.MaxMessageLatency, n.MinMessageLatency)
	}
	if n.DuplicateProbability < 0 || n.DuplicateProbability > 1 {
		return fmt.Errorf("%w: duplicate probability %v outside [0,1]",
			ErrInvalidConfiguration, n.DuplicateProbability)
	}
	if n.HoldProbability < 0 || n.HoldProbability > 1 {
		return fmt.Errorf("%w: hold probability %v outside [0,1]",
			ErrInvalidConfiguration, n.HoldProbability)
	}
	if n.MeanTimeBetweenLinkFailures != nil {
		if *n.MeanTimeBetweenLinkFailures <= 0 {
			return fmt.Errorf("%w: mean time between link failures must be positive", ErrInvalidConfiguration)
		}
		if n.MeanLinkRecoveryTime <= 0 {
			return fmt.Errorf("%w: mean link recovery time must be positive", ErrInvalidConfiguration)
		}
	}
	if n.MeanTimeBetweenPartitions != nil {
		if *n.MeanTimeBetweenPartitions <= 0 {
			return fmt.Errorf("%w: mean time between partitions must be positive", ErrInvalidConfiguration)
		}
		if n.MeanPartitionRecoveryTime <= 0 {
			return fmt.Errorf("%w: mean partition recovery time must be positive", ErrInvalidConfiguration)
		}
	}
	f := &c.Failure
	if f.MeanTimeBetweenFailures != nil {
		if *f.MeanTimeBetweenFailures <= 0 {
			return fmt.Errorf("%w: mean time between node failures must be positive", ErrInvalidConfiguration)
		}
		if f.MeanTimeToRecover <= 0 {
			return fmt.Errorf("%w: mean node recovery time must be positive", ErrInvalidConfiguration)
		}
	}
	return nil
}

// configFile mirrors Configuration for YAML decoding, with durations
// written as strings like "50ms".
type configFile struct {
	Seed              uint64    `yaml:"seed"`
	TickInterval      yamlDur   `yaml:"tickInterval"`
	MaxSimTime        yamlDur   `yaml:"maxSimTime"`
	CheckEveryNEvents int       `yaml:"checkEveryNEvents"`
	Network           netFile   `yaml:"network"`
	Failure           failsFile `yaml:"failure"`
}

type netFile struct {
	MinMessageLatency           yamlDur  `yaml:"minMessageLatency"`
	MaxMessageLatency           yamlDur  `yaml:"maxMessageLatency"`
	DuplicateProbability        float64  `yaml:"duplicateProbability"`
	HoldProbability             float64  `yaml:"holdProbability"`
	MeanTimeBetweenLinkFailures *yamlDur `yaml:"meanTimeBetweenLinkFailures"`
	MeanLinkRecoveryTime        yamlDur  `yaml:"meanLinkRecoveryTime"`
	MeanTimeBetweenPartitions   *yamlDur `yaml:"meanTimeBetweenPartitions"`
	MeanPartitionRecoveryTime   yamlDur  `yaml:"meanPartitionRecoveryTime"`
}

type failsFile struct {
	MeanTimeBetweenFailures *yamlDur `yaml:"meanTimeBetweenFailures"`
	MeanTimeToRecover       yamlDur  `yaml:"meanTimeToRecover"`
}

type yamlDur time.Duration

func (d *yamlDur) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = yamlDur(parsed)
	return nil
}

func optional(d *yamlDur) *time.Duration {
	if d == nil {
		return nil
	}
	v := time.Duration(*d)
	return &v
}

// LoadConfiguration reads and validates a YAML configuration file. Absent
// fault sections disable the corresponding fault class.
func LoadConfiguration(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("reading configuration: %w", err)
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Configuration{}, fmt.Errorf("parsing configuration: %w", err)
	}
	cfg := Configuration{
		Seed:              file.Seed,
		TickInterval:      time.Duration(file.TickInterval),
		MaxSimTime:        time.Duration(file.MaxSimTime),
		CheckEveryNEvents: file.CheckEveryNEvents,
		Network: NetworkConfig{
			MinMessageLatency:           time.Duration(file.Network.MinMessageLatency),
			MaxMessageLatency:           time.Duration(file.Network.MaxMessageLatency),
			DuplicateProbability:        file.Network.DuplicateProbability,
			HoldProbability:             file.Network.HoldProbability,
			MeanTimeBetweenLinkFailures: optional(file.Network.MeanTimeBetweenLinkFailures),
			MeanLinkRecoveryTime:        time.Duration(file.Network.MeanLinkRecoveryTime),
			MeanTimeBetweenPartitions:   optional(file.Network.MeanTimeBetweenPartitions),
			MeanPartitionRecoveryTime:   time.Duration(file.Network.MeanPartitionRecoveryTime),
		},
		Failure: FailureConfig{
			MeanTimeBetweenFailures: optional(file.Failure.MeanTimeBetweenFailures),
			MeanTimeToRecover:       time.Duration(file.Failure.MeanTimeToRecover),
		},
	}
	if err := cfg.validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}
