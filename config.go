package rudp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable named in spec.md §6. Zero-value Config
// is not directly usable — construct one with NewConfig or LoadConfig so
// every field gets its documented default.
type Config struct {
	ARQ  ARQConfig
	Pool PoolConfig
}

// ARQConfig mirrors the retry/RTO/liveness/ack-batching tunables from
// spec.md §6.
type ARQConfig struct {
	MaxRetries         int
	InitialRTO         time.Duration
	MinRTO             time.Duration
	MaxRTO             time.Duration
	IdleTimeout        time.Duration
	PeerGCTimeout      time.Duration
	AckBatchFlushEvery time.Duration
	CleanupEvery       time.Duration
}

// PoolConfig mirrors the buffer pool tunables from spec.md §6.
type PoolConfig struct {
	InitialCapacity int
	MaxCapacity     int
}

// NewConfig returns a Config populated with every default from
// spec.md §6.
func NewConfig() Config {
	return Config{
		ARQ: ARQConfig{
			MaxRetries:         defaultMaxRetries,
			InitialRTO:         defaultInitialRTO,
			MinRTO:             defaultMinRTO,
			MaxRTO:             defaultMaxRTO,
			IdleTimeout:        defaultIdleTimeout,
			PeerGCTimeout:      defaultPeerGCTimeout,
			AckBatchFlushEvery: defaultAckFlushPeriod,
			CleanupEvery:       defaultCleanupEvery,
		},
		Pool: PoolConfig{
			InitialCapacity: defaultPoolInitialCapacity,
			MaxCapacity:     defaultPoolMaxCapacity,
		},
	}
}

// configDoc is the YAML-facing shape of Config. Durations are expressed
// in plain millisecond integers rather than Go duration strings,
// matching the "_ms"-suffixed convention the reference pack's own
// configuration layer uses throughout (yaml.v3 has no built-in
// time.Duration scalar support, so every duration tunable in the pack's
// config structs is a plain integer already).
type configDoc struct {
	ARQ struct {
		MaxRetries           int `yaml:"max_retries"`
		InitialRTOMs         int `yaml:"initial_rto_ms"`
		MinRTOMs             int `yaml:"min_rto_ms"`
		MaxRTOMs             int `yaml:"max_rto_ms"`
		IdleTimeoutMs        int `yaml:"idle_timeout_ms"`
		PeerGCTimeoutMs      int `yaml:"peer_gc_timeout_ms"`
		AckBatchFlushEveryMs int `yaml:"ack_batch_flush_interval_ms"`
		CleanupEveryMs       int `yaml:"cleanup_interval_ms"`
	} `yaml:"arq"`
	Pool struct {
		InitialCapacity int `yaml:"initial_capacity"`
		MaxCapacity     int `yaml:"max_capacity"`
	} `yaml:"pool"`
}

func docFromConfig(c Config) configDoc {
	var d configDoc
	d.ARQ.MaxRetries = c.ARQ.MaxRetries
	d.ARQ.InitialRTOMs = int(c.ARQ.InitialRTO / time.Millisecond)
	d.ARQ.MinRTOMs = int(c.ARQ.MinRTO / time.Millisecond)
	d.ARQ.MaxRTOMs = int(c.ARQ.MaxRTO / time.Millisecond)
	d.ARQ.IdleTimeoutMs = int(c.ARQ.IdleTimeout / time.Millisecond)
	d.ARQ.PeerGCTimeoutMs = int(c.ARQ.PeerGCTimeout / time.Millisecond)
	d.ARQ.AckBatchFlushEveryMs = int(c.ARQ.AckBatchFlushEvery / time.Millisecond)
	d.ARQ.CleanupEveryMs = int(c.ARQ.CleanupEvery / time.Millisecond)
	d.Pool.InitialCapacity = c.Pool.InitialCapacity
	d.Pool.MaxCapacity = c.Pool.MaxCapacity
	return d
}

func configFromDoc(d configDoc) Config {
	return Config{
		ARQ: ARQConfig{
			MaxRetries:         d.ARQ.MaxRetries,
			InitialRTO:         time.Duration(d.ARQ.InitialRTOMs) * time.Millisecond,
			MinRTO:             time.Duration(d.ARQ.MinRTOMs) * time.Millisecond,
			MaxRTO:             time.Duration(d.ARQ.MaxRTOMs) * time.Millisecond,
			IdleTimeout:        time.Duration(d.ARQ.IdleTimeoutMs) * time.Millisecond,
			PeerGCTimeout:      time.Duration(d.ARQ.PeerGCTimeoutMs) * time.Millisecond,
			AckBatchFlushEvery: time.Duration(d.ARQ.AckBatchFlushEveryMs) * time.Millisecond,
			CleanupEvery:       time.Duration(d.ARQ.CleanupEveryMs) * time.Millisecond,
		},
		Pool: PoolConfig{
			InitialCapacity: d.Pool.InitialCapacity,
			MaxCapacity:     d.Pool.MaxCapacity,
		},
	}
}

// LoadConfig decodes a YAML document into a Config seeded with defaults,
// rejecting unknown fields so a typo in a config file fails loudly
// instead of silently falling back to a default.
func LoadConfig(path string) (Config, error) {
	doc := docFromConfig(NewConfig())

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("rudp: open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("rudp: decode config: %w", err)
	}

	cfg := configFromDoc(doc)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent configuration: a non-positive min_rto,
// max_rto below min_rto, initial_rto outside [min_rto, max_rto],
// negative retry or pool counts, or an initial pool capacity above the
// maximum. It does not enforce fixed RTO bounds such as 200ms or 3s.
func (c Config) Validate() error {
	if c.ARQ.MinRTO <= 0 {
		return fmt.Errorf("rudp: min_rto must be positive")
	}
	if c.ARQ.MaxRTO < c.ARQ.MinRTO {
		return fmt.Errorf("rudp: max_rto (%s) must be >= min_rto (%s)", c.ARQ.MaxRTO, c.ARQ.MinRTO)
	}
	if c.ARQ.InitialRTO < c.ARQ.MinRTO || c.ARQ.InitialRTO > c.ARQ.MaxRTO {
		return fmt.Errorf("rudp: initial_rto must be within [min_rto, max_rto]")
	}
	if c.ARQ.MaxRetries < 0 {
		return fmt.Errorf("rudp: max_retries must be >= 0")
	}
	if c.Pool.InitialCapacity < 0 || c.Pool.MaxCapacity < 0 {
		return fmt.Errorf("rudp: pool capacities must be >= 0")
	}
	if c.Pool.InitialCapacity > c.Pool.MaxCapacity {
		return fmt.Errorf("rudp: pool initial_capacity must be <= max_capacity")
	}
	return nil
}
