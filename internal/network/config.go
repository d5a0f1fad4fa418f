package network

import "fmt"

// ConfigError reports an invalid network parameter. Construction
// fails; values are never silently clamped into range.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("network config: %s = %v: %s", e.Field, e.Value, e.Reason)
}

// Config holds the datacenter link model parameters. Times are in
// simulated milliseconds.
type Config struct {
	// BaseDelay is the nominal one-way latency.
	BaseDelay float64 `yaml:"base_delay"`
	// Jitter is the relative deviation applied to BaseDelay: the
	// travel time is drawn uniformly from BaseDelay*(1 +/- Jitter).
	Jitter float64 `yaml:"jitter"`
	// PacketLossRate is the probability a send is silently discarded.
	PacketLossRate float64 `yaml:"packet_loss_rate"`
	// SwitchProcessingTime is the serialization cost per packet at the
	// destination's switch.
	SwitchProcessingTime float64 `yaml:"switch_processing_time"`
	// SyncDelay is the bounded-synchrony assumption: unless violated,
	// no delivery takes longer than this.
	SyncDelay float64 `yaml:"sync_delay"`
	// PSyncViolate is the probability a delivery breaks the synchrony
	// bound and is inflated well past SyncDelay.
	PSyncViolate float64 `yaml:"p_sync_violate"`
}

func (c Config) Validate() error {
	if c.BaseDelay < 0 {
		return &ConfigError{Field: "base_delay", Value: c.BaseDelay, Reason: "must be non-negative"}
	}
	if c.Jitter < 0 {
		return &ConfigError{Field: "jitter", Value: c.Jitter, Reason: "must be non-negative"}
	}
	if c.PacketLossRate < 0 || c.PacketLossRate > 1 {
		return &ConfigError{Field: "packet_loss_rate", Value: c.PacketLossRate, Reason: "must be in [0,1]"}
	}
	if c.SwitchProcessingTime < 0 {
		return &ConfigError{Field: "switch_processing_time", Value: c.SwitchProcessingTime, Reason: "must be non-negative"}
	}
	if c.SyncDelay < 0 {
		return &ConfigError{Field: "sync_delay", Value: c.SyncDelay, Reason: "must be non-negative"}
	}
	if c.PSyncViolate < 0 || c.PSyncViolate > 1 {
		return &ConfigError{Field: "p_sync_violate", Value: c.PSyncViolate, Reason: "must be in [0,1]"}
	}
	return nil
}
