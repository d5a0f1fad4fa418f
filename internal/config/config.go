// Package config loads and validates a run configuration from YAML.
// The simulation core never touches files; this layer exists for the
// CLI driver and the benchmark runner.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dcsim/internal/network"
)

// Paxos holds proposer tuning.
type Paxos struct {
	RoundTimeout float64 `yaml:"round_timeout"`
	BackoffBase  float64 `yaml:"backoff_base"`
}

// PrimaryBackup holds replication tuning.
type PrimaryBackup struct {
	// Quorum is "all" (strict synchronous replication, the default)
	// or "majority".
	Quorum string `yaml:"quorum"`
	// Primary is the initial primary node id; -1 means the highest id.
	Primary            int     `yaml:"primary"`
	AutoFailover       bool    `yaml:"auto_failover"`
	HeartbeatInterval  float64 `yaml:"heartbeat_interval"`
	ElectionTimeout    float64 `yaml:"election_timeout"`
	RetransmitInterval float64 `yaml:"retransmit_interval"`
}

// Config is one full run description. Times are simulated ms.
type Config struct {
	Seed     uint64 `yaml:"seed"`
	Protocol string `yaml:"protocol"`

	NumNodes          int     `yaml:"num_nodes"`
	NumClients        int     `yaml:"num_clients"`
	RequestsPerClient int     `yaml:"requests_per_client"`
	InterRequestTime  float64 `yaml:"inter_request_time"`
	RequestTimeout    float64 `yaml:"request_timeout"`

	// RunTime bounds the run in virtual time. Zero derives a horizon
	// from the workload.
	RunTime float64 `yaml:"run_time"`

	Network       network.Config `yaml:"network"`
	Paxos         Paxos          `yaml:"paxos"`
	PrimaryBackup PrimaryBackup  `yaml:"primary_backup"`
}

// Default returns a small, valid 3-node configuration.
func Default() Config {
	return Config{
		Seed:              1,
		Protocol:          "paxos",
		NumNodes:          3,
		NumClients:        1,
		RequestsPerClient: 100,
		InterRequestTime:  1.0,
		RequestTimeout:    100,
		Network: network.Config{
			BaseDelay:            1.0,
			Jitter:               0.1,
			PacketLossRate:       0.0,
			SwitchProcessingTime: 0.05,
			SyncDelay:            5.0,
			PSyncViolate:         0.01,
		},
		Paxos: Paxos{
			RoundTimeout: 50,
			BackoffBase:  5,
		},
		PrimaryBackup: PrimaryBackup{
			Quorum:             "all",
			Primary:            -1,
			AutoFailover:       false,
			HeartbeatInterval:  50,
			ElectionTimeout:    150,
			RetransmitInterval: 20,
		},
	}
}

// Load reads path and unmarshals it over the defaults, so a file only
// needs to name what it changes.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Protocol == "" {
		return fmt.Errorf("config: protocol must be set")
	}
	if c.NumNodes < 1 {
		return fmt.Errorf("config: num_nodes = %d, need at least 1", c.NumNodes)
	}
	if c.NumClients < 0 {
		return fmt.Errorf("config: num_clients = %d, must be non-negative", c.NumClients)
	}
	if c.RequestsPerClient < 0 {
		return fmt.Errorf("config: requests_per_client = %d, must be non-negative", c.RequestsPerClient)
	}
	if c.InterRequestTime <= 0 {
		return fmt.Errorf("config: inter_request_time = %v, must be positive", c.InterRequestTime)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout = %v, must be positive", c.RequestTimeout)
	}
	if c.RunTime < 0 {
		return fmt.Errorf("config: run_time = %v, must be non-negative", c.RunTime)
	}
	switch c.PrimaryBackup.Quorum {
	case "", "all", "majority":
	default:
		return fmt.Errorf("config: primary_backup.quorum = %q, want all or majority", c.PrimaryBackup.Quorum)
	}
	return c.Network.Validate()
}

// Horizon is the virtual-time bound for the run: RunTime if set,
// otherwise two and a half times the nominal workload duration, which
// leaves room for retries under loss.
func (c *Config) Horizon() float64 {
	if c.RunTime > 0 {
		return c.RunTime
	}
	return c.InterRequestTime * float64(c.RequestsPerClient) * 2.5
}
