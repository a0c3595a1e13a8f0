//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/tracker/usecases/sharding"
)

const (
	DefaultConfigFile = "./tracker.conf.yaml"

	DefaultParallelism              = 32
	DefaultTransactionDocsBatchSize = 2000
	DefaultNodeBatchSize            = 50
	DefaultMaxTransactions          = 2000
	DefaultInitialTransactionRange  = "0-2000"
	DefaultTimeStep                 = time.Hour
	DefaultLag                      = time.Second
	DefaultHoleRetention            = time.Hour
	DefaultMaintenanceBatchCount    = 1000
	DefaultMaxLiveSearchers         = 2
	DefaultRecentlySeenSize         = 100
	DefaultCycleInterval            = 10 * time.Second
)

// Tracker configures the metadata tracker of a single index shard.
type Tracker struct {
	Shard sharding.Config `json:"shard" yaml:"shard"`

	// Parallelism bounds the node batches indexed concurrently
	Parallelism int `json:"parallelism" yaml:"parallelism"`
	// TransactionDocsBatchSize bounds the updates and deletes of the
	// transactions grouped into one batch
	TransactionDocsBatchSize int `json:"transaction_docs_batch_size" yaml:"transaction_docs_batch_size"`
	NodeBatchSize            int `json:"node_batch_size" yaml:"node_batch_size"`
	// MaxTransactions is the limit of a single repository query
	MaxTransactions         int    `json:"max_transactions" yaml:"max_transactions"`
	InitialTransactionRange string `json:"initial_transaction_range" yaml:"initial_transaction_range"`

	TimeStep      time.Duration `json:"time_step" yaml:"time_step"`
	Lag           time.Duration `json:"lag" yaml:"lag"`
	HoleRetention time.Duration `json:"hole_retention" yaml:"hole_retention"`

	MaintenanceBatchCount  int  `json:"maintenance_batch_count" yaml:"maintenance_batch_count"`
	MaxLiveSearchers       int  `json:"max_live_searchers" yaml:"max_live_searchers"`
	CascadeTrackingEnabled bool `json:"cascade_tracking_enabled" yaml:"cascade_tracking_enabled"`
	RecentlySeenSize       int  `json:"recently_seen_size" yaml:"recently_seen_size"`

	CycleInterval time.Duration `json:"cycle_interval" yaml:"cycle_interval"`
	// StatePath is the bolt file holding the cursors of all shards
	StatePath string `json:"state_path" yaml:"state_path"`
}

// DefaultTracker returns a single shard DB_ID configuration.
func DefaultTracker() Tracker {
	return Tracker{
		Shard: sharding.Config{
			Method: sharding.MethodDBID,
			Count:  1,
		},
		Parallelism:              DefaultParallelism,
		TransactionDocsBatchSize: DefaultTransactionDocsBatchSize,
		NodeBatchSize:            DefaultNodeBatchSize,
		MaxTransactions:          DefaultMaxTransactions,
		InitialTransactionRange:  DefaultInitialTransactionRange,
		TimeStep:                 DefaultTimeStep,
		Lag:                      DefaultLag,
		HoleRetention:            DefaultHoleRetention,
		MaintenanceBatchCount:    DefaultMaintenanceBatchCount,
		MaxLiveSearchers:         DefaultMaxLiveSearchers,
		CascadeTrackingEnabled:   true,
		RecentlySeenSize:         DefaultRecentlySeenSize,
		CycleInterval:            DefaultCycleInterval,
	}
}

func (t Tracker) Validate() error {
	if err := t.Shard.Validate(); err != nil {
		return errors.Wrap(err, "shard")
	}

	positive := map[string]int{
		"parallelism":                 t.Parallelism,
		"transaction_docs_batch_size": t.TransactionDocsBatchSize,
		"node_batch_size":             t.NodeBatchSize,
		"max_transactions":            t.MaxTransactions,
		"maintenance_batch_count":     t.MaintenanceBatchCount,
		"max_live_searchers":          t.MaxLiveSearchers,
		"recently_seen_size":          t.RecentlySeenSize,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if t.TimeStep <= 0 {
		return fmt.Errorf("time_step must be positive, got %s", t.TimeStep)
	}
	if t.Lag < 0 {
		return fmt.Errorf("lag must not be negative, got %s", t.Lag)
	}
	if t.HoleRetention < 0 {
		return fmt.Errorf("hole_retention must not be negative, got %s", t.HoleRetention)
	}
	if t.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive, got %s", t.CycleInterval)
	}

	if _, _, err := t.InitialRange(); err != nil {
		return err
	}
	return nil
}

// InitialRange parses the transaction id range holding the first
// repository transaction, e.g. "0-2000".
func (t Tracker) InitialRange() (from, to int64, err error) {
	parts := strings.Split(strings.TrimSpace(t.InitialTransactionRange), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("initial_transaction_range must look like 'from-to', got %q",
			t.InitialTransactionRange)
	}

	from, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse initial_transaction_range start")
	}
	to, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse initial_transaction_range end")
	}
	if to <= from {
		return 0, 0, fmt.Errorf("initial_transaction_range end %d must be greater than start %d", to, from)
	}
	return from, to, nil
}

// ShardName identifies the cursor and the write lock of the shard.
func (t Tracker) ShardName() string {
	if t.Shard.Method == sharding.MethodDBIDRange {
		return fmt.Sprintf("%s-%d-%d", strings.ToLower(string(t.Shard.Method)),
			t.Shard.RangeStart, t.Shard.RangeEnd)
	}
	return fmt.Sprintf("%s-%d-of-%d", strings.ToLower(string(t.Shard.Method)),
		t.Shard.Instance, t.Shard.Count)
}

// LoadConfig reads the config file if present, applies the environment on
// top and validates the result.
func LoadConfig(configFileName string, logger logrus.FieldLogger) (Tracker, error) {
	if configFileName == "" {
		configFileName = DefaultConfigFile
	}

	config := DefaultTracker()

	file, err := os.ReadFile(configFileName)
	_ = err // a missing file leaves the defaults in place

	if len(file) > 0 {
		logger.WithField("action", "config_load").WithField("config_file_path", configFileName).
			Info("loading tracker config file")
		if err := parseConfigFile(file, configFileName, &config); err != nil {
			return config, configErr(err)
		}
	}

	if err := FromEnv(&config); err != nil {
		return config, configErr(err)
	}

	if err := config.Validate(); err != nil {
		return config, configErr(err)
	}
	return config, nil
}

func parseConfigFile(file []byte, name string, config *Tracker) error {
	switch ext := strings.TrimPrefix(filepath.Ext(name), "."); ext {
	case "json":
		if err := json.Unmarshal(file, config); err != nil {
			return fmt.Errorf("error unmarshalling the json config file: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(file, config); err != nil {
			return fmt.Errorf("error unmarshalling the yaml config file: %w", err)
		}
	case "":
		return fmt.Errorf("config file does not have a file ending, got '%s'", name)
	default:
		return fmt.Errorf("unsupported config file extension '%s', use .yaml or .json", ext)
	}
	return nil
}

func configErr(err error) error {
	return fmt.Errorf("invalid config: %w", err)
}
