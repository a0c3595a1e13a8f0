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
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/tracker/usecases/sharding"
)

// FromEnv overrides the given config with every TRACKER_* variable which is
// set
func FromEnv(config *Tracker) error {
	if v := os.Getenv("TRACKER_SHARD_METHOD"); v != "" {
		config.Shard.Method = sharding.Method(v)
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"TRACKER_SHARD_COUNT", &config.Shard.Count},
		{"TRACKER_SHARD_INSTANCE", &config.Shard.Instance},
		{"TRACKER_PARALLELISM", &config.Parallelism},
		{"TRACKER_TRANSACTION_DOCS_BATCH_SIZE", &config.TransactionDocsBatchSize},
		{"TRACKER_NODE_BATCH_SIZE", &config.NodeBatchSize},
		{"TRACKER_MAX_TRANSACTIONS", &config.MaxTransactions},
		{"TRACKER_MAINTENANCE_BATCH_COUNT", &config.MaintenanceBatchCount},
		{"TRACKER_MAX_LIVE_SEARCHERS", &config.MaxLiveSearchers},
		{"TRACKER_RECENTLY_SEEN_SIZE", &config.RecentlySeenSize},
	}
	for _, i := range ints {
		if v := os.Getenv(i.name); v != "" {
			asInt, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s as int", i.name)
			}
			*i.target = asInt
		}
	}

	int64s := []struct {
		name   string
		target *int64
	}{
		{"TRACKER_SHARD_RANGE_START", &config.Shard.RangeStart},
		{"TRACKER_SHARD_RANGE_END", &config.Shard.RangeEnd},
	}
	for _, i := range int64s {
		if v := os.Getenv(i.name); v != "" {
			asInt, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "parse %s as int", i.name)
			}
			*i.target = asInt
		}
	}

	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"TRACKER_TIME_STEP", &config.TimeStep},
		{"TRACKER_LAG", &config.Lag},
		{"TRACKER_HOLE_RETENTION", &config.HoleRetention},
		{"TRACKER_CYCLE_INTERVAL", &config.CycleInterval},
	}
	for _, d := range durations {
		if v := os.Getenv(d.name); v != "" {
			asDuration, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s as duration", d.name)
			}
			*d.target = asDuration
		}
	}

	if v := os.Getenv("TRACKER_INITIAL_TRANSACTION_RANGE"); v != "" {
		config.InitialTransactionRange = v
	}

	if v := os.Getenv("TRACKER_CASCADE_TRACKING_ENABLED"); v != "" {
		config.CascadeTrackingEnabled = enabled(v)
	}

	if v := os.Getenv("TRACKER_STATE_PATH"); v != "" {
		config.StatePath = v
	}

	return nil
}

func enabled(value string) bool {
	if value == "" {
		return false
	}

	if value == "on" ||
		value == "enabled" ||
		value == "1" ||
		value == "true" {
		return true
	}

	return false
}
