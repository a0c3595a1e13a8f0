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

package monitoring

import "github.com/prometheus/client_golang/prometheus"

// NoopRegisterer accepts every collector without exposing it. Trackers
// built without a registry still get working, unexported metrics.
type NoopRegisterer struct{}

func (n *NoopRegisterer) Register(prometheus.Collector) error {
	return nil
}

func (n *NoopRegisterer) MustRegister(...prometheus.Collector) {
}

func (n *NoopRegisterer) Unregister(prometheus.Collector) bool {
	return true
}
