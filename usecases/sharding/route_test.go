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

package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weaviate/tracker/entities/txn"
)

func TestRoute(t *testing.T) {
	node := txn.Node{
		ID:                 7,
		TxnID:              3,
		Status:             txn.StatusUpdated,
		AclID:              11,
		NodeRef:            "workspace://SpacesStore/7",
		Tenant:             "acme",
		ShardPropertyValue: "x",
	}

	t.Run("owned", func(t *testing.T) {
		d, record := Route(node, true, true)
		assert.Equal(t, Owned, d)
		assert.Equal(t, node, record)
	})

	t.Run("cascade updated", func(t *testing.T) {
		d, record := Route(node, false, true)
		assert.Equal(t, CascadeUpdated, d)
		assert.Equal(t, txn.Node{
			ID:      7,
			TxnID:   3,
			Status:  txn.StatusNonShardUpdated,
			AclID:   11,
			NodeRef: "workspace://SpacesStore/7",
			Tenant:  "acme",
		}, record)
	})

	t.Run("cascade deleted", func(t *testing.T) {
		deleted := node
		deleted.Status = txn.StatusDeleted

		d, record := Route(deleted, false, true)
		assert.Equal(t, CascadeDeleted, d)
		assert.Equal(t, txn.StatusNonShardDeleted, record.Status)
		assert.Empty(t, record.ShardPropertyValue)
	})

	t.Run("dropped", func(t *testing.T) {
		d, record := Route(node, false, false)
		assert.Equal(t, Dropped, d)
		assert.Equal(t, txn.Node{}, record)
	})
}

func TestFilter(t *testing.T) {
	router := NewRangeRouter(0, 10)
	nodes := []txn.Node{
		{ID: 1, Status: txn.StatusUpdated},
		{ID: 12, Status: txn.StatusUpdated},
		{ID: 3, Status: txn.StatusDeleted},
		{ID: 14, Status: txn.StatusDeleted},
	}

	t.Run("with cascade", func(t *testing.T) {
		filtered := Filter(nodes, router, true)
		assert.Equal(t, []txn.Node{
			{ID: 1, Status: txn.StatusUpdated},
			{ID: 12, Status: txn.StatusNonShardUpdated},
			{ID: 3, Status: txn.StatusDeleted},
			{ID: 14, Status: txn.StatusNonShardDeleted},
		}, filtered)
	})

	t.Run("without cascade", func(t *testing.T) {
		filtered := Filter(nodes, router, false)
		assert.Equal(t, []txn.Node{
			{ID: 1, Status: txn.StatusUpdated},
			{ID: 3, Status: txn.StatusDeleted},
		}, filtered)
	})
}
