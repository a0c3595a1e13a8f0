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

import "github.com/weaviate/tracker/entities/txn"

// Disposition is the outcome of routing a single node.
type Disposition uint8

const (
	// Owned nodes are indexed as they are
	Owned Disposition = iota
	// CascadeUpdated and CascadeDeleted nodes belong to another shard, only a
	// narrowed record is indexed so that cross-shard relations stay informed
	CascadeUpdated
	CascadeDeleted
	// Dropped nodes belong to another shard and cascade tracking is off
	Dropped
)

func (d Disposition) String() string {
	switch d {
	case Owned:
		return "owned"
	case CascadeUpdated:
		return "cascade_updated"
	case CascadeDeleted:
		return "cascade_deleted"
	default:
		return "dropped"
	}
}

// Route decides what happens to a node. The returned node is the record to
// be indexed, it is the zero value for Dropped nodes.
func Route(node txn.Node, owned, cascade bool) (Disposition, txn.Node) {
	if owned {
		return Owned, node
	}
	if !cascade {
		return Dropped, txn.Node{}
	}

	narrowed := txn.Node{
		ID:      node.ID,
		TxnID:   node.TxnID,
		AclID:   node.AclID,
		NodeRef: node.NodeRef,
		Tenant:  node.Tenant,
	}
	if node.Status == txn.StatusUpdated {
		narrowed.Status = txn.StatusNonShardUpdated
		return CascadeUpdated, narrowed
	}
	// deleted and unknown nodes must not linger in this shard
	narrowed.Status = txn.StatusNonShardDeleted
	return CascadeDeleted, narrowed
}

// Filter routes all nodes and returns the records to be indexed by this
// shard, in input order.
func Filter(nodes []txn.Node, router Router, cascade bool) []txn.Node {
	filtered := make([]txn.Node, 0, len(nodes))
	for _, node := range nodes {
		disposition, record := Route(node, router.Owns(node), cascade)
		if disposition == Dropped {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}
