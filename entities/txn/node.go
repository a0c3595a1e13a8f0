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

package txn

import "fmt"

type NodeStatus uint8

const (
	StatusUnknown NodeStatus = iota
	StatusUpdated
	StatusDeleted
	// non shard statuses are narrowed records for nodes owned by another shard
	StatusNonShardUpdated
	StatusNonShardDeleted
)

func (s NodeStatus) String() string {
	switch s {
	case StatusUpdated:
		return "UPDATED"
	case StatusDeleted:
		return "DELETED"
	case StatusNonShardUpdated:
		return "NON_SHARD_UPDATED"
	case StatusNonShardDeleted:
		return "NON_SHARD_DELETED"
	default:
		return "UNKNOWN"
	}
}

// Node is a single content item changed by a transaction. Nodes are never
// persisted by the tracker itself, only handed over to the index.
type Node struct {
	ID      int64      `json:"id"`
	TxnID   int64      `json:"txnId"`
	Status  NodeStatus `json:"status"`
	AclID   int64      `json:"aclId"`
	NodeRef string     `json:"nodeRef"`
	Tenant  string     `json:"tenant"`
	// ShardPropertyValue is only set when the repository was asked for it
	ShardPropertyValue string `json:"shardPropertyValue,omitempty"`
}

// Placeholder returns a node the index has to resolve on its own, used when
// a node is (re)indexed by id outside of a transaction.
func Placeholder(id int64) Node {
	return Node{
		ID:     id,
		Status: StatusUnknown,
		TxnID:  1<<63 - 1,
	}
}

func (n Node) String() string {
	return fmt.Sprintf("Node{id=%d, txnId=%d, status=%s, aclId=%d, nodeRef=%q, tenant=%q}",
		n.ID, n.TxnID, n.Status, n.AclID, n.NodeRef, n.Tenant)
}
