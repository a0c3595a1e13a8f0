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
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/weaviate/tracker/entities/txn"
)

// Method is the policy which distributes nodes over the shards of an index.
type Method string

const (
	// MethodDBID hashes the node id
	MethodDBID Method = "DB_ID"
	// MethodDBIDRange assigns a contiguous, growable range of node ids
	MethodDBIDRange Method = "DB_ID_RANGE"
	// MethodACLID hashes the acl id so that nodes sharing an acl stay together
	MethodACLID Method = "ACL_ID"
	// MethodModACLID is the plain modulo of the acl id
	MethodModACLID Method = "MOD_ACL_ID"
)

// Config describes the shard a tracker is responsible for.
type Config struct {
	Method   Method `json:"method" yaml:"method"`
	Count    int    `json:"count" yaml:"count"`
	Instance int    `json:"instance" yaml:"instance"`
	// RangeStart and RangeEnd are only used by MethodDBIDRange, the range is
	// inclusive-exclusive
	RangeStart int64 `json:"range_start" yaml:"range_start"`
	RangeEnd   int64 `json:"range_end" yaml:"range_end"`
}

func (c Config) Validate() error {
	switch c.Method {
	case MethodDBIDRange:
		if c.RangeStart < 0 || c.RangeEnd <= c.RangeStart {
			return fmt.Errorf("invalid %s range [%d, %d)", c.Method, c.RangeStart, c.RangeEnd)
		}
		return nil
	case MethodDBID, MethodACLID, MethodModACLID:
		if c.Count < 1 {
			return fmt.Errorf("shard count must be at least 1, got %d", c.Count)
		}
		if c.Instance < 0 || c.Instance >= c.Count {
			return fmt.Errorf("shard instance %d out of bounds for %d shards", c.Instance, c.Count)
		}
		return nil
	default:
		return fmt.Errorf("unsupported shard method %q", c.Method)
	}
}

// Router decides which nodes belong to this shard instance.
type Router interface {
	Owns(node txn.Node) bool
}

// NewRouter builds the router for the given config. For MethodDBIDRange the
// returned router is a *RangeRouter.
func NewRouter(cfg Config) (Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Method {
	case MethodDBIDRange:
		return NewRangeRouter(cfg.RangeStart, cfg.RangeEnd), nil
	case MethodDBID:
		return &hashRouter{count: uint32(cfg.Count), instance: uint32(cfg.Instance), key: nodeID}, nil
	case MethodACLID:
		return &hashRouter{count: uint32(cfg.Count), instance: uint32(cfg.Instance), key: aclID}, nil
	default:
		return &modRouter{count: int64(cfg.Count), instance: int64(cfg.Instance)}, nil
	}
}

func nodeID(n txn.Node) int64 { return n.ID }
func aclID(n txn.Node) int64  { return n.AclID }

type hashRouter struct {
	count    uint32
	instance uint32
	key      func(txn.Node) int64
}

func (r *hashRouter) Owns(node txn.Node) bool {
	if r.count <= 1 {
		return true
	}
	return hashID(r.key(node))%r.count == r.instance
}

func hashID(id int64) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return murmur3.Sum32(buf[:])
}

type modRouter struct {
	count    int64
	instance int64
}

func (r *modRouter) Owns(node txn.Node) bool {
	mod := node.AclID % r.count
	if mod < 0 {
		mod = -mod
	}
	return mod == r.instance
}
