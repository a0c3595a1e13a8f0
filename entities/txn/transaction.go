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

// Unknown marks a server side bound the repository did not report.
const Unknown = int64(-1)

// Transaction is an atomic unit of repository change. Transactions are
// ordered by commit time, ties are broken by id.
type Transaction struct {
	ID           int64 `json:"id" msgpack:"id"`
	CommitTimeMs int64 `json:"commitTimeMs" msgpack:"commitTimeMs"`
	Updates      int32 `json:"updates" msgpack:"updates"`
	Deletes      int32 `json:"deletes" msgpack:"deletes"`
}

// After reports whether t sorts strictly after (commitTimeMs, id).
func (t Transaction) After(commitTimeMs, id int64) bool {
	return t.CommitTimeMs > commitTimeMs ||
		(t.CommitTimeMs == commitTimeMs && t.ID > id)
}

// Changes is the number of node documents touched by the transaction.
func (t Transaction) Changes() int64 {
	return int64(t.Updates) + int64(t.Deletes)
}

func (t Transaction) IsEmpty() bool {
	return t.Updates <= 0 && t.Deletes <= 0
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction{id=%d, commitTimeMs=%d, updates=%d, deletes=%d}",
		t.ID, t.CommitTimeMs, t.Updates, t.Deletes)
}

// Batch is the answer of a transaction query. MaxCommitTime and MaxID are
// the highest values known to the repository at query time, independent of
// the returned page; both are Unknown when the repository did not say.
type Batch struct {
	Transactions  []Transaction
	MaxCommitTime int64
	MaxID         int64
}

func NewBatch(transactions []Transaction, maxCommitTime, maxID int64) Batch {
	return Batch{
		Transactions:  transactions,
		MaxCommitTime: maxCommitTime,
		MaxID:         maxID,
	}
}

// EmptyBatch returns a batch without transactions and without server bounds.
func EmptyBatch() Batch {
	return Batch{MaxCommitTime: Unknown, MaxID: Unknown}
}

func (b Batch) Len() int {
	return len(b.Transactions)
}

func (b Batch) HasServerBounds() bool {
	return b.MaxCommitTime != Unknown && b.MaxID != Unknown
}

// WithTransactions returns a copy of b carrying the given page but the same
// server bounds.
func (b Batch) WithTransactions(transactions []Transaction) Batch {
	return Batch{
		Transactions:  transactions,
		MaxCommitTime: b.MaxCommitTime,
		MaxID:         b.MaxID,
	}
}

// IDs returns the ids of all transactions in the batch in order.
func IDs(transactions []Transaction) []int64 {
	ids := make([]int64, len(transactions))
	for i := range transactions {
		ids[i] = transactions[i].ID
	}
	return ids
}

// Changes sums the update and delete counts of the given transactions.
func Changes(transactions []Transaction) int64 {
	var count int64
	for i := range transactions {
		count += transactions[i].Changes()
	}
	return count
}
