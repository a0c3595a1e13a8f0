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

package concurrency

import (
	"context"
)

type budgetKey struct{}

func (budgetKey) String() string {
	return "concurrency_budget"
}

// CtxWithBudget limits the number of goroutines a callee may use for the
// work done on behalf of ctx.
func CtxWithBudget(ctx context.Context, budget int) context.Context {
	return context.WithValue(ctx, budgetKey{}, budget)
}

// BudgetFromCtx returns the budget attached to ctx, or fallback. A budget
// is never lower than 1.
func BudgetFromCtx(ctx context.Context, fallback int) int {
	budget, ok := ctx.Value(budgetKey{}).(int)
	if !ok {
		budget = fallback
	}

	return max(budget, 1)
}
