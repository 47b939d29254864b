package services

import domain "github.com/cuvejm/stockengine/internal/domain"

// StockDecision is the outcome of applying a delta to a product.
type StockDecision struct {
	PreviousStock int64
	NewStock      int64
	// Clamped is set when the delta would have taken stock below zero.
	Clamped     bool
	IsActive    bool
	Deactivated bool
	Reactivated bool
}

// EvaluateStock computes the stock and availability a product ends up with after delta.
// Stock never goes negative. A deduction that empties an active product deactivates it; receptions
// and positive adjustments bring an inactive product back once it has stock, while restorations only
// do so for products that were emptied. Sales and losses never reactivate.
func EvaluateStock(product domain.Product, delta int64, movementType domain.MovementType) StockDecision {
	previous := max(product.Stock, 0)
	raw := previous + delta
	decision := StockDecision{
		PreviousStock: previous,
		NewStock:      max(raw, 0),
		Clamped:       raw < 0,
		IsActive:      product.IsActive,
	}

	if delta < 0 && decision.NewStock == 0 && product.IsActive {
		decision.IsActive = false
		decision.Deactivated = true
		return decision
	}

	if product.IsActive || decision.NewStock <= 0 {
		return decision
	}
	if reactivates(movementType, delta, previous) {
		decision.IsActive = true
		decision.Reactivated = true
	}
	return decision
}

func reactivates(movementType domain.MovementType, delta, previous int64) bool {
	switch movementType {
	case domain.MovementReception:
		return true
	case domain.MovementAdjustment, domain.MovementCorrection:
		return delta > 0
	case domain.MovementReturn:
		return previous == 0
	default:
		return false
	}
}
