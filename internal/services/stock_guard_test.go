package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

func TestEvaluateStock(t *testing.T) {
	cases := []struct {
		name     string
		product  domain.Product
		delta    int64
		mvType   domain.MovementType
		expected StockDecision
	}{
		{
			name:     "negative adjustment empties and deactivates",
			product:  domain.Product{Stock: 5, IsActive: true},
			delta:    -5,
			mvType:   domain.MovementAdjustment,
			expected: StockDecision{PreviousStock: 5, NewStock: 0, IsActive: false, Deactivated: true},
		},
		{
			name:     "sale is clamped at zero",
			product:  domain.Product{Stock: 1, IsActive: true},
			delta:    -3,
			mvType:   domain.MovementSale,
			expected: StockDecision{PreviousStock: 1, NewStock: 0, Clamped: true, IsActive: false, Deactivated: true},
		},
		{
			name:     "sale leaving stock keeps product active",
			product:  domain.Product{Stock: 10, IsActive: true},
			delta:    -2,
			mvType:   domain.MovementSale,
			expected: StockDecision{PreviousStock: 10, NewStock: 8, IsActive: true},
		},
		{
			name:     "reception reactivates",
			product:  domain.Product{Stock: 0, IsActive: false},
			delta:    3,
			mvType:   domain.MovementReception,
			expected: StockDecision{PreviousStock: 0, NewStock: 3, IsActive: true, Reactivated: true},
		},
		{
			name:     "positive correction reactivates",
			product:  domain.Product{Stock: 0, IsActive: false},
			delta:    2,
			mvType:   domain.MovementCorrection,
			expected: StockDecision{PreviousStock: 0, NewStock: 2, IsActive: true, Reactivated: true},
		},
		{
			name:     "restoration reactivates an emptied product",
			product:  domain.Product{Stock: 0, IsActive: false},
			delta:    2,
			mvType:   domain.MovementReturn,
			expected: StockDecision{PreviousStock: 0, NewStock: 2, IsActive: true, Reactivated: true},
		},
		{
			name:     "restoration keeps a manually disabled product inactive",
			product:  domain.Product{Stock: 4, IsActive: false},
			delta:    2,
			mvType:   domain.MovementReturn,
			expected: StockDecision{PreviousStock: 4, NewStock: 6, IsActive: false},
		},
		{
			name:     "loss on inactive product stays inactive",
			product:  domain.Product{Stock: 3, IsActive: false},
			delta:    -1,
			mvType:   domain.MovementLoss,
			expected: StockDecision{PreviousStock: 3, NewStock: 2, IsActive: false},
		},
		{
			name:     "deduction on inactive empty product is not a deactivation",
			product:  domain.Product{Stock: 0, IsActive: false},
			delta:    -1,
			mvType:   domain.MovementAdjustment,
			expected: StockDecision{PreviousStock: 0, NewStock: 0, Clamped: true, IsActive: false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, EvaluateStock(tc.product, tc.delta, tc.mvType))
		})
	}
}
