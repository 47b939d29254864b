package services

import domain "github.com/cuvejm/stockengine/internal/domain"

// TransitionEffect is a side effect attached to an order status transition.
type TransitionEffect string

const (
	EffectDeductStock             TransitionEffect = "deduct_stock"
	EffectRestoreStock            TransitionEffect = "restore_stock"
	EffectSetCancellationReason   TransitionEffect = "set_cancellation_reason"
	EffectClearCancellationReason TransitionEffect = "clear_cancellation_reason"
)

// transitionEffects returns the effects of moving an order from one status to another. Every pair
// is accepted, backward moves included. Stock effects follow stockDeducted rather than the status
// alone, so delivered → shipped → delivered deducts once and any cancellation while stock is
// deducted restores it.
func transitionEffects(from domain.OrderStatus, stockDeducted bool, to domain.OrderStatus) []TransitionEffect {
	deducted := stockDeducted || from == domain.OrderStatusDelivered
	entersCancelled := to == domain.OrderStatusCancelled && from != domain.OrderStatusCancelled

	var effects []TransitionEffect
	if from == domain.OrderStatusCancelled && to != domain.OrderStatusCancelled {
		effects = append(effects, EffectClearCancellationReason)
	}
	switch {
	case to == domain.OrderStatusDelivered && !deducted:
		effects = append(effects, EffectDeductStock)
	case entersCancelled && deducted:
		effects = append(effects, EffectRestoreStock)
	}
	if entersCancelled {
		effects = append(effects, EffectSetCancellationReason)
	}
	return effects
}

// stockDeductedAfter reports the StockDeducted flag once effects have been applied. Orders stored
// before the flag existed count as deducted while they sit in delivered.
func stockDeductedAfter(from domain.OrderStatus, stockDeducted bool, effects []TransitionEffect) bool {
	deducted := stockDeducted || from == domain.OrderStatusDelivered
	for _, effect := range effects {
		switch effect {
		case EffectDeductStock:
			deducted = true
		case EffectRestoreStock:
			deducted = false
		}
	}
	return deducted
}

// historyWithInitial returns a copy of history, regenerating the initial entry when it is empty.
func historyWithInitial(order domain.Order) []domain.OrderStatusChange {
	if len(order.StatusHistory) > 0 {
		return order.SortedHistory()
	}
	status := order.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	return []domain.OrderStatusChange{{
		Status:    status,
		ChangedAt: order.CreatedAt,
		ChangedBy: domain.SystemActorID,
		Notes:     domain.HistoryNoteInitial,
	}}
}
