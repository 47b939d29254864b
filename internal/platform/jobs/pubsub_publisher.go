package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/cuvejm/stockengine/internal/platform/textutil"
	"github.com/cuvejm/stockengine/internal/services"
)

// PubSubEventPublisher publishes order and stock domain events to Pub/Sub topics.
type PubSubEventPublisher struct {
	orders  *pubsub.Topic
	stock   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var (
	_ services.OrderEventPublisher = (*PubSubEventPublisher)(nil)
	_ services.StockEventPublisher = (*PubSubEventPublisher)(nil)
)

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Both topics may be the same.
func NewPubSubEventPublisher(orders, stock *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orders == nil {
		return nil, errors.New("pubsub event publisher: order topic is required")
	}
	if stock == nil {
		return nil, errors.New("pubsub event publisher: stock topic is required")
	}
	return &PubSubEventPublisher{
		orders:  orders,
		stock:   stock,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent sends an order lifecycle event and waits for the server acknowledgement.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := textutil.CompactAttributes(map[string]string{
		"eventType":      event.Type,
		"orderId":        event.OrderID,
		"orderNumber":    event.OrderNumber,
		"previousStatus": event.PreviousStatus,
		"currentStatus":  event.CurrentStatus,
	})
	return p.publish(ctx, p.orders, "order event", data, attrs)
}

// PublishStockEvent sends a ledger event and waits for the server acknowledgement.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	if p == nil || p.stock == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}
	attrs := textutil.CompactAttributes(map[string]string{
		"eventType":     event.Type,
		"productId":     event.ProductID,
		"movementType":  event.MovementType,
		"orderId":       event.OrderID,
		"receiptNumber": event.ReceiptNumber,
		"isActive":      strconv.FormatBool(event.IsActive),
	})
	return p.publish(ctx, p.stock, "stock event", data, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, kind string, data []byte, attrs map[string]string) error {
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}
