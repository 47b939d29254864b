package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuvejm/stockengine/internal/services"
)

func newTestTopics(t *testing.T, names ...string) (*pstest.Server, []*pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topics := make([]*pubsub.Topic, 0, len(names))
	for _, name := range names {
		topic, err := client.CreateTopic(ctx, name)
		if err != nil {
			t.Fatalf("CreateTopic %s: %v", name, err)
		}
		t.Cleanup(topic.Stop)
		topics = append(topics, topic)
	}
	return srv, topics
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	srv, topics := newTestTopics(t, "order-events", "stock-events")
	publisher, err := NewPubSubEventPublisher(topics[0], topics[1])
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord_01",
		OrderNumber:    "GCP-2025-014",
		PreviousStatus: "shipped",
		CurrentStatus:  "delivered",
		ActorID:        "staff-1",
		OccurredAt:     time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Metadata:       map[string]any{"effects": []string{"deduct_stock"}},
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != event.OrderNumber || payload.CurrentStatus != "delivered" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.status.changed" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["previousStatus"]; attr != "shipped" {
		t.Fatalf("expected previousStatus attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherPublishesStockEvent(t *testing.T) {
	srv, topics := newTestTopics(t, "engine-events")
	publisher, err := NewPubSubEventPublisher(topics[0], topics[0])
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.StockEvent{
		Type:          "stock.product.deactivated",
		ProductID:     "P1",
		ProductName:   "Cuve 1000L",
		MovementID:    "mv_01",
		MovementType:  "sale",
		Quantity:      -2,
		PreviousStock: 2,
		NewStock:      0,
		ActorID:       "system",
		OccurredAt:    time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishStockEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishStockEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	attrs := messages[0].Attributes
	if attrs["productId"] != "P1" || attrs["isActive"] != "false" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if _, ok := attrs["orderId"]; ok {
		t.Fatalf("empty orderId attribute should be omitted")
	}
}

func TestNewPubSubEventPublisherRequiresTopics(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil, nil); err == nil {
		t.Fatalf("expected error for missing topics")
	}
}
