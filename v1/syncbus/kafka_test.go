package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaBus(t *testing.T) *KafkaBus {
	t.Helper()
	addr := os.Getenv("SECKILL_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("SECKILL_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	bus, err := NewKafkaBus([]string{addr}, "test-"+uuid.NewString(), config)
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestKafkaBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus := newKafkaBus(t)
	ctx := context.Background()

	// Creates the topic so the partition consumer can attach.
	if err := bus.Publish(ctx, "warmup"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(2 * time.Second)

	if err := bus.Publish(ctx, "cache:shop:1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case key := <-ch:
		if key != "cache:shop:1" {
			t.Fatalf("unexpected key %q", key)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for publish")
	}
	if m := bus.Metrics(); m.Published != 2 {
		t.Fatalf("expected published 2 got %d", m.Published)
	}
}
