//go:build integration

package notify

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("CAMPUSDESK_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	bus := NewRedisBus(client, "campusdesk:test:"+uuid.NewString()[:8])
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Event{Key: "requests", Revision: 7, Value: []byte(`[]`)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ev := recv(t, ch)
	if ev.Key != "requests" || ev.Revision != 7 || string(ev.Value) != `[]` {
		t.Errorf("event = %+v", ev)
	}
}
