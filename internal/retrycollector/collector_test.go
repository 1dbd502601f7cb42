package retrycollector

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kyaraben/kyaraben/internal/broker"
)

func TestBackoff(t *testing.T) {
	min := 1 * time.Second
	max := 30 * time.Second

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{1, 1500 * time.Millisecond},
		{2, 2250 * time.Millisecond},
		{3, 3375 * time.Millisecond},
		{9, max}, // 1.5^9 ≈ 38.4s, capped
		{50, max},
		{1000, max}, // overflow territory still capped
	}
	for _, tt := range tests {
		if got := Backoff(tt.retries, min, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	min := 1 * time.Second
	max := 30 * time.Second
	prev := time.Duration(0)
	for k := 1; k < 20; k++ {
		d := Backoff(k, min, max)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v < Backoff(%d) = %v", k, d, k-1, prev)
		}
		prev = d
	}
}

func deathHeaders(retries int64) amqp.Table {
	h := amqp.Table{
		broker.HeaderTask: "avm_create",
		"x-death": []interface{}{
			amqp.Table{
				"exchange":     "orchestration",
				"routing-keys": []interface{}{"orchestration"},
				"reason":       "rejected",
			},
		},
	}
	if retries > 0 {
		h[broker.HeaderRetries] = retries
	}
	return h
}

func TestPlanRepostFirstRetry(t *testing.T) {
	repost, err := PlanRepost(deathHeaders(0), time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("PlanRepost: %v", err)
	}

	if repost.Exchange != "orchestration" {
		t.Errorf("exchange = %q", repost.Exchange)
	}
	if repost.RoutingKey != "orchestration" {
		t.Errorf("routing key = %q", repost.RoutingKey)
	}
	if got := repost.Headers[broker.HeaderRetries]; got != int64(1) {
		t.Errorf("retries header = %v", got)
	}
	if got := repost.Headers[broker.HeaderDelay]; got != int64(1500) {
		t.Errorf("delay header = %v, want 1500", got)
	}
	if _, present := repost.Headers["x-death"]; present {
		t.Error("x-death must not be carried on the reposted message")
	}
	if repost.Headers[broker.HeaderTask] != "avm_create" {
		t.Error("user headers must be preserved")
	}
}

func TestPlanRepostIncrementsRetries(t *testing.T) {
	repost, err := PlanRepost(deathHeaders(4), time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("PlanRepost: %v", err)
	}
	if got := repost.Headers[broker.HeaderRetries]; got != int64(5) {
		t.Errorf("retries header = %v, want 5", got)
	}
	// 1.5^5 = 7.59375s
	if got := repost.Headers[broker.HeaderDelay]; got != int64(7593) {
		t.Errorf("delay header = %v, want 7593", got)
	}
}

func TestPlanRepostCapsDelay(t *testing.T) {
	repost, err := PlanRepost(deathHeaders(40), time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("PlanRepost: %v", err)
	}
	if got := repost.Headers[broker.HeaderDelay]; got != int64(30000) {
		t.Errorf("delay header = %v, want 30000 (cap)", got)
	}
}

func TestPlanRepostWithoutDeath(t *testing.T) {
	_, err := PlanRepost(amqp.Table{broker.HeaderTask: "x"}, time.Second, time.Minute)
	if err == nil {
		t.Error("expected error for message without x-death")
	}
}
