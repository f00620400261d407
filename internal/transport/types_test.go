package transport

import (
	"fmt"
	"testing"
	"time"
)

func TestCommandOptionAccessors(t *testing.T) {
	c := &Command{Options: map[string]any{"wins": int64(12), "tag": "UN", "confirm": true, "page": "3"}}
	if n, ok := c.Int("wins"); !ok || n != 12 {
		t.Fatalf("Int(wins) = %d %v", n, ok)
	}
	if n, ok := c.Int("page"); !ok || n != 3 {
		t.Fatalf("Int(page) = %d %v", n, ok)
	}
	if s, ok := c.String("tag"); !ok || s != "UN" {
		t.Fatalf("String(tag) = %q %v", s, ok)
	}
	if _, ok := c.String("missing"); ok {
		t.Fatal("missing option reported present")
	}
	if b, ok := c.Bool("confirm"); !ok || !b {
		t.Fatal("Bool(confirm) failed")
	}
}

func TestAsRateLimitUnwraps(t *testing.T) {
	err := fmt.Errorf("add role: %w", &RateLimitError{RetryAfter: 2 * time.Second, Op: "role_add"})
	rl, ok := AsRateLimit(err)
	if !ok || rl.RetryAfter != 2*time.Second {
		t.Fatalf("AsRateLimit = %+v %v", rl, ok)
	}
}

func TestMemberLabel(t *testing.T) {
	if got := (Member{ID: "1", Username: "u", DisplayName: "Nick"}).Label(); got != "Nick (1)" {
		t.Fatalf("Label = %q", got)
	}
	if got := (Member{ID: "1"}).Label(); got != "1" {
		t.Fatalf("Label = %q", got)
	}
}
