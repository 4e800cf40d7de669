package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/youssefsiam38/pattern/patternlog"
)

func TestLoggingEndpoint_DeliverReturnsIncrementingIDs(t *testing.T) {
	var buf strings.Builder
	e := NewLoggingEndpoint(patternlog.NewWriter("test", "info", &buf))

	first, err := e.Deliver(context.Background(), "user-1", "hello")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	second, err := e.Deliver(context.Background(), "user-1", "again")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if first == second {
		t.Errorf("expected distinct external IDs, got %q twice", first)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Error("expected delivered content to be logged")
	}
}

func TestNewLoggingEndpoint_NilLoggerDefaults(t *testing.T) {
	e := NewLoggingEndpoint(nil)
	if e.Logger == nil {
		t.Fatal("expected a default logger to be assigned")
	}
}
