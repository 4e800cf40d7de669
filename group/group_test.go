package group

import (
	"testing"

	"github.com/youssefsiam38/pattern/id"
)

func TestManagerConfig_RoundTrip(t *testing.T) {
	manager := id.NewAgentID()

	cases := []ManagerConfig{
		RoundRobin{},
		Supervisor{ManagerID: manager, MaxTurns: 5},
		Dynamic{ManagerID: manager, TerminationToken: "DONE", MaxTurns: 8},
		Sleeptime{Trigger: "idle:10m", Priority: 2},
	}

	for _, cfg := range cases {
		doc := EncodeManagerConfig(cfg)
		if doc == nil {
			t.Fatalf("EncodeManagerConfig(%#v) = nil", cfg)
		}
		got := DecodeManagerConfig(doc)
		if got == nil {
			t.Fatalf("DecodeManagerConfig(%v) = nil", doc)
		}
		if got.Kind() != cfg.Kind() {
			t.Errorf("Kind() = %q, want %q", got.Kind(), cfg.Kind())
		}
		if got != cfg {
			t.Errorf("round trip = %#v, want %#v", got, cfg)
		}
	}
}

func TestDecodeManagerConfig_UnknownKind(t *testing.T) {
	if cfg := DecodeManagerConfig(map[string]any{"kind": "nonsense"}); cfg != nil {
		t.Errorf("DecodeManagerConfig(unknown) = %#v, want nil", cfg)
	}
}

func TestDecodeManagerConfig_SupervisorBadManagerID(t *testing.T) {
	cfg := DecodeManagerConfig(map[string]any{"kind": "supervisor", "manager_id": "not-an-id"})
	if cfg != nil {
		t.Errorf("DecodeManagerConfig(bad manager_id) = %#v, want nil", cfg)
	}
}
