package id

import "testing"

func TestAgentIDRoundTrip(t *testing.T) {
	a := NewAgentID()
	s := a.String()
	parsed, err := ParseAgentID(s)
	if err != nil {
		t.Fatalf("ParseAgentID: %v", err)
	}
	if parsed != a {
		t.Fatalf("round trip mismatch: got %v, want %v", parsed, a)
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	u := NewUserID()
	if _, err := ParseAgentID(u.String()); err == nil {
		t.Fatal("expected error parsing a user id as an agent id")
	}
}

func TestParseRejectsMalformedUUID(t *testing.T) {
	if _, err := ParseAgentID("agent_not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestDistinctIDTypesDoNotCollideOnTableName(t *testing.T) {
	prefixes := map[string]bool{}
	for _, p := range []string{
		UserID{}.Table(), AgentID{}.Table(), MemoryBlockID{}.Table(),
		MessageID{}.Table(), ToolCallID{}.Table(), GroupID{}.Table(),
		DataSourceID{}.Table(),
	} {
		if prefixes[p] {
			t.Fatalf("duplicate table name %q across id types", p)
		}
		prefixes[p] = true
	}
}
