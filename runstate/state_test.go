package runstate

import "testing"

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Ready, Processing, true},
		{Ready, Suspended, true},
		{Ready, Error, false},
		{Processing, Ready, true},
		{Processing, Error, true},
		{Processing, Processing, true},
		{Error, Ready, true},
		{Error, Processing, true},
		{Error, Suspended, false},
		{Suspended, Ready, true},
		{Suspended, Processing, false},
		{Cooldown, Ready, true},
		{Cooldown, Processing, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransitionRejectsUnknownStates(t *testing.T) {
	if err := Transition(State("bogus"), Ready); err == nil {
		t.Fatal("expected error for unknown source state")
	}
}

func TestIsAutoRecoverable(t *testing.T) {
	if !IsAutoRecoverable(RestartBatch{}) {
		t.Error("RestartBatch should be auto-recoverable")
	}
	if !IsAutoRecoverable(RestartFromLastExternal{SkipUntil: 5}) {
		t.Error("RestartFromLastExternal should be auto-recoverable")
	}
	if IsAutoRecoverable(ManualOnly{Reason: "needs a human"}) {
		t.Error("ManualOnly should not be auto-recoverable")
	}
	if IsAutoRecoverable(Selective{}) {
		t.Error("bare Selective should not be treated as auto-recoverable")
	}
}

func TestStopReasonNextState(t *testing.T) {
	if StopReasonEndTurn.NextState() != Ready {
		t.Error("end_turn should move to Ready")
	}
	if StopReasonToolUse.NextState() != Processing {
		t.Error("tool_use should stay in Processing")
	}
	if !StopReasonEndTurn.IsTerminal() {
		t.Error("end_turn should be terminal")
	}
	if StopReasonToolUse.IsTerminal() {
		t.Error("tool_use should not be terminal")
	}
}
