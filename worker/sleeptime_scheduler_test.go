package worker

import (
	"context"
	"testing"
	"time"

	"github.com/youssefsiam38/pattern/group"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/runstate"
)

func newSleeptimeGroup(t *testing.T, s *fakeStore, coord *group.Coordinator, member id.AgentID, trigger string, priority int) id.GroupID {
	t.Helper()
	groupID, err := coord.CreateGroup(context.Background(), "sleeper", "", []id.AgentID{member}, nil,
		group.Sleeptime{Trigger: trigger, Priority: priority}, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	row, _, _ := s.Select(context.Background(), "group", groupID.String())
	row["_group"] = true
	row["updated_at"] = time.Now().Add(-time.Hour)
	s.rows[groupID.String()] = row
	return groupID
}

func TestSleeptimeScheduler_WakesIdleGroup(t *testing.T) {
	s := newFakeStore()
	member := id.NewAgentID()
	newFakeAgent(s, member, runstate.Ready)

	provider := &fakeProvider{responses: []*model.Response{endTurnResponse("woke up")}}
	eng := newEngine(s, provider)
	coord := group.New(s, eng, "instance-1")

	newSleeptimeGroup(t, s, coord, member, "idle:1ms", 1)

	sched := NewSleeptimeScheduler(s, coord, time.Millisecond)
	sched.tick(context.Background())

	if provider.call == 0 {
		t.Error("sleeptime tick did not drive any model call")
	}
}

func TestSleeptimeScheduler_SkipsNotYetDueGroup(t *testing.T) {
	s := newFakeStore()
	member := id.NewAgentID()
	newFakeAgent(s, member, runstate.Ready)

	provider := &fakeProvider{responses: []*model.Response{endTurnResponse("unused")}}
	eng := newEngine(s, provider)
	coord := group.New(s, eng, "instance-1")

	groupID, err := coord.CreateGroup(context.Background(), "sleeper", "", []id.AgentID{member}, nil,
		group.Sleeptime{Trigger: "idle:1h", Priority: 1}, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	row, _, _ := s.Select(context.Background(), "group", groupID.String())
	row["_group"] = true
	row["updated_at"] = time.Now()
	s.rows[groupID.String()] = row

	sched := NewSleeptimeScheduler(s, coord, time.Millisecond)
	sched.tick(context.Background())

	if provider.call != 0 {
		t.Error("sleeptime tick drove a model call for a not-yet-due group")
	}
}

func TestSleeptimeScheduler_OrdersByPriority(t *testing.T) {
	due := []dueGroup{
		{ID: id.NewGroupID(), Priority: 1},
		{ID: id.NewGroupID(), Priority: 5},
		{ID: id.NewGroupID(), Priority: 3},
	}
	sortByPriorityDesc(due)
	for i := 1; i < len(due); i++ {
		if due[i].Priority > due[i-1].Priority {
			t.Fatalf("order = %+v, not sorted descending by priority", due)
		}
	}
}

func TestSleeptimeScheduler_IgnoresNonSleeptimeGroup(t *testing.T) {
	s := newFakeStore()
	member := id.NewAgentID()
	newFakeAgent(s, member, runstate.Ready)

	provider := &fakeProvider{responses: []*model.Response{endTurnResponse("unused")}}
	eng := newEngine(s, provider)
	coord := group.New(s, eng, "instance-1")

	groupID, err := coord.CreateGroup(context.Background(), "round-robin-group", "", []id.AgentID{member}, nil, group.RoundRobin{}, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	row, _, _ := s.Select(context.Background(), "group", groupID.String())
	row["_group"] = true
	s.rows[groupID.String()] = row

	sched := NewSleeptimeScheduler(s, coord, time.Millisecond)
	sched.tick(context.Background())

	if provider.call != 0 {
		t.Error("sleeptime tick drove a model call for a non-sleeptime group")
	}
}
