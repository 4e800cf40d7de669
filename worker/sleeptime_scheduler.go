package worker

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/youssefsiam38/pattern/group"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/store"
)

// SleeptimeScheduler wakes Sleeptime-managed groups on their configured
// trigger, generalizing the run_worker.go/batch_poller.go
// polling-and-claiming idiom to group-level triggers instead of run
// status. Kept to a hand-rolled ticker deliberately: the trigger grammar
// here (idle duration, threshold events) is not wall-clock cron, so a
// cron-expression library would add a dependency with no matching need —
// justified in DESIGN.md.
type SleeptimeScheduler struct {
	store    store.Store
	groups   *group.Coordinator
	interval time.Duration

	lastWoken map[string]time.Time
}

// NewSleeptimeScheduler creates a scheduler polling every interval.
func NewSleeptimeScheduler(s store.Store, groups *group.Coordinator, interval time.Duration) *SleeptimeScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SleeptimeScheduler{store: s, groups: groups, interval: interval, lastWoken: make(map[string]time.Time)}
}

// Run blocks, ticking until ctx is done.
func (s *SleeptimeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

type dueGroup struct {
	ID       id.GroupID
	Trigger  string
	Priority int
}

// tick finds every sleeptime group whose trigger currently fires, orders
// them by descending Priority ("priority breaks contention" when
// more than one sleeptime group is due at once), and wakes them in that
// order — one at a time, so a higher-priority group's wake-up fully
// completes before a lower one starts.
func (s *SleeptimeScheduler) tick(ctx context.Context) {
	rows, err := s.store.Query(ctx, `SELECT * FROM "group"`, nil)
	if err != nil {
		log.Printf("pattern/worker: sleeptime: list groups: %v", err)
		return
	}

	var due []dueGroup
	for _, row := range rows {
		groupID, err := id.ParseGroupID(asString(row["id"]))
		if err != nil {
			continue
		}
		cfg := group.DecodeManagerConfig(asJSONObject(row["manager_config"]))
		sleeptime, ok := cfg.(group.Sleeptime)
		if !ok {
			continue
		}
		if s.isDue(groupID, sleeptime.Trigger, row) {
			due = append(due, dueGroup{ID: groupID, Trigger: sleeptime.Trigger, Priority: sleeptime.Priority})
		}
	}

	sortByPriorityDesc(due)

	for _, d := range due {
		if _, err := s.groups.WakeSleeptime(ctx, d.ID, d.Trigger); err != nil {
			log.Printf("pattern/worker: sleeptime: wake %s: %v", d.ID, err)
		}
		s.lastWoken[d.ID.String()] = time.Now()
	}
}

// isDue evaluates trigger against groupRow. "idle:<duration>" fires once
// the group has gone at least <duration> since its last wake (or since
// updated_at, for a group never yet woken). "threshold:<field><op><n>" is
// left for a future cursor-aware implementation — not groundable against
// anything in this row alone, so it never fires rather than guessing.
func (s *SleeptimeScheduler) isDue(groupID id.GroupID, trigger string, groupRow store.Row) bool {
	switch {
	case strings.HasPrefix(trigger, "idle:"):
		wait, err := time.ParseDuration(strings.TrimPrefix(trigger, "idle:"))
		if err != nil {
			return false
		}
		since, ok := s.lastWoken[groupID.String()]
		if !ok {
			if t, ok := groupRow["updated_at"].(time.Time); ok {
				since = t
			} else {
				return true
			}
		}
		return time.Since(since) >= wait

	case strings.HasPrefix(trigger, "threshold:"):
		return false

	default:
		return false
	}
}

func sortByPriorityDesc(due []dueGroup) {
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].Priority > due[j-1].Priority; j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asJSONObject normalizes a store-returned JSON column into a plain map,
// mirroring group.asJSONObject's handling of the decoded-map/raw-bytes/
// JSON-string variance across store drivers.
func asJSONObject(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case []byte:
		var doc map[string]any
		if json.Unmarshal(v, &doc) == nil {
			return doc
		}
	case string:
		var doc map[string]any
		if json.Unmarshal([]byte(v), &doc) == nil {
			return doc
		}
	}
	return nil
}
