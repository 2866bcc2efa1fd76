package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// fakeSource serves definitions from memory.
type fakeSource struct {
	mu   sync.Mutex
	defs map[string]*workflow.Definition
}

func (f *fakeSource) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.defs))
	for name := range f.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeSource) Read(name string) (*workflow.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %q not found", name)
	}
	return def, nil
}

func scheduledDef(name string, trigger map[string]any) *workflow.Definition {
	return &workflow.Definition{
		Name: name,
		Nodes: []workflow.NodeDef{
			{ID: "trigger", Type: "schedule", Data: trigger},
			{ID: "step", Type: "log"},
		},
		Edges: []workflow.Edge{{Source: "trigger", Target: "step"}},
	}
}

func plainDef(name string) *workflow.Definition {
	return &workflow.Definition{
		Name:  name,
		Nodes: []workflow.NodeDef{{ID: "step", Type: "log"}},
	}
}

func TestParseTrigger(t *testing.T) {
	t.Run("interval units", func(t *testing.T) {
		for unit, want := range map[string]time.Duration{
			"Seconds": 5 * time.Second,
			"Minutes": 5 * time.Minute,
			"Hours":   5 * time.Hour,
		} {
			schedule, err := parseTrigger(workflow.Params{
				"schedule_type":  "Interval",
				"interval_value": float64(5),
				"interval_unit":  unit,
			})
			require.NoError(t, err, unit)

			now := time.Now()
			assert.WithinDuration(t, now.Add(want), schedule.Next(now), time.Second, unit)
		}
	})

	t.Run("interval is the default type", func(t *testing.T) {
		schedule, err := parseTrigger(workflow.Params{"interval_value": float64(1)})
		require.NoError(t, err)

		now := time.Now()
		assert.WithinDuration(t, now.Add(time.Minute), schedule.Next(now), time.Second)
	})

	t.Run("cron expression", func(t *testing.T) {
		schedule, err := parseTrigger(workflow.Params{
			"schedule_type":   "Cron",
			"cron_expression": "*/5 * * * *",
		})
		require.NoError(t, err)
		assert.NotNil(t, schedule)
	})

	t.Run("errors", func(t *testing.T) {
		cases := []workflow.Params{
			{"schedule_type": "Cron"},
			{"schedule_type": "Cron", "cron_expression": "not a cron line"},
			{"schedule_type": "Interval"},
			{"schedule_type": "Interval", "interval_value": float64(-1)},
			{"schedule_type": "Interval", "interval_value": float64(5), "interval_unit": "Fortnights"},
			{"schedule_type": "Lunar"},
		}
		for i, cfg := range cases {
			_, err := parseTrigger(cfg)
			assert.Error(t, err, "case %d", i)
		}
	})
}

func TestScheduler_RefreshRegistersScheduledWorkflows(t *testing.T) {
	source := &fakeSource{defs: map[string]*workflow.Definition{
		"timed": scheduledDef("timed", map[string]any{
			"schedule_type":  "Interval",
			"interval_value": float64(5),
			"interval_unit":  "Minutes",
		}),
		"manual": plainDef("manual"),
		"broken": scheduledDef("broken", map[string]any{
			"schedule_type": "Cron",
		}),
	}}

	s := New(source, func(ctx context.Context, name string) {}, zap.NewNop())
	s.Refresh()

	assert.Equal(t, []string{"timed"}, s.Jobs())

	// Refresh is idempotent: re-running does not duplicate entries.
	s.Refresh()
	assert.Equal(t, []string{"timed"}, s.Jobs())
}

func TestScheduler_RefreshFollowsStoreChanges(t *testing.T) {
	trigger := map[string]any{
		"schedule_type":  "Interval",
		"interval_value": float64(1),
		"interval_unit":  "Hours",
	}
	source := &fakeSource{defs: map[string]*workflow.Definition{
		"a": scheduledDef("a", trigger),
	}}

	s := New(source, func(ctx context.Context, name string) {}, zap.NewNop())
	s.Refresh()
	require.Equal(t, []string{"a"}, s.Jobs())

	source.mu.Lock()
	delete(source.defs, "a")
	source.defs["b"] = scheduledDef("b", trigger)
	source.mu.Unlock()

	s.Refresh()
	assert.Equal(t, []string{"b"}, s.Jobs())
}

func TestScheduler_FireSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	s := New(&fakeSource{}, func(ctx context.Context, name string) {
		mu.Lock()
		started++
		mu.Unlock()
		<-release
	}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire("busy")
		}()
	}

	// Only one fire may be running; the others skip out immediately.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, started)
	mu.Unlock()

	close(release)
	wg.Wait()
}

func TestScheduler_FireContainsPanic(t *testing.T) {
	s := New(&fakeSource{}, func(ctx context.Context, name string) {
		panic("job blew up")
	}, zap.NewNop())

	assert.NotPanics(t, func() { s.fire("volatile") })

	// The gate was released; the next fire proceeds.
	ran := false
	s.run = func(ctx context.Context, name string) { ran = true }
	s.fire("volatile")
	assert.True(t, ran)
}

func TestScheduler_ScheduledJobFires(t *testing.T) {
	source := &fakeSource{defs: map[string]*workflow.Definition{
		"fast": scheduledDef("fast", map[string]any{
			"schedule_type":  "Interval",
			"interval_value": float64(1),
			"interval_unit":  "Seconds",
		}),
	}}

	fired := make(chan string, 4)
	s := New(source, func(ctx context.Context, name string) {
		select {
		case fired <- name:
		default:
		}
	}, zap.NewNop())

	s.Start()
	defer s.Stop()

	select {
	case name := <-fired:
		assert.Equal(t, "fast", name)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never fired")
	}
}
