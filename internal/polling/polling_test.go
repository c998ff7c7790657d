package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/cache"
	"github.com/pysugar/area-nexus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPoller struct {
	name    string
	actions map[string]bool

	mu     sync.Mutex
	calls  []string
	result area.Result
	err    error
	panic  bool
}

func (p *stubPoller) Supports(action string) bool { return p.actions[action] }

func (p *stubPoller) Poll(_ context.Context, action, userID string) (area.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, action+"/"+userID)
	if p.panic {
		panic("poller exploded")
	}
	return p.result, p.err
}

func TestCoordinator_FirstRegisteredWins(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	first := &stubPoller{name: "first", actions: map[string]bool{"new_mail": true}}
	second := &stubPoller{name: "second", actions: map[string]bool{"new_mail": true, "new_track": true}}
	c.Register(first)
	c.Register(second)

	assert.True(t, c.Supports("new_mail"))
	assert.True(t, c.Supports("new_track"))
	assert.False(t, c.Supports("every_interval"))

	_, err := c.Start("new_mail", "u1", func(context.Context, area.Result, error) {})
	require.NoError(t, err)
	sched.Tick()

	assert.Equal(t, []string{"new_mail/u1"}, first.calls)
	assert.Empty(t, second.calls)
}

func TestCoordinator_StartIsIdempotent(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	p := &stubPoller{actions: map[string]bool{"new_mail": true}, result: area.Result{Code: area.CodeTriggered}}
	c.Register(p)

	var emits int
	emit := func(context.Context, area.Result, error) { emits++ }

	started, err := c.Start("new_mail", "u1", emit)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = c.Start("new_mail", "u1", emit)
	require.NoError(t, err)
	assert.False(t, started)

	assert.Equal(t, 1, sched.Registered())
	assert.Equal(t, 1, c.SessionCount())

	sched.Tick()
	assert.Equal(t, 1, emits)
	assert.Len(t, p.calls, 1)
}

func TestCoordinator_StopAndStopAll(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	c.Register(&stubPoller{actions: map[string]bool{"new_mail": true}})
	noop := func(context.Context, area.Result, error) {}

	c.Stop("new_mail", "nobody")

	_, _ = c.Start("new_mail", "u1", noop)
	_, _ = c.Start("new_mail", "u2", noop)
	assert.True(t, c.Active("new_mail", "u1"))

	c.Stop("new_mail", "u1")
	assert.False(t, c.Active("new_mail", "u1"))
	assert.Equal(t, 1, sched.Active())

	started, err := c.Start("new_mail", "u1", noop)
	require.NoError(t, err)
	assert.True(t, started)

	c.StopAll()
	assert.Equal(t, 0, c.SessionCount())
	assert.Equal(t, 0, sched.Active())
}

func TestCoordinator_StartUnsupported(t *testing.T) {
	c := NewCoordinator(testutil.NewManualScheduler(), time.Minute)
	_, err := c.Start("every_interval", "u1", func(context.Context, area.Result, error) {})
	assert.Error(t, err)
}

func TestCoordinator_ErrorsAndPanicsKeepSession(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	p := &stubPoller{actions: map[string]bool{"new_mail": true}, err: errors.New("upstream 503")}
	c.Register(p)

	var got []area.Result
	var errs []error
	_, _ = c.Start("new_mail", "u1", func(_ context.Context, r area.Result, err error) {
		got = append(got, r)
		errs = append(errs, err)
	})

	sched.Tick()
	require.Len(t, got, 1)
	assert.Equal(t, area.CodeNoChange, got[0].Code)
	assert.EqualError(t, errs[0], "upstream 503")

	p.panic = true
	assert.NotPanics(t, sched.Tick)
	assert.True(t, c.Active("new_mail", "u1"))
	require.Len(t, errs, 2)
	assert.ErrorContains(t, errs[1], "poller panicked")

	p.panic = false
	p.err = nil
	p.result = area.Result{Code: area.CodeTriggered}
	sched.Tick()
	require.Len(t, got, 3)
	assert.Equal(t, area.CodeTriggered, got[2].Code)
	assert.NoError(t, errs[2])
}

func TestCoordinator_EmitPanicKeepsSession(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	c.Register(&stubPoller{actions: map[string]bool{"new_mail": true}})

	_, _ = c.Start("new_mail", "u1", func(context.Context, area.Result, error) { panic("emit exploded") })
	assert.NotPanics(t, sched.Tick)
	assert.True(t, c.Active("new_mail", "u1"))
}

// blockingPoller parks every Poll until release is closed and tracks how
// many evaluations run at once.
type blockingPoller struct {
	release chan struct{}

	mu      sync.Mutex
	running int
	peak    int
	entered int
}

func (p *blockingPoller) Supports(action string) bool { return action == "new_mail" }

func (p *blockingPoller) Poll(context.Context, string, string) (area.Result, error) {
	p.mu.Lock()
	p.running++
	p.entered++
	p.peak = max(p.peak, p.running)
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	return area.NoChange(), nil
}

func (p *blockingPoller) counts() (entered, peak int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entered, p.peak
}

func TestCoordinator_RestartedSessionWaitsForInFlightEvaluation(t *testing.T) {
	sched := testutil.NewManualScheduler()
	c := NewCoordinator(sched, time.Minute)
	p := &blockingPoller{release: make(chan struct{})}
	c.Register(p)
	noop := func(context.Context, area.Result, error) {}

	_, err := c.Start("new_mail", "u1", noop)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Tick()
	}()
	require.Eventually(t, func() bool {
		entered, _ := p.counts()
		return entered == 1
	}, time.Second, time.Millisecond)

	c.Stop("new_mail", "u1")
	started, err := c.Start("new_mail", "u1", noop)
	require.NoError(t, err)
	require.True(t, started)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Tick()
	}()
	assert.Never(t, func() bool {
		entered, _ := p.counts()
		return entered > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(p.release)
	wg.Wait()

	entered, peak := p.counts()
	assert.Equal(t, 2, entered)
	assert.Equal(t, 1, peak)
}

func TestTickerScheduler_RunsUntilStopped(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	stop := TickerScheduler{}.Every(5*time.Millisecond, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, time.Millisecond)
	stop()
	stop()
}

func TestBaseline_FirstObservationNeverTriggers(t *testing.T) {
	ctx := context.Background()
	for _, item := range []*Item{{Date: 1}, {Date: 1_700_000_000_000, ID: "m1"}, nil} {
		b := NewBaseline(cache.NewMemory())
		assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", item))
	}
}

func TestBaseline_MonotonicCursor(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	b := NewBaseline(c)

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 100, ID: "a"}))
	v, ok, _ := c.Get(ctx, "new_mail:last:date:u1")
	require.True(t, ok)
	assert.Equal(t, "100", v)

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 100, ID: "a"}))
	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 99, ID: "old"}))

	assert.Equal(t, area.CodeTriggered, b.Observe(ctx, "new_mail", "u1", &Item{Date: 101, ID: "b"}))
	v, _, _ = c.Get(ctx, "new_mail:last:id:u1")
	assert.Equal(t, "b", v)

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 101, ID: "b"}))

	// other users and actions have their own cursors
	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u2", &Item{Date: 500}))
	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_track", "u1", &Item{Date: 500}))
}

func TestBaseline_EmptyMarker(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	b := NewBaseline(c)

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", nil))
	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", nil))
	v, _, _ := c.Get(ctx, "new_mail:last:date:u1")
	assert.Equal(t, EmptyMarker, v)

	assert.Equal(t, area.CodeTriggered, b.Observe(ctx, "new_mail", "u1", &Item{Date: 1, ID: "first"}))
	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 1, ID: "first"}))
}

func TestBaseline_BackfillsMissingID(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	b := NewBaseline(c)
	require.NoError(t, c.Set(ctx, "new_mail:last:date:u1", "100", 0))

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 100, ID: "m1"}))
	v, ok, _ := c.Get(ctx, "new_mail:last:id:u1")
	require.True(t, ok)
	assert.Equal(t, "m1", v)
}

func TestBaseline_UnreadableCursorRebaselines(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	b := NewBaseline(c)
	require.NoError(t, c.Set(ctx, "new_mail:last:date:u1", "garbage", 0))

	assert.Equal(t, area.CodeNoChange, b.Observe(ctx, "new_mail", "u1", &Item{Date: 5}))
	assert.Equal(t, area.CodeTriggered, b.Observe(ctx, "new_mail", "u1", &Item{Date: 6}))
}

func TestCursorKey(t *testing.T) {
	assert.Equal(t, "new_mail:last:date:u1", CursorKey("new_mail", CursorDate, "u1"))
}
