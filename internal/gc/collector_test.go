package gc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/gc"
	"github.com/aura-webinar/recordings/internal/metrics"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/lock"
)

const (
	prefix = "lock:recording-active:"
	grace  = time.Minute
)

type roomState struct {
	exists     bool
	publishers int
	sessions   int
	err        error
}

type fakeEngine struct {
	mu    sync.Mutex
	rooms map[string]roomState
}

func (e *fakeEngine) state(roomID string) roomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rooms[roomID]
}

func (e *fakeEngine) RoomExists(_ context.Context, roomID string) (bool, error) {
	s := e.state(roomID)
	return s.exists, s.err
}

func (e *fakeEngine) GetRoom(_ context.Context, roomID string) (egress.Room, error) {
	s := e.state(roomID)
	if !s.exists {
		return egress.Room{}, egress.ErrRoomNotFound
	}
	return egress.Room{Name: roomID, NumPublishers: s.publishers, NumParticipants: s.publishers}, nil
}

func (e *fakeEngine) ListInProgress(_ context.Context, roomID string) ([]egress.Info, error) {
	s := e.state(roomID)
	out := make([]egress.Info, s.sessions)
	for i := range out {
		out[i] = egress.Info{EgressID: "EG_x", RoomName: roomID, Status: egress.StatusActive}
	}
	return out, nil
}

type fixture struct {
	locks     *lock.Manager
	clock     *clock.Manual
	engine    *fakeEngine
	collector *gc.Collector
	redis     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	locks := lock.NewManager(client, clk, nil)
	engine := &fakeEngine{rooms: map[string]roomState{}}
	collector := gc.NewCollector(locks, engine, clk, metrics.New(), gc.Config{Prefix: prefix, Interval: time.Minute, Grace: grace}, nil)
	return &fixture{locks: locks, clock: clk, engine: engine, collector: collector, redis: mr}
}

func (f *fixture) hold(t *testing.T, roomID string) {
	t.Helper()
	_, err := f.locks.Acquire(context.Background(), prefix+roomID, 6*time.Hour)
	require.NoError(t, err)
}

func (f *fixture) held(t *testing.T, roomID string) bool {
	t.Helper()
	ok, err := f.locks.LockExists(context.Background(), prefix+roomID)
	require.NoError(t, err)
	return ok
}

func decisions(results []gc.Result) map[string]gc.Decision {
	out := map[string]gc.Decision{}
	for _, r := range results {
		out[r.RoomID] = r.Decision
	}
	return out
}

func TestSweepDecisionTable(t *testing.T) {
	f := newFixture(t)
	f.engine.rooms = map[string]roomState{
		"empty-room":      {exists: true, publishers: 0, sessions: 0},
		"recording-room":  {exists: true, publishers: 0, sessions: 1},
		"busy-recording":  {exists: true, publishers: 3, sessions: 1},
		"live-room":       {exists: true, publishers: 2, sessions: 0},
		"gone-finalizing": {exists: false, sessions: 1},
		"gone-room":       {exists: false, sessions: 0},
	}
	for room := range f.engine.rooms {
		f.hold(t, room)
	}
	f.clock.Advance(2 * grace)

	results, err := f.collector.Sweep(context.Background())
	require.NoError(t, err)
	got := decisions(results)

	assert.Equal(t, gc.DecisionReleased, got["empty-room"])
	assert.Equal(t, gc.DecisionActiveSession, got["recording-room"])
	assert.Equal(t, gc.DecisionActiveSession, got["busy-recording"])
	assert.Equal(t, gc.DecisionHasPublishers, got["live-room"])
	assert.Equal(t, gc.DecisionActiveSession, got["gone-finalizing"])
	assert.Equal(t, gc.DecisionReleased, got["gone-room"])

	assert.False(t, f.held(t, "empty-room"))
	assert.False(t, f.held(t, "gone-room"))
	assert.True(t, f.held(t, "recording-room"))
	assert.True(t, f.held(t, "busy-recording"))
	assert.True(t, f.held(t, "live-room"))
	assert.True(t, f.held(t, "gone-finalizing"))
}

func TestSweepSkipsLocksInsideGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.engine.rooms["gone-room"] = roomState{exists: false}
	f.hold(t, "gone-room")
	f.clock.Advance(grace - time.Second)

	results, err := f.collector.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gc.DecisionTooYoung, decisions(results)["gone-room"])
	assert.True(t, f.held(t, "gone-room"))

	f.clock.Advance(time.Second)
	results, err = f.collector.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gc.DecisionReleased, decisions(results)["gone-room"])
}

func TestSweepIsolatesPerLockFailures(t *testing.T) {
	f := newFixture(t)
	f.engine.rooms["flaky-room"] = roomState{err: errors.New("engine unreachable")}
	f.engine.rooms["gone-room"] = roomState{exists: false}
	f.hold(t, "flaky-room")
	f.hold(t, "gone-room")
	f.clock.Advance(2 * grace)

	results, err := f.collector.Sweep(context.Background())
	require.NoError(t, err)
	got := decisions(results)
	assert.Equal(t, gc.DecisionError, got["flaky-room"])
	assert.Equal(t, gc.DecisionReleased, got["gone-room"])
	assert.True(t, f.held(t, "flaky-room"))
}

func TestSweepAbortsWhenLocksCannotBeListed(t *testing.T) {
	f := newFixture(t)
	f.redis.SetError("LOADING")
	_, err := f.collector.Sweep(context.Background())
	assert.Error(t, err)
}

func TestRunSweepsOnInterval(t *testing.T) {
	f := newFixture(t)
	f.engine.rooms["gone-room"] = roomState{exists: false}
	f.hold(t, "gone-room")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.collector.Run(ctx)
		close(done)
	}()

	// the first tick happens after one interval, which also ages the lock past the grace period
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		ok, err := f.locks.LockExists(context.Background(), prefix+"gone-room")
		return err == nil && !ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
