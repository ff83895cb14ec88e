package recordings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/cache"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
	"github.com/aura-webinar/recordings/pkg/lock"
	"github.com/aura-webinar/recordings/pkg/storage"
)

const (
	testRoom         = "team_room-1a2b3c4d"
	testStartTimeout = 30 * time.Second
)

// memObjects is a map-backed object store with put-failure injection.
type memObjects struct {
	mu      sync.Mutex
	m       map[string][]byte
	failPut func(key string) error
}

func newMemObjects() *memObjects { return &memObjects{m: map[string][]byte{}} }

func (s *memObjects) PutObject(_ context.Context, key string, body []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		if err := s.failPut(key); err != nil {
			return err
		}
	}
	s.m[key] = append([]byte(nil), body...)
	return nil
}

func (s *memObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *memObjects) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memObjects) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memObjects) PresignGet(_ context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?expires=%d", key, int(expires.Seconds())), nil
}

func (s *memObjects) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

// fakeEngine hands out sequential session ids. onStart runs inside StartComposition, before the caller
// has bound its subscription; by default it reports the session active.
type fakeEngine struct {
	mu       sync.Mutex
	hub      *egress.Hub
	next     int
	startErr error
	onStart  func(roomID, egressID string)
	started  chan string
	stopped  []string
}

func newFakeEngine(hub *egress.Hub) *fakeEngine {
	e := &fakeEngine{hub: hub, started: make(chan string, 64)}
	e.onStart = e.reportActive
	return e
}

func (e *fakeEngine) reportActive(roomID, egressID string) {
	e.hub.Dispatch(egress.NotificationFromInfo(egress.Info{EgressID: egressID, RoomName: roomID, Status: egress.StatusActive}))
}

func (e *fakeEngine) StartComposition(_ context.Context, roomID string, _ egress.OutputConfig) (egress.Info, error) {
	e.mu.Lock()
	if e.startErr != nil {
		err := e.startErr
		e.mu.Unlock()
		return egress.Info{}, err
	}
	e.next++
	egressID := fmt.Sprintf("EG_test%04d", e.next)
	hook := e.onStart
	e.mu.Unlock()

	if hook != nil {
		hook(roomID, egressID)
	}
	e.started <- egressID
	return egress.Info{EgressID: egressID, RoomName: roomID, Status: egress.StatusStarting}, nil
}

func (e *fakeEngine) StopComposition(_ context.Context, egressID string) (egress.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, egressID)
	return egress.Info{EgressID: egressID, Status: egress.StatusEnding}, nil
}

func (e *fakeEngine) setOnStart(fn func(roomID, egressID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStart = fn
}

func (e *fakeEngine) stoppedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stopped...)
}

type fakeRooms map[string]*models.Room

func (r fakeRooms) Get(_ context.Context, roomID string) (*models.Room, error) {
	room, ok := r[roomID]
	if !ok {
		return nil, apperr.NotFound("room '%s' not found", roomID)
	}
	return room, nil
}

type fixedPreferences struct{}

func (fixedPreferences) Get(context.Context) (models.Preferences, error) {
	return models.DefaultPreferences(), nil
}

type testEnv struct {
	svc     *Service
	repo    *Repository
	locks   *lock.Manager
	engine  *fakeEngine
	hub     *egress.Hub
	objects *memObjects
	clock   *clock.Manual
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	objects := newMemObjects()
	kv := cache.NewRedis(client, "test:", nil)
	store := dualwrite.New(objects, kv, time.Hour, nil)
	repo := NewRepository(store, kv)
	locks := lock.NewManager(client, clk, nil)
	hub := egress.NewHub(nil)
	engine := newFakeEngine(hub)
	rooms := fakeRooms{
		testRoom:            {RoomID: testRoom, RoomName: "Team Room", ModeratorURL: "https://meet.test/m", SpeakerURL: "https://meet.test/s"},
		"other_room-9f8e7d": {RoomID: "other_room-9f8e7d", RoomName: "Other"},
	}

	svc := NewService(Deps{
		Repo:        repo,
		Locks:       locks,
		Engine:      engine,
		Hub:         hub,
		Rooms:       rooms,
		Preferences: fixedPreferences{},
		Media:       objects,
		Clock:       clk,
	}, Config{LockTTL: 6 * time.Hour, StartTimeout: testStartTimeout, PresignExpiry: 15 * time.Minute}, nil)

	return &testEnv{svc: svc, repo: repo, locks: locks, engine: engine, hub: hub, objects: objects, clock: clk, redis: mr}
}

func (e *testEnv) lockHolder(t *testing.T, roomID string) string {
	t.Helper()
	l, err := e.locks.GetLock(context.Background(), LockName(roomID))
	require.NoError(t, err)
	if l == nil {
		return ""
	}
	return l.Holder
}

// startRecording starts a recording that the engine reports active right away.
func (e *testEnv) startRecording(t *testing.T, roomID string) *models.Recording {
	t.Helper()
	rec, err := e.svc.Start(context.Background(), roomID, Scope{})
	require.NoError(t, err)
	return rec
}

// report delivers an engine status report for rec as the webhook would.
func (e *testEnv) report(t *testing.T, rec *models.Recording, status egress.Status) {
	t.Helper()
	require.NoError(t, e.svc.HandleEgressUpdate(context.Background(), egress.Info{
		EgressID:    rec.EgressID(),
		RoomName:    rec.RoomID,
		Status:      status,
		EndedAt:     e.clock.Now().Add(time.Minute).UnixNano(),
		FileResults: []egress.FileResult{{Filename: rec.Filename, Size: 2048, Duration: int64(90 * time.Second)}},
	}))
}

// completedRecording starts a recording and drives it to COMPLETE, which frees the room again.
func (e *testEnv) completedRecording(t *testing.T, roomID string) *models.Recording {
	t.Helper()
	rec := e.startRecording(t, roomID)
	e.report(t, rec, egress.StatusComplete)
	return rec
}

// awaitEngineStart blocks until the engine received a start call.
func (e *testEnv) awaitEngineStart(t *testing.T) string {
	t.Helper()
	select {
	case id := <-e.engine.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("engine start not called")
		return ""
	}
}

var errBoom = errors.New("boom")
