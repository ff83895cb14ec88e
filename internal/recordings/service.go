// Package recordings implements the recording lifecycle: starting and stopping engine compositions
// under a per-room distributed lock, persisting recordings through the dual-write store, and deleting
// them together with their secrets and the room archive.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/events"
	"github.com/aura-webinar/recordings/internal/metrics"
	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/lock"
	"github.com/aura-webinar/recordings/pkg/storage"
)

const (
	cleanupTimeout     = 15 * time.Second
	pendingReportGrace = 5 * time.Minute
)

// Engine is the subset of the media engine the lifecycle drives.
type Engine interface {
	StartComposition(ctx context.Context, roomID string, out egress.OutputConfig) (egress.Info, error)
	StopComposition(ctx context.Context, egressID string) (egress.Info, error)
}

// RoomStore looks up rooms.
type RoomStore interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
}

// PreferenceStore returns the global preferences.
type PreferenceStore interface {
	Get(ctx context.Context) (models.Preferences, error)
}

// Config holds lifecycle timings.
type Config struct {
	LockTTL       time.Duration
	StartTimeout  time.Duration
	PresignExpiry time.Duration
}

// Deps are the collaborators of the Service. Notifier defaults to Hub, Events to a no-op publisher,
// Clock to the real clock. Metrics may be nil.
type Deps struct {
	Repo        *Repository
	Locks       *lock.Manager
	Engine      Engine
	Hub         *egress.Hub
	Notifier    egress.Publisher
	Rooms       RoomStore
	Preferences PreferenceStore
	Media       storage.ObjectStore
	Events      events.Publisher
	Metrics     *metrics.Metrics
	Clock       clock.Clock
}

// Scope restricts operations to one room. The zero Scope allows every room.
type Scope struct {
	RoomID string
}

func (s Scope) check(roomID string) error {
	if s.RoomID != "" && s.RoomID != roomID {
		return apperr.Ownership("credential is not allowed to access recordings of room '%s'", roomID)
	}
	return nil
}

// Service is the recording lifecycle state machine.
type Service struct {
	repo     *Repository
	locks    *lock.Manager
	engine   Engine
	hub      *egress.Hub
	notifier egress.Publisher
	rooms    RoomStore
	prefs    PreferenceStore
	media    storage.ObjectStore
	events   events.Publisher
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewService creates the lifecycle service.
func NewService(d Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = d.Hub
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return &Service{
		repo:     d.Repo,
		locks:    d.Locks,
		engine:   d.Engine,
		hub:      d.Hub,
		notifier: d.Notifier,
		rooms:    d.Rooms,
		prefs:    d.Preferences,
		media:    d.Media,
		events:   d.Events,
		metrics:  d.Metrics,
		clock:    d.Clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins recording roomID. It holds the room's recording lock for the whole attempt and keeps it
// only when the engine reports the session active in time and the recording is persisted.
func (s *Service) Start(ctx context.Context, roomID string, scope Scope) (*models.Recording, error) {
	if roomID == "" {
		return nil, apperr.Validation("roomId is required")
	}
	if err := scope.check(roomID); err != nil {
		return nil, err
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	prefs, err := s.prefs.Get(ctx)
	if err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	log := s.logger.With(zap.String("room_id", roomID), zap.String("attempt_id", attemptID))

	held, err := s.locks.AcquireAs(ctx, LockName(roomID), attemptID, s.cfg.LockTTL)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		s.metrics.StartOutcome(metrics.StartConflict)
		return nil, apperr.Conflict("room '%s' already has a recording starting or in progress", roomID)
	}
	if err != nil {
		s.metrics.StartOutcome(metrics.StartStoreError)
		return nil, apperr.Storage("acquire recording lock", err)
	}

	sub := s.hub.Subscribe(roomID, attemptID)
	defer sub.Close()

	rec, abandoned, outcome, err := s.runStart(ctx, room, prefs, sub, log)
	s.metrics.StartOutcome(outcome)
	if err != nil {
		sub.Close()
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if abandoned != "" {
			s.stopAbandoned(cleanupCtx, abandoned, log)
		}
		s.releaseLock(cleanupCtx, held, metrics.ReleaseStartFailed, log)
		log.Warn("recording start failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	s.publish(ctx, events.TypeStarted, *rec)
	log.Info("recording started", zap.String("recording_id", rec.RecordingID))
	return s.applyParkedReport(context.WithoutCancel(ctx), rec, log), nil
}

// applyParkedReport applies a terminal report the engine sent while the attempt was persisting; such a
// report found no recording to update when it arrived.
func (s *Service) applyParkedReport(ctx context.Context, rec *models.Recording, log *zap.Logger) *models.Recording {
	report, err := s.repo.TakePendingReport(ctx, rec.RoomID, rec.EgressID())
	if err != nil {
		log.Warn("read parked engine report failed", zap.Error(err))
		return rec
	}
	if report == nil {
		return rec
	}
	log.Info("applying engine report received during start", zap.String("status", string(report.Status)))
	updated, err := s.applyReport(ctx, rec, *report, log)
	if err != nil {
		log.Error("apply parked engine report failed", zap.Error(err))
		return rec
	}
	return updated
}

// runStart drives one attempt. On failure it returns the engine session to abandon, if any.
func (s *Service) runStart(
	ctx context.Context, room *models.Room, prefs models.Preferences, sub *egress.Subscription, log *zap.Logger,
) (rec *models.Recording, abandoned, outcome string, err error) {
	deadline := s.clock.After(s.cfg.StartTimeout)
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	now := s.clock.Now()
	mediaKey := MediaKey(room.RoomID, now.Format("20060102T150405Z")+"-"+sub.AttemptID()[:8])
	info, err := s.engine.StartComposition(callCtx, room.RoomID, egress.OutputConfig{
		Layout:   prefs.Recording.Layout,
		Encoding: prefs.Recording.Encoding,
		Filepath: mediaKey,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, "", metrics.StartTimeout, apperr.Unavailable("timed out while starting the recording", err)
		}
		return nil, "", metrics.StartEngineError, apperr.Unavailable("media engine failed to start the recording", err)
	}
	log = log.With(zap.String("egress_id", info.EgressID))
	sub.Bind(info.EgressID)

	id, err := models.NewRecordingID(room.RoomID, info.EgressID)
	if err != nil {
		return nil, info.EgressID, metrics.StartEngineError, apperr.Unavailable("media engine returned an unusable session id", err)
	}

	active := info
	if info.Status != egress.StatusActive {
		active, outcome, err = s.awaitActive(ctx, sub, deadline)
		if err != nil {
			if outcome == metrics.StartEngineError {
				// the engine already ended the session
				return nil, "", outcome, err
			}
			return nil, info.EgressID, outcome, err
		}
	}
	log.Debug("engine session active")

	startDate := active.StartTime()
	if startDate == nil {
		startDate = &now
	}
	rec = &models.Recording{
		RecordingID: id.String(),
		RoomID:      room.RoomID,
		RoomName:    room.RoomName,
		Status:      models.RecordingStatusActive,
		Layout:      prefs.Recording.Layout,
		Filename:    mediaKey,
		StartDate:   startDate,
		LockHolder:  sub.AttemptID(),
	}
	if err := s.persistStarted(context.WithoutCancel(ctx), room, rec, log); err != nil {
		return nil, info.EgressID, metrics.StartStoreError, err
	}
	return rec, "", metrics.StartStarted, nil
}

// awaitActive waits for the bound session to become active, whichever comes first of the notification,
// an engine-reported failure, the deadline or cancellation of ctx.
func (s *Service) awaitActive(ctx context.Context, sub *egress.Subscription, deadline <-chan time.Time) (egress.Info, string, error) {
	for {
		select {
		case n, ok := <-sub.Updates():
			if !ok {
				return egress.Info{}, metrics.StartTimeout, apperr.Unavailable("stopped waiting for the recording to start", nil)
			}
			switch n.Status {
			case egress.StatusActive:
				return n.Info, "", nil
			case egress.StatusStarting:
				continue
			default:
				msg := fmt.Sprintf("media engine reported %s before the recording became active", n.Status)
				if n.Info.Error != "" {
					msg += ": " + n.Info.Error
				}
				return egress.Info{}, metrics.StartEngineError, apperr.Unavailable(msg, nil)
			}
		case <-deadline:
			return egress.Info{}, metrics.StartTimeout, apperr.Unavailable("timed out while starting the recording", nil)
		case <-ctx.Done():
			return egress.Info{}, metrics.StartTimeout, apperr.Unavailable("start request cancelled", ctx.Err())
		}
	}
}

// persistStarted writes secrets, the recording and, for the room's first recording, its archive.
// Each step compensates the earlier ones when it fails.
func (s *Service) persistStarted(ctx context.Context, room *models.Room, rec *models.Recording, log *zap.Logger) error {
	id, _ := models.ParseRecordingID(rec.RecordingID)
	if err := s.repo.SaveSecrets(ctx, rec.RecordingID, models.NewRecordingSecrets()); err != nil {
		return err
	}
	if err := s.repo.SaveRecording(ctx, rec); err != nil {
		s.discardSecrets(ctx, rec.RecordingID, log)
		return err
	}
	if _, err := s.repo.EnsureArchive(ctx, room.Archive(s.clock.Now())); err != nil {
		if derr := s.repo.DeleteRecording(ctx, id); derr != nil {
			log.Error("discard recording after archive failure", zap.Error(derr))
		}
		s.discardSecrets(ctx, rec.RecordingID, log)
		return err
	}
	return nil
}

func (s *Service) discardSecrets(ctx context.Context, recordingID string, log *zap.Logger) {
	if err := s.repo.DeleteSecrets(ctx, recordingID); err != nil {
		log.Error("discard recording secrets", zap.String("recording_id", recordingID), zap.Error(err))
	}
}

func (s *Service) stopAbandoned(ctx context.Context, egressID string, log *zap.Logger) {
	if _, err := s.engine.StopComposition(ctx, egressID); err != nil {
		log.Warn("stop abandoned engine session failed", zap.Error(err))
		return
	}
	log.Info("stopped abandoned engine session")
}

func (s *Service) releaseLock(ctx context.Context, l *lock.Lock, reason string, log *zap.Logger) {
	err := s.locks.Release(ctx, l)
	switch {
	case errors.Is(err, lock.ErrLockMismatch):
		log.Info("recording lock held by a newer attempt, leaving it", zap.String("lock", l.Name))
	case err != nil:
		log.Error("release recording lock failed", zap.String("lock", l.Name), zap.Error(err))
	default:
		s.metrics.LockReleased(reason)
		log.Debug("recording lock released", zap.String("lock", l.Name), zap.String("reason", reason))
	}
}

func (s *Service) publish(ctx context.Context, t events.Type, rec models.Recording) {
	if err := s.events.Publish(context.WithoutCancel(ctx), events.NewEvent(t, rec)); err != nil {
		s.logger.Warn("recording event not published",
			zap.String("type", string(t)), zap.String("recording_id", rec.RecordingID), zap.Error(err))
	}
}

func parseRecordingID(raw string) (models.RecordingID, error) {
	id, err := models.ParseRecordingID(raw)
	if err != nil {
		return models.RecordingID{}, apperr.Malformed("malformed recording id '%s'", raw)
	}
	return id, nil
}

func (s *Service) load(ctx context.Context, recordingID string, scope Scope) (models.RecordingID, *models.Recording, error) {
	id, err := parseRecordingID(recordingID)
	if err != nil {
		return models.RecordingID{}, nil, err
	}
	if err := scope.check(id.RoomID); err != nil {
		return id, nil, err
	}
	rec, err := s.repo.GetRecording(ctx, id)
	if err != nil {
		return id, nil, err
	}
	return id, rec, nil
}

// Stop asks the engine to stop an active recording and marks it ENDING. The room lock stays held until
// the terminal status is observed.
func (s *Service) Stop(ctx context.Context, recordingID string, scope Scope) (*models.Recording, error) {
	id, rec, err := s.load(ctx, recordingID, scope)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, apperr.Conflict("recording '%s' is already stopped", recordingID)
	}
	if rec.Status == models.RecordingStatusEnding {
		return nil, apperr.Conflict("recording '%s' is already stopping", recordingID)
	}
	if _, err := s.engine.StopComposition(ctx, id.EgressID); err != nil {
		return nil, apperr.Unavailable("media engine failed to stop the recording", err)
	}

	// a terminal notification may have landed while the engine call was in flight
	latest, err := s.repo.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.Status.CanTransition(models.RecordingStatusEnding) {
		latest.Status = models.RecordingStatusEnding
		if err := s.repo.SaveRecording(ctx, latest); err != nil {
			return nil, err
		}
		s.publish(ctx, events.TypeStopping, *latest)
	}
	s.logger.Info("recording stopping", zap.String("recording_id", recordingID), zap.String("status", string(latest.Status)))
	return latest, nil
}

// Get returns one recording.
func (s *Service) Get(ctx context.Context, recordingID string, scope Scope) (*models.Recording, error) {
	_, rec, err := s.load(ctx, recordingID, scope)
	return rec, err
}

// List returns the recordings of roomID.
func (s *Service) List(ctx context.Context, roomID string, scope Scope) ([]models.Recording, error) {
	if roomID == "" {
		return nil, apperr.Validation("roomId is required")
	}
	if err := scope.check(roomID); err != nil {
		return nil, err
	}
	return s.repo.ListRecordings(ctx, roomID)
}

// Delete removes a terminal recording with its secrets and media, and the room archive when it was the
// room's last recording.
func (s *Service) Delete(ctx context.Context, recordingID string, scope Scope) error {
	id, rec, err := s.load(ctx, recordingID, scope)
	if err != nil {
		return err
	}
	if !rec.Status.IsTerminal() {
		return apperr.Conflict("recording '%s' is not stopped yet", recordingID)
	}
	log := s.logger.With(zap.String("recording_id", recordingID), zap.String("room_id", id.RoomID))

	secrets, err := s.repo.GetSecrets(ctx, recordingID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	if err := s.repo.DeleteSecrets(ctx, recordingID); err != nil {
		return err
	}
	if err := s.repo.DeleteRecording(ctx, id); err != nil {
		if secrets != nil {
			if rerr := s.repo.SaveSecrets(context.WithoutCancel(ctx), recordingID, *secrets); rerr != nil {
				log.Error("restore secrets after failed delete", zap.Error(rerr))
			}
		}
		return err
	}
	if rec.Filename != "" && s.media != nil {
		if err := s.media.DeleteObject(ctx, rec.Filename); err != nil {
			log.Warn("delete recording media failed", zap.String("key", rec.Filename), zap.Error(err))
		}
	}
	s.pruneArchive(ctx, id.RoomID, log)
	s.publish(ctx, events.TypeDeleted, *rec)
	log.Info("recording deleted")
	return nil
}

// pruneArchive deletes the room archive once the room has no recordings left. A recording saved by a
// concurrent start after the count puts the archive back.
func (s *Service) pruneArchive(ctx context.Context, roomID string, log *zap.Logger) {
	remaining, err := s.repo.CountRecordings(ctx, roomID)
	if err != nil {
		log.Warn("count remaining recordings failed", zap.Error(err))
		return
	}
	if remaining > 0 {
		return
	}
	archive, err := s.repo.GetArchive(ctx, roomID)
	if apperr.Is(err, apperr.KindNotFound) {
		return
	}
	if err != nil {
		log.Warn("read room archive failed", zap.Error(err))
		return
	}
	if err := s.repo.DeleteArchive(ctx, roomID); err != nil {
		log.Warn("delete room archive failed", zap.Error(err))
		return
	}
	if remaining, err = s.repo.CountRecordings(ctx, roomID); err == nil && remaining > 0 {
		if err := s.repo.SaveArchive(ctx, *archive); err != nil {
			log.Error("restore room archive failed", zap.Error(err))
		}
	}
}

// MediaURL returns a presigned URL for a COMPLETE recording's output when secret matches one of its
// access secrets.
func (s *Service) MediaURL(ctx context.Context, recordingID, secret string) (string, error) {
	id, err := parseRecordingID(recordingID)
	if err != nil {
		return "", err
	}
	secrets, err := s.repo.GetSecrets(ctx, recordingID)
	if err != nil {
		return "", err
	}
	if !secrets.Matches(secret) {
		return "", apperr.New(apperr.KindForbidden, "invalid recording secret")
	}
	rec, err := s.repo.GetRecording(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Status != models.RecordingStatusComplete || rec.Filename == "" {
		return "", apperr.Conflict("recording '%s' has no media available", recordingID)
	}
	url, err := s.media.PresignGet(ctx, rec.Filename, s.cfg.PresignExpiry)
	if err != nil {
		return "", apperr.Storage("presign media url", err)
	}
	return url, nil
}

// HandleEgressUpdate applies an engine status report: it wakes the start attempt waiting on the session,
// advances the persisted recording and, once the recording is terminal, frees the room.
func (s *Service) HandleEgressUpdate(ctx context.Context, info egress.Info) error {
	log := s.logger.With(zap.String("room_id", info.RoomName), zap.String("egress_id", info.EgressID),
		zap.String("status", string(info.Status)))

	if err := s.notifier.Publish(ctx, egress.NotificationFromInfo(info)); err != nil {
		log.Warn("notification fan-out failed", zap.Error(err))
	}

	// parked before the lookup so a start attempt that persists after it still sees the report
	if info.Status.RecordingStatus().IsTerminal() {
		if err := s.repo.SavePendingReport(ctx, info, s.cfg.StartTimeout+pendingReportGrace); err != nil {
			log.Warn("park engine report failed", zap.Error(err))
		}
	}

	rec, err := s.repo.FindByEgress(ctx, info.RoomName, info.EgressID)
	if apperr.Is(err, apperr.KindNotFound) {
		log.Debug("no persisted recording for session")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.applyReport(ctx, rec, info, log)
	return err
}

// applyReport moves rec to the reported status when the transition is allowed and releases the room lock
// once the report is terminal.
func (s *Service) applyReport(ctx context.Context, rec *models.Recording, info egress.Info, log *zap.Logger) (*models.Recording, error) {
	next := info.Status.RecordingStatus()
	if rec.Status.CanTransition(next) {
		applyInfo(rec, info, next)
		if err := s.repo.SaveRecording(ctx, rec); err != nil {
			return nil, err
		}
		s.publish(ctx, events.TypeUpdated, *rec)
		log.Info("recording updated", zap.String("recording_id", rec.RecordingID))
	} else {
		log.Debug("ignoring status report", zap.String("recording_status", string(rec.Status)))
	}

	if next.IsTerminal() && rec.LockHolder != "" {
		held := &lock.Lock{Name: LockName(rec.RoomID), Holder: rec.LockHolder}
		s.releaseLock(ctx, held, metrics.ReleaseTerminal, log)
	}
	return rec, nil
}

func applyInfo(rec *models.Recording, info egress.Info, next models.RecordingStatus) {
	rec.Status = next
	if start := info.StartTime(); start != nil && rec.StartDate == nil {
		rec.StartDate = start
	}
	if end := info.EndTime(); end != nil {
		rec.EndDate = end
	}
	if len(info.FileResults) > 0 {
		f := info.FileResults[0]
		rec.Size = f.Size
		rec.Duration = time.Duration(f.Duration).Seconds()
	}
	if info.Error != "" {
		rec.Error = info.Error
		rec.ErrorCode = info.ErrorCode
		rec.Details = fmt.Sprintf("engine reported %s", info.Status)
	}
}
