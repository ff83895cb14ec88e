package recordings

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/cache"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
)

const (
	metadataPrefix = "recordings/.metadata/"
	secretsPrefix  = "recordings/.secrets/"
	archivePrefix  = "recordings/.room_metadata/"
	mediaPrefix    = "recordings/"

	// LockPrefix namespaces the per-room recording locks.
	LockPrefix = "lock:recording-active:"
)

// LockName returns the recording lock name for roomID.
func LockName(roomID string) string { return LockPrefix + roomID }

// RoomFromLockName returns the room a recording lock belongs to.
func RoomFromLockName(name string) string { return strings.TrimPrefix(name, LockPrefix) }

// MediaKey returns the object key the engine writes a recording's output to.
func MediaKey(roomID, name string) string { return mediaPrefix + roomID + "/" + name + ".mp4" }

func recordingKey(id models.RecordingID) dualwrite.Key {
	return dualwrite.Key{
		Path:     metadataPrefix + id.RoomID + "/" + id.String() + ".json",
		CacheKey: "recording:" + id.String(),
	}
}

func secretsKey(recordingID string) dualwrite.Key {
	return dualwrite.Key{Path: secretsPrefix + recordingID + ".json", CacheKey: "recording-secrets:" + recordingID}
}

func archiveKey(roomID string) dualwrite.Key {
	return dualwrite.Key{
		Path:     archivePrefix + roomID + "/room_metadata.json",
		CacheKey: "room-archive:" + roomID,
	}
}

func pendingReportKey(roomID, egressID string) string {
	return "recording-pending-report:" + roomID + ":" + egressID
}

// Repository persists recordings, their access secrets and archived room metadata in the dual-write store.
// Terminal engine reports that arrive before their recording is persisted are parked in reports.
type Repository struct {
	store   *dualwrite.Store
	reports cache.Cache
}

// NewRepository creates a recordings repository on store, parking early engine reports in reports.
func NewRepository(store *dualwrite.Store, reports cache.Cache) *Repository {
	return &Repository{store: store, reports: reports}
}

// SavePendingReport parks a terminal engine report for ttl.
func (r *Repository) SavePendingReport(ctx context.Context, info egress.Info, ttl time.Duration) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := r.reports.Set(ctx, pendingReportKey(info.RoomName, info.EgressID), b, ttl); err != nil {
		return apperr.Storage("park engine report", err)
	}
	return nil
}

// TakePendingReport returns and removes the parked report for the session, or nil when there is none.
func (r *Repository) TakePendingReport(ctx context.Context, roomID, egressID string) (*egress.Info, error) {
	key := pendingReportKey(roomID, egressID)
	b, err := r.reports.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("read parked engine report", err)
	}
	var info egress.Info
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode parked engine report", err)
	}
	_ = r.reports.Delete(ctx, key)
	return &info, nil
}

func (r *Repository) SaveRecording(ctx context.Context, rec *models.Recording) error {
	id, err := models.ParseRecordingID(rec.RecordingID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "save recording", err)
	}
	return r.store.Save(ctx, recordingKey(id), rec)
}

// GetRecording returns the recording or a NotFound error.
func (r *Repository) GetRecording(ctx context.Context, id models.RecordingID) (*models.Recording, error) {
	var rec models.Recording
	err := r.store.Get(ctx, recordingKey(id), &rec)
	if errors.Is(err, dualwrite.ErrNotFound) {
		return nil, apperr.NotFound("recording '%s' not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) DeleteRecording(ctx context.Context, id models.RecordingID) error {
	return r.store.Delete(ctx, recordingKey(id))
}

// ListRecordings returns the recordings of roomID, newest first.
func (r *Repository) ListRecordings(ctx context.Context, roomID string) ([]models.Recording, error) {
	keys, err := r.store.List(ctx, metadataPrefix+roomID+"/")
	if err != nil {
		return nil, err
	}
	out := make([]models.Recording, 0, len(keys))
	for _, key := range keys {
		id, err := models.ParseRecordingID(strings.TrimSuffix(path.Base(key), ".json"))
		if err != nil {
			continue
		}
		rec, err := r.GetRecording(ctx, id)
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartDate, out[j].StartDate
		if a == nil || b == nil {
			return out[i].RecordingID < out[j].RecordingID
		}
		return a.After(*b)
	})
	return out, nil
}

// CountRecordings returns how many recordings roomID has.
func (r *Repository) CountRecordings(ctx context.Context, roomID string) (int, error) {
	keys, err := r.store.List(ctx, metadataPrefix+roomID+"/")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// FindByEgress returns the recording of roomID produced by engine session egressID.
func (r *Repository) FindByEgress(ctx context.Context, roomID, egressID string) (*models.Recording, error) {
	recs, err := r.ListRecordings(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].EgressID() == egressID {
			return &recs[i], nil
		}
	}
	return nil, apperr.NotFound("no recording for session '%s'", egressID)
}

func (r *Repository) SaveSecrets(ctx context.Context, recordingID string, s models.RecordingSecrets) error {
	return r.store.Save(ctx, secretsKey(recordingID), s)
}

func (r *Repository) GetSecrets(ctx context.Context, recordingID string) (*models.RecordingSecrets, error) {
	var s models.RecordingSecrets
	err := r.store.Get(ctx, secretsKey(recordingID), &s)
	if errors.Is(err, dualwrite.ErrNotFound) {
		return nil, apperr.NotFound("recording '%s' not found", recordingID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) DeleteSecrets(ctx context.Context, recordingID string) error {
	return r.store.Delete(ctx, secretsKey(recordingID))
}

func (r *Repository) GetArchive(ctx context.Context, roomID string) (*models.ArchivedRoom, error) {
	var a models.ArchivedRoom
	err := r.store.Get(ctx, archiveKey(roomID), &a)
	if errors.Is(err, dualwrite.ErrNotFound) {
		return nil, apperr.NotFound("no archived metadata for room '%s'", roomID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) SaveArchive(ctx context.Context, a models.ArchivedRoom) error {
	return r.store.Save(ctx, archiveKey(a.RoomID), a)
}

// EnsureArchive stores a unless the room already has archived metadata. It reports whether a was written.
func (r *Repository) EnsureArchive(ctx context.Context, a models.ArchivedRoom) (bool, error) {
	_, err := r.GetArchive(ctx, a.RoomID)
	if err == nil {
		return false, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return false, err
	}
	if err := r.SaveArchive(ctx, a); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) DeleteArchive(ctx context.Context, roomID string) error {
	return r.store.Delete(ctx, archiveKey(roomID))
}
