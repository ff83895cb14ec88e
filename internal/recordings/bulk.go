package recordings

import (
	"context"
	"encoding/csv"
	"strings"

	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/pkg/apperr"
)

// BulkFailure is one recording a bulk delete could not remove.
type BulkFailure struct {
	RecordingID string      `json:"recordingId"`
	Error       string      `json:"error"`
	Kind        apperr.Kind `json:"-"`
}

// BulkResult lists what a bulk delete removed and what it could not.
type BulkResult struct {
	Deleted []string      `json:"deleted"`
	Failed  []BulkFailure `json:"failed,omitempty"`
}

// Complete reports whether every requested recording was deleted.
func (r BulkResult) Complete() bool { return len(r.Failed) == 0 }

// ParseIDList splits a comma-separated id list, dropping blanks.
func ParseIDList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Validation("recordingIds is required")
	}
	r := csv.NewReader(strings.NewReader(raw))
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "recordingIds is not a valid comma-separated list", err)
	}
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ids = append(ids, f)
		}
	}
	return ids, nil
}

// BulkDelete deletes each recording independently. Ids are de-duplicated; a malformed id rejects the
// whole request before anything is deleted. Per-recording failures are reported, not returned.
func (s *Service) BulkDelete(ctx context.Context, recordingIDs []string, scope Scope) (*BulkResult, error) {
	seen := make(map[string]struct{}, len(recordingIDs))
	ids := make([]string, 0, len(recordingIDs))
	for _, id := range recordingIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("no recording ids given")
	}
	for _, id := range ids {
		if _, err := parseRecordingID(id); err != nil {
			return nil, err
		}
	}

	result := &BulkResult{Deleted: []string{}}
	for _, id := range ids {
		if err := s.Delete(ctx, id, scope); err != nil {
			result.Failed = append(result.Failed, BulkFailure{
				RecordingID: id,
				Error:       apperr.Message(err),
				Kind:        apperr.KindOf(err),
			})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	if !result.Complete() {
		s.logger.Info("bulk delete partially failed",
			zap.Int("deleted", len(result.Deleted)), zap.Int("failed", len(result.Failed)))
	}
	return result, nil
}
