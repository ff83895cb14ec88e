package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents the recording lifecycle.
type RecordingStatus string

const (
	RecordingStatusStarting     RecordingStatus = "STARTING"
	RecordingStatusActive       RecordingStatus = "ACTIVE"
	RecordingStatusEnding       RecordingStatus = "ENDING"
	RecordingStatusComplete     RecordingStatus = "COMPLETE"
	RecordingStatusFailed       RecordingStatus = "FAILED"
	RecordingStatusAborted      RecordingStatus = "ABORTED"
	RecordingStatusLimitReached RecordingStatus = "LIMIT_REACHED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s RecordingStatus) IsTerminal() bool {
	switch s {
	case RecordingStatusComplete, RecordingStatusFailed, RecordingStatusAborted, RecordingStatusLimitReached:
		return true
	}
	return false
}

func (s RecordingStatus) rank() int {
	switch s {
	case RecordingStatusStarting:
		return 0
	case RecordingStatusActive:
		return 1
	case RecordingStatusEnding:
		return 2
	}
	return 3
}

// CanTransition reports whether a recording in s may move to next.
// Transitions only move forward: STARTING -> ACTIVE -> ENDING -> terminal, and any non-terminal
// state may jump straight to a terminal one.
func (s RecordingStatus) CanTransition(next RecordingStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Recording is a server-side room recording produced by the media engine.
type Recording struct {
	RecordingID string          `json:"recordingId"`
	RoomID      string          `json:"roomId"`
	RoomName    string          `json:"roomName,omitempty"`
	Status      RecordingStatus `json:"status"`
	Layout      string          `json:"layout,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	StartDate   *time.Time      `json:"startDate,omitempty"`
	EndDate     *time.Time      `json:"endDate,omitempty"`
	Duration    float64         `json:"duration,omitempty"` // seconds
	Size        int64           `json:"size,omitempty"`     // bytes
	ErrorCode   int             `json:"errorCode,omitempty"`
	Error       string          `json:"error,omitempty"`
	Details     string          `json:"details,omitempty"`
	// LockHolder is the holder token of the room lock taken when this recording started.
	LockHolder string `json:"lockHolder,omitempty"`
}

// Public returns the recording without internal bookkeeping fields.
func (r Recording) Public() Recording {
	r.LockHolder = ""
	return r
}

// EgressID returns the engine session id embedded in the recording id.
func (r Recording) EgressID() string {
	id, err := ParseRecordingID(r.RecordingID)
	if err != nil {
		return ""
	}
	return id.EgressID
}

// recordingIDPattern matches {roomId}--EG_{token}--{suffix}.
var recordingIDPattern = regexp.MustCompile(`^([A-Za-z0-9_-]+?)--(EG_[A-Za-z0-9]+)--([A-Za-z0-9]+)$`)

// egressIDPattern matches engine session identifiers.
var egressIDPattern = regexp.MustCompile(`^EG_[A-Za-z0-9]+$`)

// RecordingID is the parsed form of a recording identifier.
type RecordingID struct {
	RoomID   string
	EgressID string
	Suffix   string
}

func (id RecordingID) String() string {
	return id.RoomID + "--" + id.EgressID + "--" + id.Suffix
}

// ParseRecordingID validates the structure of raw and splits it into its segments.
func ParseRecordingID(raw string) (RecordingID, error) {
	m := recordingIDPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return RecordingID{}, fmt.Errorf("invalid recording id %q", raw)
	}
	return RecordingID{RoomID: m[1], EgressID: m[2], Suffix: m[3]}, nil
}

// NewRecordingID builds the id of a recording for roomID produced by engine session egressID.
func NewRecordingID(roomID, egressID string) (RecordingID, error) {
	if !egressIDPattern.MatchString(egressID) {
		return RecordingID{}, fmt.Errorf("invalid engine session id %q", egressID)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	id := RecordingID{RoomID: roomID, EgressID: egressID, Suffix: suffix}
	if _, err := ParseRecordingID(id.String()); err != nil {
		return RecordingID{}, err
	}
	return id, nil
}

// RecordingSecrets authorize unauthenticated media retrieval for one recording.
type RecordingSecrets struct {
	PublicAccessSecret  string `json:"publicAccessSecret"`
	PrivateAccessSecret string `json:"privateAccessSecret"`
}

// NewRecordingSecrets mints a fresh random secret pair.
func NewRecordingSecrets() RecordingSecrets {
	return RecordingSecrets{
		PublicAccessSecret:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		PrivateAccessSecret: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// Matches reports whether secret is one of the pair.
func (s RecordingSecrets) Matches(secret string) bool {
	return secret != "" && (secret == s.PublicAccessSecret || secret == s.PrivateAccessSecret)
}
