package egress

import (
	"time"

	"github.com/aura-webinar/recordings/internal/models"
)

// Status is the engine's view of a composition session.
type Status string

const (
	StatusStarting     Status = "EGRESS_STARTING"
	StatusActive       Status = "EGRESS_ACTIVE"
	StatusEnding       Status = "EGRESS_ENDING"
	StatusComplete     Status = "EGRESS_COMPLETE"
	StatusFailed       Status = "EGRESS_FAILED"
	StatusAborted      Status = "EGRESS_ABORTED"
	StatusLimitReached Status = "EGRESS_LIMIT_REACHED"
)

// RecordingStatus maps the engine status onto the recording lifecycle.
func (s Status) RecordingStatus() models.RecordingStatus {
	switch s {
	case StatusActive:
		return models.RecordingStatusActive
	case StatusEnding:
		return models.RecordingStatusEnding
	case StatusComplete:
		return models.RecordingStatusComplete
	case StatusFailed:
		return models.RecordingStatusFailed
	case StatusAborted:
		return models.RecordingStatusAborted
	case StatusLimitReached:
		return models.RecordingStatusLimitReached
	default:
		return models.RecordingStatusStarting
	}
}

// InProgress reports whether the engine is still producing output for the session.
func (s Status) InProgress() bool {
	return s == StatusStarting || s == StatusActive || s == StatusEnding
}

// FileResult describes one output file of a session.
type FileResult struct {
	Filename string `json:"filename"`
	Location string `json:"location,omitempty"`
	Size     int64  `json:"size"`
	Duration int64  `json:"duration"` // nanoseconds
}

// Info is the engine's description of a composition session.
type Info struct {
	EgressID    string       `json:"egressId" validate:"required"`
	RoomName    string       `json:"roomName" validate:"required"`
	Status      Status       `json:"status" validate:"required"`
	StartedAt   int64        `json:"startedAt,omitempty"` // unix nanoseconds
	EndedAt     int64        `json:"endedAt,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorCode   int          `json:"errorCode,omitempty"`
	FileResults []FileResult `json:"fileResults,omitempty"`
}

// StartTime returns StartedAt as a time, or nil when unset.
func (i Info) StartTime() *time.Time { return nanosToTime(i.StartedAt) }

// EndTime returns EndedAt as a time, or nil when unset.
func (i Info) EndTime() *time.Time { return nanosToTime(i.EndedAt) }

func nanosToTime(ns int64) *time.Time {
	if ns <= 0 {
		return nil
	}
	t := time.Unix(0, ns).UTC()
	return &t
}

// Room is the live state of an engine room.
type Room struct {
	Name            string `json:"name"`
	NumParticipants int    `json:"numParticipants"`
	NumPublishers   int    `json:"numPublishers"`
}

// OutputConfig selects how a composition is laid out and encoded.
type OutputConfig struct {
	Layout   string
	Encoding string
	Filepath string
}

// Notification is a session status change reported by the engine.
type Notification struct {
	RoomID   string `json:"roomId"`
	EgressID string `json:"egressId"`
	Status   Status `json:"status"`
	Info     Info   `json:"info"`
}

// NotificationFromInfo builds the notification for a session update.
func NotificationFromInfo(info Info) Notification {
	return Notification{RoomID: info.RoomName, EgressID: info.EgressID, Status: info.Status, Info: info}
}
