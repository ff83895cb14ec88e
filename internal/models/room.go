package models

import "time"

// Room is a meeting room whose recordings this service coordinates.
type Room struct {
	RoomID       string    `json:"roomId"`
	RoomName     string    `json:"roomName"`
	ModeratorURL string    `json:"moderatorUrl"`
	SpeakerURL   string    `json:"speakerUrl"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ArchivedRoom is the snapshot of a room's access URLs kept while the room has recordings.
type ArchivedRoom struct {
	RoomID       string    `json:"roomId"`
	RoomName     string    `json:"roomName"`
	ModeratorURL string    `json:"moderatorUrl"`
	SpeakerURL   string    `json:"speakerUrl"`
	ArchivedAt   time.Time `json:"archivedAt"`
}

// Archive snapshots the room.
func (r Room) Archive(at time.Time) ArchivedRoom {
	return ArchivedRoom{
		RoomID:       r.RoomID,
		RoomName:     r.RoomName,
		ModeratorURL: r.ModeratorURL,
		SpeakerURL:   r.SpeakerURL,
		ArchivedAt:   at,
	}
}

// Preferences are the global settings shared by every instance.
type Preferences struct {
	Recording RecordingPreferences `json:"recording" validate:"required"`
}

// RecordingPreferences is the output config handed to the media engine on start.
type RecordingPreferences struct {
	Layout   string `json:"layout" validate:"required,oneof=grid speaker single-speaker"`
	Encoding string `json:"encoding" validate:"required,oneof=H264_720P_30 H264_720P_60 H264_1080P_30 H264_1080P_60"`
}

// DefaultPreferences is used until preferences are first saved.
func DefaultPreferences() Preferences {
	return Preferences{Recording: RecordingPreferences{Layout: "grid", Encoding: "H264_720P_30"}}
}
