// Package events publishes recording lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/models"
)

// Type names a lifecycle event.
type Type string

const (
	TypeStarted  Type = "recording.started"
	TypeStopping Type = "recording.stopping"
	TypeUpdated  Type = "recording.updated"
	TypeDeleted  Type = "recording.deleted"
)

// Event is one recording lifecycle change.
type Event struct {
	Type        Type                   `json:"type"`
	RecordingID string                 `json:"recordingId"`
	RoomID      string                 `json:"roomId"`
	Status      models.RecordingStatus `json:"status"`
	Recording   *models.Recording      `json:"recording,omitempty"`
	At          time.Time              `json:"at"`
}

// NewEvent builds an event from rec; the recording is attached without internal fields.
func NewEvent(t Type, rec models.Recording) Event {
	pub := rec.Public()
	return Event{
		Type:        t,
		RecordingID: rec.RecordingID,
		RoomID:      rec.RoomID,
		Status:      rec.Status,
		Recording:   &pub,
		At:          time.Now().UTC(),
	}
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic, keyed by room so a room's events stay ordered.
type Kafka struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafka creates a Kafka publisher for the comma-separated brokers list.
func NewKafka(brokers, topic string, logger *zap.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newKafka(writer, logger)
}

func newKafka(w messageWriter, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{writer: w, logger: logger}
}

// Publish writes e synchronously.
func (k *Kafka) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.RoomID),
		Value: body,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "status", Value: []byte(e.Status)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Warn("publish recording event failed",
			zap.String("type", string(e.Type)), zap.String("recording_id", e.RecordingID), zap.Error(err))
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }
