package egress

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	subscriptionBuffer = 8
	maxPending         = 32
)

// Publisher delivers a notification to every waiting start attempt, locally or across instances.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Hub routes engine notifications to the start attempts waiting on them. Subscriptions are keyed by
// room and attempt, so two attempts on the same room never see each other's sessions.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[string]*Subscription
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[string]*Subscription), logger: logger}
}

// Subscribe registers attempt attemptID on roomID. The caller must Close the subscription.
func (h *Hub) Subscribe(roomID, attemptID string) *Subscription {
	s := &Subscription{
		hub:       h,
		roomID:    roomID,
		attemptID: attemptID,
		updates:   make(chan Notification, subscriptionBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.subs[roomID]
	if !ok {
		room = make(map[string]*Subscription)
		h.subs[roomID] = room
	}
	room[attemptID] = s
	return s
}

// Dispatch hands n to every open subscription on its room.
func (h *Hub) Dispatch(n Notification) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[n.RoomID]))
	for _, s := range h.subs[n.RoomID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		h.logger.Debug("no start attempt waiting", zap.String("room_id", n.RoomID), zap.String("egress_id", n.EgressID))
		return
	}
	for _, s := range targets {
		s.deliver(n)
	}
}

// Publish dispatches n in process.
func (h *Hub) Publish(_ context.Context, n Notification) error {
	h.Dispatch(n)
	return nil
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, room := range h.subs {
		n += len(room)
	}
	return n
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.subs[s.roomID]
	if room[s.attemptID] == s {
		delete(room, s.attemptID)
	}
	if len(room) == 0 {
		delete(h.subs, s.roomID)
	}
}

// Subscription is one start attempt's view of engine notifications for its room.
// Until Bind is called notifications are held back; afterwards only those for the bound session pass.
type Subscription struct {
	hub       *Hub
	roomID    string
	attemptID string

	mu       sync.Mutex
	egressID string
	pending  []Notification
	updates  chan Notification
	closed   bool
}

// AttemptID returns the attempt this subscription belongs to.
func (s *Subscription) AttemptID() string { return s.attemptID }

// Updates delivers notifications for the bound session. It is closed by Close.
func (s *Subscription) Updates() <-chan Notification { return s.updates }

// Bind ties the subscription to engine session egressID and releases any held-back notifications
// for that session.
func (s *Subscription) Bind(egressID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.egressID != "" {
		return
	}
	s.egressID = egressID
	pending := s.pending
	s.pending = nil
	for _, n := range pending {
		s.forwardLocked(n)
	}
}

// Close unregisters the subscription. Notifications arriving afterwards are discarded.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.updates)
}

func (s *Subscription) deliver(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.egressID == "" {
		if len(s.pending) < maxPending {
			s.pending = append(s.pending, n)
		}
		return
	}
	s.forwardLocked(n)
}

func (s *Subscription) forwardLocked(n Notification) {
	if n.EgressID != s.egressID {
		s.hub.logger.Debug("dropping notification for another session",
			zap.String("room_id", s.roomID), zap.String("attempt_id", s.attemptID),
			zap.String("egress_id", n.EgressID), zap.String("bound_egress_id", s.egressID))
		return
	}
	select {
	case s.updates <- n:
	default:
		s.hub.logger.Warn("start attempt not draining notifications",
			zap.String("room_id", s.roomID), zap.String("attempt_id", s.attemptID))
	}
}
