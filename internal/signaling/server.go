package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/room"
)

// sendQueueSize bounds per-connection outbound buffering. Delivery is
// best-effort: a connection that cannot drain its queue loses messages
// rather than stalling room mutations for everyone else.
const sendQueueSize = 256

// Server is the connection-lifecycle controller and signaling router.
//
// It owns the map from connection ID to live connection (the delivery
// addresses) and orchestrates the room registry. All outbound fan-out is
// computed from snapshots returned by registry operations, so no delivery
// happens while the registry lock is held.
type Server struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *room.Registry

	mu    sync.Mutex
	conns map[string]*conn
}

// NewServer constructs a Server around the given registry. logger and m may
// be nil.
func NewServer(registry *room.Registry, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		log:      logger,
		metrics:  m,
		registry: registry,
		conns:    make(map[string]*conn),
	}
}

// Registry exposes the room registry for read-only HTTP introspection.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Metrics exposes the counter registry for the /metrics endpoint.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.Inc(metrics.EventConnectionOpened)
}

// unregister drops the connection from the address map and wakes its writer.
// It must run before disconnect cleanup so no broadcast targets a dead queue.
func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	if s.conns[c.id] == c {
		delete(s.conns, c.id)
	}
	close(c.send)
	s.mu.Unlock()
	s.metrics.Inc(metrics.EventConnectionClosed)
}

// dispatch routes one parsed inbound event. The caller (the per-connection
// read loop) guarantees events from a single connection arrive sequentially.
func (s *Server) dispatch(c *conn, ev clientEvent) {
	switch ev.Type {
	case eventJoinRoom:
		s.handleJoin(c, ev)
	case eventLeaveRoom:
		s.handleLeave(c, ev)
	case eventOffer, eventAnswer, eventICECandidate:
		s.handleRelay(c, ev)
	case eventGetRoomInfo:
		s.handleRoomInfo(c, ev)
	}
}

func (s *Server) handleJoin(c *conn, ev clientEvent) {
	res, err := s.registry.TryAddMember(ev.RoomID, ev.UserID, ev.Username, c.id)
	if err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			s.metrics.Inc(metrics.EventJoinRejectedRoomFull)
			s.log.Info("join rejected, room full",
				"room_id", ev.RoomID, "user_id", ev.UserID, "connection_id", c.id)
			s.sendTo(c.id, roomFullEvent{
				Type:    eventRoomFull,
				Message: fmt.Sprintf("Room is full (max %d users)", s.registry.MaxMembers()),
			})
		}
		return
	}

	s.metrics.Inc(metrics.EventJoin)

	users := make([]wireUser, 0, len(res.Existing))
	for _, m := range res.Existing {
		users = append(users, wireUser{UserID: m.UserID, Username: m.Username})
	}
	s.sendTo(c.id, existingUsersEvent{Type: eventExistingUsers, Users: users})

	// The joiner is excluded from its own join notice. On a rejoin the other
	// members are notified again so they renegotiate with the new connection.
	s.broadcastExcept(ev.RoomID, c.id, presenceEvent{
		Type:     eventUserJoined,
		UserID:   ev.UserID,
		Username: ev.Username,
	})

	s.log.Info("user joined room",
		"room_id", ev.RoomID,
		"user_id", ev.UserID,
		"username", ev.Username,
		"connection_id", c.id,
		"rejoined", res.Rejoined,
		"room_size", len(res.Existing)+1,
	)
}

func (s *Server) handleLeave(c *conn, ev clientEvent) {
	m, ok := s.registry.RemoveMember(ev.RoomID, ev.UserID)
	if !ok {
		return
	}
	s.metrics.Inc(metrics.EventLeave)
	s.notifyLeft(ev.RoomID, m)
	s.log.Info("user left room",
		"room_id", ev.RoomID, "user_id", m.UserID, "username", m.Username)
}

// HandleDisconnect runs the abrupt-disconnect cleanup for a connection. It
// converges on the same registry removal and user-left broadcast as a
// graceful leave, and is a no-op for connections without a membership
// (never joined, already left, or replaced by a reconnect).
func (s *Server) HandleDisconnect(connectionID string) {
	roomID, m, ok := s.registry.RemoveByConnection(connectionID)
	if !ok {
		return
	}
	s.metrics.Inc(metrics.EventDisconnectCleanup)
	s.notifyLeft(roomID, m)
	s.log.Info("user disconnected from room",
		"room_id", roomID, "user_id", m.UserID, "username", m.Username, "connection_id", connectionID)
}

// notifyLeft broadcasts user-left to the members remaining after a removal.
// The departed member is no longer in the snapshot, so it never addresses
// itself.
func (s *Server) notifyLeft(roomID string, m room.Member) {
	s.broadcastExcept(roomID, "", presenceEvent{
		Type:     eventUserLeft,
		UserID:   m.UserID,
		Username: m.Username,
	})
}

// handleRelay forwards an offer/answer/ice-candidate to exactly the addressed
// member. An unresolvable target is a silent drop: during a join/leave race
// the sender cannot distinguish "peer left" from "message lost" anyway.
func (s *Server) handleRelay(c *conn, ev clientEvent) {
	target, ok := s.registry.Lookup(ev.RoomID, ev.TargetUserID)
	if !ok {
		s.metrics.Inc(metrics.EventRelayDroppedUnknownTarget)
		s.log.Debug("relay dropped, unknown target",
			"kind", string(ev.Type), "room_id", ev.RoomID,
			"from_user_id", ev.FromUserID, "target_user_id", ev.TargetUserID)
		return
	}

	out := relayEvent{Type: ev.Type, FromUserID: ev.FromUserID}
	switch ev.Type {
	case eventOffer:
		out.Offer = ev.relayPayload()
		out.FromUsername = ev.FromUsername
	case eventAnswer:
		out.Answer = ev.relayPayload()
	case eventICECandidate:
		out.Candidate = ev.relayPayload()
	}

	s.metrics.Inc(metrics.EventRelay)
	s.sendTo(target.ConnectionID, out)
	s.log.Debug("relayed signaling message",
		"kind", string(ev.Type), "room_id", ev.RoomID,
		"from_user_id", ev.FromUserID, "target_user_id", ev.TargetUserID)
}

func (s *Server) handleRoomInfo(c *conn, ev clientEvent) {
	info := s.registry.Snapshot(ev.RoomID)
	s.sendTo(c.id, roomInfoEvent{
		Type:      eventRoomInfo,
		RoomID:    ev.RoomID,
		UserCount: info.UserCount,
		Users:     info.Usernames,
	})
}

// broadcastExcept fans an event out to every current member of the room,
// skipping exceptConnID. The member snapshot is taken after the triggering
// mutation completed, so the set is consistent with what the registry
// recorded.
func (s *Server) broadcastExcept(roomID, exceptConnID string, event any) {
	for _, m := range s.registry.Members(roomID) {
		if m.ConnectionID == exceptConnID {
			continue
		}
		s.sendTo(m.ConnectionID, event)
	}
}

// sendTo enqueues an event for delivery on the given connection. It never
// blocks: unknown connections (already gone) and full queues drop the event.
func (s *Server) sendTo(connectionID string, event any) {
	s.mu.Lock()
	c := s.conns[connectionID]
	var dropped bool
	if c != nil {
		select {
		case c.send <- event:
		default:
			dropped = true
		}
	}
	s.mu.Unlock()

	if c == nil {
		s.metrics.Inc(metrics.EventSendDroppedGone)
		return
	}
	if dropped {
		s.metrics.Inc(metrics.EventSendDroppedQueueFull)
		s.log.Warn("outbound queue full, dropping event", "connection_id", connectionID)
	}
}
