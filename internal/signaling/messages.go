package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type eventType string

const (
	eventJoinRoom      eventType = "join-room"
	eventLeaveRoom     eventType = "leave-room"
	eventOffer         eventType = "offer"
	eventAnswer        eventType = "answer"
	eventICECandidate  eventType = "ice-candidate"
	eventGetRoomInfo   eventType = "get-room-info"
	eventExistingUsers eventType = "existing-users"
	eventUserJoined    eventType = "user-joined"
	eventUserLeft      eventType = "user-left"
	eventRoomFull      eventType = "room-full"
	eventRoomInfo      eventType = "room-info"
)

// clientEvent is the inbound wire schema. Exactly one event type is valid per
// message; validate() enforces the per-type required fields.
//
// Offer/Answer/Candidate are kept as raw JSON: the relay forwards them
// verbatim and never interprets their contents.
type clientEvent struct {
	Type eventType `json:"type"`

	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientEvent(data []byte) (clientEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ev clientEvent
	if err := dec.Decode(&ev); err != nil {
		return clientEvent{}, err
	}
	if err := ev.validate(); err != nil {
		return clientEvent{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientEvent{}, fmt.Errorf("unexpected trailing data")
	}
	return ev, nil
}

func (ev clientEvent) validate() error {
	switch ev.Type {
	case eventJoinRoom:
		if ev.RoomID == "" || ev.UserID == "" || ev.Username == "" {
			return fmt.Errorf("join-room requires roomId, userId and username")
		}
		if ev.TargetUserID != "" || ev.FromUserID != "" || ev.FromUsername != "" ||
			ev.Offer != nil || ev.Answer != nil || ev.Candidate != nil {
			return fmt.Errorf("join-room has unexpected fields")
		}
	case eventLeaveRoom:
		if ev.RoomID == "" || ev.UserID == "" {
			return fmt.Errorf("leave-room requires roomId and userId")
		}
		if ev.Username != "" || ev.TargetUserID != "" || ev.FromUserID != "" ||
			ev.FromUsername != "" || ev.Offer != nil || ev.Answer != nil || ev.Candidate != nil {
			return fmt.Errorf("leave-room has unexpected fields")
		}
	case eventOffer:
		if ev.RoomID == "" || ev.TargetUserID == "" || ev.FromUserID == "" || ev.FromUsername == "" {
			return fmt.Errorf("offer requires roomId, targetUserId, fromUserId and fromUsername")
		}
		if ev.Offer == nil {
			return fmt.Errorf("offer message missing offer payload")
		}
		if ev.UserID != "" || ev.Username != "" || ev.Answer != nil || ev.Candidate != nil {
			return fmt.Errorf("offer has unexpected fields")
		}
	case eventAnswer:
		if ev.RoomID == "" || ev.TargetUserID == "" || ev.FromUserID == "" {
			return fmt.Errorf("answer requires roomId, targetUserId and fromUserId")
		}
		if ev.Answer == nil {
			return fmt.Errorf("answer message missing answer payload")
		}
		if ev.UserID != "" || ev.Username != "" || ev.FromUsername != "" ||
			ev.Offer != nil || ev.Candidate != nil {
			return fmt.Errorf("answer has unexpected fields")
		}
	case eventICECandidate:
		if ev.RoomID == "" || ev.TargetUserID == "" || ev.FromUserID == "" {
			return fmt.Errorf("ice-candidate requires roomId, targetUserId and fromUserId")
		}
		if ev.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate payload")
		}
		if ev.UserID != "" || ev.Username != "" || ev.FromUsername != "" ||
			ev.Offer != nil || ev.Answer != nil {
			return fmt.Errorf("ice-candidate has unexpected fields")
		}
	case eventGetRoomInfo:
		if ev.RoomID == "" {
			return fmt.Errorf("get-room-info requires roomId")
		}
		if ev.UserID != "" || ev.Username != "" || ev.TargetUserID != "" ||
			ev.FromUserID != "" || ev.FromUsername != "" ||
			ev.Offer != nil || ev.Answer != nil || ev.Candidate != nil {
			return fmt.Errorf("get-room-info has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported event type %q", ev.Type)
	}
	return nil
}

// relayPayload returns the opaque payload field for the three relay kinds.
func (ev clientEvent) relayPayload() json.RawMessage {
	switch ev.Type {
	case eventOffer:
		return ev.Offer
	case eventAnswer:
		return ev.Answer
	case eventICECandidate:
		return ev.Candidate
	default:
		return nil
	}
}

// Outbound wire schema.

type wireUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type existingUsersEvent struct {
	Type  eventType  `json:"type"`
	Users []wireUser `json:"users"`
}

// presenceEvent is shared by user-joined and user-left.
type presenceEvent struct {
	Type     eventType `json:"type"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
}

type roomFullEvent struct {
	Type    eventType `json:"type"`
	Message string    `json:"message"`
}

// relayEvent is what the addressed peer receives. Exactly one of
// Offer/Answer/Candidate is set; fromUsername is only present on offers (the
// far peer needs a caller identity to render before answering).
type relayEvent struct {
	Type eventType `json:"type"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername,omitempty"`
}

type roomInfoEvent struct {
	Type      eventType `json:"type"`
	RoomID    string    `json:"roomId"`
	UserCount int       `json:"userCount"`
	Users     []string  `json:"users"`
}
