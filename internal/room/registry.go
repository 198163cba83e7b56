package room

import (
	"errors"
	"sync"
)

// DefaultMaxMembers is the default per-room member cap.
//
// Rooms are full-mesh: every member holds a PeerConnection to every other
// member, so the cap bounds per-client fan-out, not server load.
const DefaultMaxMembers = 6

// ErrRoomFull is returned by TryAddMember when the room already holds the
// maximum number of members. The registry is unchanged in that case.
var ErrRoomFull = errors.New("room is full")

// Member is one occupant of a room.
//
// ConnectionID is a weak reference into the transport layer: the registry
// never owns or closes the underlying connection, it only hands the ID back
// to callers as a delivery address.
type Member struct {
	UserID       string
	Username     string
	ConnectionID string
}

// Info is a read-only view of a room used for introspection.
type Info struct {
	UserCount int
	Usernames []string
}

// AddResult is returned by TryAddMember on success.
type AddResult struct {
	// Existing is the set of members that were in the room before this
	// insertion, in insertion order. For a rejoining user it excludes the
	// user's own previous entry.
	Existing []Member

	// Rejoined is true when the user was already in the room and the stored
	// connection address was replaced (reconnect policy; see Registry docs).
	Rejoined bool
}

type roomState struct {
	members map[string]Member

	// order preserves insertion order for snapshots, mirroring what clients
	// observed via user-joined events.
	order []string
}

// Registry maps room IDs to rooms and enforces the membership invariants:
// a userId appears in a room at most once, a room never exceeds maxMembers,
// and a room that becomes empty is deleted in the same operation.
//
// A userId that joins a room it is already in is treated as a reconnect: the
// stored connection address is replaced rather than rejected. The orphaned
// old connection's eventual RemoveByConnection then matches nothing, which
// keeps disconnect cleanup idempotent.
//
// All methods are safe for concurrent use. Each operation is atomic; no
// caller can observe a room mid-mutation.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	maxMembers int
}

// NewRegistry constructs an empty registry. maxMembers <= 0 falls back to
// DefaultMaxMembers.
func NewRegistry(maxMembers int) *Registry {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Registry{
		rooms:      make(map[string]*roomState),
		maxMembers: maxMembers,
	}
}

// MaxMembers returns the per-room member cap.
func (r *Registry) MaxMembers() int {
	return r.maxMembers
}

// TryAddMember inserts the member into the room, creating the room if it does
// not exist. It returns ErrRoomFull (and leaves the registry untouched) when
// the room is at capacity. On success the result carries the pre-insertion
// member snapshot, which the caller relays to the new joiner.
func (r *Registry) TryAddMember(roomID, userID, username, connectionID string) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		rm = &roomState{members: make(map[string]Member)}
		r.rooms[roomID] = rm
	}

	_, rejoined := rm.members[userID]
	if !rejoined && len(rm.members) >= r.maxMembers {
		// Lazily created rooms must not leak on rejection.
		if len(rm.members) == 0 {
			delete(r.rooms, roomID)
		}
		return AddResult{}, ErrRoomFull
	}

	existing := make([]Member, 0, len(rm.members))
	for _, uid := range rm.order {
		if uid == userID {
			continue
		}
		existing = append(existing, rm.members[uid])
	}

	rm.members[userID] = Member{
		UserID:       userID,
		Username:     username,
		ConnectionID: connectionID,
	}
	if !rejoined {
		rm.order = append(rm.order, userID)
	}

	return AddResult{Existing: existing, Rejoined: rejoined}, nil
}

// RemoveMember removes the given user from the room and returns the removed
// member. If the removal empties the room, the room is deleted from the
// registry in the same operation. The second return is false when the room or
// user is unknown.
func (r *Registry) RemoveMember(roomID, userID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Member{}, false
	}
	m, ok := rm.members[userID]
	if !ok {
		return Member{}, false
	}

	r.removeLocked(roomID, rm, userID)
	return m, true
}

// RemoveByConnection removes whichever membership the given connection holds.
// It is the cleanup path for abrupt disconnects, where the caller knows only
// the connection, and is a no-op for connections that never joined a room.
//
// A connection holds at most one membership, so the scan stops at the first
// match.
func (r *Registry) RemoveByConnection(connectionID string) (roomID string, m Member, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rm := range r.rooms {
		for uid, member := range rm.members {
			if member.ConnectionID != connectionID {
				continue
			}
			r.removeLocked(id, rm, uid)
			return id, member, true
		}
	}
	return "", Member{}, false
}

// Lookup resolves a (room, user) pair to its member entry.
func (r *Registry) Lookup(roomID, userID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Member{}, false
	}
	m, ok := rm.members[userID]
	return m, ok
}

// Members returns the room's current member snapshot in insertion order.
// The slice is owned by the caller.
func (r *Registry) Members(roomID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return nil
	}
	out := make([]Member, 0, len(rm.members))
	for _, uid := range rm.order {
		out = append(out, rm.members[uid])
	}
	return out
}

// Snapshot returns an introspection view of the room. An unknown room yields
// a zeroed Info: "room doesn't exist" and "room is empty" are observably
// identical to callers.
func (r *Registry) Snapshot(roomID string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Info{Usernames: []string{}}
	}
	names := make([]string, 0, len(rm.members))
	for _, uid := range rm.order {
		names = append(names, rm.members[uid].Username)
	}
	return Info{UserCount: len(rm.members), Usernames: names}
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) removeLocked(roomID string, rm *roomState, userID string) {
	delete(rm.members, userID)
	for i, uid := range rm.order {
		if uid == userID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}
