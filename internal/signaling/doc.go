// Package signaling implements the WebSocket signaling surface: room
// join/leave lifecycle and best-effort relay of SDP offers/answers and ICE
// candidates between members of a room.
//
// The server never parses relayed payloads; their structure is a contract
// between the two peers, not this service.
package signaling
