package signaling

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/ratelimit"
)

const wsWriteWait = 10 * time.Second

// conn is one accepted WebSocket connection. The ID is the opaque address
// stored in the registry; the send channel is drained by a dedicated writer
// goroutine so all writes to the socket come from one place.
type conn struct {
	id   string
	sock *websocket.Conn
	send chan any
}

// WebSocketServer upgrades HTTP requests at the signaling endpoint and runs
// the per-connection read/write pumps.
//
// Reads are hardened the same way as the rest of the service's inbound
// surface: message size cap, per-connection message rate, and an idle
// timeout refreshed by pongs.
type WebSocketServer struct {
	cfg      config.Config
	core     *Server
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg config.Config, core *Server) *WebSocketServer {
	s := &WebSocketServer{cfg: cfg, core: core}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			header := strings.TrimSpace(r.Header.Get("Origin"))
			if header == "" {
				// Non-browser clients (CLI tools, tests) send no Origin.
				return true
			}
			normalized, host, ok := origin.Normalize(header)
			return ok && origin.IsAllowed(normalized, host, r.Host, cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan any, sendQueueSize),
	}
	s.core.register(c)
	go s.writeLoop(c)

	s.readLoop(c)

	// Both exit paths (graceful close and abrupt drop) converge here; the
	// cleanup itself is idempotent, so which one wins a race doesn't matter.
	s.core.unregister(c)
	s.core.HandleDisconnect(c.id)
	_ = sock.Close()
}

// readLoop delivers inbound events to the controller strictly in order for
// this connection. It returns when the connection errors, idles out, or
// violates a limit.
func (s *WebSocketServer) readLoop(c *conn) {
	limiter := ratelimit.NewTokenBucket(nil,
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond))

	c.sock.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	resetDeadline := func() {
		_ = c.sock.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	}
	resetDeadline()
	c.sock.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		msgType, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		if msgType != websocket.TextMessage {
			writeClose(c.sock, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(1) {
			s.core.metrics.Inc(metrics.EventConnRateLimited)
			writeClose(c.sock, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		ev, err := parseClientEvent(data)
		if err != nil {
			// One bad message must not affect the rest of the connection, let
			// alone other connections: log, count, drop.
			s.core.metrics.Inc(metrics.EventMalformedMessage)
			s.core.log.Warn("dropping malformed signaling message",
				"connection_id", c.id, "err", err)
			continue
		}

		s.core.dispatch(c, ev)
	}
}

// writeLoop is the only writer to the socket. It drains the outbound queue
// and keeps the connection alive with periodic pings.
func (s *WebSocketServer) writeLoop(c *conn) {
	ticker := time.NewTicker(s.cfg.SignalingWSPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(sock *websocket.Conn, code int, reason string) {
	_ = sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
