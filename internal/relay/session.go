package relay

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/codefionn/stamphub/internal/hub"
	"github.com/codefionn/stamphub/internal/logger"
	"github.com/codefionn/stamphub/internal/protocol"
	"github.com/codefionn/stamphub/internal/stamp"
)

// Maximum frame size accepted from a peer.
const maxMessageSize = 8192

// Session is one client connection: a write pump draining the hub outbox
// to the socket and a read pump parsing inbound frames into routing
// actions. Any protocol violation or transport error is fatal to this
// session only.
type Session struct {
	hub    *hub.Hub
	engine *stamp.Engine // nil when compositing is disabled
	client *hub.Client
	conn   *websocket.Conn
}

// NewSession wraps an upgraded connection and its registered hub client.
func NewSession(h *hub.Hub, engine *stamp.Engine, client *hub.Client, conn *websocket.Conn) *Session {
	return &Session{
		hub:    h,
		engine: engine,
		client: client,
		conn:   conn,
	}
}

// WritePump transmits outbound frames in FIFO order until the stop
// sentinel arrives or a write fails. The sentinel is never transmitted.
func (s *Session) WritePump() {
	defer s.conn.Close()

	for {
		frame := s.client.Next()
		if frame == protocol.Stop {
			return
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			logger.Error("client %d: write failed: %v", s.client.ID, err)
			return
		}
	}
}

// ReadPump parses inbound frames and dispatches them until the client
// leaves, misbehaves, or the transport fails. Registry cleanup runs
// exactly once regardless of which pump terminated the session;
// Unregister is idempotent and releases the write pump. On a graceful
// LEAVE the connection is left open so the write pump can drain every
// frame enqueued before the stop sentinel; it closes the socket after
// consuming the sentinel. Violations and transport errors close
// immediately.
func (s *Session) ReadPump() {
	defer s.hub.Unregister(s.client.ID)

	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("client %d: read failed: %v", s.client.ID, err)
			}
			s.conn.Close()
			return
		}

		done, err := s.handleFrame(string(data))
		if err != nil {
			logger.Error("client %d: %v", s.client.ID, err)
			s.conn.Close()
			return
		}
		if done {
			return
		}
	}
}

// handleFrame dispatches one decoded inbound frame. A returned error is a
// protocol violation and ends the session; done reports a graceful LEAVE.
func (s *Session) handleFrame(line string) (done bool, err error) {
	in, err := protocol.Decode(line)
	if err != nil {
		return false, err
	}

	switch in.Kind {
	case protocol.KindMessage:
		if in.Broadcast {
			logger.Debug("%d>>A: %s", s.client.ID, in.Payload)
			s.hub.RouteBroadcast(s.client.ID, in.Payload)
			return false, nil
		}
		logger.Debug("%d>>%v: %s", s.client.ID, in.Dests, in.Payload)
		return false, s.hub.RouteTargeted(s.client.ID, in.Dests, in.Payload)

	case protocol.KindStampClear:
		if s.engine == nil {
			return false, errors.New("STAMP_CLEAR while compositing is disabled")
		}
		logger.Info("client %d: clearing stamp outputs", s.client.ID)
		return false, s.engine.ClearOutputs()

	case protocol.KindStamp:
		if s.engine == nil {
			return false, errors.New("STAMP while compositing is disabled")
		}
		receivers, err := s.hub.ResolveRegistered(in.Dests)
		if err != nil {
			return false, err
		}
		if !s.engine.ValidIcon(in.Icon) {
			return false, fmt.Errorf("unknown stamp icon %q", in.Icon)
		}
		s.engine.Submit(&stamp.Job{
			Icon:      in.Icon,
			Offsets:   in.Offsets,
			Receivers: receivers,
		})
		return false, nil

	case protocol.KindLeave:
		var successor *protocol.ClientID
		if in.HasSuccessor {
			successor = &in.Successor
		}
		s.hub.Leave(s.client.ID, successor)
		return true, nil

	default:
		return false, fmt.Errorf("unhandled frame kind %d", in.Kind)
	}
}
