package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/stamphub/internal/hub"
	"github.com/codefionn/stamphub/internal/logger"
	"github.com/codefionn/stamphub/internal/stamp"
)

// Server accepts websocket connections and hands each one to a Session.
// One Server instance backs one listener; the insecure and secure
// endpoints each get their own Server sharing the same hub and engine.
type Server struct {
	addr       string
	certFile   string
	keyFile    string
	hub        *hub.Hub
	engine     *stamp.Engine
	httpServer *http.Server
}

// NewServer creates a relay endpoint. engine may be nil when compositing
// is disabled; certFile and keyFile may be empty for a plain listener.
func NewServer(addr string, h *hub.Hub, engine *stamp.Engine, certFile, keyFile string) *Server {
	return &Server{
		addr:     addr,
		certFile: certFile,
		keyFile:  keyFile,
		hub:      h,
		engine:   engine,
	}
}

// Handler returns the websocket upgrade endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Serve listens until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	if s.certFile != "" {
		logger.Info("listening on %s (websocket -- secure)", s.addr)
		return s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	logger.Info("listening on %s (websocket -- insecure)", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade websocket: %v", err)
		return
	}

	client := s.hub.Register()
	session := NewSession(s.hub, s.engine, client, conn)

	go session.WritePump()
	go session.ReadPump()
}
