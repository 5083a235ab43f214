package broadcast

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the WebSocket upgrade endpoint backing Hub (spec §4.6), grounded on the
// teacher's internal/ws/server.go Server/ServerParams/NewServer fx wiring.
type Server struct {
	logger *zap.Logger
	cfg    *config.Config
	hub    *Hub
	http   *http.Server
}

// ServerParams is the fx constructor input for Server.
type ServerParams struct {
	fx.In

	Logger    *zap.Logger
	Config    *config.Config
	Hub       *Hub
	Lifecycle fx.Lifecycle
}

// NewServer constructs the broadcast HTTP server and registers its fx lifecycle hooks.
func NewServer(p ServerParams) *Server {
	s := &Server{logger: p.Logger, cfg: p.Config, hub: p.Hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.http = &http.Server{Addr: p.Config.Broadcast.ListenAddr, Handler: mux}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.hub.Start(ctx)
			go func() {
				if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("broadcast server stopped unexpectedly", zap.Error(err))
				}
			}()
			s.logger.Info("broadcast server listening", zap.String("addr", p.Config.Broadcast.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = s.hub.Stop(ctx)
			return s.http.Shutdown(ctx)
		},
	})

	return s
}

// handleWebSocket upgrades the HTTP request and spins up the session's read/write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := newSession(ksuid.New().String(), conn, s.hub, s.logger)
	s.hub.register(sess)

	go sess.writePump()
	go sess.readPump()
}
