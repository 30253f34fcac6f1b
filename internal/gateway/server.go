// Package gateway is the WebSocket transport: it accepts connections, assigns
// connection ids and feeds JSON frames to the arena.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler consumes inbound frames and connection loss.
type Handler interface {
	HandleFrame(ctx context.Context, connID string, data []byte)
	Disconnect(ctx context.Context, connID string)
}

type Config struct {
	// AllowedOrigins are host patterns passed to the handshake origin check.
	// A single "*" disables the check.
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	NewConnID      func() string
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.NewConnID == nil {
		c.NewConnID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type Server struct {
	hub     *Hub
	handler Handler
	cfg     Config

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(hub *Hub, handler Handler, cfg Config) *Server {
	base, cancel := context.WithCancel(context.Background())
	return &Server{hub: hub, handler: handler, cfg: cfg.withDefaults(), base: base, cancel: cancel}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = s.cfg.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.cfg.Logger.Info("gateway_accept_rejected", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(conn)
}

func (s *Server) serve(conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.ReadLimit)
	id := s.cfg.NewConnID()
	log := s.cfg.Logger.With(zap.String("conn_id", id))
	p := s.hub.register(id)

	ctx, cancel := context.WithCancel(s.base)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); s.writeLoop(ctx, conn, p) }()
	go func() { defer loops.Done(); s.pingLoop(ctx, conn, p) }()

	s.hub.Send(id, chessdto.NewEvent(chessdto.EventConnected, chessdto.Connected{ConnectionID: id}))
	log.Info("gateway_conn_open")

	err := s.readLoop(ctx, conn, id)
	cancel()
	loops.Wait()

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.handler.Disconnect(dctx, id)
	dcancel()
	s.hub.unregister(id)
	_ = conn.Close(websocket.StatusNormalClosure, "")

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		log.Info("gateway_conn_closed", zap.Int("status", int(status)))
		return
	}
	log.Info("gateway_conn_closed", zap.Int("status", int(status)), zap.Error(err))
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handler.HandleFrame(ctx, id, data)
	}
}

// writeLoop is the only writer of data frames for conn.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			return
		case ev := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, p *peer) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// Close drops every connection and waits for their loops to finish.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	s.hub.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
