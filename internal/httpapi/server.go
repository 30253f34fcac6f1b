// Package httpapi serves the REST surface: invite creation, game lookups and
// the health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Service is the slice of the arena the REST layer needs.
type Service interface {
	CreateInvite(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.CreateGameResponse, error)
	Game(ctx context.Context, roomID string) (*chessdto.GameView, error)
	GamesByUser(ctx context.Context, userID string, finishedOnly bool) (*chessdto.GamesResponse, error)
	Joinable(ctx context.Context, roomID string) (*chessdto.JoinableResponse, error)
	ErrorFor(err error, roomID string) chessdto.DomainError
	QueueDepth() int
	Rooms() int
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc     Service
	store   Pinger
	timeout time.Duration
	log     *zap.Logger
	srv     *fasthttp.Server
}

// New builds the server. store may be nil, which reports the backend as ok.
func New(svc Service, store Pinger, logger *zap.Logger, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, store: store, timeout: timeout, log: logger}
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		Name:               "chess-server",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 64 << 10,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }
func (s *Server) Serve(ln net.Listener) error      { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handle routes one request.
func (s *Server) Handle(rc *fasthttp.RequestCtx) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	path := strings.Trim(string(rc.Path()), "/")
	parts := strings.Split(path, "/")
	switch {
	case path == "healthz" && rc.IsGet():
		s.health(ctx, rc)
	case path == "games" && rc.IsPost():
		s.createGame(ctx, rc)
	case len(parts) == 2 && parts[0] == "games" && rc.IsGet():
		s.game(ctx, rc, parts[1])
	case len(parts) == 3 && parts[0] == "games" && parts[2] == "joinable" && rc.IsGet():
		s.joinable(ctx, rc, parts[1])
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "games" && rc.IsGet():
		s.userGames(ctx, rc, parts[1])
	default:
		writeError(rc, fasthttp.StatusNotFound, chessdto.DomainError{Code: chessdto.CodeBadRequest, Message: "no such endpoint"})
	}

	s.log.Debug("http_request",
		zap.ByteString("method", rc.Method()),
		zap.String("path", "/"+path),
		zap.Int("status", rc.Response.StatusCode()),
		zap.Duration("took", time.Since(start)),
	)
}

func (s *Server) createGame(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req chessdto.CreateGameRequest
	if err := json.Unmarshal(rc.PostBody(), &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(rc, fasthttp.StatusBadRequest, chessdto.DomainError{Code: chessdto.CodeBadRequest, Message: "userId and timeControl are required"})
		return
	}
	resp, err := s.svc.CreateInvite(ctx, req)
	if err != nil {
		s.fail(rc, err, "")
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, resp)
}

func (s *Server) game(ctx context.Context, rc *fasthttp.RequestCtx, roomID string) {
	v, err := s.svc.Game(ctx, roomID)
	if err != nil {
		s.fail(rc, err, roomID)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, v)
}

func (s *Server) joinable(ctx context.Context, rc *fasthttp.RequestCtx, roomID string) {
	v, err := s.svc.Joinable(ctx, roomID)
	if err != nil {
		s.fail(rc, err, roomID)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, v)
}

func (s *Server) userGames(ctx context.Context, rc *fasthttp.RequestCtx, userID string) {
	finished := false
	if v := rc.QueryArgs().Peek("finished"); len(v) > 0 {
		finished = string(v) == "true" || string(v) == "1"
	}
	v, err := s.svc.GamesByUser(ctx, userID, finished)
	if err != nil {
		s.fail(rc, err, "")
		return
	}
	writeJSON(rc, fasthttp.StatusOK, v)
}

func (s *Server) health(ctx context.Context, rc *fasthttp.RequestCtx) {
	resp := chessdto.HealthResponse{Status: "ok", Rooms: s.svc.Rooms(), QueueDepth: s.svc.QueueDepth(), Store: "ok"}
	status := fasthttp.StatusOK
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("http_health_store_down", zap.Error(err))
			resp.Status, resp.Store = "degraded", "unreachable"
			status = fasthttp.StatusServiceUnavailable
		}
	}
	writeJSON(rc, status, resp)
}

func (s *Server) fail(rc *fasthttp.RequestCtx, err error, roomID string) {
	de := s.svc.ErrorFor(err, roomID)
	status := statusFor(de.Code)
	if status >= 500 {
		s.log.Error("http_request_failed", zap.String("room_id", roomID), zap.Error(err))
	}
	writeError(rc, status, de)
}

func statusFor(code string) int {
	switch code {
	case chessdto.CodeBadRequest, chessdto.CodeUnknownTimeControl:
		return fasthttp.StatusBadRequest
	case chessdto.CodeRoomNotFound:
		return fasthttp.StatusNotFound
	case chessdto.CodeNotAPlayer, chessdto.CodeNotCancellable, chessdto.CodeAlreadySettled, chessdto.CodeRoomFull:
		return fasthttp.StatusConflict
	case chessdto.CodePersistence, chessdto.CodeCapacity:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		rc.Error(`{"code":"internal","message":"encode response"}`, fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(body)
}

func writeError(rc *fasthttp.RequestCtx, status int, de chessdto.DomainError) {
	writeJSON(rc, status, de)
}
