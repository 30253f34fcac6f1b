package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/park285/cheese-chess-server/internal/arena"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type pinger struct{ err error }

func (p *pinger) Ping(context.Context) error { return p.err }

type client struct {
	http *fasthttp.Client
}

func (c *client) do(t *testing.T, method, path string, in any, out any) int {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(method)
	req.SetRequestURI("http://chess.test" + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		req.SetBody(body)
	}
	if err := c.http.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, resp.Body())
		}
	}
	return resp.StatusCode()
}

type fixture struct {
	c     *client
	arena *arena.Arena
	ping  *pinger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	reg := session.NewRegistry(session.Deps{Store: mem, Rules: rules.NewChess()}, session.Config{Grace: time.Minute})
	seq := 0
	a := arena.New(arena.Options{
		Registry: reg,
		Store:    mem,
		Out:      sinkNop{},
		NewRoomID: func() string {
			seq++
			return fmt.Sprintf("room-%d", seq)
		},
	})
	p := &pinger{}
	srv := New(a, p, nil, time.Second)
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = a.Shutdown(ctx)
	})
	return &fixture{
		c:     &client{http: &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}},
		arena: a,
		ping:  p,
	}
}

type sinkNop struct{}

func (sinkNop) Send(string, chessdto.Event) {}

func TestCreateAndFetchGame(t *testing.T) {
	f := newFixture(t)
	var created chessdto.CreateGameResponse
	status := f.c.do(t, fasthttp.MethodPost, "/games", chessdto.CreateGameRequest{UserID: "alice", TimeControl: "blitz"}, &created)
	if status != fasthttp.StatusCreated || created.RoomID != "room-1" || created.URL == "" {
		t.Fatalf("create: %d %+v", status, created)
	}

	var view chessdto.GameView
	if status := f.c.do(t, fasthttp.MethodGet, "/games/room-1", nil, &view); status != fasthttp.StatusOK {
		t.Fatalf("get game: %d", status)
	}
	if view.WhitePlayerID != "alice" || view.Status != store.StatusWaiting || view.WhiteRemainingMs != 300000 {
		t.Fatalf("unexpected view: %+v", view)
	}

	var j chessdto.JoinableResponse
	if status := f.c.do(t, fasthttp.MethodGet, "/games/room-1/joinable", nil, &j); status != fasthttp.StatusOK || !j.Joinable {
		t.Fatalf("joinable: %d %+v", status, j)
	}

	var games chessdto.GamesResponse
	f.c.do(t, fasthttp.MethodGet, "/users/alice/games", nil, &games)
	if len(games.Games) != 1 {
		t.Fatalf("all games: %+v", games)
	}
	f.c.do(t, fasthttp.MethodGet, "/users/alice/games?finished=true", nil, &games)
	if len(games.Games) != 0 {
		t.Fatalf("finished filter ignored: %+v", games)
	}
}

func TestErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	var de chessdto.DomainError
	if status := f.c.do(t, fasthttp.MethodGet, "/games/missing", nil, &de); status != fasthttp.StatusNotFound || de.Code != chessdto.CodeRoomNotFound {
		t.Fatalf("missing game: %d %+v", status, de)
	}
	if status := f.c.do(t, fasthttp.MethodPost, "/games", chessdto.CreateGameRequest{UserID: "a", TimeControl: "glacial"}, &de); status != fasthttp.StatusBadRequest || de.Code != chessdto.CodeUnknownTimeControl {
		t.Fatalf("bad time control: %d %+v", status, de)
	}
	if status := f.c.do(t, fasthttp.MethodPost, "/games", map[string]string{"timeControl": "blitz"}, &de); status != fasthttp.StatusBadRequest {
		t.Fatalf("missing user: %d", status)
	}
	if status := f.c.do(t, fasthttp.MethodDelete, "/games/room-1", nil, nil); status != fasthttp.StatusNotFound {
		t.Fatalf("unrouted method: %d", status)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var h chessdto.HealthResponse
	if status := f.c.do(t, fasthttp.MethodGet, "/healthz", nil, &h); status != fasthttp.StatusOK || h.Status != "ok" {
		t.Fatalf("health: %d %+v", status, h)
	}
	f.ping.err = errors.New("connection refused")
	if status := f.c.do(t, fasthttp.MethodGet, "/healthz", nil, &h); status != fasthttp.StatusServiceUnavailable || h.Store != "unreachable" {
		t.Fatalf("degraded health: %d %+v", status, h)
	}
}
