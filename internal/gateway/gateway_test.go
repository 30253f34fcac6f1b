package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-chess-server/internal/arena"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestHubRoutesAndDropsFinishedRooms(t *testing.T) {
	h := NewHub(4, nil)
	a := h.register("a")
	b := h.register("b")
	h.Subscribe("a", "r1")
	h.Subscribe("b", "r1")
	h.Subscribe("ghost", "r1")

	h.Broadcast("r1", chessdto.NewEvent(chessdto.EventMove, nil))
	if len(a.send) != 1 || len(b.send) != 1 {
		t.Fatalf("broadcast reached a=%d b=%d", len(a.send), len(b.send))
	}
	h.Send("b", chessdto.NewEvent(chessdto.EventInvalidMove, nil))
	if len(a.send) != 1 || len(b.send) != 2 {
		t.Fatalf("send leaked to other peer")
	}

	h.Broadcast("r1", chessdto.NewEvent(chessdto.EventGameOver, nil))
	if got := h.Subscribers("r1"); len(got) != 0 {
		t.Fatalf("gameOver should drop subscriptions, still %v", got)
	}
	h.Broadcast("r1", chessdto.NewEvent(chessdto.EventMove, nil))
	if len(a.send) != 2 {
		t.Fatalf("events after gameOver must not be delivered")
	}

	h.unregister("a")
	if h.Len() != 1 {
		t.Fatalf("Len = %d", h.Len())
	}
	select {
	case <-a.done:
	default:
		t.Fatalf("unregister should close the peer")
	}
}

func TestHubKicksSlowConsumer(t *testing.T) {
	h := NewHub(1, nil)
	p := h.register("slow")
	h.Send("slow", chessdto.NewEvent(chessdto.EventQueued, nil))
	h.Send("slow", chessdto.NewEvent(chessdto.EventQueued, nil))
	select {
	case <-p.done:
	default:
		t.Fatalf("full queue should kick the peer")
	}
	// further sends are dropped without blocking
	h.Send("slow", chessdto.NewEvent(chessdto.EventQueued, nil))
}

type stack struct {
	srv   *httptest.Server
	gw    *Server
	arena *arena.Arena
}

func newStack(t *testing.T, origins []string) *stack {
	t.Helper()
	hub := NewHub(0, nil)
	mem := store.NewMemory()
	reg := session.NewRegistry(session.Deps{Store: mem, Rules: rules.NewChess(), Out: hub}, session.Config{Grace: time.Minute})
	var rooms, conns atomic.Int64
	a := arena.New(arena.Options{
		Registry:  reg,
		Store:     mem,
		Out:       hub,
		NewRoomID: func() string { return fmt.Sprintf("room-%d", rooms.Add(1)) },
	})
	gw := NewServer(hub, a, Config{
		AllowedOrigins: origins,
		NewConnID:      func() string { return fmt.Sprintf("conn-%d", conns.Add(1)) },
	})
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	st := &stack{srv: httptest.NewServer(mux), gw: gw, arena: a}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Close(ctx)
		_ = a.Shutdown(ctx)
		st.srv.Close()
	})
	return st
}

func (s *stack) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws" }

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func dial(ctx context.Context, t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "bye") })
	return c
}

// await reads until an event named name arrives.
func await(ctx context.Context, t *testing.T, c *websocket.Conn, name string) frame {
	t.Helper()
	for {
		var f frame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if f.Event == name {
			return f
		}
	}
}

func send(ctx context.Context, t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := wsjson.Write(ctx, c, chessdto.NewEvent(event, payload)); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func TestWebSocketMatchAndMove(t *testing.T) {
	st := newStack(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	white := dial(ctx, t, st.url())
	var hello chessdto.Connected
	if err := json.Unmarshal(await(ctx, t, white, chessdto.EventConnected).Payload, &hello); err != nil || hello.ConnectionID == "" {
		t.Fatalf("connected payload: %+v, %v", hello, err)
	}
	send(ctx, t, white, chessdto.EventJoin, chessdto.JoinPayload{UserID: "alice", TimeControl: "blitz"})
	await(ctx, t, white, chessdto.EventQueued)

	black := dial(ctx, t, st.url())
	await(ctx, t, black, chessdto.EventConnected)
	send(ctx, t, black, chessdto.EventJoin, chessdto.JoinPayload{UserID: "bob", TimeControl: "blitz"})

	var start chessdto.GameStart
	if err := json.Unmarshal(await(ctx, t, white, chessdto.EventGameStart).Payload, &start); err != nil {
		t.Fatal(err)
	}
	if start.RoomID != "room-1" || start.WhitePlayer != "alice" || start.BlackPlayer != "bob" {
		t.Fatalf("unexpected gameStart: %+v", start)
	}
	await(ctx, t, black, chessdto.EventGameStart)

	send(ctx, t, white, chessdto.EventMove, chessdto.MovePayload{UserID: "alice", RoomID: "room-1", Move: chessdto.MoveSpec{From: "e2", To: "e4"}})
	var mv chessdto.MoveMade
	if err := json.Unmarshal(await(ctx, t, black, chessdto.EventMove).Payload, &mv); err != nil {
		t.Fatal(err)
	}
	if mv.Turn != session.Black || mv.Move.From != "e2" {
		t.Fatalf("unexpected move: %+v", mv)
	}

	if err := white.Write(ctx, websocket.MessageText, []byte("{oops")); err != nil {
		t.Fatal(err)
	}
	var de chessdto.DomainError
	if err := json.Unmarshal(await(ctx, t, white, chessdto.EventError).Payload, &de); err != nil || de.Code != chessdto.CodeBadRequest {
		t.Fatalf("garbage frame: %+v, %v", de, err)
	}

	send(ctx, t, black, chessdto.EventResign, chessdto.RoomPayload{UserID: "bob", RoomID: "room-1"})
	var over chessdto.GameOver
	if err := json.Unmarshal(await(ctx, t, white, chessdto.EventGameOver).Payload, &over); err != nil {
		t.Fatal(err)
	}
	if over.Winner != session.White || over.Reason != session.ReasonResignation {
		t.Fatalf("unexpected gameOver: %+v", over)
	}
}

func TestWebSocketCloseLeavesQueue(t *testing.T) {
	st := newStack(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, st.url(), nil)
	if err != nil {
		t.Fatal(err)
	}
	await(ctx, t, c, chessdto.EventConnected)
	send(ctx, t, c, chessdto.EventJoin, chessdto.JoinPayload{UserID: "alice", TimeControl: "bullet"})
	await(ctx, t, c, chessdto.EventQueued)
	_ = c.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for st.arena.QueueDepth() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue still holds the closed connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	st := newStack(t, []string{"chess.example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.net")
	if _, _, err := websocket.Dial(ctx, st.url(), &websocket.DialOptions{HTTPHeader: hdr}); err == nil {
		t.Fatalf("foreign origin should be refused")
	}
	hdr.Set("Origin", "https://chess.example.com")
	c, _, err := websocket.Dial(ctx, st.url(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}
