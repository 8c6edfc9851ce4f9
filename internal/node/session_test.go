package node

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"collabboard/internal/board"
	"collabboard/internal/bus"
	"collabboard/internal/store"
)

// fakeOut captures what a session pushes to its client.
type fakeOut struct {
	mu   sync.Mutex
	msgs []serverMessage
}

func (f *fakeOut) push(m serverMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return true
}

func (f *fakeOut) messages() []serverMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serverMessage(nil), f.msgs...)
}

func newTestNode(t *testing.T) (*Node, *bus.Memory) {
	t.Helper()
	st, err := store.NewBolt(filepath.Join(t.TempDir(), "board.db"), "test-board")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	return New(st, b), b
}

func seed(t *testing.T, n *Node, strokes ...board.Stroke) {
	t.Helper()
	if err := n.store.AppendMany(context.Background(), strokes); err != nil {
		t.Fatal(err)
	}
}

func testStroke(id, user string) board.Stroke {
	return board.Stroke{ID: id, UserID: user, Payload: json.RawMessage(`{"p":"` + id + `"}`)}
}

func recvBusEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("bus subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
	}
	return bus.Event{}
}

func assertNoBusEvent(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected bus event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterBootstrapsFromStore(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNode(t)
	seed(t, n, testStroke("a", "u1"), testStroke("b", "u2"))

	out := &fakeOut{}
	s := newSession(n, out, "10.0.0.7:52114")
	s.handle(ctx, clientCommand{Type: cmdRegister})

	msgs := out.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user-info then init-board, got %d messages", len(msgs))
	}
	if msgs[0].Type != msgUserInfo || msgs[0].UserID == "" {
		t.Errorf("bad user-info: %+v", msgs[0])
	}
	if msgs[0].UserID != deriveUserID("10.0.0.7:52114") {
		t.Errorf("user id not derived from transport identity: %s", msgs[0].UserID)
	}
	if msgs[1].Type != msgInitBoard || len(msgs[1].Strokes) != 2 {
		t.Fatalf("bad init-board: %+v", msgs[1])
	}
	if msgs[1].Strokes[0].ID != "a" || msgs[1].Strokes[1].ID != "b" {
		t.Errorf("bootstrap does not match store order: %+v", msgs[1].Strokes)
	}
}

func TestRegisterEmptyBoardSendsEmptyInit(t *testing.T) {
	n, _ := newTestNode(t)
	out := &fakeOut{}
	s := newSession(n, out, "c1")
	s.handle(context.Background(), clientCommand{Type: cmdRegister})

	msgs := out.messages()
	if len(msgs) != 2 || msgs[1].Type != msgInitBoard {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[1].Strokes == nil || len(msgs[1].Strokes) != 0 {
		t.Errorf("expected empty non-nil board, got %+v", msgs[1].Strokes)
	}
}

func TestRegisterKeepsClientSuppliedID(t *testing.T) {
	n, _ := newTestNode(t)
	out := &fakeOut{}
	s := newSession(n, out, "c1")
	s.handle(context.Background(), clientCommand{Type: cmdRegister, UserID: "alice"})

	if s.userID != "alice" {
		t.Fatalf("expected alice, got %q", s.userID)
	}
	if msgs := out.messages(); msgs[0].UserID != "alice" {
		t.Errorf("user-info carries %q", msgs[0].UserID)
	}
}

func TestSecondRegisterIgnored(t *testing.T) {
	n, _ := newTestNode(t)
	out := &fakeOut{}
	s := newSession(n, out, "c1")
	s.handle(context.Background(), clientCommand{Type: cmdRegister, UserID: "alice"})
	s.handle(context.Background(), clientCommand{Type: cmdRegister, UserID: "mallory"})

	if s.userID != "alice" {
		t.Fatalf("identity changed on re-register: %q", s.userID)
	}
	if msgs := out.messages(); len(msgs) != 2 {
		t.Errorf("re-register produced messages: %+v", msgs)
	}
}

func TestCommandsBeforeRegisterAreIgnored(t *testing.T) {
	ctx := context.Background()
	n, b := newTestNode(t)
	seed(t, n, testStroke("a", "u1"))
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	out := &fakeOut{}
	s := newSession(n, out, "c1")
	s.handle(ctx, clientCommand{Type: cmdDraw, Payload: json.RawMessage(`{}`)})
	s.handle(ctx, clientCommand{Type: cmdClearAll})
	s.handle(ctx, clientCommand{Type: cmdClearMine})

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("unregistered commands touched the store: %+v", got)
	}
	if len(out.messages()) != 0 {
		t.Errorf("unregistered commands produced client messages")
	}
	assertNoBusEvent(t, events)
}

func TestDrawAppendsThenPublishes(t *testing.T) {
	ctx := context.Background()
	n, b := newTestNode(t)
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(n, &fakeOut{}, "c1")
	s.handle(ctx, clientCommand{Type: cmdRegister, UserID: "alice"})
	s.handle(ctx, clientCommand{Type: cmdDraw, Payload: json.RawMessage(`{"x":4}`)})

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("stroke not stored for session user: %+v", got)
	}
	ev := recvBusEvent(t, events)
	if ev.Type != bus.EventDraw || ev.Stroke == nil {
		t.Fatalf("expected draw event, got %+v", ev)
	}
	if ev.Stroke.ID != got[0].ID || ev.Origin != n.ID {
		t.Errorf("event does not match stored stroke: %+v", ev)
	}
}

// errStore fails every operation, standing in for an unreachable backend.
type errStore struct{}

var errDown = errors.New("backend down")

func (errStore) Append(context.Context, board.Stroke) error       { return errDown }
func (errStore) AppendMany(context.Context, []board.Stroke) error { return errDown }
func (errStore) ReadAll(context.Context) ([]board.Stroke, error)  { return nil, errDown }
func (errStore) Clear(context.Context) error                      { return errDown }
func (errStore) Close() error                                     { return nil }

func TestFailedWritePublishesNothing(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemory()
	defer b.Close()
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	n := New(errStore{}, b)
	s := newSession(n, &fakeOut{}, "c1")
	s.userID = "alice" // store is down, register cannot bootstrap

	s.handle(ctx, clientCommand{Type: cmdDraw, Payload: json.RawMessage(`{}`)})
	s.handle(ctx, clientCommand{Type: cmdClearAll})
	s.handle(ctx, clientCommand{Type: cmdClearMine})

	assertNoBusEvent(t, events)
}

func TestClearAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	n, b := newTestNode(t)
	seed(t, n, testStroke("a", "u1"), testStroke("b", "u2"))
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(n, &fakeOut{}, "c1")
	s.handle(ctx, clientCommand{Type: cmdRegister, UserID: "alice"})
	s.handle(ctx, clientCommand{Type: cmdClearAll})
	s.handle(ctx, clientCommand{Type: cmdClearAll})

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("board not empty after clear-all: %+v", got)
	}
	for i := 0; i < 2; i++ {
		if ev := recvBusEvent(t, events); ev.Type != bus.EventClearAll {
			t.Fatalf("expected clear-all event, got %+v", ev)
		}
	}
}

func TestClearMineFiltersOnlyOwnStrokes(t *testing.T) {
	ctx := context.Background()
	n, b := newTestNode(t)
	seed(t, n, testStroke("a", "u1"), testStroke("b", "u2"), testStroke("c", "u1"))
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(n, &fakeOut{}, "c1")
	s.handle(ctx, clientCommand{Type: cmdRegister, UserID: "u1"})
	s.handle(ctx, clientCommand{Type: cmdClearMine})

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" || got[0].UserID != "u2" {
		t.Fatalf("unexpected remainder in store: %+v", got)
	}
	ev := recvBusEvent(t, events)
	if ev.Type != bus.EventClearUser || ev.UserID != "u1" {
		t.Fatalf("expected clear-user event for u1, got %+v", ev)
	}
	if len(ev.Board) != 1 || ev.Board[0].ID != "b" {
		t.Errorf("event remainder does not match store: %+v", ev.Board)
	}
}

func TestClearMineWithEmptyRemainder(t *testing.T) {
	ctx := context.Background()
	n, b := newTestNode(t)
	seed(t, n, testStroke("a", "u1"), testStroke("b", "u1"))
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(n, &fakeOut{}, "c1")
	s.handle(ctx, clientCommand{Type: cmdRegister, UserID: "u1"})
	s.handle(ctx, clientCommand{Type: cmdClearMine})

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty board, got %+v", got)
	}
	ev := recvBusEvent(t, events)
	if ev.Type != bus.EventClearUser || len(ev.Board) != 0 {
		t.Fatalf("expected empty remainder, got %+v", ev)
	}
}

// hookStore lets a test interleave work between a session's read and its
// subsequent writes.
type hookStore struct {
	store.Store
	afterRead func()
}

func (h *hookStore) ReadAll(ctx context.Context) ([]board.Stroke, error) {
	strokes, err := h.Store.ReadAll(ctx)
	if err == nil && h.afterRead != nil {
		h.afterRead()
	}
	return strokes, err
}

// A stroke appended by another user between clear-mine's read and its
// rewrite is lost. This characterizes the known window rather than asserting
// atomicity the design does not provide.
func TestClearMineConcurrentDrawWindow(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNode(t)
	seed(t, n, testStroke("a", "u1"), testStroke("b", "u2"))

	s := newSession(n, &fakeOut{}, "c1")
	s.handle(ctx, clientCommand{Type: cmdRegister, UserID: "u1"})

	// Arm the interleaved draw only for the clear-mine read.
	inner := n.store
	n.store = &hookStore{Store: inner, afterRead: func() {
		if err := inner.Append(ctx, testStroke("x", "u2")); err != nil {
			t.Error(err)
		}
	}}
	s.handle(ctx, clientCommand{Type: cmdClearMine})
	n.store = inner

	got, err := n.store.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range got {
		if st.ID == "x" {
			t.Fatal("stroke x survived; the clear-mine window has been closed, update this test and the docs together")
		}
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected final board: %+v", got)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	n, _ := newTestNode(t)
	out := &fakeOut{}
	s := newSession(n, out, "c1")
	s.handle(context.Background(), clientCommand{Type: "undo-everything"})
	if len(out.messages()) != 0 {
		t.Errorf("unknown command produced output: %+v", out.messages())
	}
}

func TestDeriveUserIDStableAndShort(t *testing.T) {
	a := deriveUserID("10.0.0.7:52114")
	b := deriveUserID("10.0.0.7:52114")
	c := deriveUserID("10.0.0.7:52115")
	if a != b {
		t.Errorf("not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("different connections collided immediately: %s", a)
	}
	if len(a) != 8 {
		t.Errorf("expected a short 8-char id, got %q", a)
	}
}
