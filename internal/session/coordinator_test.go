package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"linechat/internal/hub"
	"linechat/internal/models"
)

type fakeStore struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
	fail bool
}

func (f *fakeStore) Append(msg *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeStore) stored() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChatMessage, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type testFrame struct {
	Event string
	Data  map[string]any
}

func recvFrame(t *testing.T, c *hub.Client) testFrame {
	t.Helper()
	select {
	case b, ok := <-c.Outbound():
		if !ok {
			t.Fatal("outbound channel closed")
		}
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		f := testFrame{Event: env.Event}
		_ = json.Unmarshal(env.Data, &f.Data)
		return f
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no frame received")
	}
	return testFrame{}
}

func expectEvent(t *testing.T, c *hub.Client, event string) testFrame {
	t.Helper()
	f := recvFrame(t, c)
	if f.Event != event {
		t.Fatalf("event = %q, want %q (data %v)", f.Event, event, f.Data)
	}
	return f
}

func expectNoFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case b := <-c.Outbound():
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestCoordinator(store MessageStore) (*Coordinator, *hub.Hub) {
	h := hub.NewHub()
	go h.Run()
	return NewCoordinator(store, h, "匿名"), h
}

func connect(co *Coordinator, h *hub.Hub, id string) *hub.Client {
	c := hub.NewClient(id)
	h.Register(c)
	co.OnConnect(c)
	return c
}

func TestJoin_CountSequence(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnJoin(a, "Alice")
	// user_joined 对全员广播，加入者本人也收到。
	f := expectEvent(t, a, "user_joined")
	if f.Data["username"] != "Alice" {
		t.Errorf("username = %v, want Alice", f.Data["username"])
	}
	f = expectEvent(t, a, "user_count")
	if f.Data["count"] != float64(1) {
		t.Errorf("count = %v, want 1", f.Data["count"])
	}
	expectEvent(t, b, "user_joined")
	expectEvent(t, b, "user_count")

	co.OnJoin(b, "Bob")
	expectEvent(t, a, "user_joined")
	f = expectEvent(t, a, "user_count")
	if f.Data["count"] != float64(2) {
		t.Errorf("count after second join = %v, want 2", f.Data["count"])
	}
}

func TestJoin_EmptyNameFallsBackToAnonymous(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")

	co.OnJoin(a, "   ")
	f := expectEvent(t, a, "user_joined")
	if f.Data["username"] != "匿名" {
		t.Errorf("username = %v, want 匿名", f.Data["username"])
	}
}

func TestJoin_UnknownConnectionStillBroadcasts(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")

	// ghost 已断线（不在在线表），但按请求里的名字照常广播。
	ghost := hub.NewClient("ghost")
	h.Register(ghost)
	co.OnJoin(ghost, "Ghost")

	f := expectEvent(t, a, "user_joined")
	if f.Data["username"] != "Ghost" {
		t.Errorf("username = %v, want Ghost", f.Data["username"])
	}
	// ghost 没进在线表，人数仍是 0。
	f = expectEvent(t, a, "user_count")
	if f.Data["count"] != float64(0) {
		t.Errorf("count = %v, want 0", f.Data["count"])
	}
}

func TestDisconnect_NeverJoinedLeavesSilently(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	h.Unregister(b)
	co.OnDisconnect(b)

	expectNoFrame(t, a)
}

func TestDisconnect_JoinedBroadcastsLeft(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnJoin(b, "Bob")
	expectEvent(t, a, "user_joined")
	expectEvent(t, a, "user_count")

	h.Unregister(b)
	co.OnDisconnect(b)

	f := expectEvent(t, a, "user_left")
	if f.Data["username"] != "Bob" {
		t.Errorf("username = %v, want Bob", f.Data["username"])
	}
	f = expectEvent(t, a, "user_count")
	if f.Data["count"] != float64(0) {
		t.Errorf("count = %v, want 0", f.Data["count"])
	}
}

func TestChangeUsername_NoCountRebroadcast(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnJoin(a, "Alice")
	expectEvent(t, a, "user_joined")
	expectEvent(t, a, "user_count")
	expectEvent(t, b, "user_joined")
	expectEvent(t, b, "user_count")

	co.OnChangeUsername(a, "Alice", "Alicia")
	f := expectEvent(t, b, "user_changed_name")
	if f.Data["oldUsername"] != "Alice" || f.Data["newUsername"] != "Alicia" {
		t.Errorf("payload = %v, want Alice -> Alicia", f.Data)
	}
	// 人数没变，不重播 user_count。
	expectNoFrame(t, b)

	if name, _ := co.presence.GetName(a.ID()); name != "Alicia" {
		t.Errorf("presence name = %q, want Alicia", name)
	}
}

func TestSendMessage_ExcludesSender(t *testing.T) {
	store := &fakeStore{}
	co, h := newTestCoordinator(store)
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnJoin(a, "Alice")
	expectEvent(t, a, "user_joined")
	expectEvent(t, a, "user_count")
	expectEvent(t, b, "user_joined")
	expectEvent(t, b, "user_count")

	co.OnSendMessage(a, "hi", "")

	f := expectEvent(t, b, "chat_message")
	if f.Data["username"] != "Alice" || f.Data["content"] != "hi" {
		t.Errorf("payload = %v, want Alice/hi", f.Data)
	}
	if f.Data["id"] == "" || f.Data["timestamp"] == "" {
		t.Errorf("payload missing id or timestamp: %v", f.Data)
	}
	expectNoFrame(t, a)

	msgs := store.stored()
	if len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].Username != "Alice" {
		t.Fatalf("stored = %+v, want one Alice/hi message", msgs)
	}
}

func TestSendMessage_SanitizesBeforeStore(t *testing.T) {
	store := &fakeStore{}
	co, h := newTestCoordinator(store)
	a := connect(co, h, "a")
	co.OnJoin(a, "Bob")
	expectEvent(t, a, "user_joined")
	expectEvent(t, a, "user_count")

	co.OnSendMessage(a, "user name is Bob\ncontent is hello", "")
	co.OnSendMessage(a, "  hello world  ", "")

	msgs := store.stored()
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("content = %q, want %q", msgs[0].Content, "hello")
	}
	if msgs[1].Content != "hello world" {
		t.Errorf("content = %q, want %q", msgs[1].Content, "hello world")
	}
}

func TestSendMessage_UsernameResolution(t *testing.T) {
	store := &fakeStore{}
	co, h := newTestCoordinator(store)
	a := connect(co, h, "a")

	// 未加入但自报了名字：用客户端名字。
	co.OnSendMessage(a, "first", "Carol")
	// 什么都没有：落到匿名占位名。
	co.OnSendMessage(a, "second", "")
	// 加入后：在线表的名字优先于客户端自报。
	co.OnJoin(a, "Alice")
	expectEvent(t, a, "user_joined")
	expectEvent(t, a, "user_count")
	co.OnSendMessage(a, "third", "Carol")

	msgs := store.stored()
	if len(msgs) != 3 {
		t.Fatalf("stored %d messages, want 3", len(msgs))
	}
	if msgs[0].Username != "Carol" {
		t.Errorf("msg 1 username = %q, want Carol", msgs[0].Username)
	}
	if msgs[1].Username != "匿名" {
		t.Errorf("msg 2 username = %q, want 匿名", msgs[1].Username)
	}
	if msgs[2].Username != "Alice" {
		t.Errorf("msg 3 username = %q, want Alice", msgs[2].Username)
	}
}

func TestSendMessage_AppendFailureOnlyNotifiesSender(t *testing.T) {
	store := &fakeStore{fail: true}
	co, h := newTestCoordinator(store)
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnSendMessage(a, "hi", "Alice")

	f := expectEvent(t, a, "chat_error")
	if f.Data["message"] == "" {
		t.Errorf("chat_error payload = %v, want a message", f.Data)
	}
	expectNoFrame(t, b)
}

func TestTyping_RelayExcludesSender(t *testing.T) {
	co, h := newTestCoordinator(&fakeStore{})
	a := connect(co, h, "a")
	b := connect(co, h, "b")

	co.OnTyping(a, json.RawMessage(`{"username":"Alice","isTyping":true}`))

	f := expectEvent(t, b, "typing")
	if f.Data["username"] != "Alice" {
		t.Errorf("payload = %v, want Alice", f.Data)
	}
	expectNoFrame(t, a)
}
