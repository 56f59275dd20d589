package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/store/memory"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []string
	err    error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// tokenValidator accepts tokens of the form "user:<uuid>".
type tokenValidator struct{}

func (tokenValidator) Validate(token string) (*auth.Claims, error) {
	id, ok := strings.CutPrefix(token, "user:")
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	c := &auth.Claims{}
	c.Subject = id
	return c, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	r.Register("u1", a)
	r.Register("u1", b)
	if r.Count("u1") != 2 {
		t.Fatalf("expected 2 connections, got %d", r.Count("u1"))
	}
	sent, failed := r.Send("u1", "hello")
	if sent != 2 || len(failed) != 0 {
		t.Fatalf("unexpected send result %d %v", sent, failed)
	}
	r.Unregister("u1", a)
	r.Unregister("u1", a)
	if r.Count("u1") != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Count("u1"))
	}
	r.Unregister("u1", b)
	if r.Online("u1") {
		t.Fatalf("user should be offline")
	}
	if _, ok := r.users.Load("u1"); ok {
		t.Fatalf("empty entry was not retired")
	}
	if sent, _ := r.Send("u1", "again"); sent != 0 {
		t.Fatalf("offline send should reach nobody")
	}
}

func TestRegistryConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	const users, rounds = 8, 200
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(u, w int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				for i := 0; i < rounds; i++ {
					c := &fakeConn{id: fmt.Sprintf("%d-%d-%d", u, w, i)}
					r.Register(userID, c)
					r.Send(userID, "ping")
					r.Unregister(userID, c)
				}
			}(u, w)
		}
	}
	wg.Wait()
	for u := 0; u < users; u++ {
		if r.Online(fmt.Sprintf("user-%d", u)) {
			t.Fatalf("user-%d still online", u)
		}
	}

	// A connection registered after churn must be reachable.
	c := &fakeConn{id: "final"}
	r.Register("user-0", c)
	if sent, _ := r.Send("user-0", "hi"); sent != 1 || c.count() != 1 {
		t.Fatalf("final connection unreachable")
	}
}

func TestPushMarksOnlyReachedRecipients(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := New(tokenValidator{}, store)
	svc := delivery.NewService(store, delivery.WithPusher(gw))

	r1, r2, r3 := uuid.New(), uuid.New(), uuid.New()
	online := &fakeConn{id: "c1"}
	detach, err := gw.Attach(delivery.KindNotification, r2.String(), online)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()
	// A message-channel connection must not receive notifications.
	other := &fakeConn{id: "c2"}
	detachOther, _ := gw.Attach(delivery.KindMessage, r1.String(), other)
	defer detachOther()

	_, recs, err := svc.CreateNotification(ctx, uuid.New(), []uuid.UUID{r1, r2, r3}, "Restock", "New arrivals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for _, rec := range recs {
		stored, err := store.FindRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := rec.RecipientID == r2
		if stored.Delivered != want {
			t.Fatalf("recipient %s delivered=%v, want %v", rec.RecipientID, stored.Delivered, want)
		}
	}
	if online.count() != 1 || other.count() != 0 {
		t.Fatalf("unexpected frames: online=%d other=%d", online.count(), other.count())
	}
	var frame Frame
	if err := json.Unmarshal([]byte(online.frames[0]), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != delivery.KindNotification || frame.Event.Title != "Restock" || frame.Record.RecipientID != r2 {
		t.Fatalf("unexpected frame %+v", frame)
	}
	for _, id := range []uuid.UUID{r1, r3} {
		pending, _ := svc.ListPending(ctx, delivery.KindNotification, id)
		if len(pending) != 1 {
			t.Fatalf("offline recipient %s should keep a pending record", id)
		}
	}
}

func TestPushWithOnlyFailingConnections(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := New(tokenValidator{}, store)
	svc := delivery.NewService(store, delivery.WithPusher(gw))
	recipient := uuid.New()
	broken := &fakeConn{id: "broken", err: errors.New("closed")}
	detach, _ := gw.Attach(delivery.KindMessage, recipient.String(), broken)
	defer detach()

	_, recs, err := svc.CreateMessage(ctx, uuid.New(), recipient, "hi", "there")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, _ := store.FindRecord(ctx, recs[0].ID)
	if stored.Delivered {
		t.Fatalf("record must stay pending when every send failed")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?access_token=q", nil)
	if got := TokenFromRequest(r); got != "q" {
		t.Fatalf("expected query token, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer h")
	if got := TokenFromRequest(r); got != "h" {
		t.Fatalf("expected header token, got %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("expected no token, got %q", got)
	}
}

func xhrPoll(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Post(url, "text/plain", nil)
	if err != nil {
		t.Fatalf("xhr poll: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read poll: %v", err)
	}
	return string(body)
}

func TestSockJSSessionReceivesPush(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := New(tokenValidator{}, store)
	const prefix = "/api/user/message"
	srv := httptest.NewServer(gw.Handler(delivery.KindMessage, prefix))
	defer srv.Close()

	recipient := uuid.New()
	url := srv.URL + prefix + "/000/s1/xhr?access_token=user:" + recipient.String()
	if open := xhrPoll(t, url); !strings.HasPrefix(open, "o") {
		t.Fatalf("expected open frame, got %q", open)
	}
	reg := gw.Registry(delivery.KindMessage)
	waitFor(t, func() bool { return reg.Online(recipient.String()) })

	svc := delivery.NewService(store, delivery.WithPusher(gw))
	_, recs, err := svc.CreateMessage(ctx, uuid.New(), recipient, "Order shipped", "Track it online")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !recs[0].Delivered {
		t.Fatalf("record should be delivered to the open session")
	}

	body := strings.TrimSpace(xhrPoll(t, url))
	if !strings.HasPrefix(body, "a") {
		t.Fatalf("expected message frame, got %q", body)
	}
	var msgs []string
	if err := json.Unmarshal([]byte(body[1:]), &msgs); err != nil || len(msgs) != 1 {
		t.Fatalf("decode frames %q: %v", body, err)
	}
	var frame Frame
	if err := json.Unmarshal([]byte(msgs[0]), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event.Title != "Order shipped" || frame.Record.ID != recs[0].ID {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestSockJSSessionRejectsMissingToken(t *testing.T) {
	gw := New(tokenValidator{}, memory.New())
	const prefix = "/api/user/notify"
	srv := httptest.NewServer(gw.Handler(delivery.KindNotification, prefix))
	defer srv.Close()

	url := srv.URL + prefix + "/000/s2/xhr"
	// The close frame arrives on the first or second poll depending on
	// whether the session opened before the handler closed it.
	body := xhrPoll(t, url)
	if !strings.Contains(body, "4001") {
		body = xhrPoll(t, url)
	}
	if !strings.Contains(body, "4001") {
		t.Fatalf("expected close frame 4001, got %q", body)
	}
}

func TestEventStreamDeliversFrames(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := New(tokenValidator{}, store)
	srv := httptest.NewServer(gw.EventStream(delivery.KindNotification))
	defer srv.Close()

	recipient := uuid.New()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer user:"+recipient.String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return gw.Registry(delivery.KindNotification).Online(recipient.String()) })

	svc := delivery.NewService(store, delivery.WithPusher(gw))
	if _, _, err := svc.CreateNotification(ctx, uuid.New(), []uuid.UUID{recipient}, "Hello", "World"); err != nil {
		t.Fatalf("create: %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame Frame
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame.Event.Title != "Hello" {
			t.Fatalf("unexpected frame %+v", frame)
		}
		return
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	gw := New(tokenValidator{}, memory.New())
	rec := httptest.NewRecorder()
	gw.EventStream(delivery.KindMessage)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
