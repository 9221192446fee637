package sse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fjod/go_cellar/internal/domain"
)

type fakeSource struct {
	url string
}

func (s *fakeSource) StreamURL() (string, error) {
	if s.url == "" {
		return "", domain.ErrAuthRequired
	}
	return s.url + "/sse/stream?token=t", nil
}

type scheduled struct {
	delay time.Duration
	fire  func()
}

type fakeTimer struct{ stopped atomic.Bool }

func (f *fakeTimer) Stop() bool { return !f.stopped.Swap(true) }

// manualClock records reconnect timers instead of sleeping.
type manualClock struct {
	ch chan scheduled
}

func newManualClock() *manualClock {
	return &manualClock{ch: make(chan scheduled, 16)}
}

func (m *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	m.ch <- scheduled{delay: d, fire: f}
	return &fakeTimer{}
}

func (m *manualClock) next(t *testing.T) scheduled {
	t.Helper()
	select {
	case s := <-m.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect scheduled")
		return scheduled{}
	}
}

func (m *manualClock) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-m.ch:
		t.Fatalf("unexpected reconnect scheduled after %v", s.delay)
	case <-time.After(100 * time.Millisecond):
	}
}

func testHTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

type recorder struct {
	m             sync.Mutex
	connected     []string
	notifications []domain.Notification
	serverErrors  []string
	fatal         chan error
}

func newRecorder() *recorder {
	return &recorder{fatal: make(chan error, 1)}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnConnected: func(id string) {
			r.m.Lock()
			r.connected = append(r.connected, id)
			r.m.Unlock()
		},
		OnNotification: func(n domain.Notification) {
			r.m.Lock()
			r.notifications = append(r.notifications, n)
			r.m.Unlock()
		},
		OnServerError: func(msg string) {
			r.m.Lock()
			r.serverErrors = append(r.serverErrors, msg)
			r.m.Unlock()
		},
		OnFatal: func(err error) { r.fatal <- err },
	}
}

func (r *recorder) notificationCount() int {
	r.m.Lock()
	defer r.m.Unlock()
	return len(r.notifications)
}

func streamHandler(t *testing.T, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "t", req.URL.Query().Get("token"))
		assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, e := range events {
			fmt.Fprint(w, e)
		}
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}
}

func TestChannel_ReceivesEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(streamHandler(t,
		"event: connected\ndata: {\"connectionId\":\"conn-1\"}\n\n",
		"event: heartbeat\ndata: {}\n\n",
		"event: notification\ndata: {\"NotificationID\":42,\"Title\":\"Shipped\",\"isRead\":false}\n\n",
		"event: message\ndata: {\"hello\":\"world\"}\n\n",
		"event: error\ndata: {\"message\":\"quota warning\"}\n\n",
	))
	defer srv.Close()

	rec := newRecorder()
	c := NewChannel(&fakeSource{url: srv.URL}, rec.handler(), WithHTTPClient(testHTTPClient()))
	defer c.Close()

	require.NoError(t, c.Connect())

	require.Eventually(t, func() bool {
		rec.m.Lock()
		defer rec.m.Unlock()
		return len(rec.serverErrors) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.m.Lock()
	assert.Equal(t, []string{"conn-1"}, rec.connected)
	require.Len(t, rec.notifications, 1)
	assert.Equal(t, int64(42), rec.notifications[0].ID)
	assert.Equal(t, []string{"quota warning"}, rec.serverErrors)
	rec.m.Unlock()

	st := c.Status()
	assert.True(t, st.Connected, "server error event is not a transport failure")
	assert.Equal(t, "conn-1", st.ConnectionID)
	assert.Equal(t, "quota warning", st.LastError)

	c.Close()
	st = c.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, StateDisconnected, st.State)
}

func TestChannel_NoTokenStaysDisconnected(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := NewChannel(&fakeSource{}, Handler{}, WithHTTPClient(testHTTPClient()))
	defer c.Close()

	err := c.Connect()
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Equal(t, StateDisconnected, c.Status().State)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestChannel_BackoffUntilExhausted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clock := newManualClock()
	rec := newRecorder()
	c := NewChannel(&fakeSource{url: srv.URL}, rec.handler(),
		WithHTTPClient(testHTTPClient()),
		WithAfterFunc(clock.AfterFunc),
		WithPolicy(DefaultPolicy()))
	defer c.Close()

	require.NoError(t, c.Connect())

	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second}
	for i, d := range want {
		s := clock.next(t)
		assert.Equal(t, d, s.delay, "delay %d", i)
		assert.Equal(t, i+1, c.Status().ReconnectAttempts)
		s.fire()
	}

	select {
	case err := <-rec.fatal:
		assert.ErrorIs(t, err, domain.ErrConnectionExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion not reported")
	}
	clock.none(t)

	st := c.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, StateExhausted, st.State)
	assert.Equal(t, int32(6), atomic.LoadInt32(&hits))

	assert.Error(t, c.Connect(), "exhausted channel needs a manual reconnect")

	require.NoError(t, c.Reconnect())
	s := clock.next(t)
	assert.Equal(t, 3*time.Second, s.delay, "manual reconnect refills the budget")
	assert.Equal(t, 1, c.Status().ReconnectAttempts)
}

func TestChannel_DisconnectCancelsPendingReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := newManualClock()
	c := NewChannel(&fakeSource{url: srv.URL}, Handler{},
		WithHTTPClient(testHTTPClient()),
		WithAfterFunc(clock.AfterFunc))
	defer c.Close()

	require.NoError(t, c.Connect())
	s := clock.next(t)

	c.Disconnect()
	s.fire()

	clock.none(t)
	assert.Equal(t, StateDisconnected, c.Status().State)
}

func TestChannel_ReconnectAfterServerClose(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":\"conn-%d\"}\n\n", n)
		w.(http.Flusher).Flush()
		if n == 1 {
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	clock := newManualClock()
	rec := newRecorder()
	c := NewChannel(&fakeSource{url: srv.URL}, rec.handler(),
		WithHTTPClient(testHTTPClient()),
		WithAfterFunc(clock.AfterFunc))
	defer c.Close()

	require.NoError(t, c.Connect())
	s := clock.next(t)
	assert.Equal(t, 3*time.Second, s.delay)
	s.fire()

	require.Eventually(t, func() bool {
		st := c.Status()
		return st.Connected && st.ConnectionID == "conn-2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Status().ReconnectAttempts, "open resets the attempt counter")
}

func TestChannel_DropsMalformedNotification(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t,
		"event: notification\ndata: not-json\n\n",
		"event: notification\ndata: {\"id\":5}\n\n",
	))
	defer srv.Close()

	rec := newRecorder()
	c := NewChannel(&fakeSource{url: srv.URL}, rec.handler(), WithHTTPClient(testHTTPClient()))
	defer c.Close()

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return rec.notificationCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Status().Connected)
}
