package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/supports/internal/api/response"
	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/keyboard"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAPI(t *testing.T, mutate ...func(*Config)) (*API, *center.Center, *httptest.Server) {
	t.Helper()

	c, err := center.New(center.DefaultConfig())
	require.NoError(t, err)

	config := DefaultConfig()
	for _, m := range mutate {
		m(&config)
	}

	a := New(config, c, nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.Streams().CloseAll()
		srv.Close()
	})

	return a, c, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, response.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

// decodeData re-decodes the envelope's data field into v
func decodeData(t *testing.T, envelope response.Response, v any) {
	t.Helper()
	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readStream(t, conn)
	require.Equal(t, proto.StreamSubscribed, msg.Type)
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) proto.StreamMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg proto.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHealthChecks(t *testing.T) {
	_, c, srv := setupTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	require.NoError(t, c.Shutdown(context.Background()))

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPostAndLast(t *testing.T) {
	_, c, srv := setupTestAPI(t)

	received := 0
	_, err := c.AddObserver("refresh", func(*proto.Notification) { received++ })
	require.NoError(t, err)

	resp, envelope := postJSON(t, srv.URL+"/notifications/refresh", proto.PostRequest{
		Object:  "inbox",
		Payload: map[string]any{"reason": "pull"},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, envelope.Success)

	var posted proto.PostResponse
	decodeData(t, envelope, &posted)
	assert.Equal(t, "refresh", posted.Name)
	assert.Equal(t, 1, posted.Delivered)
	assert.Equal(t, 1, received)

	// Last returns the notification just posted
	getResp, err := http.Get(srv.URL + "/notifications/refresh/last")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	var lastEnvelope response.Response
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&lastEnvelope))
	var last proto.Notification
	decodeData(t, lastEnvelope, &last)
	assert.Equal(t, "inbox", last.Object)
	assert.Equal(t, "pull", last.Payload["reason"])
}

func TestPostWithoutBody(t *testing.T) {
	_, _, srv := setupTestAPI(t)

	resp, err := http.Post(srv.URL+"/notifications/tap", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPostValidation(t *testing.T) {
	_, _, srv := setupTestAPI(t)

	resp, envelope := postJSON(t, srv.URL+"/notifications/Not%20Valid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, envelope.Success)

	badJSON, err := http.Post(srv.URL+"/notifications/tap", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	badJSON.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badJSON.StatusCode)
}

func TestLastNotFound(t *testing.T) {
	_, _, srv := setupTestAPI(t)

	resp, err := http.Get(srv.URL + "/notifications/never_posted/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostAfterShutdown(t *testing.T) {
	_, c, srv := setupTestAPI(t)
	require.NoError(t, c.Shutdown(context.Background()))

	resp, envelope := postJSON(t, srv.URL+"/notifications/tap", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, envelope.Success)
}

func TestObservers(t *testing.T) {
	_, c, srv := setupTestAPI(t)
	noop := func(*proto.Notification) {}

	for _, name := range []string{"tap", "tap", "refresh"} {
		_, err := c.AddObserver(name, noop)
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/observers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	var observers proto.ObserversResponse
	decodeData(t, envelope, &observers)

	assert.Equal(t, map[string]int{"tap": 2, "refresh": 1}, observers.Observers)
	assert.Equal(t, 3, observers.Total)
}

func TestKeyboardEndpoint(t *testing.T) {
	_, c, srv := setupTestAPI(t, func(cfg *Config) { cfg.KeyboardMode = keyboard.Strict })

	var got keyboard.Info
	b, ok := keyboard.Register(c, keyboard.Handler{WillShow: func(i keyboard.Info) { got = i }})
	require.True(t, ok)
	defer b.Clear()

	payload := map[string]any{
		keyboard.KeyAnimationCurve:    0,
		keyboard.KeyAnimationDuration: 0.25,
		keyboard.KeyIsLocal:           true,
		keyboard.KeyFrameBegin:        proto.NewRect(0, 812, 375, 336),
		keyboard.KeyFrameEnd:          proto.NewRect(0, 476, 375, 336),
	}

	resp, _ := postJSON(t, srv.URL+"/keyboard/will_show", map[string]any{"payload": payload})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotNil(t, got.EndFrame)
	assert.Equal(t, 476.0, got.EndFrame.Origin.Y)

	// Strict mode rejects a payload with a missing field and names it
	delete(payload, keyboard.KeyIsLocal)
	resp, envelope := postJSON(t, srv.URL+"/keyboard/will_show", map[string]any{"payload": payload})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	apiErr, ok := envelope.Error.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "malformed_payload", apiErr["code"])
	assert.Equal(t, map[string]any{"field": keyboard.KeyIsLocal}, apiErr["details"])

	resp, _ = postJSON(t, srv.URL+"/keyboard/will_explode", map[string]any{"payload": payload})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControlEndpoint(t *testing.T) {
	_, c, srv := setupTestAPI(t)

	var objects []string
	_, err := c.ForObject("save").AddObserver("control.tap", func(n *proto.Notification) {
		objects = append(objects, n.Object)
	})
	require.NoError(t, err)

	resp, envelope := postJSON(t, srv.URL+"/controls/save/tap", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var posted proto.PostResponse
	decodeData(t, envelope, &posted)
	assert.Equal(t, 1, posted.Delivered)
	assert.Equal(t, []string{"save"}, objects)

	resp, _ = postJSON(t, srv.URL+"/controls/save/swipe", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamDeliversAndClearsOnDisconnect(t *testing.T) {
	a, c, srv := setupTestAPI(t)

	conn := dialStream(t, srv, "name=tap&name=refresh&object=button")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, a.Streams().Len())

	assert.Equal(t, 0, c.Post(context.Background(), "tap", "other", nil))
	assert.Equal(t, 1, c.Post(context.Background(), "tap", "button", map[string]any{"n": 1}))

	msg := readStream(t, conn)
	assert.Equal(t, proto.StreamNotification, msg.Type)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, "tap", msg.Notification.Name)
	assert.Equal(t, "button", msg.Notification.Object)
	assert.EqualValues(t, 1, msg.Notification.Payload["n"])

	// Closing the socket clears the connection's bag
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.Streams().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamAllNotifications(t *testing.T) {
	_, c, srv := setupTestAPI(t)

	conn := dialStream(t, srv, "")
	assert.Equal(t, 1, c.ObserverCount(center.AllNotifications))

	c.Post(context.Background(), "keyboard.did_hide", "", nil)
	msg := readStream(t, conn)
	assert.Equal(t, "keyboard.did_hide", msg.Notification.Name)
}

func TestStreamRejectsBadRequest(t *testing.T) {
	_, c, srv := setupTestAPI(t, func(cfg *Config) { cfg.Stream.MaxNames = 2 })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?name=a&name=b&name=c"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, c.Shutdown(context.Background()))
	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream?name=tap", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownClearsStreams(t *testing.T) {
	a, c, srv := setupTestAPI(t)

	first := dialStream(t, srv, "name=tap")
	dialStream(t, srv, "name=refresh")
	assert.Equal(t, 2, c.Len())

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, a.Streams().Len())

	// The client sees a going-away close frame
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestStreamDeduplicatesNames(t *testing.T) {
	_, c, srv := setupTestAPI(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?name=tap&name=tap&name=refresh&name=tap"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readStream(t, conn)
	require.Equal(t, proto.StreamSubscribed, msg.Type)
	assert.Equal(t, []string{"tap", "refresh"}, msg.Names)
	assert.Equal(t, 1, c.ObserverCount("tap"))

	assert.Equal(t, 1, c.Post(context.Background(), "tap", "", nil))
	msg = readStream(t, conn)
	assert.Equal(t, "tap", msg.Notification.Name)
}

func TestStreamAcknowledgesBeforeNotifications(t *testing.T) {
	_, c, srv := setupTestAPI(t, func(cfg *Config) { cfg.Stream.SendBuffer = 1 })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Post(context.Background(), "busy", "", nil)
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	// Every connection sees its acknowledgement first, even while posts
	// race the registration and the buffer holds a single frame
	for i := 0; i < 20; i++ {
		conn := dialStream(t, srv, "name=busy")
		conn.Close()
	}
}

func TestStreamSlowConsumerDoesNotBlockPoster(t *testing.T) {
	_, c, srv := setupTestAPI(t, func(cfg *Config) {
		cfg.Stream.SendBuffer = 1
		cfg.Stream.WriteTimeout = 200 * time.Millisecond
	})

	// Never read past the acknowledgement
	dialStream(t, srv, "name=tap")

	payload := map[string]any{"blob": strings.Repeat("x", 16*1024)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Post(context.Background(), "tap", "", payload)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posting blocked on a stream client that is not reading")
	}
}

func TestStreamPingsKeepConnectionAlive(t *testing.T) {
	const interval = 50 * time.Millisecond
	a, c, srv := setupTestAPI(t, func(cfg *Config) { cfg.Stream.PingInterval = interval })

	conn := dialStream(t, srv, "name=tap")
	require.NoError(t, conn.SetReadDeadline(time.Time{}))

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	frames := make(chan proto.StreamMessage, 1)
	go func() {
		defer close(frames)
		for {
			var msg proto.StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			frames <- msg
		}
	}()

	// Outlive the server's pong deadline several times over
	require.Eventually(t, func() bool { return pings.Load() >= 6 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Streams().Len())
	assert.Equal(t, 1, c.ObserverCount("tap"))

	c.Post(context.Background(), "tap", "", nil)
	select {
	case msg, ok := <-frames:
		require.True(t, ok, "stream closed")
		assert.Equal(t, "tap", msg.Notification.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after pings")
	}
}
