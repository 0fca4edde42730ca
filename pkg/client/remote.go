package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/rs/zerolog"
)

var _ bag.Source = (*Remote)(nil)

// Remote is a bag.Source backed by a daemon. Every observer gets its own
// stream connection; removing the observer closes it, which in turn clears
// the server-side registration.
type Remote struct {
	client  *Client
	object  string
	mu      sync.Mutex
	closed  bool
	streams map[bag.Token]*remoteStream
	logger  zerolog.Logger
}

// Remote returns a source that observes notifications on the daemon
func (c *Client) Remote() *Remote {
	return &Remote{
		client:  c,
		streams: make(map[bag.Token]*remoteStream),
		logger:  logging.Component("remote"),
	}
}

// ForObject returns a source whose observers only see notifications posted
// with object. It shares nothing with r; close each separately.
func (r *Remote) ForObject(object string) *Remote {
	if r == nil {
		return nil
	}
	remote := r.client.Remote()
	remote.object = object
	return remote
}

// AddObserver dials a stream for name and returns once the server has
// registered it. Handlers run on the stream's reader goroutine; a panicking
// handler is logged and the stream keeps going. A dial failure and a nil
// Remote are reported as bag.ErrSourceUnavailable.
func (r *Remote) AddObserver(name string, handler bag.Handler) (bag.Token, error) {
	if r == nil {
		return "", bag.ErrSourceUnavailable
	}
	if handler == nil {
		return "", proto.NewError("nil observer handler")
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", bag.ErrSourceUnavailable
	}

	target, err := r.client.streamURL(name, r.object)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.client.timeout)
	defer cancel()

	conn, _, err := r.client.websocketDialer.DialContext(ctx, target, r.client.streamHeaders())
	if err != nil {
		return "", fmt.Errorf("%w: %v", bag.ErrSourceUnavailable, err)
	}

	if err := awaitSubscribed(conn, r.client.timeout); err != nil {
		conn.Close()
		return "", fmt.Errorf("%w: %v", bag.ErrSourceUnavailable, err)
	}

	token := bag.Token(uuid.NewString())
	stream := &remoteStream{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
		logger:  r.logger.With().Str("token", string(token)).Str("name", name).Logger(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return "", bag.ErrSourceUnavailable
	}
	r.streams[token] = stream
	r.mu.Unlock()

	go stream.receive()

	return token, nil
}

// RemoveObserver closes the stream behind token. Unknown tokens are ignored.
func (r *Remote) RemoveObserver(token bag.Token) {
	if r == nil {
		return
	}

	r.mu.Lock()
	stream, ok := r.streams[token]
	delete(r.streams, token)
	r.mu.Unlock()

	if ok {
		stream.Close()
	}
}

// Len returns the number of open streams
func (r *Remote) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Close closes every stream. Later registrations fail with bag.ErrSourceUnavailable.
func (r *Remote) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	streams := r.streams
	r.streams = make(map[bag.Token]*remoteStream)
	r.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}

// awaitSubscribed reads until the server acknowledges the subscription.
// Notification frames ahead of the acknowledgement are discarded.
func awaitSubscribed(conn *websocket.Conn, timeout time.Duration) error {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg proto.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case proto.StreamSubscribed:
			return nil
		case proto.StreamNotification:
			continue
		default:
			return fmt.Errorf("unexpected frame %q", msg.Type)
		}
	}
}

func (c *Client) streamHeaders() http.Header {
	headers := make(http.Header)
	for k, v := range c.headers {
		if k == "Content-Type" {
			continue
		}
		headers[k] = v
	}
	return headers
}

// remoteStream reads one stream connection and feeds its handler
type remoteStream struct {
	conn      *websocket.Conn
	handler   bag.Handler
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func (s *remoteStream) receive() {
	defer close(s.done)

	for {
		var msg proto.StreamMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == proto.StreamNotification && msg.Notification != nil {
			s.deliver(msg.Notification)
		}
	}
}

func (s *remoteStream) deliver(n *proto.Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Msg("Observer handler panicked")
		}
	}()

	s.handler(n)
}

// Close sends a close frame and waits briefly for the reader to stop
func (s *remoteStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)

		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
		s.conn.Close()
	})
	return err
}
