package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nkkko/supports/internal/api/response"
	"github.com/nkkko/supports/internal/api/validation"
	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/metrics"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/rs/zerolog"
)

// StreamConfig contains WebSocket stream settings
type StreamConfig struct {
	// Frames buffered per client before new notifications are dropped
	SendBuffer int

	// Deadline for writing one frame
	WriteTimeout time.Duration

	// Interval between pings; the client must answer within two intervals
	PingInterval time.Duration

	// Most names a single connection may observe
	MaxNames int
}

// DefaultStreamConfig returns a default configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		MaxNames:     32,
	}
}

// Streams serves GET /stream. Every connection owns a bag holding its
// observers on the center; the bag is cleared when the connection ends.
type Streams struct {
	config   StreamConfig
	center   *center.Center
	queue    center.Dispatcher
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[string]*streamClient
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewStreams creates a stream hub on c. A non-nil queue moves delivery onto it.
func NewStreams(config StreamConfig, c *center.Center, queue center.Dispatcher) *Streams {
	defaults := DefaultStreamConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.MaxNames <= 0 {
		config.MaxNames = defaults.MaxNames
	}

	return &Streams{
		config: config,
		center: c,
		queue:  queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*streamClient),
		logger:  logging.Component("stream"),
		metrics: metrics.GetMetrics(),
	}
}

// Len returns the number of connected clients
func (s *Streams) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams the notifications named by the
// repeated name query parameter. No name observes everything; object narrows
// delivery to one posting object.
func (s *Streams) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	names := query["name"]
	if err := validation.MaxItems("name", len(names), s.config.MaxNames); err != nil {
		response.Error(w, r, err)
		return
	}
	for _, name := range names {
		if err := validation.NotificationName("name", name); err != nil {
			response.Error(w, r, err)
			return
		}
	}
	names = uniqueNames(names)
	if len(names) == 0 {
		names = []string{center.AllNotifications}
	}

	object := query.Get("object")
	if err := validation.MaxLength("object", object, validation.MaxNameLength); err != nil {
		response.Error(w, r, err)
		return
	}

	if !s.center.Available() {
		response.Error(w, r, bag.ErrSourceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Hijacked connections keep the server's deadlines
	conn.UnderlyingConn().SetDeadline(time.Time{})

	client := &streamClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, s.config.SendBuffer),
		done:    make(chan struct{}),
		bag:     bag.New(),
		streams: s,
	}
	client.logger = s.logger.With().Str("client_id", client.id).Logger()

	// Tracked before registering so CloseAll cannot miss it
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	s.metrics.StreamClientsActive.Inc()

	// The writer has not started and the buffer is empty, so the
	// acknowledgement is always the first frame out
	hello, err := json.Marshal(proto.StreamMessage{Type: proto.StreamSubscribed, Names: names})
	if err != nil {
		client.logger.Error().Err(err).Msg("Failed to marshal stream message")
		client.close()
		return
	}
	client.send <- hello

	view := s.center.ForObject(object)
	if s.queue != nil {
		view = view.OnQueue(s.queue)
	}
	for _, name := range names {
		if !client.bag.Register(name, view, client.deliver) {
			client.logger.Warn().Str("name", name).Msg("Stream registration failed, closing")
			client.closeWith(websocket.CloseTryAgainLater, "event source unavailable")
			return
		}
	}

	// A close that raced the registrations may have cleared the bag early
	select {
	case <-client.done:
		client.bag.Clear()
		return
	default:
	}

	client.logger.Info().
		Strs("names", names).
		Str("object", object).
		Msg("Stream client connected")

	go client.writeLoop()
	client.readLoop()
}

// CloseAll disconnects every client, clearing their bags
func (s *Streams) CloseAll() {
	s.mu.Lock()
	clients := make([]*streamClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	if len(clients) > 0 {
		s.logger.Info().Int("clients", len(clients)).Msg("Closed stream clients")
	}
}

// uniqueNames drops repeated names, keeping first occurrences in order
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := names[:0:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

func (s *Streams) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; ok {
		delete(s.clients, id)
		s.metrics.StreamClientsActive.Dec()
	}
}

// streamClient is one WebSocket connection and the bag owning its observers
type streamClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	bag       *bag.Bag
	streams   *Streams
	closeOnce sync.Once
	writeMu   sync.Mutex
	logger    zerolog.Logger
}

// deliver is the bag handler for every observed name
func (c *streamClient) deliver(n *proto.Notification) {
	c.queue(proto.StreamMessage{Type: proto.StreamNotification, Notification: n})
}

func (c *streamClient) queue(msg proto.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal stream message")
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn().Str("type", msg.Type).Msg("Stream client is not keeping up, dropping message")
	}
}

func (c *streamClient) writeLoop() {
	ticker := time.NewTicker(c.streams.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket write error")
				c.close()
				return
			}
			c.streams.metrics.StreamEventsSent.Inc()

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket ping failed")
				c.close()
				return
			}
		}
	}
}

func (c *streamClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.streams.config.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// readLoop consumes control frames until the peer goes away. Clients have
// nothing to say after connecting; any data frame is ignored.
func (c *streamClient) readLoop() {
	defer c.close()

	pongWait := 2 * c.streams.config.PingInterval
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

// closeWith sends a close frame before tearing the connection down
func (c *streamClient) closeWith(code int, reason string) {
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.streams.config.WriteTimeout),
	)
	c.writeMu.Unlock()
	c.close()
}

// close clears the bag first so no notification is queued for a dead
// connection, then releases the socket. Safe to call more than once.
func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		c.bag.Clear()
		close(c.done)
		c.conn.Close()
		c.streams.remove(c.id)
		c.logger.Info().Msg("Stream client disconnected")
	})
}
