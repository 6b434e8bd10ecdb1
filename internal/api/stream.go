package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempmon-core/internal/reading"
)

// Frame kinds.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"
)

// Stream channels.
const (
	// ChannelReadingPersisted carries every inserted or coalesced reading.
	ChannelReadingPersisted = "reading.persisted"

	// ChannelDeviceChanged carries registry changes.
	ChannelDeviceChanged = "device.changed"
)

var knownChannels = map[string]bool{
	ChannelReadingPersisted: true,
	ChannelDeviceChanged:    true,
}

const (
	// subscriberBuffer is the per-subscriber outbound queue length. A
	// subscriber whose queue is full when an event arrives is evicted.
	subscriberBuffer = 64

	// hubInbox bounds events waiting for the hub loop. Events published
	// while it is full are dropped so sinks never stall the engine.
	hubInbox = 256
)

// Frame is the envelope for every message on the stream, in both directions.
type Frame struct {
	Kind    string          `json:"kind"`
	Ref     string          `json:"ref,omitempty"`
	Channel string          `json:"channel,omitempty"`
	At      time.Time       `json:"at"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ChannelList is the data of subscribe and unsubscribe frames.
type ChannelList struct {
	Channels []string `json:"channels"`
}

// ReadingEvent is the data of a reading.persisted event.
type ReadingEvent struct {
	SensorID    int       `json:"sensor_id"`
	Temperature float64   `json:"temperature"`
	ObservedAt  time.Time `json:"observed_at"`
	Action      string    `json:"action"`
	RecordID    int64     `json:"record_id"`
	RecordTime  time.Time `json:"record_time"`
}

// encodeFrame builds a frame and marshals it for the wire.
func encodeFrame(kind, ref, channel string, data any) ([]byte, error) {
	f := Frame{Kind: kind, Ref: ref, Channel: channel, At: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

type delivery struct {
	channel string
	frame   []byte
}

// Hub fans events out to WebSocket subscribers.
//
// A single goroutine started by Run owns the subscriber set; everything else
// talks to it over channels. The hub is a reading.Sink and a device.EventSink.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	join  chan *subscriber
	leave chan *subscriber
	inbox chan delivery
	done  chan struct{}

	count atomic.Int32
}

// NewHub creates a hub. Call Run before attaching subscribers.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		join:   make(chan *subscriber),
		leave:  make(chan *subscriber),
		inbox:  make(chan delivery, hubInbox),
		done:   make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled, then closes every
// subscriber queue.
func (h *Hub) Run(ctx context.Context) {
	subs := make(map[*subscriber]struct{})
	drop := func(s *subscriber) {
		if _, ok := subs[s]; ok {
			delete(subs, s)
			close(s.out)
		}
	}
	defer func() {
		for s := range subs {
			drop(s)
		}
		h.count.Store(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.join:
			subs[s] = struct{}{}
			h.logger.Debug("stream subscriber joined", "subscribers", len(subs))

		case s := <-h.leave:
			drop(s)
			h.logger.Debug("stream subscriber left", "subscribers", len(subs))

		case d := <-h.inbox:
			for s := range subs {
				if !s.wants(d.channel) {
					continue
				}
				select {
				case s.out <- d.frame:
				default:
					h.logger.Warn("evicting slow stream subscriber", "channel", d.channel)
					drop(s)
				}
			}
		}
		h.count.Store(int32(len(subs))) //nolint:gosec // Bounded by open sockets
	}
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Publish queues data for every subscriber of channel. It never blocks.
func (h *Hub) Publish(channel string, data any) {
	frame, err := encodeFrame(FrameEvent, "", channel, data)
	if err != nil {
		h.logger.Error("encoding stream event", "channel", channel, "error", err)
		return
	}
	select {
	case h.inbox <- delivery{channel: channel, frame: frame}:
	default:
		h.logger.Warn("stream inbox full, event dropped", "channel", channel)
	}
}

// ReadingProcessed publishes inserted and coalesced readings.
func (h *Hub) ReadingProcessed(_ context.Context, o reading.Outcome) {
	if o.Action == reading.ActionSkip {
		return
	}
	h.Publish(ChannelReadingPersisted, ReadingEvent{
		SensorID:    o.Reading.SensorID,
		Temperature: o.Reading.Temperature,
		ObservedAt:  o.Reading.ObservedAt,
		Action:      string(o.Action),
		RecordID:    o.Record.ID,
		RecordTime:  o.Record.Time,
	})
}

// DeviceEvent publishes registry changes.
func (h *Hub) DeviceEvent(_ context.Context, ev device.Event) {
	h.Publish(ChannelDeviceChanged, ev)
}

// attach hands s to the hub loop. It reports false once the hub has stopped.
func (h *Hub) attach(s *subscriber) bool {
	select {
	case h.join <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(s *subscriber) {
	select {
	case h.leave <- s:
	case <-h.done:
	}
}

// subscriber is one stream connection. out is closed by the hub loop only;
// replies carries acks and errors from the read side to the write side.
type subscriber struct {
	conn    *websocket.Conn
	out     chan []byte
	replies chan []byte

	mu       sync.Mutex
	channels map[string]bool
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn:     conn,
		out:      make(chan []byte, subscriberBuffer),
		replies:  make(chan []byte, 8),
		channels: make(map[string]bool),
	}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

func (s *subscriber) set(channels []string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if on {
			s.channels[ch] = true
		} else {
			delete(s.channels, ch)
		}
	}
}

// reply queues a direct answer to the client, dropping it if the write side
// is backed up.
func (s *subscriber) reply(kind, ref string, data any) {
	frame, err := encodeFrame(kind, ref, "", data)
	if err != nil {
		return
	}
	select {
	case s.replies <- frame:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and attaches a subscriber with no
// channels; the client picks channels with subscribe frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(conn)
	if !s.hub.attach(sub) {
		conn.Close() //nolint:errcheck // Hub already stopped
		return
	}

	keepalive := time.Duration(s.wsCfg.PingInterval) * time.Second
	grace := time.Duration(s.wsCfg.PongTimeout) * time.Second
	go sub.writeLoop(keepalive, grace)
	go sub.readLoop(s.hub, int64(s.wsCfg.MaxMessageSize), keepalive+grace)
}

// readLoop handles client frames until the connection fails, then detaches.
func (s *subscriber) readLoop(hub *Hub, limit int64, idle time.Duration) {
	defer func() {
		hub.detach(s)
		s.conn.Close() //nolint:errcheck // Closing a dead connection
	}()

	s.conn.SetReadLimit(limit)
	extend := func() error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }
	extend() //nolint:errcheck // Surfaces on the next read
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // Surfaces on the next read
		s.handle(hub, data)
	}
}

func (s *subscriber) handle(hub *Hub, data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		s.reply(FrameError, "", map[string]string{"message": "invalid frame"})
		return
	}

	switch in.Kind {
	case FramePing:
		s.reply(FramePong, in.Ref, nil)

	case FrameSubscribe, FrameUnsubscribe:
		var list ChannelList
		if len(in.Data) == 0 || json.Unmarshal(in.Data, &list) != nil {
			s.reply(FrameError, in.Ref, map[string]string{"message": "data must list channels"})
			return
		}
		if in.Kind == FrameSubscribe {
			for _, ch := range list.Channels {
				if !knownChannels[ch] {
					s.reply(FrameError, in.Ref, map[string]string{"message": "unknown channel: " + ch})
					return
				}
			}
		}
		s.set(list.Channels, in.Kind == FrameSubscribe)
		hub.logger.Debug("stream subscription changed", "kind", in.Kind, "channels", list.Channels)
		s.reply(FrameAck, in.Ref, list)

	default:
		s.reply(FrameError, in.Ref, map[string]string{"message": "unknown frame kind: " + in.Kind})
	}
}

// writeLoop is the only writer on the connection. It stops when the hub
// closes out.
func (s *subscriber) writeLoop(keepalive, grace time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer func() {
		ticker.Stop()
		s.conn.Close() //nolint:errcheck // Reader sees the close
	}()

	write := func(kind int, data []byte) error {
		s.conn.SetWriteDeadline(time.Now().Add(grace)) //nolint:errcheck // Write reports it
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-s.out:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best effort
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case frame := <-s.replies:
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}
