package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"heatsurface/broker/internal/auth"
	"heatsurface/broker/internal/codec"
	"heatsurface/broker/internal/config"
	"heatsurface/broker/internal/frame"
	grpcstream "heatsurface/broker/internal/grpc"
	"heatsurface/broker/internal/input"
	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/networking"
	"heatsurface/broker/internal/scene"
)

const (
	viewerSendBuffer   = 4
	viewerNoticeBuffer = 16
	writeWait          = 10 * time.Second
)

var errBrokerFull = errors.New("viewer limit reached")

// outbound is one uncompressed frame queued for a viewer.
type outbound struct {
	tick    uint64
	payload []byte
	// essential frames skip the bandwidth regulator.
	essential bool
}

// notice is a JSON text message for a single viewer.
type notice struct {
	Type       string   `json:"type"`
	ViewerID   string   `json:"viewer_id,omitempty"`
	Encoding   string   `json:"encoding,omitempty"`
	Encodings  []string `json:"encodings,omitempty"`
	Divisions  int      `json:"divisions,omitempty"`
	MaxCoeffs  int      `json:"max_coefficients,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	SequenceID uint64   `json:"sequence_id,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Viewer is a connected websocket client.
type Viewer struct {
	id         string
	conn       *websocket.Conn
	compressor codec.Compressor
	send       chan outbound
	notices    chan []byte
	done       chan struct{}
	log        *logging.Logger
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithBrokerClock overrides the time source used for uptime and bandwidth.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithRetryInterval overrides how long a throttled frame waits before retrying.
func WithRetryInterval(interval time.Duration) BrokerOption {
	return func(b *Broker) {
		if interval > 0 {
			b.retryInterval = interval
		}
	}
}

// WithViewerTokens requires /ws clients to present a token accepted by verifier.
func WithViewerTokens(verifier TokenVerifier) BrokerOption {
	return func(b *Broker) {
		b.tokens = verifier
	}
}

// TokenVerifier validates viewer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Broker fans scene updates out to websocket and gRPC viewers and routes their
// commands back into the scene driver.
type Broker struct {
	cfg       *config.Config
	log       *logging.Logger
	driver    *scene.Driver
	gate      *input.Gate
	bandwidth *networking.BandwidthRegulator
	metrics   *networking.FrameMetrics
	upgrader  websocket.Upgrader
	tokens    TokenVerifier
	now       func() time.Time

	retryInterval time.Duration
	startedAt     time.Time

	mu         sync.Mutex
	viewers    map[string]*Viewer
	pending    int
	startupErr error

	frameMu     sync.Mutex
	frameSubs   map[uint64]chan grpcstream.FrameEvent
	nextFrameID uint64
}

// NewBroker wires a broker to driver and subscribes it to scene updates.
func NewBroker(cfg *config.Config, driver *scene.Driver, gate *input.Gate, metrics *networking.FrameMetrics, logger *logging.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = logging.L()
	}
	if metrics == nil {
		metrics = networking.NewFrameMetrics()
	}
	b := &Broker{
		cfg:           cfg,
		log:           logger.With(logging.String("component", "broker")),
		driver:        driver,
		gate:          gate,
		metrics:       metrics,
		now:           time.Now,
		retryInterval: time.Second / time.Duration(max(1, int(cfg.FrameRateHz))),
		viewers:       make(map[string]*Viewer),
		frameSubs:     make(map[uint64]chan grpcstream.FrameEvent),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.startedAt = b.now()
	b.bandwidth = networking.NewBandwidthRegulator(cfg.ViewerBandwidthBytesPerSecond, b.now)
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	driver.Subscribe(b.publish)
	return b
}

// originChecker allows same-origin requests plus the configured origins. An
// entry of "*" allows every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	_, wildcard := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(parsed.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// Bandwidth exposes the per-viewer regulator, which is nil when throttling is disabled.
func (b *Broker) Bandwidth() *networking.BandwidthRegulator { return b.bandwidth }

// Metrics exposes frame delivery statistics.
func (b *Broker) Metrics() *networking.FrameMetrics { return b.metrics }

// SnapshotViewerCounts reports connected and handshaking viewers.
func (b *Broker) SnapshotViewerCounts() (viewers, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers), b.pending
}

// StartupError returns the first fatal startup problem, if any.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

// SetStartupError records a startup failure for the readiness probe.
func (b *Broker) SetStartupError(err error) {
	b.mu.Lock()
	if b.startupErr == nil {
		b.startupErr = err
	}
	b.mu.Unlock()
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration { return b.now().Sub(b.startedAt) }

// publish runs under the driver lock for every committed update.
func (b *Broker) publish(update scene.Update) {
	payload, err := frame.Surface(update).MarshalBinary()
	if err != nil {
		b.metrics.ObserveDrop(networking.DropEncode)
		b.log.Error("encode surface frame failed", logging.Error(err), logging.Uint64("tick", update.Tick))
		return
	}
	msg := outbound{tick: update.Tick, payload: payload}

	b.mu.Lock()
	for _, viewer := range b.viewers {
		b.enqueue(viewer, msg)
	}
	b.mu.Unlock()

	b.frameMu.Lock()
	for _, ch := range b.frameSubs {
		select {
		case ch <- grpcstream.FrameEvent{Tick: update.Tick, Payload: payload}:
		default:
			b.metrics.ObserveDrop(networking.DropBackpressure)
		}
	}
	b.frameMu.Unlock()
}

// enqueue keeps the newest frames when a viewer falls behind.
func (b *Broker) enqueue(viewer *Viewer, msg outbound) {
	for {
		select {
		case viewer.send <- msg:
			return
		default:
		}
		select {
		case <-viewer.send:
			b.metrics.ObserveDrop(networking.DropBackpressure)
		default:
		}
	}
}

func (b *Broker) notify(viewer *Viewer, n notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	select {
	case viewer.notices <- data:
	default:
		viewer.log.Debug("notice dropped", logging.String("type", n.Type))
	}
}

func (b *Broker) reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxViewers > 0 && len(b.viewers)+b.pending >= b.cfg.MaxViewers {
		return errBrokerFull
	}
	b.pending++
	return nil
}

func (b *Broker) release() {
	b.mu.Lock()
	b.pending--
	b.mu.Unlock()
}

// ServeWS upgrades the request and streams frames to the new viewer. The
// encoding query parameter selects frame compression.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := b.log.With(logging.String("remote_addr", r.RemoteAddr))
	compressor, err := codec.Lookup(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.tokens != nil {
		claims, err := b.tokens.Verify(viewerToken(r))
		if err != nil {
			reqLogger.Warn("viewer token rejected", logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		reqLogger = reqLogger.With(logging.String("subject", claims.Subject))
	}
	if err := b.reserve(); err != nil {
		reqLogger.Warn("viewer rejected", logging.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.release()
		reqLogger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	id := uuid.NewString()
	viewer := &Viewer{
		id:         id,
		conn:       conn,
		compressor: compressor,
		send:       make(chan outbound, viewerSendBuffer),
		notices:    make(chan []byte, viewerNoticeBuffer),
		done:       make(chan struct{}),
		log:        reqLogger.With(logging.String("viewer_id", id)),
	}

	//1.- Register before snapshotting so no update falls between the two.
	b.mu.Lock()
	b.pending--
	b.viewers[id] = viewer
	b.mu.Unlock()

	current := b.driver.Snapshot()
	topology, err := frame.Topology(current).MarshalBinary()
	if err == nil {
		var surface []byte
		surface, err = frame.Surface(current).MarshalBinary()
		if err == nil {
			b.startViewer(viewer, current.Tick, topology, surface)
			return
		}
	}
	viewer.log.Error("encode initial frames failed", logging.Error(err))
	b.removeViewer(viewer)
	_ = conn.Close()
}

// viewerToken reads the token from the auth_token query parameter or the
// X-Auth-Token header.
func viewerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("auth_token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Auth-Token"))
}

func (b *Broker) startViewer(viewer *Viewer, tick uint64, topology, surface []byte) {
	b.notify(viewer, notice{
		Type:      "welcome",
		ViewerID:  viewer.id,
		Encoding:  viewer.compressor.Name(),
		Encodings: codec.Names(),
		Divisions: b.driver.Params().Divisions,
		MaxCoeffs: b.driver.MaxCoefficients(),
		Actions:   actionNames(),
	})
	viewer.log.Info("viewer connected", logging.String("encoding", viewer.compressor.Name()))

	go b.writePump(viewer, []outbound{
		{tick: tick, payload: topology, essential: true},
		{tick: tick, payload: surface, essential: true},
	})
	go b.readPump(viewer)
}

func actionNames() []string {
	names := make([]string, len(scene.Actions))
	for i, action := range scene.Actions {
		names[i] = string(action)
	}
	return names
}

func (b *Broker) removeViewer(viewer *Viewer) {
	b.mu.Lock()
	_, ok := b.viewers[viewer.id]
	delete(b.viewers, viewer.id)
	b.mu.Unlock()
	if !ok {
		return
	}
	close(viewer.done)
	b.bandwidth.Forget(viewer.id)
	if b.gate != nil {
		b.gate.Forget(viewer.id)
	}
	b.driver.Forget(viewer.id)
	viewer.log.Info("viewer disconnected")
}

func (b *Broker) readPump(viewer *Viewer) {
	defer func() {
		b.removeViewer(viewer)
		_ = viewer.conn.Close()
	}()
	if b.cfg.MaxPayloadBytes > 0 {
		viewer.conn.SetReadLimit(b.cfg.MaxPayloadBytes)
	}
	readWait := 2 * b.cfg.PingInterval
	if readWait > 0 {
		_ = viewer.conn.SetReadDeadline(b.now().Add(readWait))
		viewer.conn.SetPongHandler(func(string) error {
			return viewer.conn.SetReadDeadline(b.now().Add(readWait))
		})
	}
	for {
		msgType, data, err := viewer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				viewer.log.Warn("read failed", logging.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			b.notify(viewer, notice{Type: "command_rejected", Reason: input.DropReasonInvalid.String(), Error: "commands must be JSON text messages"})
			continue
		}
		b.handleCommand(viewer, data)
	}
}

func (b *Broker) handleCommand(viewer *Viewer, data []byte) {
	var cmd scene.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		b.notify(viewer, notice{Type: "command_rejected", Reason: input.DropReasonInvalid.String(), Error: err.Error()})
		return
	}
	cmd.Viewer = viewer.id
	if err := b.applyCommand(viewer.id, cmd); err != nil {
		var reason string
		var rejected *commandRejectedError
		if errors.As(err, &rejected) {
			reason = rejected.reason.String()
		}
		b.notify(viewer, notice{Type: "command_rejected", SequenceID: cmd.Sequence, Reason: reason, Error: err.Error()})
	}
}

type commandRejectedError struct {
	reason input.DropReason
	err    error
}

func (e *commandRejectedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "command rejected: " + e.reason.String()
}

func (e *commandRejectedError) Unwrap() error { return e.err }

// applyCommand runs cmd through the gate and into the driver. The resulting
// update reaches viewers through the driver subscription.
func (b *Broker) applyCommand(viewerID string, cmd scene.Command) error {
	if b.gate != nil {
		decision := b.gate.Evaluate(viewerID, cmd)
		if !decision.Accepted {
			return &commandRejectedError{reason: decision.Reason, err: decision.Err}
		}
	}
	_, err := b.driver.Apply(cmd)
	return err
}

func (b *Broker) writePump(viewer *Viewer, initial []outbound) {
	interval := b.cfg.PingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer func() {
		ping.Stop()
		_ = viewer.conn.Close()
	}()

	//1.- The welcome notice goes out ahead of the initial frames.
	for drained := false; !drained; {
		select {
		case data := <-viewer.notices:
			_ = viewer.conn.SetWriteDeadline(b.now().Add(writeWait))
			if err := viewer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			drained = true
		}
	}
	var lastTick uint64
	for _, msg := range initial {
		if _, err := b.deliver(viewer, msg); err != nil {
			viewer.log.Warn("initial frame failed", logging.Error(err))
			return
		}
		lastTick = msg.tick
	}

	var (
		deferred *outbound
		retry    <-chan time.Time
	)
	for {
		select {
		case <-viewer.done:
			return
		case data := <-viewer.notices:
			_ = viewer.conn.SetWriteDeadline(b.now().Add(writeWait))
			if err := viewer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case msg, ok := <-viewer.send:
			if !ok {
				_ = viewer.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if msg.tick <= lastTick {
				//2.- Updates queued before the initial snapshot are already covered by it.
				continue
			}
			lastTick = msg.tick
			deferred, retry = nil, nil
			sent, err := b.deliver(viewer, msg)
			if err != nil {
				return
			}
			if !sent {
				//3.- Keep the newest throttled frame so a paused scene still converges.
				deferred = &msg
				retry = time.After(b.retryInterval)
			}
		case <-retry:
			msg := *deferred
			deferred, retry = nil, nil
			sent, err := b.deliver(viewer, msg)
			if err != nil {
				return
			}
			if !sent {
				deferred = &msg
				retry = time.After(b.retryInterval)
			}
		case <-ping.C:
			_ = viewer.conn.SetWriteDeadline(b.now().Add(writeWait))
			if err := viewer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver compresses and writes msg. It reports false without error when the
// viewer's bandwidth budget denied the frame.
func (b *Broker) deliver(viewer *Viewer, msg outbound) (bool, error) {
	compressed, err := viewer.compressor.Compress(msg.payload)
	if err != nil {
		b.metrics.ObserveDrop(networking.DropEncode)
		viewer.log.Error("compress frame failed", logging.Error(err))
		return false, nil
	}
	if !msg.essential && !b.bandwidth.Allow(viewer.id, len(compressed)) {
		b.metrics.ObserveDrop(networking.DropBandwidth)
		return false, nil
	}
	_ = viewer.conn.SetWriteDeadline(b.now().Add(writeWait))
	if err := viewer.conn.WriteMessage(websocket.BinaryMessage, compressed); err != nil {
		return false, err
	}
	b.metrics.ObserveSent(viewer.compressor.Name(), len(msg.payload), len(compressed))
	return true, nil
}

// Close disconnects every viewer and ends gRPC frame subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	viewers := make([]*Viewer, 0, len(b.viewers))
	for _, viewer := range b.viewers {
		viewers = append(viewers, viewer)
	}
	b.mu.Unlock()
	for _, viewer := range viewers {
		_ = viewer.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "broker shutting down"),
			b.now().Add(time.Second))
		_ = viewer.conn.Close()
	}

	b.frameMu.Lock()
	for id, ch := range b.frameSubs {
		delete(b.frameSubs, id)
		close(ch)
	}
	b.frameMu.Unlock()
}
