package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"heatsurface/broker/internal/auth"
	"heatsurface/broker/internal/codec"
	"heatsurface/broker/internal/config"
	"heatsurface/broker/internal/frame"
	grpcstream "heatsurface/broker/internal/grpc"
	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/scene"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ViewerDir = t.TempDir()
	cfg.ControlMinInterval = 0
	cfg.Simulation.Divisions = 8
	cfg.Simulation.Samples = 20
	cfg.Simulation.Coefficients = 4
	cfg.Simulation.MaxCoefficients = 8
	cfg.Logging.Path = ""
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*app, *httptest.Server) {
	t.Helper()
	application, err := newApp(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	server := httptest.NewServer(application.handler)
	t.Cleanup(func() {
		application.broker.Close()
		server.Close()
	})
	return application, server
}

func dialViewer(t *testing.T, server *httptest.Server, encoding string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?encoding=" + encoding
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readNotice(t *testing.T, conn *websocket.Conn) notice {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read notice: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("expected text notice, got message type %d", msgType)
	}
	var n notice
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	return n
}

func readFrame(t *testing.T, conn *websocket.Conn, compressor codec.Compressor) *frame.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got message type %d: %s", msgType, data)
	}
	raw, err := compressor.Decompress(data)
	if err != nil {
		t.Fatalf("decompress frame: %v", err)
	}
	var f frame.Frame
	if err := f.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return &f
}

func TestWebsocketViewerReceivesFramesAndControlsScene(t *testing.T) {
	_, server := newTestApp(t, testConfig(t))
	compressor, err := codec.Lookup(codec.Snappy)
	if err != nil {
		t.Fatalf("lookup codec: %v", err)
	}
	conn := dialViewer(t, server, codec.Snappy)

	welcome := readNotice(t, conn)
	if welcome.Type != "welcome" || welcome.ViewerID == "" || welcome.Encoding != codec.Snappy {
		t.Fatalf("unexpected welcome %+v", welcome)
	}
	if welcome.Divisions != 8 || welcome.MaxCoeffs != 8 || len(welcome.Actions) != len(scene.Actions) {
		t.Fatalf("unexpected welcome parameters %+v", welcome)
	}

	topology := readFrame(t, conn, compressor)
	if topology.Kind != frame.KindTopology || topology.Divisions != 8 {
		t.Fatalf("expected topology frame first, got %+v", topology.Kind)
	}
	if len(topology.Triangles) != 12*7*7 || len(topology.Lines) != 4*7*7 {
		t.Fatalf("unexpected index counts %d/%d", len(topology.Triangles), len(topology.Lines))
	}

	surface := readFrame(t, conn, compressor)
	if surface.Kind != frame.KindSurface || surface.Coefficients != 4 || len(surface.Positions) != 3*64 {
		t.Fatalf("unexpected initial surface %+v", surface)
	}

	if err := conn.WriteJSON(scene.Command{Sequence: 1, Action: scene.ActionCoefficientsUp}); err != nil {
		t.Fatalf("send command: %v", err)
	}
	updated := readFrame(t, conn, compressor)
	if updated.Coefficients != 5 || updated.Tick <= surface.Tick {
		t.Fatalf("expected coefficient bump, got coefficients=%d tick=%d", updated.Coefficients, updated.Tick)
	}

	//1.- Replaying a sequence ID is rejected with a notice and no frame.
	if err := conn.WriteJSON(scene.Command{Sequence: 1, Action: scene.ActionCoefficientsUp}); err != nil {
		t.Fatalf("send replay: %v", err)
	}
	rejected := readNotice(t, conn)
	if rejected.Type != "command_rejected" || rejected.Reason != "sequence" || rejected.SequenceID != 1 {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
}

func TestWebsocketRejectsUnknownEncoding(t *testing.T) {
	_, server := newTestApp(t, testConfig(t))
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?encoding=brotli"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestWebsocketEnforcesViewerLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxViewers = 1
	application, server := newTestApp(t, cfg)

	conn := dialViewer(t, server, "")
	readNotice(t, conn)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second viewer to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
	if viewers, pending := application.broker.SnapshotViewerCounts(); viewers != 1 || pending != 0 {
		t.Fatalf("unexpected counts viewers=%d pending=%d", viewers, pending)
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedOrigins = []string{"https://viewer.example"}
	_, server := newTestApp(t, cfg)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected foreign origin to be refused")
	}
	header = http.Header{"Origin": []string{"https://viewer.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}

func TestWebsocketRequiresViewerToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.ViewerTokenSecret = "viewer-secret"
	_, server := newTestApp(t, cfg)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected missing token to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	signer, err := auth.NewSigner("viewer-secret", auth.ViewerAudience)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Auth-Token": []string{token}})
	if err != nil {
		t.Fatalf("expected token in header to connect: %v", err)
	}
	defer conn.Close()
	if welcome := readNotice(t, conn); welcome.Type != "welcome" {
		t.Fatalf("unexpected first message %+v", welcome)
	}

	conn2, _, err := websocket.DefaultDialer.Dial(url+"?auth_token="+token, nil)
	if err != nil {
		t.Fatalf("expected token in query to connect: %v", err)
	}
	_ = conn2.Close()
}

func TestHTTPControlReachesWebsocketViewers(t *testing.T) {
	_, server := newTestApp(t, testConfig(t))
	compressor, _ := codec.Lookup(codec.Raw)
	conn := dialViewer(t, server, codec.Raw)
	readNotice(t, conn)
	readFrame(t, conn, compressor)
	readFrame(t, conn, compressor)

	resp, err := http.Post(server.URL+"/api/control", "application/json", strings.NewReader(`{"action":"time_forward"}`))
	if err != nil {
		t.Fatalf("post control: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	updated := readFrame(t, conn, compressor)
	if updated.Time != 0.25 {
		t.Fatalf("expected time step to reach viewer, got %v", updated.Time)
	}
	if got := resp.Header.Get(logging.TraceIDHeader); got == "" {
		t.Fatal("expected trace header on HTTP responses")
	}
}

func TestGRPCBridgeFansOutFrames(t *testing.T) {
	application, _ := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, unsubscribe, err := application.broker.SubscribeFrames(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	topology, err := application.broker.TopologyFrame()
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	var decoded frame.Frame
	if err := decoded.UnmarshalBinary(topology.Payload); err != nil || decoded.Kind != frame.KindTopology {
		t.Fatalf("unexpected topology frame %v %v", decoded.Kind, err)
	}

	result := application.broker.ProcessCommand(ctx, &grpcstream.CommandSubmission{
		ClientID: "grpc-test",
		Command:  scene.Command{Sequence: 1, Action: scene.ActionReset},
	})
	if result.Err != nil || !result.Accepted {
		t.Fatalf("expected reset to be accepted, got %+v", result)
	}
	result = application.broker.ProcessCommand(ctx, &grpcstream.CommandSubmission{
		ClientID: "grpc-test",
		Command:  scene.Command{Sequence: 2, Action: scene.ActionTimeForward},
	})
	if !result.Accepted {
		t.Fatalf("expected time step to be accepted, got %+v", result)
	}

	//1.- The reset publishes first; wait for the stepped surface behind it.
	deadline := time.After(5 * time.Second)
	for stepped := false; !stepped; {
		select {
		case event := <-frames:
			if err := decoded.UnmarshalBinary(event.Payload); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if decoded.Kind != frame.KindSurface {
				t.Fatalf("unexpected frame kind %v", decoded.Kind)
			}
			stepped = decoded.Time == 0.25
		case <-deadline:
			t.Fatal("timed out waiting for stepped frame")
		}
	}

	result = application.broker.ProcessCommand(ctx, &grpcstream.CommandSubmission{
		ClientID: "grpc-test",
		Command:  scene.Command{Sequence: 2, Action: scene.ActionTimeForward},
	})
	if result.Err == nil || result.Accepted {
		t.Fatalf("expected replayed sequence to be rejected, got %+v", result)
	}

	unsubscribe()
	for range frames {
	}
}

func TestListenerURL(t *testing.T) {
	tests := []struct {
		address string
		tls     bool
		want    string
	}{
		{address: ":8080", want: "http://localhost:8080"},
		{address: "0.0.0.0:9000", tls: true, want: "https://localhost:9000"},
		{address: "[::]:443", tls: true, want: "https://localhost:443"},
		{address: "example.com:8080", want: "http://example.com:8080"},
		{address: "", want: "http://localhost"},
	}
	for _, tt := range tests {
		if got := listenerURL(tt.address, tt.tls); got != tt.want {
			t.Fatalf("listenerURL(%q, %v) = %q, want %q", tt.address, tt.tls, got, tt.want)
		}
	}
}

func TestNewAppRejectsBadSimulationConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.InitialCondition = "sawtooth"
	if _, err := newApp(cfg, logging.NewTestLogger()); err == nil {
		t.Fatal("expected unknown initial condition to fail")
	}
}
