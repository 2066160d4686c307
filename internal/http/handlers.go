package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"heatsurface/broker/internal/frame"
	"heatsurface/broker/internal/input"
	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/networking"
	"heatsurface/broker/internal/preview"
	"heatsurface/broker/internal/scene"
	"heatsurface/broker/internal/simulation"
)

// HTTPViewerID identifies commands submitted through the control endpoint.
const HTTPViewerID = "http"

const maxControlBody = 4 << 10

// ReadinessProvider exposes broker state required for readiness checks.
type ReadinessProvider interface {
	SnapshotViewerCounts() (viewers, pending int)
	StartupError() error
	Uptime() time.Duration
}

// SurfaceSource returns the latest scene update.
type SurfaceSource interface {
	Snapshot() scene.Update
}

// Controller applies accepted commands to the scene.
type Controller interface {
	Apply(cmd scene.Command) (scene.Update, error)
}

// CommandGate decides whether a command may reach the controller.
type CommandGate interface {
	Evaluate(viewer string, cmd scene.Command) input.Decision
}

// RateLimiter gates how frequently a client may invoke sensitive operations.
type RateLimiter interface {
	Allow(key string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Surface     SurfaceSource
	Controller  Controller
	Gate        CommandGate
	GateTotals  func() (accepted uint64, drops input.DropCounters)
	Frames      *networking.FrameMetrics
	Bandwidth   *networking.BandwidthRegulator
	Ticks       *simulation.TickMonitor
	RateLimiter RateLimiter
	TimeSource  func() time.Time
	Preview     preview.Options
}

// HandlerSet bundles the broker operational and surface handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	surface     SurfaceSource
	controller  Controller
	gate        CommandGate
	gateTotals  func() (uint64, input.DropCounters)
	frames      *networking.FrameMetrics
	bandwidth   *networking.BandwidthRegulator
	ticks       *simulation.TickMonitor
	rateLimiter RateLimiter
	now         func() time.Time
	preview     preview.Options
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	previewOpts := opts.Preview
	if previewOpts.Width <= 0 || previewOpts.Height <= 0 {
		previewOpts = preview.DefaultOptions()
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		surface:     opts.Surface,
		controller:  opts.Controller,
		gate:        opts.Gate,
		gateTotals:  opts.GateTotals,
		frames:      opts.Frames,
		bandwidth:   opts.Bandwidth,
		ticks:       opts.Ticks,
		rateLimiter: opts.RateLimiter,
		now:         now,
		preview:     previewOpts,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/api/surface", h.SurfaceHandler())
	mux.HandleFunc("/api/surface.png", h.PreviewHandler())
	mux.HandleFunc("/api/control", h.ControlHandler())
	mux.HandleFunc("/api/controls", ControlDocsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports broker readiness, including viewer counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Viewers        int     `json:"viewers"`
		PendingViewers int     `json:"pending_viewers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			viewers, pending := h.readiness.SnapshotViewerCounts()
			resp.Viewers = viewers
			resp.PendingViewers = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		if h.surface == nil && status == http.StatusOK {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Message = "surface driver not attached"
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		if h.readiness != nil {
			viewers, pending := h.readiness.SnapshotViewerCounts()
			fmt.Fprintf(w, "# HELP heat_uptime_seconds Broker uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE heat_uptime_seconds gauge\n")
			fmt.Fprintf(w, "heat_uptime_seconds %.0f\n", h.readiness.Uptime().Seconds())

			fmt.Fprintf(w, "# HELP heat_viewers Current connected viewers.\n")
			fmt.Fprintf(w, "# TYPE heat_viewers gauge\n")
			fmt.Fprintf(w, "heat_viewers %d\n", viewers)

			fmt.Fprintf(w, "# HELP heat_pending_viewers Viewer handshakes awaiting upgrade.\n")
			fmt.Fprintf(w, "# TYPE heat_pending_viewers gauge\n")
			fmt.Fprintf(w, "heat_pending_viewers %d\n", pending)
		}

		if h.surface != nil {
			update := h.surface.Snapshot()
			fmt.Fprintf(w, "# HELP heat_surface_tick Monotonic surface revision.\n")
			fmt.Fprintf(w, "# TYPE heat_surface_tick counter\n")
			fmt.Fprintf(w, "heat_surface_tick %d\n", update.Tick)

			fmt.Fprintf(w, "# HELP heat_simulated_time Current simulated time.\n")
			fmt.Fprintf(w, "# TYPE heat_simulated_time gauge\n")
			fmt.Fprintf(w, "heat_simulated_time %g\n", update.Time)

			fmt.Fprintf(w, "# HELP heat_coefficients Active Fourier coefficient count.\n")
			fmt.Fprintf(w, "# TYPE heat_coefficients gauge\n")
			fmt.Fprintf(w, "heat_coefficients %d\n", update.Coefficients)

			fmt.Fprintf(w, "# HELP heat_rebuild_seconds Duration of the last mesh rebuild.\n")
			fmt.Fprintf(w, "# TYPE heat_rebuild_seconds gauge\n")
			fmt.Fprintf(w, "heat_rebuild_seconds %.6f\n", update.Rebuild.Seconds())
		}

		if h.ticks != nil {
			snap := h.ticks.Snapshot()
			fmt.Fprintf(w, "# HELP heat_frame_duration_seconds Frame loop duration statistics.\n")
			fmt.Fprintf(w, "# TYPE heat_frame_duration_seconds gauge\n")
			fmt.Fprintf(w, "heat_frame_duration_seconds{stat=\"average\"} %.6f\n", snap.Average.Seconds())
			fmt.Fprintf(w, "heat_frame_duration_seconds{stat=\"max\"} %.6f\n", snap.Max.Seconds())
			fmt.Fprintf(w, "heat_frame_duration_seconds{stat=\"last\"} %.6f\n", snap.Last.Seconds())
			fmt.Fprintf(w, "heat_frame_duration_seconds{stat=\"stddev\"} %.6f\n", snap.StdDev.Seconds())
			fmt.Fprintf(w, "# HELP heat_frames_observed_total Frames measured by the loop monitor.\n")
			fmt.Fprintf(w, "# TYPE heat_frames_observed_total counter\n")
			fmt.Fprintf(w, "heat_frames_observed_total %d\n", snap.Samples)
		}

		if h.frames != nil {
			encodings := h.frames.Encodings()
			fmt.Fprintf(w, "# HELP heat_frames_sent_total Frames delivered per encoding.\n")
			fmt.Fprintf(w, "# TYPE heat_frames_sent_total counter\n")
			for _, name := range h.frames.SortedEncodings() {
				fmt.Fprintf(w, "heat_frames_sent_total{encoding=%q} %d\n", name, encodings[name].Frames)
			}
			fmt.Fprintf(w, "# HELP heat_frame_compression_ratio Compressed to raw byte ratio per encoding.\n")
			fmt.Fprintf(w, "# TYPE heat_frame_compression_ratio gauge\n")
			for _, name := range h.frames.SortedEncodings() {
				fmt.Fprintf(w, "heat_frame_compression_ratio{encoding=%q} %.4f\n", name, encodings[name].Ratio())
			}
			fmt.Fprintf(w, "# HELP heat_frames_dropped_total Frames not delivered by reason.\n")
			fmt.Fprintf(w, "# TYPE heat_frames_dropped_total counter\n")
			drops := h.frames.Drops()
			for _, reason := range []networking.DropReason{networking.DropBandwidth, networking.DropBackpressure, networking.DropEncode} {
				fmt.Fprintf(w, "heat_frames_dropped_total{reason=%q} %d\n", string(reason), drops[reason])
			}
		}

		if h.bandwidth != nil {
			usage := h.bandwidth.SnapshotUsage()
			if len(usage) > 0 {
				fmt.Fprintf(w, "# HELP heat_bandwidth_bytes_per_second Observed outbound bandwidth per viewer in bytes per second.\n")
				fmt.Fprintf(w, "# TYPE heat_bandwidth_bytes_per_second gauge\n")
				for viewerID, sample := range usage {
					fmt.Fprintf(w, "heat_bandwidth_bytes_per_second{viewer=%q} %.2f\n", viewerID, sample.BytesPerSecond)
				}
				fmt.Fprintf(w, "# HELP heat_bandwidth_denied_total Frames throttled per viewer.\n")
				fmt.Fprintf(w, "# TYPE heat_bandwidth_denied_total counter\n")
				for viewerID, sample := range usage {
					fmt.Fprintf(w, "heat_bandwidth_denied_total{viewer=%q} %d\n", viewerID, sample.DeniedFrames)
				}
			}
		}

		if h.gateTotals != nil {
			accepted, drops := h.gateTotals()
			fmt.Fprintf(w, "# HELP heat_commands_accepted_total Commands applied to the scene.\n")
			fmt.Fprintf(w, "# TYPE heat_commands_accepted_total counter\n")
			fmt.Fprintf(w, "heat_commands_accepted_total %d\n", accepted)
			fmt.Fprintf(w, "# HELP heat_commands_dropped_total Commands rejected by reason.\n")
			fmt.Fprintf(w, "# TYPE heat_commands_dropped_total counter\n")
			fmt.Fprintf(w, "heat_commands_dropped_total{reason=%q} %d\n", input.DropReasonInvalid.String(), drops.Invalid)
			fmt.Fprintf(w, "heat_commands_dropped_total{reason=%q} %d\n", input.DropReasonSequence.String(), drops.Sequence)
			fmt.Fprintf(w, "heat_commands_dropped_total{reason=%q} %d\n", input.DropReasonRateLimited.String(), drops.RateLimited)
		}
	}
}

// SurfaceHandler serves the current scene as JSON. An optional aspect query
// parameter adds the model-view-projection matrix for that viewport.
func (h *HandlerSet) SurfaceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.surface == nil {
			http.Error(w, "surface unavailable", http.StatusServiceUnavailable)
			return
		}
		aspect, err := parseAspect(r.URL.Query().Get("aspect"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, frame.NewSnapshot(h.surface.Snapshot(), aspect))
	}
}

// PreviewHandler renders the current surface as a PNG. view=profile draws the
// height profile at the current time instead of the full heat map.
func (h *HandlerSet) PreviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.surface == nil {
			http.Error(w, "surface unavailable", http.StatusServiceUnavailable)
			return
		}
		update := h.surface.Snapshot()
		opts := h.preview
		opts.Title = fmt.Sprintf("t = %s, %s", update.TimeLabel(), update.CoefficientLabel())

		render := preview.HeatMap
		switch view := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("view"))); view {
		case "", "heatmap":
		case "profile":
			render = preview.Profile
		default:
			http.Error(w, fmt.Sprintf("unknown view %q", view), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := render(w, update.Surface, opts); err != nil {
			h.logger.Error("preview render failed", logging.Error(err))
			if errors.Is(err, preview.ErrNoSurface) {
				http.Error(w, "surface unavailable", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "failed to render preview", http.StatusInternalServerError)
		}
	}
}

// ControlHandler accepts a single JSON command and returns the resulting snapshot.
func (h *HandlerSet) ControlHandler() http.HandlerFunc {
	type rejection struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
		Error  string `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger
		if logging.TraceIDFromContext(r.Context()) != "" {
			reqLogger = logging.LoggerFromContext(r.Context())
		}
		reqLogger = reqLogger.With(
			logging.String("handler", "control"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.controller == nil {
			http.Error(w, "controls unavailable", http.StatusServiceUnavailable)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow(ClientKey(r)) {
			reqLogger.Warn("control denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		var cmd scene.Command
		decoder := json.NewDecoder(io.LimitReader(r.Body, maxControlBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cmd); err != nil {
			writeJSON(w, http.StatusBadRequest, rejection{Status: "rejected", Reason: input.DropReasonInvalid.String(), Error: err.Error()})
			return
		}
		//1.- HTTP callers are stateless so ordering checks are skipped.
		cmd.Sequence = 0
		cmd.Viewer = HTTPViewerID

		if h.gate != nil {
			decision := h.gate.Evaluate(HTTPViewerID, cmd)
			if !decision.Accepted {
				status := http.StatusBadRequest
				if decision.Reason == input.DropReasonRateLimited {
					status = http.StatusTooManyRequests
				}
				msg := ""
				if decision.Err != nil {
					msg = decision.Err.Error()
				}
				reqLogger.Debug("control rejected", logging.String("reason", decision.Reason.String()))
				writeJSON(w, status, rejection{Status: "rejected", Reason: decision.Reason.String(), Error: msg})
				return
			}
		} else if err := cmd.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, rejection{Status: "rejected", Reason: input.DropReasonInvalid.String(), Error: err.Error()})
			return
		}

		update, err := h.controller.Apply(cmd)
		if err != nil {
			reqLogger.Error("control apply failed", logging.String("action", string(cmd.Action)), logging.Error(err))
			http.Error(w, "failed to apply command", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("control applied",
			logging.String("action", string(cmd.Action)),
			logging.Uint64("tick", update.Tick),
		)
		writeJSON(w, http.StatusOK, frame.NewSnapshot(update, 0))
	}
}

func parseAspect(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	aspect, err := strconv.ParseFloat(raw, 64)
	if err != nil || aspect <= 0 {
		return 0, fmt.Errorf("aspect must be a positive number, got %q", raw)
	}
	return aspect, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
