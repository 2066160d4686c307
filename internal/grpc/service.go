package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"heatsurface/broker/internal/codec"
	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/networking"
	"heatsurface/broker/internal/scene"
)

const (
	// EncodingMetadataKey selects the frame compression on request and
	// reports it in the response header.
	EncodingMetadataKey = "x-frame-encoding"
	// ViewerMetadataKey names the command sender; a random ID is used otherwise.
	ViewerMetadataKey = "x-viewer-id"

	commandProcessTimeout = 40 * time.Millisecond
	defaultFrameRateHz    = 30
)

// Option customises the behaviour of the gRPC streaming service.
type Option func(*Service)

// TickerFactory constructs cancellable tick channels for throttled streaming.
type TickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default frame compressor.
func WithCompressor(compressor codec.Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory.
func WithTickerFactory(factory TickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithFrameRate caps how many frames per second a stream receives.
func WithFrameRate(hz float64) Option {
	return func(s *Service) {
		if hz > 0 {
			s.interval = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithMetrics records delivered and dropped frames.
func WithMetrics(metrics *networking.FrameMetrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements SurfaceStreamServer on top of a SurfaceBridge.
type Service struct {
	bridge     SurfaceBridge
	compressor codec.Compressor
	newTicker  TickerFactory
	interval   time.Duration
	metrics    *networking.FrameMetrics
	log        *logging.Logger
}

// NewService wires the gRPC service to the bridge and optional settings.
func NewService(bridge SurfaceBridge, opts ...Option) *Service {
	zstd, _ := codec.Lookup(codec.Zstd)
	service := &Service{
		bridge:     bridge,
		compressor: zstd,
		newTicker:  defaultTickerFactory,
		interval:   time.Second / defaultFrameRateHz,
		log:        logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	service.log = service.log.With(logging.String("component", "grpc"))
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

func (s *Service) compressorFor(ctx context.Context) (codec.Compressor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, value := range md.Get(EncodingMetadataKey) {
		if strings.TrimSpace(value) == "" {
			continue
		}
		compressor, err := codec.Lookup(value)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return compressor, nil
	}
	return s.compressor, nil
}

// StreamFrames sends the topology frame followed by surface frames at most
// once per interval. Surface frames are complete snapshots, so only the most
// recent pending frame is sent on each tick.
func (s *Service) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.bridge == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	compressor, err := s.compressorFor(ctx)
	if err != nil {
		return err
	}
	if err := stream.SendHeader(metadata.Pairs(EncodingMetadataKey, compressor.Name())); err != nil {
		return err
	}

	//1.- Subscribe before reading the topology so no surface frame is missed in between.
	frames, cancel, err := s.bridge.SubscribeFrames(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "subscribe frames: %v", err)
	}
	defer cancel()

	topology, err := s.bridge.TopologyFrame()
	if err != nil {
		return status.Errorf(codes.Internal, "topology frame: %v", err)
	}
	if err := s.send(stream, compressor, topology); err != nil {
		return err
	}

	tickCh, stop := s.newTicker(s.interval)
	defer stop()

	var (
		pending *FrameEvent
		closed  bool
	)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case event, ok := <-frames:
			if !ok {
				//2.- Flush what is buffered on the next tick, then finish.
				closed = true
				frames = nil
				if pending == nil {
					return nil
				}
				continue
			}
			if pending != nil {
				s.metrics.ObserveDrop(networking.DropBackpressure)
			}
			pending = &event
		case <-tickCh:
			if pending == nil {
				if closed {
					return nil
				}
				continue
			}
			event := *pending
			pending = nil
			if err := s.send(stream, compressor, event); err != nil {
				return err
			}
			if closed {
				return nil
			}
		}
	}
}

func (s *Service) send(stream grpc.ServerStreamingServer[wrapperspb.BytesValue], compressor codec.Compressor, event FrameEvent) error {
	compressed, err := compressor.Compress(event.Payload)
	if err != nil {
		s.metrics.ObserveDrop(networking.DropEncode)
		return status.Errorf(codes.Internal, "compress frame: %v", err)
	}
	if err := stream.Send(wrapperspb.Bytes(compressed)); err != nil {
		return err
	}
	s.metrics.ObserveSent(compressor.Name(), len(event.Payload), len(compressed))
	return nil
}

// SendCommands applies a stream of commands and replies with the number of
// accepted and rejected commands once the client closes its side.
func (s *Service) SendCommands(stream grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error {
	if s == nil || s.bridge == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	clientID := viewerID(ctx)
	if forgetter, ok := s.bridge.(ViewerForgetter); ok {
		defer forgetter.ForgetViewer(clientID)
	}
	var accepted, rejected int

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			ack, err := structpb.NewStruct(map[string]any{
				"viewer_id": clientID,
				"accepted":  accepted,
				"rejected":  rejected,
			})
			if err != nil {
				return status.Errorf(codes.Internal, "build ack: %v", err)
			}
			return stream.SendAndClose(ack)
		}
		if err != nil {
			return err
		}
		cmd, err := decodeCommand(msg)
		if err != nil {
			rejected++
			continue
		}
		//1.- Bound each command so a stalled scene cannot hold the stream open.
		cmdCtx, cancel := context.WithTimeout(ctx, commandProcessTimeout)
		result := s.bridge.ProcessCommand(cmdCtx, &CommandSubmission{ClientID: clientID, Command: cmd})
		cancel()
		if result.Err != nil {
			rejected++
			if result.Disconnect {
				return status.Error(codes.PermissionDenied, result.Err.Error())
			}
			continue
		}
		if result.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
}

func viewerID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, value := range md.Get(ViewerMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return "grpc-" + uuid.NewString()
}

// decodeCommand maps a Struct such as {"sequence_id": 3, "action": "time_forward"}
// onto a scene.Command.
func decodeCommand(msg *structpb.Struct) (scene.Command, error) {
	var cmd scene.Command
	if msg == nil {
		return cmd, errors.New("empty command")
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return cmd, err
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, err
	}
	return cmd, cmd.Validate()
}

// EncodeCommand converts cmd into the Struct form accepted by SendCommands.
func EncodeCommand(cmd scene.Command) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"sequence_id": float64(cmd.Sequence),
		"action":      string(cmd.Action),
		"x":           cmd.X,
		"y":           cmd.Y,
		"width":       cmd.Width,
		"height":      cmd.Height,
	})
}

var _ SurfaceStreamServer = (*Service)(nil)
