package frameprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/floats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"heatsurface/broker/internal/codec"
	"heatsurface/broker/internal/frame"
	grpcstream "heatsurface/broker/internal/grpc"
)

// Options selects what the probe asks the broker for.
type Options struct {
	// Encoding requests a frame compression; empty keeps the server default.
	Encoding string
	// Frames stops the probe after this many frames; zero streams until EOF.
	Frames int
	// Secret is sent as the shared secret when the broker requires one.
	Secret string
	// Viewer names the probe in broker logs.
	Viewer string
}

// Summary describes one received frame.
type Summary struct {
	Kind         string  `json:"kind"`
	Tick         uint64  `json:"tick"`
	Time         float64 `json:"time"`
	Coefficients uint32  `json:"coefficients,omitempty"`
	Divisions    uint32  `json:"divisions"`
	Encoding     string  `json:"encoding"`
	WireBytes    int     `json:"wire_bytes"`
	RawBytes     int     `json:"raw_bytes"`
	MinHeight    float64 `json:"min_height,omitempty"`
	MaxHeight    float64 `json:"max_height,omitempty"`
	Triangles    int     `json:"triangles,omitempty"`
	Lines        int     `json:"lines,omitempty"`
}

// Probe subscribes to the frame stream on conn and calls emit with a summary
// of every frame until opts.Frames have arrived, the stream ends or ctx is done.
func Probe(ctx context.Context, conn grpc.ClientConnInterface, opts Options, emit func(Summary) error) error {
	if conn == nil {
		return errors.New("connection required")
	}
	if emit == nil {
		return errors.New("emit callback required")
	}
	var pairs []string
	if enc := strings.TrimSpace(opts.Encoding); enc != "" {
		pairs = append(pairs, grpcstream.EncodingMetadataKey, enc)
	}
	if secret := strings.TrimSpace(opts.Secret); secret != "" {
		pairs = append(pairs, grpcstream.SharedSecretMetadataKey, secret)
	}
	if viewer := strings.TrimSpace(opts.Viewer); viewer != "" {
		pairs = append(pairs, grpcstream.ViewerMetadataKey, viewer)
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	stream, err := grpcstream.NewSurfaceStreamClient(conn).StreamFrames(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	//1.- The broker reports the encoding it settled on in the response header.
	header, err := stream.Header()
	if err != nil {
		return fmt.Errorf("stream header: %w", err)
	}
	encoding := opts.Encoding
	if values := header.Get(grpcstream.EncodingMetadataKey); len(values) > 0 {
		encoding = values[0]
	}
	compressor, err := codec.Lookup(encoding)
	if err != nil {
		return err
	}

	for received := 0; opts.Frames <= 0 || received < opts.Frames; received++ {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive frame: %w", err)
		}
		summary, err := Summarise(compressor, msg.GetValue())
		if err != nil {
			return err
		}
		if err := emit(summary); err != nil {
			return err
		}
	}
	return nil
}

// Summarise decompresses and decodes one wire frame.
func Summarise(compressor codec.Compressor, wire []byte) (Summary, error) {
	raw, err := compressor.Decompress(wire)
	if err != nil {
		return Summary{}, fmt.Errorf("decompress frame: %w", err)
	}
	var f frame.Frame
	if err := f.UnmarshalBinary(raw); err != nil {
		return Summary{}, fmt.Errorf("decode frame: %w", err)
	}
	summary := Summary{
		Kind:         f.Kind.String(),
		Tick:         f.Tick,
		Time:         f.Time,
		Coefficients: f.Coefficients,
		Divisions:    f.Divisions,
		Encoding:     compressor.Name(),
		WireBytes:    len(wire),
		RawBytes:     len(raw),
		Triangles:    len(f.Triangles) / 3,
		Lines:        len(f.Lines) / 2,
	}
	if len(f.Heights) > 0 {
		heights := make([]float64, len(f.Heights))
		for i, h := range f.Heights {
			heights[i] = float64(h)
		}
		summary.MinHeight = floats.Min(heights)
		summary.MaxHeight = floats.Max(heights)
	}
	return summary, nil
}
