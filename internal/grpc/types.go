package grpc

import (
	"context"

	"heatsurface/broker/internal/scene"
)

// FrameEvent carries one encoded, uncompressed frame and its scene tick.
type FrameEvent struct {
	Tick    uint64
	Payload []byte
}

// FrameSource exposes the frames produced by the scene driver.
type FrameSource interface {
	// SubscribeFrames delivers every future surface frame until cancel is
	// called or ctx ends.
	SubscribeFrames(ctx context.Context) (<-chan FrameEvent, func(), error)
	// TopologyFrame returns the index buffers of the current surface.
	TopologyFrame() (FrameEvent, error)
}

// CommandSubmission carries a decoded control command into the scene.
type CommandSubmission struct {
	ClientID string
	Command  scene.Command
}

// CommandResult summarises how a command was handled.
type CommandResult struct {
	Accepted   bool
	Disconnect bool
	Err        error
}

// CommandSink applies control commands.
type CommandSink interface {
	ProcessCommand(ctx context.Context, submission *CommandSubmission) CommandResult
}

// ViewerForgetter is optionally implemented by bridges that keep per-viewer
// state; it runs when a command stream ends.
type ViewerForgetter interface {
	ForgetViewer(viewerID string)
}

// SurfaceBridge aggregates the dependencies required by the gRPC service.
type SurfaceBridge interface {
	FrameSource
	CommandSink
}
