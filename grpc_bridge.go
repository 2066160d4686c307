package main

import (
	"context"
	"errors"
	"sync"

	"heatsurface/broker/internal/frame"
	grpcstream "heatsurface/broker/internal/grpc"
	"heatsurface/broker/internal/logging"
)

const grpcFrameBuffer = 4

// SubscribeFrames allows gRPC services to observe surface frames via fan-out channels.
func (b *Broker) SubscribeFrames(ctx context.Context) (<-chan grpcstream.FrameEvent, func(), error) {
	if b == nil {
		return nil, func() {}, errors.New("broker is nil")
	}
	//1.- Allocate a buffered channel so slow consumers drop instead of stalling the driver.
	ch := make(chan grpcstream.FrameEvent, grpcFrameBuffer)

	//2.- Register the subscriber under lock for concurrent safety.
	b.frameMu.Lock()
	b.nextFrameID++
	id := b.nextFrameID
	b.frameSubs[id] = ch
	b.frameMu.Unlock()

	var once sync.Once
	cancel := func() {
		//3.- Ensure unsubscribe and close only happens once.
		once.Do(func() {
			b.frameMu.Lock()
			if sub, ok := b.frameSubs[id]; ok {
				delete(b.frameSubs, id)
				close(sub)
			}
			b.frameMu.Unlock()
		})
	}

	if ctx != nil {
		//4.- Propagate context cancellation to the subscription lifecycle.
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

// TopologyFrame encodes the index buffers of the current surface.
func (b *Broker) TopologyFrame() (grpcstream.FrameEvent, error) {
	if b == nil {
		return grpcstream.FrameEvent{}, errors.New("broker is nil")
	}
	current := b.driver.Snapshot()
	payload, err := frame.Topology(current).MarshalBinary()
	if err != nil {
		return grpcstream.FrameEvent{}, err
	}
	return grpcstream.FrameEvent{Tick: current.Tick, Payload: payload}, nil
}

// ProcessCommand feeds a gRPC command through the same gate and driver path
// as websocket commands.
func (b *Broker) ProcessCommand(ctx context.Context, submission *grpcstream.CommandSubmission) grpcstream.CommandResult {
	if b == nil {
		return grpcstream.CommandResult{Err: errors.New("broker is nil")}
	}
	if submission == nil {
		return grpcstream.CommandResult{Err: errors.New("command submission is nil")}
	}
	if err := ctx.Err(); err != nil {
		return grpcstream.CommandResult{Err: err}
	}
	cmd := submission.Command
	cmd.Viewer = submission.ClientID
	if err := b.applyCommand(submission.ClientID, cmd); err != nil {
		var rejected *commandRejectedError
		if !errors.As(err, &rejected) {
			b.log.Error("grpc command failed",
				logging.String("viewer_id", submission.ClientID),
				logging.String("action", string(cmd.Action)),
				logging.Error(err),
			)
		}
		return grpcstream.CommandResult{Err: err}
	}
	return grpcstream.CommandResult{Accepted: true}
}

// ForgetViewer clears per-viewer state once a gRPC command stream ends.
func (b *Broker) ForgetViewer(viewerID string) {
	if b.gate != nil {
		b.gate.Forget(viewerID)
	}
	b.driver.Forget(viewerID)
}

var (
	_ grpcstream.SurfaceBridge   = (*Broker)(nil)
	_ grpcstream.ViewerForgetter = (*Broker)(nil)
)
