package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	frameprobe "heatsurface/broker/tools/frame_probe"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:43127", "Broker gRPC address")
	encoding := flag.String("encoding", "zstd", "Frame encoding to request (raw, gzip, snappy, zstd)")
	frames := flag.Int("frames", 5, "Number of frames to read; 0 streams until interrupted")
	secret := flag.String("secret", "", "Shared secret when the broker requires one")
	viewer := flag.String("viewer", "frame-probe", "Viewer ID reported to the broker")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline; 0 disables it")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	//1.- Emit one JSON document per frame so the output can be piped into jq.
	enc := json.NewEncoder(os.Stdout)
	err = frameprobe.Probe(ctx, conn, frameprobe.Options{
		Encoding: *encoding,
		Frames:   *frames,
		Secret:   *secret,
		Viewer:   *viewer,
	}, func(summary frameprobe.Summary) error {
		return enc.Encode(summary)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "probe error:", err)
		os.Exit(2)
	}
}
