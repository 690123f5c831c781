// Command syncstage-endpointd connects to a coordinator, disciplines
// its local clock against it, and plays back scheduled media through
// the adaptive future buffer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/yukihamada/solusync-x/buffer"
	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/config"
	"github.com/yukihamada/solusync-x/probe"
	"github.com/yukihamada/solusync-x/proto"
	"github.com/yukihamada/solusync-x/render"
	"github.com/yukihamada/solusync-x/session"
	"github.com/yukihamada/solusync-x/transport"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "endpoint.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	stream, err := transport.Dial(ctx, cfg.ListenAddr)
	if err != nil {
		logger.Error("dial failed", "error", err, "addr", cfg.ListenAddr)
		os.Exit(1)
	}
	defer stream.Close()

	c := clock.New()
	sess := session.New(cfg.NodeID, stream, c)

	sched := buffer.NewScheduler(c, render.NewLoggingRenderer(logger),
		buffer.WithMaxFuture(cfg.MaxFuture),
		buffer.WithMaxQueue(cfg.MaxQueue),
		buffer.WithLogger(logger),
		buffer.WithTelemetry(func(ev buffer.Telemetry) {
			logger.Debug("scheduler telemetry", "track_id", ev.TrackID, "reason", ev.Reason, "detail", ev.Detail)
		}),
	)

	sendProbe := probeSender{stream: stream}
	driver := probe.New(c, sendProbe, probe.WithInterval(cfg.ProbeInterval()), probe.WithLogger(logger))

	handler := session.NewHandler(sess, driver, sched, logger, func(mc proto.MediaControl) {
		logger.Info("media_control admitted", "track_id", mc.TrackID, "action", mc.Action)
	})

	if err := sess.SendHello(proto.NodeClient, cfg.Capabilities, cfg.AuthToken, nil); err != nil {
		logger.Error("hello failed", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return driver.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return readLoop(ctx, stream, handler, logger) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("endpoint exited with error", "error", err)
		os.Exit(1)
	}
}

type probeSender struct {
	stream transport.Stream
}

func (p probeSender) SendProbe(id string, t1 float64) error {
	msg := proto.ClockSync{
		Header: proto.Header{ID: id, Type: proto.TypeClockSync},
		T1:     t1,
	}
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return p.stream.Send(raw)
}

func readLoop(ctx context.Context, stream transport.Stream, handler *session.Handler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := stream.Recv()
		if err != nil {
			return err
		}

		msg, err := proto.Decode(raw)
		if err != nil {
			logger.Warn("decode failed", "error", err)
			continue
		}

		if err := handler.Dispatch(ctx, msg); err != nil {
			return err
		}
	}
}
