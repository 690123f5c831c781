// Command syncstage-coordinatord runs a master/replica cluster node:
// it accepts endpoint sessions, answers their clock-sync probes and
// heartbeats from its own local clock, and runs the leader-election and
// node-status loops, whose messages it logs. It does not discipline its
// own clock against another coordinator.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/cluster"
	"github.com/yukihamada/solusync-x/config"
	"github.com/yukihamada/solusync-x/proto"
	"github.com/yukihamada/solusync-x/session"
	"github.com/yukihamada/solusync-x/transport"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "coordinator.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	c := clock.New()
	elect := cluster.New(cfg.NodeID, localHealthScore, func(m cluster.Message) {
		logger.Info("broadcast master_election", "term", m.Term, "score", m.Score, "current_master", m.CurrentMaster)
	}, cluster.WithTimeout(cfg.ElectTimeout), cluster.WithGather(cfg.ElectGather), cluster.WithLogger(logger))

	elect.OnPromotion(func() {
		logger.Info("promoted to leader", "node_id", cfg.NodeID)
	})

	ln, err := transport.Listen(cfg.ListenAddr)
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	defer ln.Close()
	logger.Info("coordinator listening", "addr", cfg.ListenAddr, "node_id", cfg.NodeID)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return elect.Run(ctx) })

	broadcaster := cluster.NewStatusBroadcaster(func() cluster.Status {
		return cluster.Status{
			NodeID:     cfg.NodeID,
			Role:       elect.Role(),
			NetQuality: 1.0,
		}
	}, func(st cluster.Status) {
		logger.Debug("node_status", "role", st.Role.String(), "connected_clients", st.ConnectedClients)
	})
	g.Go(func() error { return broadcaster.Run(ctx) })

	addrLimiter := session.NewAddressLimiter()

	g.Go(func() error {
		return acceptLoop(ctx, ln, c, addrLimiter, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("coordinator exited with error", "error", err)
		os.Exit(1)
	}
}

func acceptLoop(ctx context.Context, ln *transport.Listener, c *clock.Clock, addrLimiter *session.AddressLimiter, logger *slog.Logger) error {
	for {
		stream, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		if !addrLimiter.Allow(stream.RemoteAddr()) {
			logger.Warn("rejecting new session: rate limited", "remote", stream.RemoteAddr())
			rejectWithRateLimited(stream, logger)
			stream.Close()
			continue
		}
		go serveConnection(ctx, stream, c, logger)
	}
}

// rejectWithRateLimited sends a RATE_LIMITED wire error to a peer that's
// exceeded the per-address new-session limit, best-effort: the
// connection is closed immediately after regardless of send outcome.
func rejectWithRateLimited(stream transport.Stream, logger *slog.Logger) {
	wireErr := proto.NewError(proto.Header{ID: uuid.NewString(), Type: proto.TypeError}, proto.ErrRateLimited, "too many new sessions from this address", "")
	raw, err := proto.Encode(wireErr)
	if err != nil {
		logger.Warn("failed to encode rate_limited error", "error", err)
		return
	}
	if err := stream.Send(raw); err != nil {
		logger.Warn("failed to send rate_limited error", "remote", stream.RemoteAddr(), "error", err)
	}
}

func serveConnection(ctx context.Context, stream transport.Stream, c *clock.Clock, logger *slog.Logger) {
	defer stream.Close()

	sess := session.New("coordinator", stream, c)
	handler := session.NewHandler(sess, nil, nil, logger, nil)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := stream.Recv()
		if err != nil {
			logger.Debug("session closed", "remote", stream.RemoteAddr(), "error", err)
			return
		}

		msg, err := proto.Decode(raw)
		if err != nil {
			logger.Warn("decode failed", "remote", stream.RemoteAddr(), "error", err)
			continue
		}

		if err := handler.Dispatch(ctx, msg); err != nil {
			logger.Warn("session closing on protocol error", "remote", stream.RemoteAddr(), "error", err)
			return
		}
	}
}

// localHealthScore reports this node's own candidate score. A real
// deployment would sample actual CPU/mem/battery; this stands in with
// a plausible idle-node reading until wired to a host metrics source.
func localHealthScore() float64 {
	return cluster.Score(cluster.Status{
		CPU:        0.1 + rand.Float64()*0.1,
		Mem:        0.2,
		NetQuality: 0.95,
	})
}
