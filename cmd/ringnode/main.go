//go:build linux

// Command ringnode joins a datagram ring and bridges the application
// endpoint to standard input and output: each input line is fanned out to
// the configured peers, and each payload received from any peer is printed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meshring/meshring/internal/metrics"
	"github.com/meshring/meshring/pkg/frame"
	"github.com/meshring/meshring/pkg/ring"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	defaultPingInterval = ring.DefaultPingInterval
	defaultPongTimeout  = ring.DefaultPongTimeout
	defaultListenAddr   = "0.0.0.0:6940"

	bindMaxTries = 5
)

type peerSpec struct {
	nodeID uint16
	addrs  []netip.AddrPort
}

var (
	listenAddrs  = flag.String("listen", defaultListenAddr, "Comma-separated local addresses to bind inbound listeners on.")
	active       = flag.Bool("active", false, "Send each payload over every enabled link instead of the first one.")
	pingInterval = flag.Duration("ping-interval", defaultPingInterval, "The interval between link probes.")
	pongTimeout  = flag.Duration("pong-timeout", defaultPongTimeout, "How long a link stays enabled without a pong.")
	metricsAddr  = flag.String("metrics-addr", "", "The address to serve prometheus metrics on; disabled if empty.")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging.")

	peers []peerSpec
)

func init() {
	flag.Func("peer", "Peer spec id@addr[+addr...]; repeatable, one link per address.", func(s string) error {
		p, err := parsePeer(s)
		if err != nil {
			return err
		}
		peers = append(peers, p)
		return nil
	})
}

func main() {
	flag.Parse()
	log := newLogger(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error("ringnode failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	metrics.BuildInfo.WithLabelValues(version, commit).Set(1)

	h, err := ring.New(&ring.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("create handle: %w", err)
	}
	defer h.Close()

	var listeners []*ring.Listener
	for _, a := range strings.Split(*listenAddrs, ",") {
		addr, err := netip.ParseAddrPort(strings.TrimSpace(a))
		if err != nil {
			return fmt.Errorf("parse listen address %q: %w", a, err)
		}
		// The address may still be held by a restarting predecessor.
		lis, err := backoff.Retry(ctx, func() (*ring.Listener, error) {
			return h.AddListener(addr)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(bindMaxTries))
		if err != nil {
			return fmt.Errorf("bind listener %s: %w", addr, err)
		}
		listeners = append(listeners, lis)
	}

	for _, p := range peers {
		host, err := h.AddHost(p.nodeID)
		if err != nil {
			return fmt.Errorf("add host %d: %w", p.nodeID, err)
		}
		host.SetActive(*active)
		for i, addr := range p.addrs {
			link := host.Link(i)
			err := link.SetRemote(listeners[i%len(listeners)], addr, ring.LinkConfig{
				PingInterval: *pingInterval,
				PongTimeout:  *pongTimeout,
			})
			if err != nil {
				return fmt.Errorf("configure link %d of host %d: %w", i, p.nodeID, err)
			}
		}
	}

	endpoint := os.NewFile(uintptr(h.FD()), "ring-endpoint")

	g, ctx := errgroup.WithContext(ctx)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		g.Go(func() error {
			log.Info("metrics server starting", "address", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Detached: a blocked stdin read must not hold up shutdown.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, frame.MaxPayload), frame.MaxPayload)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			if _, err := endpoint.Write(scanner.Bytes()); err != nil {
				log.Error("write to ring failed", "error", err)
				return
			}
		}
	}()

	g.Go(func() error {
		buf := make([]byte, frame.MaxPayload)
		for {
			if ctx.Err() != nil {
				return nil
			}
			n, err := endpoint.Read(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read from ring: %w", err)
			}
			fmt.Printf("%s\n", buf[:n])
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		// Unblocks the endpoint reader above.
		return h.Close()
	})

	return g.Wait()
}

func parsePeer(s string) (peerSpec, error) {
	id, rest, ok := strings.Cut(s, "@")
	if !ok {
		return peerSpec{}, fmt.Errorf("peer spec %q must be id@addr[+addr...]", s)
	}
	nodeID, err := strconv.ParseUint(id, 10, 16)
	if err != nil {
		return peerSpec{}, fmt.Errorf("peer node id %q: %w", id, err)
	}
	var addrs []netip.AddrPort
	for _, a := range strings.Split(rest, "+") {
		addr, err := netip.ParseAddrPort(a)
		if err != nil {
			return peerSpec{}, fmt.Errorf("peer address %q: %w", a, err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) > ring.MaxLinks {
		return peerSpec{}, fmt.Errorf("peer %s has %d addresses, at most %d links per host", id, len(addrs), ring.MaxLinks)
	}
	return peerSpec{nodeID: uint16(nodeID), addrs: addrs}, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			return a
		},
	}))
}
