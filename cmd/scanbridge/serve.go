package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mzyy94/scanbridge/internal/api"
	"github.com/mzyy94/scanbridge/internal/bridge"
	"github.com/mzyy94/scanbridge/internal/config"
	"github.com/mzyy94/scanbridge/internal/scan"
	"github.com/mzyy94/scanbridge/internal/share"
)

func serveCommand(g *globals, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		listenPort = fs.IntLong("listen-port", 8080, "HTTP port of the eSCL share and the API")
		bridgePort = fs.IntLong("bridge-port", bridge.DefaultPort, "TCP port of the bridge server, 0 to disable")
		name       = fs.StringLong("name", "", "advertised name (default: configured device name)")
		noShare    = fs.BoolLong("no-share", "do not publish the scanner over eSCL")
		noMDNS     = fs.BoolLong("no-mdns", "do not advertise services over mDNS")
		duplex     = fs.BoolLong("duplex", "advertise duplex scanning")
		sources    = fs.StringLong("sources", "both", "advertised sources: flatbed, feeder or both")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "scanbridge serve [FLAGS]",
		ShortHelp: "share the configured scanner over eSCL and serve remote scanbridge clients",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st := newStack(g)
			defer st.close()
			store := openSettings(g)

			info := share.Info{
				Name:   *name,
				Serial: store.Get().DeviceID,
				Duplex: *duplex,
			}
			if info.Name == "" {
				info.Name = store.Get().DeviceName
			}
			switch *sources {
			case "flatbed":
				info.Flatbed = true
			case "feeder":
				info.Feeder = true
			case "both", "":
				info.Flatbed, info.Feeder = true, true
			default:
				return fmt.Errorf("invalid sources %q", *sources)
			}
			return serve(ctx, st, store, serveConfig{
				listenPort: *listenPort,
				bridgePort: *bridgePort,
				share:      !*noShare,
				mdns:       !*noMDNS,
				info:       info,
			})
		},
	}
}

type serveConfig struct {
	listenPort int
	bridgePort int
	share      bool
	mdns       bool
	info       share.Info
}

func serve(ctx context.Context, st *stack, store *config.Store, cfg serveConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adapter *share.Adapter
	if cfg.share {
		adapter = share.NewAdapter(st.controller, func() *scan.Options {
			opts, err := store.Get().ScanOptions()
			if err != nil {
				slog.Warn("invalid saved settings, using defaults", "err", err)
				opts, _ = config.DefaultSettings().ScanOptions()
			}
			return opts
		}, cfg.info)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewHandler(ctx, st.controller, adapter, cfg.listenPort, store))
	if adapter != nil {
		mux.Handle("/", share.NewHandler(adapter))
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.listenPort),
		Handler: logMiddleware(mux),
	}

	var advertised []*zeroconf.Server
	defer func() {
		for _, s := range advertised {
			s.Shutdown()
		}
	}()
	if adapter != nil && cfg.mdns {
		srv, err := share.Advertise(adapter, cfg.listenPort)
		if err != nil {
			return err
		}
		advertised = append(advertised, srv)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr, "share", adapter != nil)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if cfg.bridgePort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.bridgePort))
		if err != nil {
			return fmt.Errorf("bridge listen: %w", err)
		}
		if cfg.mdns {
			hostname, _ := os.Hostname()
			srv, err := bridge.Advertise("scanbridge on "+hostname, cfg.bridgePort)
			if err != nil {
				ln.Close()
				return err
			}
			advertised = append(advertised, srv)
		}
		bs := &bridge.Server{Bridge: &bridge.InProcess{Drivers: st.drivers}}
		g.Go(func() error {
			slog.Info("bridge server starting", "addr", ln.Addr().String())
			return bs.Serve(gctx, ln)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown error", "err", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("shutdown complete")
	return err
}

// splitHostPort accepts host or host:port.
func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port
		return s, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", s)
	}
	return host, port, nil
}
