package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

const (
	// DefaultPort is the TCP port of `scanbridge serve`.
	DefaultPort = scan.DefaultNetworkPort
	// ServiceType is advertised over mDNS by servers.
	ServiceType = "_scanbridge._tcp"

	cancelGrace = 30 * time.Second
)

// Network forwards requests to a remote scanbridge server, one TCP
// connection per request. Images come back inline.
type Network struct {
	Dialer net.Dialer
}

func (n *Network) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	return n.run(ctx, MsgGetDevices, opts, handlers{device: callback})
}

func (n *Network) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	return n.run(ctx, MsgScan, opts, handlers{events: events, image: callback})
}

func (n *Network) run(ctx context.Context, t MsgType, opts *scan.Options, h handlers) error {
	port := opts.Network.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(opts.Network.Host, strconv.Itoa(port))
	conn, err := n.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &scan.Error{Kind: scan.KindDeviceOffline, Msg: "scanbridge server " + addr + " is unreachable", Err: err}
	}
	defer conn.Close()
	// a server that never answers the cancel must not hang the caller
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now().Add(cancelGrace))
	})
	defer stop()

	// the server runs the driver locally
	remote := opts.Clone()
	remote.Network = scan.NetworkOptions{}
	session := uuid.New().String()
	slog.Debug("network request", "addr", addr, "request", t.String(), "session", session)
	return call(ctx, conn, t, request{Session: session, Options: remote}, h)
}

// Server answers network bridge connections.
type Server struct {
	Bridge  Bridge
	Handoff Handoff
}

// Serve accepts connections until ctx is done, then waits for running
// requests to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handoff := s.Handoff
	if handoff == nil {
		handoff = InlineHandoff{}
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var g errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			g.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		g.Go(func() error {
			defer conn.Close()
			stopConn := context.AfterFunc(ctx, func() { conn.Close() })
			defer stopConn()
			if err := Serve(ctx, conn, s.Bridge, handoff); err != nil {
				slog.Warn("bridge connection failed", "remote", conn.RemoteAddr(), "err", err)
			}
			return nil
		})
	}
}

// Advertise registers a server under ServiceType.
func Advertise(name string, port int) (*zeroconf.Server, error) {
	srv, err := zeroconf.Register(name, ServiceType, "local.", port, []string{"txtvers=1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return srv, nil
}

// ServerInfo is a server found by Discover.
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// Discover browses for servers for the given time.
func Discover(ctx context.Context, timeout time.Duration, found func(ServerInfo)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if len(e.AddrIPv4) == 0 {
				continue
			}
			found(ServerInfo{Name: e.Instance, Host: e.AddrIPv4[0].String(), Port: e.Port})
		}
	}
}
