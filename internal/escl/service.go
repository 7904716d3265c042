package escl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"
)

const (
	serviceHTTP  = "_uscan._tcp"
	serviceHTTPS = "_uscans._tcp"
)

// Service is an eSCL endpoint found on the network.
type Service struct {
	Name   string // "ty" TXT record, falling back to the instance name
	Host   string // host:port
	Root   string // "rs" TXT record, usually "eSCL"
	TLS    bool
	UUID   string
	Duplex bool
}

// BaseURL is the root of the eSCL resources, e.g. http://10.0.0.5:80/eSCL.
// It doubles as the device ID.
func (s Service) BaseURL() string {
	scheme := "http"
	if s.TLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: s.Host, Path: "/" + strings.Trim(s.Root, "/")}
	return strings.TrimSuffix(u.String(), "/")
}

func (s Service) key() string {
	if s.UUID != "" {
		return strings.ToLower(s.UUID)
	}
	return s.Name
}

// Browser finds eSCL services until ctx is done.
type Browser interface {
	Browse(ctx context.Context, secure bool, found func(Service)) error
}

// MDNSBrowser browses _uscan._tcp, and _uscans._tcp when secure, over
// multicast DNS.
type MDNSBrowser struct{}

func (MDNSBrowser) Browse(ctx context.Context, secure bool, found func(Service)) error {
	services := []string{serviceHTTP}
	if secure {
		services = append(services, serviceHTTPS)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range services {
		g.Go(func() error {
			return browseService(ctx, name, found)
		})
	}
	return g.Wait()
}

func browseService(ctx context.Context, service string, found func(Service)) error {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return fmt.Errorf("mdns browse %s: %w", service, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			s, err := parseEntry(entry, service == serviceHTTPS)
			if err != nil {
				slog.Debug("ignoring escl service", "instance", entry.Instance, "err", err)
				continue
			}
			found(s)
		}
	}
}

func parseEntry(e *zeroconf.ServiceEntry, tls bool) (Service, error) {
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Service{}, fmt.Errorf("no address")
	}
	if e.Port <= 0 {
		return Service{}, fmt.Errorf("no port")
	}
	txt := parseTXT(e.Text)
	s := Service{
		Name:   txt["ty"],
		Host:   net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
		Root:   txt["rs"],
		TLS:    tls,
		UUID:   txt["uuid"],
		Duplex: strings.EqualFold(txt["duplex"], "T"),
	}
	if s.Name == "" {
		s.Name = e.Instance
	}
	if s.Root == "" {
		s.Root = "eSCL"
	}
	return s, nil
}

func parseTXT(records []string) map[string]string {
	props := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok {
			props[strings.ToLower(k)] = v
		}
	}
	return props
}

// dedupe keeps one service per scanner, preferring https when secure.
func dedupe(found []Service, secure bool) []Service {
	byKey := make(map[string]Service)
	var order []string
	for _, s := range found {
		prev, ok := byKey[s.key()]
		if !ok {
			order = append(order, s.key())
			byKey[s.key()] = s
			continue
		}
		if secure && s.TLS && !prev.TLS {
			byKey[s.key()] = s
		}
	}
	out := make([]Service, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
