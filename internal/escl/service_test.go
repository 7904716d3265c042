package escl

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/mzyy94/scanbridge/internal/scan"
)

func TestParseEntry(t *testing.T) {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "Brother MFC-L2750DW series"},
		HostName:      "BRW1.local.",
		Port:          443,
		Text:          []string{"txtvers=1", "ty=Brother MFC-L2750DW", "rs=/eSCL", "UUID=e3248000-80ce-11db-8000-30055c773bcf", "duplex=T"},
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.20")},
	}
	s, err := parseEntry(e, true)
	if err != nil {
		t.Fatal(err)
	}
	want := Service{
		Name:   "Brother MFC-L2750DW",
		Host:   "192.168.1.20:443",
		Root:   "/eSCL",
		TLS:    true,
		UUID:   "e3248000-80ce-11db-8000-30055c773bcf",
		Duplex: true,
	}
	if s != want {
		t.Errorf("parseEntry = %+v, want %+v", s, want)
	}
	if got := s.BaseURL(); got != "https://192.168.1.20:443/eSCL" {
		t.Errorf("BaseURL = %q", got)
	}

	if _, err := parseEntry(&zeroconf.ServiceEntry{Port: 80}, false); err == nil {
		t.Error("parseEntry without address succeeded")
	}
}

func TestServiceBaseURL(t *testing.T) {
	tests := []struct {
		s    Service
		want string
	}{
		{Service{Host: "10.0.0.5:80", Root: "eSCL"}, "http://10.0.0.5:80/eSCL"},
		{Service{Host: "[fe80::1]:8080", Root: "eSCL/"}, "http://[fe80::1]:8080/eSCL"},
		{Service{Host: "10.0.0.5:80"}, "http://10.0.0.5:80"},
	}
	for _, tt := range tests {
		if got := tt.s.BaseURL(); got != tt.want {
			t.Errorf("BaseURL(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

type fakeBrowser struct {
	services []Service
	secure   bool
}

func (b *fakeBrowser) Browse(ctx context.Context, secure bool, found func(Service)) error {
	b.secure = secure
	for _, s := range b.services {
		found(s)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestDriverGetDevices(t *testing.T) {
	b := &fakeBrowser{services: []Service{
		{Name: "Epson ET-4850", Host: "10.0.0.7:80", Root: "eSCL", UUID: "A"},
		{Name: "Canon MF743C", Host: "10.0.0.9:80", Root: "eSCL", UUID: "b"},
		{Name: "Canon MF743C", Host: "10.0.0.9:443", Root: "eSCL", UUID: "B", TLS: true},
	}}
	d := NewDriver(b)
	opts := &scan.Options{Escl: scan.EsclOptions{SearchTimeout: 10 * time.Millisecond, Secure: true}}

	var got []scan.Device
	if err := d.GetDevices(context.Background(), opts, func(dev scan.Device) { got = append(got, dev) }); err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	want := []scan.Device{
		{Driver: scan.DriverEscl, ID: "https://10.0.0.9:443/eSCL", Name: "Canon MF743C"},
		{Driver: scan.DriverEscl, ID: "http://10.0.0.7:80/eSCL", Name: "Epson ET-4850"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("devices = %v, want %v", got, want)
	}
	if !b.secure {
		t.Error("secure browse not requested")
	}
}

func TestDedupe_PlainHTTP(t *testing.T) {
	found := []Service{
		{Name: "Canon", Host: "10.0.0.9:80", UUID: "B"},
		{Name: "Canon", Host: "10.0.0.9:443", UUID: "B", TLS: true},
	}
	got := dedupe(found, false)
	if len(got) != 1 || got[0].TLS {
		t.Errorf("dedupe = %+v, want the http service only", got)
	}
}
