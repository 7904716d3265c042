package share

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/transport"
	"github.com/OpenPrinting/go-mfp/util/optional"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service of eSCL scanners.
const ServiceType = "_uscan._tcp"

// NewHandler serves the adapter over eSCL, at /eSCL/ and at the root.
func NewHandler(a *Adapter) http.Handler {
	server := escl.NewAbstractServer(escl.AbstractServerOptions{
		Scanner:  a,
		BasePath: "",
		Hooks: escl.ServerHooks{
			OnScannerStatusResponse: func(_ *transport.ServerQuery, status *escl.ScannerStatus) *escl.ScannerStatus {
				loaded, known := a.ADFState()
				if !known || a.caps.ADFSimplex == nil {
					return nil
				}
				if loaded {
					status.ADFState = optional.New(escl.ScannerAdfLoaded)
				} else {
					status.ADFState = optional.New(escl.ScannerAdfEmpty)
				}
				return status
			},
		},
	})

	mux := http.NewServeMux()
	// sane-airscan and macOS follow the rs TXT record
	mux.Handle("/eSCL/", http.StripPrefix("/eSCL", server))
	// sane-escl ignores rs
	mux.Handle("/", server)
	return mux
}

// Advertise registers the shared scanner over mDNS.
func Advertise(a *Adapter, port int) (*zeroconf.Server, error) {
	caps := a.Capabilities()
	var sources []string
	if caps.Platen != nil {
		sources = append(sources, "platen")
	}
	if caps.ADFSimplex != nil {
		sources = append(sources, "adf")
	}
	duplex := "F"
	if caps.ADFDuplex != nil {
		duplex = "T"
	}
	txt := []string{
		"txtvers=1",
		"ty=" + caps.MakeAndModel,
		"pdl=" + strings.Join(caps.DocumentFormats, ","),
		"cs=color,grayscale,binary",
		"is=" + strings.Join(sources, ","),
		"duplex=" + duplex,
		"rs=eSCL",
		"uuid=" + caps.UUID.String(),
	}
	srv, err := zeroconf.Register(caps.MakeAndModel, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	slog.Info("mDNS registered", "name", caps.MakeAndModel, "service", ServiceType)
	return srv, nil
}
