// Package escl scans from network scanners over eSCL (AirScan).
package escl

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	mfpescl "github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/transport"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

const (
	defaultSearchTimeout = 5 * time.Second
	defaultRetryDelay    = 2 * time.Second
	cancelTimeout        = 5 * time.Second
)

// Driver implements scan.ScanDriver over eSCL.
type Driver struct {
	tr      *transport.Transport
	browser Browser
	// retryDelay is the wait after a 503 from NextDocument.
	retryDelay time.Duration
}

// NewDriver creates a driver. A nil browser uses mDNS.
func NewDriver(browser Browser) *Driver {
	if browser == nil {
		browser = MDNSBrowser{}
	}
	return &Driver{
		tr: transport.NewTransport(&http.Transport{
			// eSCL devices use self-signed certificates
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			TLSHandshakeTimeout: 5 * time.Second,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		}),
		browser:    browser,
		retryDelay: defaultRetryDelay,
	}
}

// GetDevices browses for opts.Escl.SearchTimeout and reports each scanner
// once.
func (d *Driver) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	timeout := opts.Escl.SearchTimeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var found []Service
	err := d.browser.Browse(ctx, opts.Escl.Secure, func(s Service) {
		found = append(found, s)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return scan.Wrap(err)
	}
	for _, s := range dedupe(found, opts.Escl.Secure) {
		callback(scan.Device{Driver: scan.DriverEscl, ID: s.BaseURL(), Name: s.Name})
	}
	return nil
}

// Scan runs one eSCL job on opts.Device and fetches every document it
// produces.
func (d *Driver) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	if opts.Device == nil {
		return scan.NewError(scan.KindNoMatchingDevice, "no escl device selected")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.Device.ID, "/"))
	if err != nil || base.Host == "" {
		return scan.NewError(scan.KindNoMatchingDevice, "invalid escl device %q", opts.Device.ID)
	}
	if ctx.Err() != nil {
		return nil
	}
	c := mfpescl.NewClient(base, d.tr)

	caps, details, err := c.GetScannerCapabilities(ctx)
	if err != nil {
		return d.result(ctx, httpError("capabilities", details, err))
	}
	settings, err := d.settings(ctx, c, caps, opts)
	if err != nil {
		return d.result(ctx, err)
	}
	job, details, err := c.Scan(ctx, settings)
	if err != nil {
		return d.result(ctx, httpError("create job", details, err))
	}
	dpi := float64(*settings.XResolution)
	slog.Debug("escl job created", "job", job, "source", *settings.InputSource, "dpi", dpi)

	pages := 0
	err = d.fetchDocuments(ctx, c, job, events, func(img *raster.Image) {
		pages++
		if img.XRes == 0 {
			img.SetResolution(dpi, dpi)
		}
		callback(img)
	})
	if ctx.Err() != nil {
		dctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if _, err := c.Cancel(dctx, job); err != nil && !errors.Is(err, io.EOF) {
			slog.Debug("escl cancel failed", "job", job, "err", err)
		}
		slog.Debug("escl scan cancelled", "pages", pages)
		return nil
	}
	if err != nil {
		return d.result(ctx, err)
	}
	if pages == 0 {
		return d.result(ctx, d.emptyJobError(ctx, c))
	}
	return nil
}

func (d *Driver) result(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return mapError(err)
}

func (d *Driver) settings(ctx context.Context, c *mfpescl.Client, caps *mfpescl.ScannerCapabilities, opts *scan.Options) (mfpescl.ScanSettings, error) {
	source := opts.PaperSource
	if source == scan.SourceAuto {
		source = d.autoSource(ctx, c, caps)
	}
	switch source {
	case scan.SourceFeeder, scan.SourceDuplex:
		duplex := source == scan.SourceDuplex
		in := feederCaps(caps, duplex)
		if in == nil {
			return mfpescl.ScanSettings{}, scan.NewError(scan.KindUnsupportedCapability, "the scanner does not support %s scanning", source)
		}
		return scanSettings(opts, mfpescl.InputFeeder, duplex, in), nil
	}
	in := platenCaps(caps)
	if in == nil && caps.ADF != nil {
		return mfpescl.ScanSettings{}, scan.NewError(scan.KindUnsupportedCapability, "the scanner has no flatbed")
	}
	return scanSettings(opts, mfpescl.InputPlaten, false, in), nil
}

// autoSource uses the feeder when it has paper, the flatbed otherwise.
func (d *Driver) autoSource(ctx context.Context, c *mfpescl.Client, caps *mfpescl.ScannerCapabilities) scan.PaperSource {
	if feederCaps(caps, false) == nil {
		return scan.SourceFlatbed
	}
	if platenCaps(caps) == nil {
		return scan.SourceFeeder
	}
	st, _, err := c.GetScannerStatus(ctx)
	if err != nil {
		slog.Debug("escl status failed", "err", err)
		return scan.SourceFlatbed
	}
	if st.ADFState != nil && *st.ADFState == mfpescl.ScannerAdfLoaded {
		return scan.SourceFeeder
	}
	return scan.SourceFlatbed
}

func (d *Driver) emptyJobError(ctx context.Context, c *mfpescl.Client) error {
	if st, _, err := c.GetScannerStatus(ctx); err == nil && st.ADFState != nil {
		if err := adfError(*st.ADFState); err != nil {
			return err
		}
	}
	return scan.NewError(scan.KindNoPages, "the scanner returned no documents")
}

func (d *Driver) fetchDocuments(ctx context.Context, c *mfpescl.Client, job string, events scan.Events, callback func(*raster.Image)) error {
	for {
		body, details, err := c.NextDocument(ctx, job)
		switch {
		case err == nil:
			events.PageStart()
			img, err := readDocument(body, details, events)
			if err != nil {
				return err
			}
			callback(img)
			continue
		case details == nil:
			return err
		case details.StatusCode == http.StatusNotFound, details.StatusCode == http.StatusGone:
			return nil
		case details.StatusCode == http.StatusServiceUnavailable:
			slog.Debug("escl document not ready", "job", job)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
			continue
		}
		return httpError("next document", details, err)
	}
}

// readDocument decodes a NextDocument body, reporting progress against
// Content-Length when the device sends one.
func readDocument(body io.ReadCloser, details *mfpescl.HTTPDetails, events scan.Events) (*raster.Image, error) {
	defer body.Close()
	var r io.Reader = body
	if details != nil && details.Response != nil && details.Response.ContentLength > 0 {
		events.PageProgress(0)
		r = &progressReader{r: body, total: details.Response.ContentLength, events: events}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read document: empty response")
	}
	img, err := raster.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

type progressReader struct {
	r      io.Reader
	read   int64
	total  int64
	events scan.Events
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.events.PageProgress(min(1, float64(p.read)/float64(p.total)))
	}
	return n, err
}

// HTTPError is an unexpected eSCL response status.
type HTTPError struct {
	Op         string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("escl %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// httpError replaces err with an *HTTPError when the device answered with
// a non-success status.
func httpError(op string, details *mfpescl.HTTPDetails, err error) error {
	if err != nil && details != nil && details.StatusCode/100 != 2 {
		return &HTTPError{Op: op, StatusCode: details.StatusCode}
	}
	return err
}

func mapError(err error) error {
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusConflict, http.StatusServiceUnavailable:
			return &scan.Error{Kind: scan.KindDeviceBusy, Err: err}
		case http.StatusNotFound:
			return &scan.Error{Kind: scan.KindNoMatchingDevice, Err: err}
		}
		return &scan.Error{Kind: scan.KindUnknown, Msg: "eSCL error", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &scan.Error{Kind: scan.KindDeviceOffline, Err: err}
	}
	return scan.Wrap(err)
}
