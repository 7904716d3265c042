package sane

import (
	"context"
	"fmt"
	"io"
)

type fakeFrame struct {
	params Parameters
	chunks [][]byte
	// err ends the frame instead of io.EOF
	err error
}

type fakeDevice struct {
	opts    OptionSet
	info    Info
	failSet map[string]bool
	frames  []fakeFrame
	// startErr is returned once frames run out; nil means NoDocs
	startErr error

	writes    []string
	reloads   int
	cancelled int
	closed    bool

	cur *fakeFrame
}

func (d *fakeDevice) Options() (OptionSet, error) {
	d.reloads++
	out := make(OptionSet, len(d.opts))
	for name, opt := range d.opts {
		o := *opt
		out[name] = &o
	}
	return out, nil
}

func (d *fakeDevice) SetNumeric(name string, value float64) (Info, error) {
	if d.failSet[name] {
		return 0, &StatusError{Op: "set option", Status: StatusInvalid}
	}
	d.writes = append(d.writes, fmt.Sprintf("%s=%g", name, value))
	if opt := d.opts[name]; opt != nil {
		opt.CurrentNumericValue = value
	}
	return d.info, nil
}

func (d *fakeDevice) SetString(name, value string) (Info, error) {
	if d.failSet[name] {
		return 0, &StatusError{Op: "set option", Status: StatusInvalid}
	}
	d.writes = append(d.writes, name+"="+value)
	if opt := d.opts[name]; opt != nil {
		opt.CurrentStringValue = value
	}
	return d.info, nil
}

func (d *fakeDevice) Start() error {
	if len(d.frames) == 0 {
		if d.startErr != nil {
			return d.startErr
		}
		return &StatusError{Op: "start", Status: StatusNoDocs}
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	d.cur = &f
	return nil
}

func (d *fakeDevice) Parameters() (Parameters, error) {
	return d.cur.params, nil
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if len(d.cur.chunks) == 0 {
		if d.cur.err != nil {
			return 0, d.cur.err
		}
		return 0, io.EOF
	}
	n := copy(p, d.cur.chunks[0])
	d.cur.chunks = d.cur.chunks[1:]
	return n, nil
}

func (d *fakeDevice) Cancel()      { d.cancelled++ }
func (d *fakeDevice) Close() error { d.closed = true; return nil }

type fakeClient struct {
	devices []DeviceInfo
	dev     *fakeDevice
	openErr error
}

func (c *fakeClient) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return c.devices, nil
}

func (c *fakeClient) Open(ctx context.Context, name string) (Device, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.dev, nil
}

// scannerOptions is a typical flatbed+ADF option table using libsane names.
func scannerOptions() OptionSet {
	return OptionSet{
		"source": {
			Name: "source", Type: TypeString, Capabilities: CapSoftSelect,
			ConstraintType:     ConstraintStringList,
			StringList:         []string{"Flatbed", "ADF Front", "ADF Duplex"},
			CurrentStringValue: "Flatbed",
		},
		"mode": {
			Name: "mode", Type: TypeString, Capabilities: CapSoftSelect,
			ConstraintType:     ConstraintStringList,
			StringList:         []string{"Lineart", "Gray", "Color"},
			CurrentStringValue: "Color",
		},
		"resolution": {
			Name: "resolution", Type: TypeNumeric, Unit: UnitDpi, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintWordList, WordList: []float64{75, 150, 300, 600},
			CurrentNumericValue: 75,
		},
		"tl-x": {Name: "tl-x", Type: TypeNumeric, Unit: UnitMm, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 216}},
		"tl-y": {Name: "tl-y", Type: TypeNumeric, Unit: UnitMm, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 297}},
		"br-x": {Name: "br-x", Type: TypeNumeric, Unit: UnitMm, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 216}, CurrentNumericValue: 216},
		"br-y": {Name: "br-y", Type: TypeNumeric, Unit: UnitMm, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 297}, CurrentNumericValue: 297},
	}
}

type recordedEvents struct {
	log []string
}

func (r *recordedEvents) PageStart() { r.log = append(r.log, "start") }
func (r *recordedEvents) PageProgress(p float64) {
	r.log = append(r.log, fmt.Sprintf("%g", p))
}

func seq(from, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(from + i)
	}
	return b
}
