package sane

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// CLI is a Client backed by the scanimage frontend.
type CLI struct {
	// Path of the scanimage binary. Empty means "scanimage" from PATH.
	Path string
}

func (c *CLI) path() string {
	if c.Path == "" {
		return "scanimage"
	}
	return c.Path
}

const deviceListFormat = "%d\t%v\t%m\t%t%n"

// Devices runs scanimage --formatted-device-list.
func (c *CLI) Devices(ctx context.Context) ([]DeviceInfo, error) {
	cmd := exec.CommandContext(ctx, c.path(), "--formatted-device-list="+deviceListFormat)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, exitStatus("list devices", err, stderr.String())
	}
	return parseDeviceList(out), nil
}

func parseDeviceList(out []byte) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		f := strings.Split(line, "\t")
		for len(f) < 4 {
			f = append(f, "")
		}
		devices = append(devices, DeviceInfo{Name: f[0], Vendor: f[1], Model: f[2], Type: f[3]})
	}
	return devices
}

// Open checks that the device answers and returns it.
func (c *CLI) Open(ctx context.Context, name string) (Device, error) {
	d := &cliDevice{ctx: ctx, path: c.path(), name: name}
	if _, err := d.Options(); err != nil {
		return nil, err
	}
	return d, nil
}

type cliArg struct {
	name  string
	value string
}

// cliDevice keeps option writes as command line arguments; every scanimage
// invocation applies them afresh.
type cliDevice struct {
	ctx  context.Context
	path string
	name string
	args []cliArg

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	out     *bufio.Reader
	params  Parameters
	remain  int
	started bool
}

func (d *cliDevice) argv() []string {
	argv := []string{"-d", d.name}
	for _, a := range d.args {
		if strings.HasPrefix(a.name, "--") {
			argv = append(argv, a.name+"="+a.value)
		} else {
			argv = append(argv, a.name, a.value)
		}
	}
	return argv
}

func (d *cliDevice) Options() (OptionSet, error) {
	args := append([]string{"--help"}, d.argv()...)
	cmd := exec.CommandContext(d.ctx, d.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, exitStatus("get options", err, stderr.String())
	}
	return ParseOptions(bytes.NewReader(out))
}

func (d *cliDevice) set(name, value string) (Info, error) {
	for i, a := range d.args {
		if a.name == name {
			d.args[i].value = value
			return InfoReloadOptions, nil
		}
	}
	d.args = append(d.args, cliArg{name: name, value: value})
	// scanimage cannot tell which options changed
	return InfoReloadOptions, nil
}

func (d *cliDevice) SetNumeric(name string, value float64) (Info, error) {
	return d.set(name, strconv.FormatFloat(value, 'f', -1, 64))
}

func (d *cliDevice) SetString(name, value string) (Info, error) {
	return d.set(name, value)
}

func (d *cliDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.finishLocked()
	}
	args := append([]string{"--format=pnm"}, d.argv()...)
	cmd := exec.CommandContext(d.ctx, d.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start scanimage: %w", err)
	}
	slog.Debug("scanimage started", "device", d.name, "pid", cmd.Process.Pid)
	d.cmd, d.stderr, d.started = cmd, stderr, true
	d.out = bufio.NewReaderSize(stdout, readChunkSize)

	// unlock while blocking on the header so Cancel can interrupt
	d.mu.Unlock()
	p, herr := readPNMHeader(d.out)
	d.mu.Lock()
	if herr != nil {
		werr := cmd.Wait()
		d.cmd = nil
		d.started = false
		if werr != nil {
			return exitStatus("start", werr, stderr.String())
		}
		return fmt.Errorf("scanimage: %w", herr)
	}
	d.params = p
	d.remain = p.BytesPerLine * p.Lines
	return nil
}

func (d *cliDevice) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return Parameters{}, &StatusError{Op: "get parameters", Status: StatusInvalid}
	}
	return d.params, nil
}

func (d *cliDevice) Read(p []byte) (int, error) {
	if d.remain <= 0 {
		return 0, d.endFrame()
	}
	if len(p) > d.remain {
		p = p[:d.remain]
	}
	n, err := d.out.Read(p)
	d.remain -= n
	if err == io.EOF {
		if d.remain > 0 {
			if werr := d.endFrame(); werr != io.EOF {
				return n, werr
			}
			return n, &StatusError{Op: "read", Status: StatusIOError}
		}
		return n, nil
	}
	return n, err
}

// endFrame waits for scanimage and returns io.EOF on a clean exit.
func (d *cliDevice) endFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return io.EOF
	}
	err := d.cmd.Wait()
	stderr := d.stderr.String()
	d.cmd = nil
	d.started = false
	if err != nil {
		return exitStatus("read", err, stderr)
	}
	return io.EOF
}

func (d *cliDevice) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil && d.cmd.Process != nil {
		// scanimage calls sane_cancel on SIGINT
		d.cmd.Process.Signal(os.Interrupt)
	}
}

func (d *cliDevice) finishLocked() {
	if d.cmd == nil {
		return
	}
	d.cmd.Process.Kill()
	d.cmd.Wait()
	d.cmd = nil
	d.started = false
}

func (d *cliDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finishLocked()
	return nil
}

// stderr fragments printed by scanimage for each status
var stderrStatus = []struct {
	text   string
	status Status
}{
	{"out of documents", StatusNoDocs},
	{"device busy", StatusDeviceBusy},
	{"jammed", StatusJammed},
	{"cover is open", StatusCoverOpen},
	{"invalid argument", StatusInvalid},
	{"no scanners were identified", StatusInvalid},
	{"error during device i/o", StatusIOError},
	{"operation was cancelled", StatusCancelled},
}

// exitStatus converts a scanimage failure into a StatusError. scanimage
// exits with the SANE status of the failing call; stderr is the fallback.
func exitStatus(op string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("scanimage %s: %w", op, err)
	}
	code := exitErr.ExitCode()
	if code > int(StatusGood) && code <= int(StatusAccessDenied) && code != int(StatusUnsupported) {
		return &StatusError{Op: op, Status: Status(code)}
	}
	lower := strings.ToLower(stderr)
	for _, s := range stderrStatus {
		if strings.Contains(lower, s.text) {
			return &StatusError{Op: op, Status: s.status}
		}
	}
	slog.Debug("scanimage failed", "op", op, "code", code, "stderr", strings.TrimSpace(stderr))
	return &StatusError{Op: op, Status: StatusUnsupported}
}
