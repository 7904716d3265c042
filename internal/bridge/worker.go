package bridge

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// workerExitTimeout bounds the wait for a worker after its response ended.
const workerExitTimeout = 10 * time.Second

// Worker runs each request in a child process that speaks the frame
// protocol on stdin/stdout and logs on stderr. Images come back through
// handoff files.
type Worker struct {
	command func() *exec.Cmd
}

// NewWorker runs `path args...` per request, e.g. a 32-bit build of this
// binary with the "worker" subcommand.
func NewWorker(path string, args ...string) *Worker {
	return &Worker{command: func() *exec.Cmd { return exec.Command(path, args...) }}
}

func (w *Worker) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	return w.run(ctx, MsgGetDevices, opts, handlers{device: callback})
}

func (w *Worker) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	return w.run(ctx, MsgScan, opts, handlers{events: events, image: callback})
}

func (w *Worker) run(ctx context.Context, t MsgType, opts *scan.Options, h handlers) error {
	cmd := w.command()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return scan.Wrap(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return scan.Wrap(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return scan.Wrap(err)
	}
	if err := cmd.Start(); err != nil {
		return scan.NewError(scan.KindUnknown, "start worker: %v", err)
	}
	session := uuid.New().String()
	log := slog.With("worker", cmd.Process.Pid, "session", session)
	log.Debug("worker started", "request", t.String())

	var g errgroup.Group
	g.Go(func() error {
		forwardLog(log, stderr)
		return nil
	})

	rw := struct {
		io.Reader
		io.Writer
	}{stdout, stdin}
	err = call(ctx, rw, t, request{Session: session, Options: opts}, h)

	// closing stdin tells the worker nobody is listening anymore
	stdin.Close()
	kill := time.AfterFunc(workerExitTimeout, func() {
		log.Warn("worker did not exit, killing")
		cmd.Process.Kill()
	})
	defer kill.Stop()
	io.Copy(io.Discard, stdout)
	g.Wait()
	if werr := cmd.Wait(); werr != nil {
		log.Debug("worker exited", "err", werr)
	}
	return err
}

func forwardLog(log *slog.Logger, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Info("worker: " + sc.Text())
	}
}
