package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/mzyy94/scanbridge/internal/acquire"
	"github.com/mzyy94/scanbridge/internal/api"
	"github.com/mzyy94/scanbridge/internal/bridge"
	"github.com/mzyy94/scanbridge/internal/config"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// scanFlags override the saved settings for one invocation. Zero values
// keep the saved value.
type scanFlags struct {
	driver   *string
	device   *string
	source   *string
	depth    *string
	dpi      *int
	pageSize *string
	remote   *string
}

func addScanFlags(fs *ff.FlagSet) *scanFlags {
	return &scanFlags{
		driver:   fs.StringLong("driver", "", "driver: sane, twain or escl"),
		device:   fs.StringLong("device", "", "device ID as printed by devices"),
		source:   fs.StringLong("source", "", "paper source: auto, flatbed, feeder, duplex"),
		depth:    fs.StringLong("depth", "", "bit depth: color, grayscale, blackwhite"),
		dpi:      fs.IntLong("dpi", 0, "resolution in dpi"),
		pageSize: fs.StringLong("page-size", "", "letter, legal, a4, a5 or WxH with unit (e.g. 210x297mm)"),
		remote:   fs.StringLong("remote", "", "scan through a scanbridge server at host[:port]"),
	}
}

func (f *scanFlags) apply(s config.Settings) (config.Settings, error) {
	if *f.driver != "" {
		s.Driver = *f.driver
		if *f.device == "" {
			s.DeviceID, s.DeviceName = "", ""
		}
	}
	if *f.device != "" {
		s.DeviceID, s.DeviceName = *f.device, *f.device
	}
	if *f.source != "" {
		s.PaperSource = *f.source
	}
	if *f.depth != "" {
		s.BitDepth = *f.depth
	}
	if *f.dpi != 0 {
		s.Dpi = *f.dpi
	}
	if *f.pageSize != "" {
		s.PageSize = *f.pageSize
	}
	if *f.remote != "" {
		host, port, err := splitHostPort(*f.remote)
		if err != nil {
			return s, err
		}
		s.RemoteHost, s.RemotePort = host, port
	}
	return s, nil
}

func openSettings(g *globals) *config.Store {
	store, err := config.NewStore(*g.dataDir)
	if err != nil {
		slog.Warn("settings unavailable, using defaults", "err", err)
		return config.NewMemoryStore(config.DefaultSettings())
	}
	return store
}

func devicesCommand(g *globals, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("devices").SetParent(parent)
	flags := addScanFlags(fs)
	return &ff.Command{
		Name:      "devices",
		Usage:     "scanbridge devices [FLAGS]",
		ShortHelp: "list scanners of a driver",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st := newStack(g)
			defer st.close()
			s, err := flags.apply(openSettings(g).Get())
			if err != nil {
				return err
			}
			opts, err := s.ScanOptions()
			if err != nil {
				return err
			}
			opts.Device = nil
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DRIVER\tID\tNAME")
			err = st.controller.GetDevices(ctx, opts, func(d scan.Device) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Driver, d.ID, d.Name)
			})
			w.Flush()
			return err
		},
	}
}

func scanCommand(g *globals, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(parent)
	flags := addScanFlags(fs)
	var (
		out       = fs.StringLong("out", "", "output directory (default: saved path or current directory)")
		keepBlank = fs.BoolLong("keep-blank", "keep blank pages")
		deskew    = fs.BoolLong("deskew", "straighten skewed pages")
		save      = fs.BoolLong("save", "remember the given flags as the new defaults")
	)
	return &ff.Command{
		Name:      "scan",
		Usage:     "scanbridge scan [FLAGS]",
		ShortHelp: "scan pages into TIFF files",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st := newStack(g)
			defer st.close()
			store := openSettings(g)
			s, err := flags.apply(store.Get())
			if err != nil {
				return err
			}
			if *out != "" {
				s.SavePath = *out
			}
			if *save {
				if err := store.Update(s); err != nil {
					return fmt.Errorf("save settings: %w", err)
				}
			}
			if s.SavePath == "" {
				s.SavePath = "."
			}
			opts, err := s.ScanOptions()
			if err != nil {
				return err
			}
			if *keepBlank {
				opts.ExcludeBlankPages = false
			}
			if *deskew {
				opts.AutoDeskew = true
			}
			if opts.Device == nil {
				if opts.Device, err = firstDevice(ctx, st.controller, opts); err != nil {
					return err
				}
			}
			files, pages, err := api.RunSaveJob(ctx, st.controller, opts, s.SavePath, time.Now())
			if err != nil {
				var se *scan.Error
				if errors.As(err, &se) {
					return fmt.Errorf("%s (%w)", se.UserMessage(), err)
				}
				return err
			}
			slog.Info("scan complete", "pages", pages)
			for _, file := range files {
				fmt.Println(file)
			}
			return nil
		},
	}
}

// firstDevice picks the first device the driver reports.
func firstDevice(ctx context.Context, c *acquire.Controller, opts *scan.Options) (*scan.Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var found *scan.Device
	err := c.GetDevices(ctx, opts, func(d scan.Device) {
		if found == nil {
			found = &d
			cancel()
		}
	})
	if found != nil {
		slog.Info("using first device", "id", found.ID, "name", found.Name)
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, scan.NewError(scan.KindNoMatchingDevice, "no scanner found")
}

func serversCommand(g *globals, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("servers").SetParent(parent)
	timeout := fs.DurationLong("timeout", 3*time.Second, "browse duration")
	return &ff.Command{
		Name:      "servers",
		Usage:     "scanbridge servers [FLAGS]",
		ShortHelp: "find scanbridge servers on the local network",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return bridge.Discover(ctx, *timeout, func(s bridge.ServerInfo) {
				fmt.Printf("%s\t%s:%d\n", s.Name, s.Host, s.Port)
			})
		},
	}
}

// workerCommand serves one request on stdin/stdout for a parent process.
// Logs go to stderr, where the parent forwards them.
func workerCommand(g *globals, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("worker").SetParent(parent)
	handoffDir := fs.StringLong("handoff-dir", "", "directory for image handoff files (default: temp dir)")
	return &ff.Command{
		Name:      "worker",
		Usage:     "scanbridge worker",
		ShortHelp: "serve a single bridge request on stdin/stdout",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			st := newStack(g)
			defer st.close()
			return bridge.Serve(ctx, stdio{}, &bridge.InProcess{Drivers: st.drivers}, bridge.FileHandoff{Dir: *handoffDir})
		},
	}
}

// stdio reads stdin and writes stdout.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
