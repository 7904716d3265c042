package main

import (
	"log/slog"
	"testing"

	"github.com/peterbourgon/ff/v4"

	"github.com/mzyy94/scanbridge/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		wantErr bool
	}{
		{"scanhost", "scanhost", 0, false},
		{"scanhost:9000", "scanhost", 9000, false},
		{"[fe80::1]:8095", "fe80::1", 8095, false},
		{"scanhost:http", "", 0, true},
		{"scanhost:70000", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := splitHostPort(tt.in)
		if (err != nil) != tt.wantErr || host != tt.host || port != tt.port {
			t.Errorf("splitHostPort(%q) = %q, %d, %v", tt.in, host, port, err)
		}
	}
}

func TestScanFlagsApply(t *testing.T) {
	saved := config.DefaultSettings()
	saved.Driver = "sane"
	saved.DeviceID = "pixma:04A91912"
	saved.DeviceName = "Canon MG5300"

	tests := []struct {
		name  string
		args  []string
		check func(config.Settings) bool
	}{
		{"no flags", nil, func(s config.Settings) bool {
			return s.DeviceID == "pixma:04A91912" && s.Dpi == 300
		}},
		{"driver clears device", []string{"--driver", "escl"}, func(s config.Settings) bool {
			return s.Driver == "escl" && s.DeviceID == ""
		}},
		{"overrides", []string{"--dpi", "600", "--depth", "blackwhite", "--page-size", "a4", "--remote", "scanhost:9000"}, func(s config.Settings) bool {
			return s.Dpi == 600 && s.BitDepth == "blackwhite" && s.PageSize == "a4" && s.RemoteHost == "scanhost" && s.RemotePort == 9000
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := ff.NewFlagSet("test")
			flags := addScanFlags(fs)
			if err := ff.Parse(fs, tt.args); err != nil {
				t.Fatal(err)
			}
			got, err := flags.apply(saved)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(got) {
				t.Errorf("settings = %+v", got)
			}
		})
	}
}
