package sane

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func parseFixture(t *testing.T) OptionSet {
	t.Helper()
	f, err := os.Open("testdata/pixma_help.txt")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	opts, err := ParseOptions(f)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	return opts
}

func TestParseOptions_Names(t *testing.T) {
	opts := parseFixture(t)
	want := []string{
		"--button-controlled",
		"--button-update",
		"--custom-gamma",
		"--gamma",
		"--gamma-table",
		"--mode",
		"--resolution",
		"--source",
		"--threshold",
		"--threshold-curve",
		"-l",
		"-t",
		"-x",
		"-y",
	}
	if got := opts.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestParseOptions_Golden(t *testing.T) {
	opts := parseFixture(t)

	tests := []struct {
		name string
		want Option
	}{
		{"--resolution", Option{
			Name: "--resolution", Desc: "Sets the resolution of the scanned image.",
			Type: TypeNumeric, Unit: UnitDpi, Capabilities: CapSoftSelect | CapAutomatic,
			ConstraintType: ConstraintWordList, WordList: []float64{75, 150, 300, 600, 1200},
			CurrentNumericValue: 75,
		}},
		{"--mode", Option{
			Name: "--mode", Desc: "Selects the scan mode (e.g., lineart, monochrome, or color).",
			Type: TypeString, Capabilities: CapSoftSelect | CapAutomatic,
			ConstraintType: ConstraintStringList, StringList: []string{"Color", "Gray", "Lineart"},
			CurrentStringValue: "Color",
		}},
		{"--source", Option{
			Name: "--source",
			Desc: "Selects the scan source (such as a document-feeder). Set source before mode and resolution. Resets mode and resolution to auto values.",
			Type: TypeString, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintStringList, StringList: []string{"Flatbed"},
			CurrentStringValue: "Flatbed",
		}},
		{"--custom-gamma", Option{
			Name: "--custom-gamma", Desc: "Determines whether a builtin or a custom gamma-table should be used.",
			Type: TypeBool, Capabilities: CapSoftSelect | CapAutomatic,
		}},
		{"--gamma-table", Option{
			Name: "--gamma-table",
			Desc: "Gamma-correction table.  In color mode this option equally affects the red, green, and blue channels simultaneously (i.e., it is an intensity gamma table).",
			Type: TypeGroup, Capabilities: CapSoftSelect | CapAutomatic,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 255},
		}},
		{"--gamma", Option{
			Name: "--gamma", Desc: "Changes intensity of midtones",
			Type: TypeNumeric, Capabilities: CapSoftSelect | CapAutomatic,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0.299988, Max: 5},
			CurrentNumericValue: 2.2,
		}},
		{"-x", Option{
			Name: "-x", Desc: "Width of scan-area.",
			Type: TypeNumeric, Unit: UnitMm, Capabilities: CapSoftSelect | CapAutomatic,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 216.069},
			CurrentNumericValue: 216.069,
		}},
		{"--button-update", Option{
			Name: "--button-update", Desc: "Update button state",
			Type: TypeButton, Capabilities: CapSoftSelect,
		}},
		{"--threshold", Option{
			Name: "--threshold", Desc: "Select minimum-brightness to get a white point",
			Type: TypeNumeric, Unit: UnitPercent, Capabilities: CapSoftSelect | CapAutomatic | CapInactive,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: 100, Quant: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := opts.Get(tt.name)
			if got == nil {
				t.Fatalf("option %s missing", tt.name)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("option %s =\n %+v\nwant\n %+v", tt.name, *got, tt.want)
			}
		})
	}
}

func TestParseOptions_MalformedLineSkipped(t *testing.T) {
	input := "Options specific to device `test:0':\n" +
		"    --good 1|2|3 [2]\n" +
		"        A good option.\n" +
		"    --bad auto|1..x [1]\n" +
		"        This description belongs to nothing.\n" +
		"    --after Yes|No [No]\n" +
		"        Still parsed.\n"
	opts, err := ParseOptions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if opts.Get("--bad") != nil {
		t.Error("--bad should have been skipped")
	}
	if got := opts.Get("--good"); got == nil || got.Desc != "A good option." {
		t.Errorf("--good = %+v", got)
	}
	if got := opts.Get("--after"); got == nil || got.CurrentStringValue != "No" {
		t.Errorf("--after = %+v", got)
	}
}

func TestParseOptions_NoDeviceSection(t *testing.T) {
	opts, err := ParseOptions(strings.NewReader("    --format=pnm|tiff      file format\n"))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("len(opts) = %d, want 0", len(opts))
	}
}

func TestParseOptions_ReadOnlyAndHardware(t *testing.T) {
	input := "Options specific to device `test:0':\n" +
		"    --lamp-state[=(yes|no)] [no]\n" +
		"    --page-height 0..300mm [read-only]\n" +
		"    --scan 0..1 [hardware]\n"
	opts, err := ParseOptions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	ph := opts.Get("--page-height")
	if ph == nil {
		t.Fatal("--page-height missing")
	}
	if ph.IsSettable() || ph.Capabilities&CapSoftDetect == 0 {
		t.Errorf("--page-height capabilities = %b, want read-only", ph.Capabilities)
	}
	sc := opts.Get("--scan")
	if sc == nil || sc.Capabilities&CapHardSelect == 0 {
		t.Errorf("--scan = %+v, want hardware capability", sc)
	}
	if lamp := opts.Get("--lamp-state"); lamp == nil || lamp.Type != TypeBool {
		t.Errorf("--lamp-state = %+v, want bool", lamp)
	}
}
