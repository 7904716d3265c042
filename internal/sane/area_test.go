package sane

import (
	"math"
	"testing"

	"github.com/mzyy94/scanbridge/internal/scan"
)

func cliAreaOptions(unit Unit, hi float64) OptionSet {
	opts := OptionSet{
		"--resolution": {Name: "--resolution", Type: TypeNumeric, Unit: UnitDpi, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintWordList, WordList: []float64{127, 300}, CurrentNumericValue: 127},
	}
	for _, n := range []string{"-l", "-t", "-x", "-y"} {
		opts[n] = &Option{Name: n, Type: TypeNumeric, Unit: unit, Capabilities: CapSoftSelect,
			ConstraintType: ConstraintRange, Range: &Range{Min: 0, Max: hi}}
	}
	return opts
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestAreaController(t *testing.T) {
	tests := []struct {
		name  string
		unit  Unit
		hi    float64
		bound float64
		// values written for the area (10,20)-(110,70) mm
		want [4]float64
	}{
		{"mm", UnitMm, 216, 216, [4]float64{10, 20, 100, 50}},
		// 127 dpi is 5 pixels per mm
		{"pixel", UnitPixel, 1080, 1080.0 / 5, [4]float64{50, 100, 500, 250}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{opts: cliAreaOptions(tt.unit, tt.hi)}
			c, _ := NewOptionController(dev)
			a := NewAreaController(c, CLINames)
			if !a.CanSetArea() {
				t.Fatal("CanSetArea = false")
			}
			minX, minY, maxX, maxY := a.Bounds()
			if minX != 0 || minY != 0 || !near(maxX, tt.bound) || !near(maxY, tt.bound) {
				t.Errorf("Bounds = %g,%g,%g,%g, want 0,0,%g,%g", minX, minY, maxX, maxY, tt.bound, tt.bound)
			}
			a.SetArea(10, 20, 110, 70)
			for i, n := range []string{"-l", "-t", "-x", "-y"} {
				if got := dev.opts[n].CurrentNumericValue; !near(got, tt.want[i]) {
					t.Errorf("%s = %g, want %g", n, got, tt.want[i])
				}
			}
		})
	}
}

func TestAreaController_Missing(t *testing.T) {
	opts := cliAreaOptions(UnitMm, 216)
	delete(opts, "-y")
	c, _ := NewOptionController(&fakeDevice{opts: opts})
	if NewAreaController(c, CLINames).CanSetArea() {
		t.Error("CanSetArea = true without -y")
	}
}

func TestAlignOffset(t *testing.T) {
	tests := []struct {
		align scan.HorizontalAlign
		want  float64
	}{
		{scan.AlignLeft, 6},
		{scan.AlignCenter, 3},
		{scan.AlignRight, 0},
	}
	for _, tt := range tests {
		if got := AlignOffset(tt.align, 6); got != tt.want {
			t.Errorf("AlignOffset(%s, 6) = %g, want %g", tt.align, got, tt.want)
		}
	}
}
