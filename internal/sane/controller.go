package sane

import (
	"log/slog"
	"slices"
	"strings"
)

// OptionController applies option values to an open device. Writes that
// cannot be applied report false rather than failing, so callers can fall
// back to alternatives.
type OptionController struct {
	dev  Device
	opts OptionSet
}

// NewOptionController loads the device's option table.
func NewOptionController(dev Device) (*OptionController, error) {
	opts, err := dev.Options()
	if err != nil {
		return nil, err
	}
	return &OptionController{dev: dev, opts: opts}, nil
}

// Options returns the current option table.
func (c *OptionController) Options() OptionSet { return c.opts }

// TryGet returns the named option if it exists and is active.
func (c *OptionController) TryGet(name string) (*Option, bool) {
	opt := c.opts.Get(name)
	if opt == nil || !opt.IsActive() {
		return nil, false
	}
	return opt, true
}

// TryGetNumeric returns the current value of an active numeric option.
func (c *OptionController) TryGetNumeric(name string) (float64, bool) {
	opt, ok := c.TryGet(name)
	if !ok || opt.Type != TypeNumeric {
		return 0, false
	}
	return opt.CurrentNumericValue, true
}

func (c *OptionController) writable(name string, t ValueType) *Option {
	opt, ok := c.TryGet(name)
	if !ok || !opt.IsSettable() || opt.Type != t {
		return nil
	}
	return opt
}

// TrySetNumeric writes a numeric option.
func (c *OptionController) TrySetNumeric(name string, value float64) bool {
	opt := c.writable(name, TypeNumeric)
	if opt == nil {
		return false
	}
	info, err := c.dev.SetNumeric(name, value)
	if err != nil {
		slog.Warn("sane option write failed", "option", name, "value", value, "err", err)
		return false
	}
	opt.CurrentNumericValue = value
	c.afterWrite(info)
	return true
}

// TrySetString writes a string option. Values outside a string list
// constraint are rejected.
func (c *OptionController) TrySetString(name, value string) bool {
	opt := c.writable(name, TypeString)
	if opt == nil {
		return false
	}
	if opt.ConstraintType == ConstraintStringList && !slices.Contains(opt.StringList, value) {
		return false
	}
	info, err := c.dev.SetString(name, value)
	if err != nil {
		slog.Warn("sane option write failed", "option", name, "value", value, "err", err)
		return false
	}
	opt.CurrentStringValue = value
	c.afterWrite(info)
	return true
}

// TrySetFromCandidates writes the first candidate the option allows,
// compared case-insensitively.
func (c *OptionController) TrySetFromCandidates(name string, candidates []string) bool {
	opt := c.writable(name, TypeString)
	if opt == nil {
		return false
	}
	for _, cand := range candidates {
		for _, v := range opt.StringList {
			if strings.EqualFold(v, cand) {
				return c.TrySetString(name, v)
			}
		}
	}
	return false
}

// TrySetMatch writes the allowed value chosen by m.
func (c *OptionController) TrySetMatch(name string, m Matcher) bool {
	opt := c.writable(name, TypeString)
	if opt == nil {
		return false
	}
	v, ok := m.Choose(opt.StringList)
	if !ok {
		return false
	}
	return c.TrySetString(name, v)
}

func (c *OptionController) afterWrite(info Info) {
	if info&InfoReloadOptions == 0 {
		return
	}
	opts, err := c.dev.Options()
	if err != nil {
		slog.Warn("sane option reload failed", "err", err)
		return
	}
	c.opts = opts
}
