package sane

import (
	"sort"
	"strconv"
)

// ValueType is the kind of value an option holds.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeBool
	TypeNumeric
	TypeString
	TypeButton
	TypeGroup
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNumeric:
		return "numeric"
	case TypeString:
		return "string"
	case TypeButton:
		return "button"
	case TypeGroup:
		return "group"
	default:
		return "none"
	}
}

// ConstraintType says which of Range, WordList or StringList is populated.
type ConstraintType int

const (
	ConstraintNone ConstraintType = iota
	ConstraintRange
	ConstraintWordList
	ConstraintStringList
)

// Unit of an option value.
type Unit int

const (
	UnitNone Unit = iota
	UnitPixel
	UnitBit
	UnitMm
	UnitDpi
	UnitPercent
	UnitMicrosecond
)

// Capabilities mirrors the SANE_CAP_* bits.
type Capabilities uint

const (
	CapSoftSelect Capabilities = 1 << iota
	CapHardSelect
	CapSoftDetect
	CapEmulated
	CapAutomatic
	CapInactive
	CapAdvanced
)

// Range constrains a numeric option. Quant is zero when any value is allowed.
type Range struct {
	Min   float64
	Max   float64
	Quant float64
}

// Option is one device-advertised parameter.
type Option struct {
	Name         string
	Desc         string
	Type         ValueType
	Unit         Unit
	Capabilities Capabilities

	ConstraintType ConstraintType
	Range          *Range
	WordList       []float64
	StringList     []string

	CurrentNumericValue float64
	CurrentStringValue  string
}

// IsActive reports whether the option currently applies.
func (o *Option) IsActive() bool { return o.Capabilities&CapInactive == 0 }

// IsSettable reports whether software may write the option.
func (o *Option) IsSettable() bool { return o.Capabilities&CapSoftSelect != 0 }

// CurrentValue formats the current value for display or for the command line.
func (o *Option) CurrentValue() string {
	if o.Type == TypeNumeric {
		return strconv.FormatFloat(o.CurrentNumericValue, 'f', -1, 64)
	}
	return o.CurrentStringValue
}

// OptionSet is a name-keyed option table.
type OptionSet map[string]*Option

// Get returns the named option or nil.
func (s OptionSet) Get(name string) *Option {
	if s == nil {
		return nil
	}
	return s[name]
}

// Names returns the option names in sorted order.
func (s OptionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
