package sane

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// unit suffixes in match order
var unitSuffixes = []struct {
	suffix string
	unit   Unit
}{
	{"pel", UnitPixel},
	{"bit", UnitBit},
	{"mm", UnitMm},
	{"dpi", UnitDpi},
	{"%", UnitPercent},
	{"us", UnitMicrosecond},
}

type parseState int

const (
	stateNonDeviceOptions parseState = iota
	stateLookingForOption
	stateReadingDescription
	stateReadingName
	stateReadingBooleanValues
	stateReadingValues
	stateLookingForQuant
	stateReadingQuant
	stateLookingForDefaultValue
	stateReadingDefaultValue
	stateIdle
)

// ParseOptions reads the output of "scanimage --help -d DEVICE" and returns
// the device specific options. Option lines that cannot be understood are
// skipped, along with their description.
func ParseOptions(r io.Reader) (OptionSet, error) {
	p := &optionParser{
		sc:      bufio.NewScanner(r),
		options: OptionSet{},
		state:   stateNonDeviceOptions,
	}
	p.sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.options, nil
}

type optionParser struct {
	sc      *bufio.Scanner
	options OptionSet
	last    *Option
	state   parseState
	line    string
	eof     bool
}

func (p *optionParser) run() error {
	p.nextLine()
	for !p.eof {
		switch p.state {
		case stateNonDeviceOptions:
			if hasPrefixFold(p.line, "Options specific to device") {
				p.state = stateLookingForOption
			}
			p.nextLine()

		case stateLookingForOption:
			if strings.HasPrefix(p.line, "    -") {
				p.last = p.parseOption(p.line)
				if p.last != nil {
					p.options[p.last.Name] = p.last
				}
				p.state = stateReadingDescription
			}
			p.nextLine()

		case stateReadingDescription:
			if !strings.HasPrefix(p.line, "        ") {
				p.state = stateLookingForOption
				break
			}
			if p.last != nil {
				desc := strings.TrimSpace(p.line[8:])
				if p.last.Desc == "" {
					p.last.Desc = desc
				} else {
					p.last.Desc += " " + desc
				}
			}
			p.nextLine()
		}
	}
	if err := p.sc.Err(); err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	return nil
}

func (p *optionParser) nextLine() {
	if !p.sc.Scan() {
		p.eof = true
		p.line = ""
		return
	}
	p.line = strings.TrimRightFunc(p.sc.Text(), unicode.IsSpace) + "\n"
}

// parseOption scans one declaration line such as
//
//	    -l auto|0..216.069mm [0]
//
// and returns nil if the line is malformed.
func (p *optionParser) parseOption(line string) *Option {
	opt := &Option{Capabilities: CapSoftSelect}
	var values []string
	var b strings.Builder
	state := stateReadingName
	s := []rune(line)

	for i := 4; i < len(s); {
		c := s[i]
		switch state {
		case stateReadingName:
			if unicode.IsLetter(c) || c == '-' {
				b.WriteRune(c)
				i++
				break
			}
			opt.Name = b.String()
			b.Reset()
			switch c {
			case '[':
				opt.Type = TypeBool
				i += 3
				state = stateReadingBooleanValues
			case ' ':
				i++
				state = stateReadingValues
			case '\n':
				opt.Type = TypeButton
				i++
			default:
				return nil
			}

		case stateReadingBooleanValues:
			if c == 'a' {
				opt.Capabilities |= CapAutomatic
			}
			i++

		case stateReadingValues:
			if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '.' || c == '%' {
				b.WriteRune(c)
				i++
				break
			}
			value := b.String()
			b.Reset()
			switch {
			case c == ' ' || c == '\n':
				for _, u := range unitSuffixes {
					if hasSuffixFold(value, u.suffix) {
						value = value[:len(value)-len(u.suffix)]
						opt.Unit = u.unit
						break
					}
				}
			case substr(s, i, 4) == ",...":
				opt.Type = TypeGroup
				i += 3
			case c != '|':
				return nil
			}

			switch {
			case value == "auto":
				opt.Capabilities |= CapAutomatic
			case strings.Contains(value, ".."):
				lo, hi, _ := strings.Cut(value, "..")
				minV, err1 := strconv.ParseFloat(lo, 64)
				maxV, err2 := strconv.ParseFloat(hi, 64)
				if err1 != nil || err2 != nil {
					return nil
				}
				if opt.Type == TypeNone {
					opt.Type = TypeNumeric
				}
				opt.ConstraintType = ConstraintRange
				opt.Range = &Range{Min: minV, Max: maxV}
			default:
				if opt.Type == TypeNone {
					// numeric until a token proves otherwise
					opt.Type = TypeNumeric
					opt.ConstraintType = ConstraintWordList
				}
				if strings.ContainsFunc(value, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' }) {
					opt.Type = TypeString
					opt.ConstraintType = ConstraintStringList
				}
				if value != "" {
					values = append(values, value)
				}
			}

			if c == ' ' {
				switch opt.ConstraintType {
				case ConstraintWordList:
					opt.WordList = make([]float64, 0, len(values))
					for _, v := range values {
						f, err := strconv.ParseFloat(v, 64)
						if err != nil {
							return nil
						}
						opt.WordList = append(opt.WordList, f)
					}
				case ConstraintStringList:
					opt.StringList = values
				}
				if opt.ConstraintType == ConstraintRange {
					state = stateLookingForQuant
				} else {
					state = stateLookingForDefaultValue
				}
			}
			i++

		case stateLookingForQuant:
			switch {
			case c == ' ' || c == '\n':
				i++
			case c == '[':
				state = stateLookingForDefaultValue
			case substr(s, i, 13) == "(in steps of ":
				i += 13
				state = stateReadingQuant
			default:
				return nil
			}

		case stateReadingQuant:
			if c != ')' {
				b.WriteRune(c)
				i++
				break
			}
			quant, err := strconv.ParseFloat(b.String(), 64)
			if err != nil {
				return nil
			}
			b.Reset()
			opt.Range.Quant = quant
			i++
			state = stateLookingForDefaultValue

		case stateLookingForDefaultValue:
			switch c {
			case ' ', '\n':
				i++
			case '[':
				i++
				state = stateReadingDefaultValue
			default:
				return nil
			}

		case stateReadingDefaultValue:
			if c != ']' {
				b.WriteRune(c)
				i++
				break
			}
			current := b.String()
			b.Reset()
			switch {
			case current == "inactive":
				opt.Capabilities |= CapInactive
			case current == "hardware":
				opt.Capabilities |= CapHardSelect
			case current == "read-only":
				opt.Capabilities &^= CapSoftSelect
				opt.Capabilities |= CapSoftDetect
			case opt.Type == TypeNumeric:
				v, err := strconv.ParseFloat(current, 64)
				if err != nil {
					return nil
				}
				opt.CurrentNumericValue = v
			default:
				opt.CurrentStringValue = current
			}
			i++
			state = stateIdle

		case stateIdle:
			i++
		}
	}
	return opt
}

func substr(s []rune, i, n int) string {
	if i+n > len(s) {
		return ""
	}
	return string(s[i : i+n])
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
