package sane

import (
	"bufio"
	"fmt"
	"strconv"
)

// readPNMHeader parses a binary PNM header (P4, P5 or P6) as written by
// scanimage --format=pnm and returns the matching frame parameters.
func readPNMHeader(r *bufio.Reader) (Parameters, error) {
	magic, err := pnmToken(r)
	if err != nil {
		return Parameters{}, err
	}
	var fields int
	switch magic {
	case "P4":
		fields = 2
	case "P5", "P6":
		fields = 3
	default:
		return Parameters{}, fmt.Errorf("pnm: unsupported magic %q", magic)
	}
	vals := make([]int, fields)
	for i := range vals {
		tok, err := pnmToken(r)
		if err != nil {
			return Parameters{}, err
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v <= 0 {
			return Parameters{}, fmt.Errorf("pnm: invalid header value %q", tok)
		}
		vals[i] = v
	}

	p := Parameters{PixelsPerLine: vals[0], Lines: vals[1], LastFrame: true}
	depth := 8
	if fields == 3 && vals[2] > 255 {
		depth = 16
	}
	switch magic {
	case "P4":
		p.Format, p.Depth = FormatGray, 1
		p.BytesPerLine = (p.PixelsPerLine + 7) / 8
	case "P5":
		p.Format, p.Depth = FormatGray, depth
		p.BytesPerLine = p.PixelsPerLine * depth / 8
	case "P6":
		p.Format, p.Depth = FormatRGB, depth
		p.BytesPerLine = p.PixelsPerLine * 3 * depth / 8
	}
	return p, nil
}

// pnmToken reads one whitespace separated header token, skipping comments.
// The single whitespace byte after the token is consumed.
func pnmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}
