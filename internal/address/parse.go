package address

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts address text into an Address. Accepted forms:
//
//	82000010                  absolute static
//	default.xex:1A2B          module-relative static
//	82000000+10               static with a folded offset
//	82000000+10->4->1C        pointer chain, offsets applied per hop
//	[default.xex:100]->-8     bracketed base, negative hop offset
//
// All numbers are hexadecimal with an optional 0x prefix.
func Parse(text string) (Address, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	parts := strings.Split(trimmed, "->")
	base, err := parseBase(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, text, err)
	}
	if len(parts) == 1 {
		return base, nil
	}

	offsets := make([]int32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		off, err := parseOffset(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, text, err)
		}
		offsets = append(offsets, off)
	}
	return PointerChain{Base: base, Offsets: offsets}, nil
}

// MustParse is Parse that panics on error. Intended for tests and literals.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

func parseBase(text string) (Static, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") {
		if !strings.HasSuffix(text, "]") {
			return Static{}, fmt.Errorf("unterminated bracket")
		}
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	if text == "" {
		return Static{}, fmt.Errorf("missing base address")
	}

	var module string
	if i := strings.LastIndex(text, ":"); i >= 0 {
		module = strings.TrimSpace(text[:i])
		text = text[i+1:]
		if module == "" {
			return Static{}, fmt.Errorf("missing module name")
		}
	}

	terms, signs := splitTerms(text)
	var sum uint32
	for i, term := range terms {
		n, err := parseHex(term)
		if err != nil {
			return Static{}, err
		}
		if signs[i] < 0 {
			sum -= n
		} else {
			sum += n
		}
	}
	return Static{Address: sum, Module: module}, nil
}

// splitTerms splits "a+b-c" into terms and their signs.
func splitTerms(text string) ([]string, []int) {
	var (
		terms []string
		signs []int
		start int
		sign  = 1
	)
	for i := 0; i < len(text); i++ {
		if text[i] == '+' || text[i] == '-' {
			terms = append(terms, text[start:i])
			signs = append(signs, sign)
			sign = 1
			if text[i] == '-' {
				sign = -1
			}
			start = i + 1
		}
	}
	terms = append(terms, text[start:])
	signs = append(signs, sign)
	return terms, signs
}

func parseHex(text string) (uint32, error) {
	text = strings.TrimSpace(text)
	if len(text) > 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		text = text[2:]
	}
	if text == "" {
		return 0, fmt.Errorf("missing hex number")
	}
	n, err := strconv.ParseUint(text, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is not a 32-bit hex number", text)
	}
	return uint32(n), nil
}

func parseOffset(text string) (int32, error) {
	text = strings.TrimSpace(text)
	negative := strings.HasPrefix(text, "-")
	if negative || strings.HasPrefix(text, "+") {
		text = text[1:]
	}
	n, err := parseHex(text)
	if err != nil {
		return 0, err
	}
	if negative {
		return -int32(n), nil
	}
	return int32(n), nil
}
