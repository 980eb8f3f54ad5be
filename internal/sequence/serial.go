package sequence

import (
	"fmt"
	"strconv"
)

// Serial identifiers are a fixed alpha prefix followed by a fixed-width
// numeric suffix, e.g. "AA000123". Ordering within a book is the numeric
// ordering of the suffix.

func splitSerial(s string) (prefix string, num int64, width int, err error) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	digits := s[i:]
	if digits == "" {
		return "", 0, 0, fmt.Errorf("%w: %q has no numeric suffix", ErrInvalidSerialRange, s)
	}
	num, err = strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidSerialRange, s)
	}
	return s[:i], num, len(digits), nil
}

// serialOrdinal returns the numeric suffix, used to compare serials within
// one book.
func serialOrdinal(s string) (int64, error) {
	_, num, _, err := splitSerial(s)
	return num, err
}

// nextSerial advances a serial by one step, preserving prefix and width.
func nextSerial(s string) (string, error) {
	prefix, num, width, err := splitSerial(s)
	if err != nil {
		return "", err
	}
	next := num + 1
	out := fmt.Sprintf("%s%0*d", prefix, width, next)
	if len(out) != len(s) {
		return "", fmt.Errorf("%w: %q overflows its width", ErrInvalidSerialRange, s)
	}
	return out, nil
}

// validateRange checks that start and end form a well-ordered book range.
func validateRange(start, end string) error {
	startPrefix, startNum, startWidth, err := splitSerial(start)
	if err != nil {
		return err
	}
	endPrefix, endNum, endWidth, err := splitSerial(end)
	if err != nil {
		return err
	}
	if startPrefix != endPrefix {
		return fmt.Errorf("%w: prefix mismatch %q vs %q", ErrInvalidSerialRange, start, end)
	}
	if startWidth != endWidth {
		return fmt.Errorf("%w: width mismatch %q vs %q", ErrInvalidSerialRange, start, end)
	}
	if startNum >= endNum {
		return fmt.Errorf("%w: %q not before %q", ErrInvalidSerialRange, start, end)
	}
	return nil
}
