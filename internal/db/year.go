package db

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/Sandiman184/e-raport/internal/errors"
)

var yearRe = regexp.MustCompile(`^(\d{4})/(\d{4})$`)

// ParseYear validates an academic year such as "2024/2025": two four-digit
// years, the second following the first.
func ParseYear(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperrors.New(apperrors.TypeInvalidScope, "academic year is required", apperrors.ErrInvalidScope.Hint)
	}
	m := yearRe.FindStringSubmatch(s)
	if m == nil {
		return "", apperrors.New(apperrors.TypeInvalidScope, fmt.Sprintf("malformed academic year %q", s), apperrors.ErrInvalidScope.Hint)
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if second != first+1 {
		return "", apperrors.New(apperrors.TypeInvalidScope, fmt.Sprintf("academic year %q must span consecutive years", s), apperrors.ErrInvalidScope.Hint)
	}
	return s, nil
}
