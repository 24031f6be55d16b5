package query

import (
	"strconv"
	"strings"

	"github.com/kyleking/bb-biodiversity/internal/errors"
)

// ParseSampleLabel turns a human-facing label such as "BB_940" into the
// numeric sample id. The prefix is optional, so "940" is accepted too. The
// id must be plain decimal digits: no sign and no leading zeros, so every id
// has exactly one spelling.
func ParseSampleLabel(label, prefix string) (int64, error) {
	rest := strings.TrimPrefix(label, prefix)

	invalid := func(cause error) error {
		return errors.Wrapf(cause, errors.ErrTypeInvalidSampleLabel,
			"sample label %q is not %s followed by an integer", label, prefix)
	}

	if !canonicalDigits(rest) {
		return 0, invalid(nil)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, invalid(err)
	}

	return id, nil
}

// FormatSampleLabel is the inverse of ParseSampleLabel.
func FormatSampleLabel(id int64, prefix string) string {
	return prefix + strconv.FormatInt(id, 10)
}

func canonicalDigits(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
