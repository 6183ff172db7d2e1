package timeparsing

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/pkg/errors"
)

// absoluteLayouts are tried in order. The source database's datetime
// format comes first because that is what operators copy out of it.
var absoluteLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseTimestamp resolves a --start/--end flag value relative to now.
// Absolute layouts win over relative and natural-language readings so
// that an exact timestamp is never reinterpreted.
func ParseTimestamp(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	for _, layout := range absoluteLayouts {
		if ts, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return ts, nil
		}
	}

	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %q", s)
	}
	if r == nil {
		return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
	}
	return r.Time, nil
}
