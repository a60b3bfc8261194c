package poll

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
)

var (
	reRelative = regexp.MustCompile(`^\+(\d{1,3}):(\d{2})$`)
	reClock    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

const absoluteLayout = "2006-01-02 15:04"

// CalcDue turns a due spec into an instant strictly after now.
//
// Forms, all UTC:
//   - "2030-01-31 18:00" absolute
//   - "18:00"            today at that time
//   - "+01:30"           now plus hours:minutes
func CalcDue(spec string, now time.Time) (time.Time, error) {
	spec = strings.Join(strings.Fields(spec), " ")
	now = now.UTC()

	var due time.Time
	switch {
	case reRelative.MatchString(spec):
		m := reRelative.FindStringSubmatch(spec)
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return time.Time{}, badDue(spec, "minutes out of range")
		}
		due = now.Add(time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute)
	case reClock.MatchString(spec):
		m := reClock.FindStringSubmatch(spec)
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			return time.Time{}, badDue(spec, "clock time out of range")
		}
		due = time.Date(now.Year(), now.Month(), now.Day(), h, mm, 0, 0, time.UTC)
	default:
		t, err := time.ParseInLocation(absoluteLayout, spec, time.UTC)
		if err != nil {
			return time.Time{}, badDue(spec, "unrecognised due format")
		}
		due = t
	}
	if !due.After(now) {
		return time.Time{}, badDue(spec, "due time is not in the future")
	}
	return due, nil
}

func badDue(spec, reason string) error {
	return goerr.Wrap(errs.ErrValidation, reason, goerr.V("field", "due"), goerr.V("due", spec))
}
