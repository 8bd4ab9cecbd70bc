package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format of a calendar day.
const DateLayout = "2006-01-02"

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidPeriod = errors.New("invalid period")
)

var (
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	periodRe     = regexp.MustCompile(`^(\d{4})[-/_.](\d{1,2})$`)
)

// Date is a calendar day without a time component. The zero value means
// "no date" and is encoded as JSON null.
type Date struct {
	time.Time
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a time part
// (e.g. an RFC 3339 timestamp), and rejects days that do not exist.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	m := datePrefixRe.FindStringSubmatch(s)
	if m == nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.Parse(DateLayout, m[1])
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the calendar day of now in now's location.
func Today(now time.Time) Date {
	y, m, d := now.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }

func (d Date) Equal(other Date) bool { return d.Time.Equal(other.Time) }

// Period returns the accounting period the day falls into.
func (d Date) Period() Period {
	if d.IsZero() {
		return ""
	}
	return Period(d.Format("2006-01"))
}

// UnmarshalJSON implements the json.Unmarshaler interface for Date.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "0" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface for Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

// Period is an accounting month in YYYY-MM form.
type Period string

// ParsePeriod normalizes s to YYYY-MM. The separators "/", "_" and "." are
// accepted in place of "-" and the month may be a single digit.
func ParsePeriod(s string) (Period, error) {
	m := periodRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	month, err := strconv.Atoi(m[2])
	if err != nil || month < 1 || month > 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period(fmt.Sprintf("%s-%02d", m[1], month)), nil
}

func (p Period) String() string { return string(p) }
