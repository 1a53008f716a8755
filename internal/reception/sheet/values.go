package sheet

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var (
	scientificCode = regexp.MustCompile(`^[0-9]+([.,][0-9]+)?[eE]\+?[0-9]+$`)
	zeroFraction   = regexp.MustCompile(`^([0-9]+)[.,]0+$`)

	dateLayouts = []string{
		"2006-01-02",
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"2006/01/02",
		"02/01/06",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	}
	monthLayouts = []string{"01/2006", "1/2006", "01-2006", "2006-01"}
)

// Serial bounds accepted as expiry dates (1954-10 .. 2119-01).
const (
	minDateSerial = 20000
	maxDateSerial = 80000
)

// NormalizeCode restores product codes mangled by spreadsheet number
// formatting: "3.40093E+12" becomes "3400930000000" and "12345.0" becomes "12345".
func NormalizeCode(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "'"))
	if scientificCode.MatchString(s) {
		d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
		if err == nil && d.IsInteger() {
			return d.String()
		}
	}
	if m := zeroFraction.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ParseDecimal reads a number written with either decimal separator and with
// optional space, NBSP or apostrophe grouping.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\t':
			return -1
		}
		return r
	}, raw)

	comma, dot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return decimal.NewFromString(s)
}

// ParseDate reads an expiry date. Month-only values resolve to the last day
// of that month; bare numbers are Excel serial dates.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < minDateSerial || serial > maxDateSerial {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return dateOnly(t), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func foldStatus(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
