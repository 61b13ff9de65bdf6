package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Period identifies a ledger row's reporting month.
type Period struct {
	Year  int
	Month int
}

func (p Period) Validate() error {
	if p.Year < 1970 || p.Year > 9999 {
		return ErrInvalidPeriod
	}
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidPeriod
	}
	return nil
}

// Next returns the following period; month 12 rolls over to month 1 of the
// next year.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Key returns the numeric ordering key year*100+month used for inclusive
// range filtering of period series.
func (p Period) Key() int {
	return p.Year*100 + p.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// ParsePeriod parses a "YYYY-MM" period key.
func ParsePeriod(s string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Period{}, ErrInvalidPeriod
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}
