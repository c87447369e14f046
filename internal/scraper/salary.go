package scraper

import (
	"regexp"
	"strconv"
	"strings"
)

var salaryNumber = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// ParseSalary extracts the numbers from a free-text salary such as
// "kr 550.000 - 650.000 per år". One number gives min == max; more give the
// smallest and the largest. Text without numbers yields nils.
func ParseSalary(text string) (salaryMin, salaryMax *float64) {
	var values []float64
	for _, m := range salaryNumber.FindAllString(text, -1) {
		if v, ok := parseAmount(m); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return &lo, &hi
}

// parseAmount treats '.' and ',' as thousands separators when every group
// after them has three digits ("550.000", "1,200,000"); otherwise the last
// separator is the decimal point ("42,5", "1.200,50").
func parseAmount(s string) (float64, bool) {
	groups := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ',' })
	if len(groups) == 1 {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}

	thousands := true
	for _, g := range groups[1:] {
		if len(g) != 3 {
			thousands = false
			break
		}
	}

	var clean string
	if thousands {
		clean = strings.Join(groups, "")
	} else {
		last := len(groups) - 1
		clean = strings.Join(groups[:last], "") + "." + groups[last]
	}
	v, err := strconv.ParseFloat(clean, 64)
	return v, err == nil
}
