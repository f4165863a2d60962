package visitor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const (
	Banner = "This is a Python Flask Application with redis and accessed through Nginx"

	visitPrefix = "Visit Number = : "
	resetPrefix = "Visitor Count has been reset to "
)

func FormatVisit(n int64) string {
	return visitPrefix + strconv.FormatInt(n, 10)
}

func FormatReset(n int64) string {
	return resetPrefix + strconv.FormatInt(n, 10)
}

// ParseVisit extracts the count from a /visitor response body.
func ParseVisit(body string) (int64, error) {
	return parseAfter(visitPrefix, body)
}

// ParseReset extracts the count from a /visitor/reset response body.
func ParseReset(body string) (int64, error) {
	return parseAfter(resetPrefix, body)
}

func parseAfter(prefix, body string) (int64, error) {
	s, ok := strings.CutPrefix(strings.TrimSpace(body), prefix)
	if !ok {
		return 0, fmt.Errorf("unexpected body: %q", body)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("strconv.ParseInt: %w", err)
	}
	return n, nil
}

// CheckSequence reports how values differ from exactly start+1..start+len(values).
// Both results are sorted.
func CheckSequence(values []int64, start int64) (duplicates, missing []int64) {
	duplicates = lo.FindDuplicates(values)
	slices.Sort(duplicates)

	seen := lo.SliceToMap(values, func(v int64) (int64, struct{}) { return v, struct{}{} })
	for v := start + 1; v <= start+int64(len(values)); v++ {
		if _, ok := seen[v]; !ok {
			missing = append(missing, v)
		}
	}
	return duplicates, missing
}
