// Package dates normalizes the free-text dates found in appointment and assessment
// exports into lexicographically sortable keys.
package dates

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/carelens/internal/models"
)

// Sentinel is the key for dates that cannot be parsed. It sorts before every real date.
const Sentinel = "1900-01-01"

var (
	slashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	isoDate   = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
)

// Normalize returns date as YYYY-MM-DD. Accepted inputs are M/D/YY (two-digit years are
// 20YY), M/D/YYYY, and ISO-like YYYY-MM-DD or YYYY/MM/DD with an optional time suffix.
// Anything else maps to Sentinel.
func Normalize(date string) string {
	key, ok := parse(date)
	if !ok {
		return Sentinel
	}
	return key
}

// Valid reports whether date is in one of the accepted formats.
func Valid(date string) bool {
	_, ok := parse(date)
	return ok
}

func parse(date string) (string, bool) {
	s := strings.TrimSpace(date)
	if m := slashDate.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return format(year, month, day)
	}
	if m := isoDate.FindStringSubmatch(s); m != nil {
		rest := s[len(m[0]):]
		if rest != "" && rest[0] != 'T' && rest[0] != ' ' {
			return "", false
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return format(year, month, day)
	}
	return "", false
}

func format(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// Less reports whether a is chronologically before b after normalization.
func Less(a, b string) bool {
	return Normalize(a) < Normalize(b)
}

// Sort orders items ascending by the normalized date returned by key. The sort is stable,
// so items sharing a date keep their input order.
func Sort[T any](items []T, key func(T) string) {
	keys := make([]string, len(items))
	idx := make([]int, len(items))
	for i, it := range items {
		keys[i] = Normalize(key(it))
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	sorted := make([]T, len(items))
	for i, k := range idx {
		sorted[i] = items[k]
	}
	copy(items, sorted)
}

// SortDocuments orders docs ascending by the normalized date in metadata[key].
func SortDocuments(docs []*models.Document, key string) {
	Sort(docs, func(d *models.Document) string { return d.MetaString(key) })
}
