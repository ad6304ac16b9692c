package util

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ContainsAnyCaseInsensitive returns true if text contains any of the needles (case-insensitive).
func ContainsAnyCaseInsensitive(text string, needles []string) bool {
	lt := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lt, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// EqualsAnyCaseInsensitive reports whether text equals one of the candidates.
func EqualsAnyCaseInsensitive(text string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(text, c) {
			return true
		}
	}
	return false
}

// ShortHash returns the first n hex chars of sha1 over parts joined by '|'.
func ShortHash(n int, parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	h := hex.EncodeToString(sum[:])
	if n > 0 && n < len(h) {
		return h[:n]
	}
	return h
}

var countRe = regexp.MustCompile(`(?i)([\d.,]*\d)\s?([km])?\b`)

// ParseCount reads display counters such as "1,204", "3.4K" or "2M".
// Anything unparseable is 0.
func ParseCount(s string) int {
	m := countRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	num := strings.ReplaceAll(m[1], ",", "")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		f *= 1_000
	case "m":
		f *= 1_000_000
	}
	return int(math.Round(f))
}
