// Package query builds and simplifies the watched search expressions.
package query

import (
	"strings"

	"xwatch/internal/model"
)

// DefaultMaxTerms is the term cap used when callers pass max <= 0.
const DefaultMaxTerms = 3

// Simplify reduces a structured search expression to a short plain-keyword
// form. Quoted phrases are kept verbatim (quotes included) and bare keywords
// are kept; filter tokens (key:value), AND/OR in any case and parentheses
// are dropped.
// Terms keep their order of appearance and are capped at max.
// An expression with nothing left yields "".
func Simplify(expr string, max int) string {
	if max <= 0 {
		max = DefaultMaxTerms
	}
	terms := Terms(expr)
	if len(terms) > max {
		terms = terms[:max]
	}
	return strings.Join(terms, " ")
}

// SimplifyQuery simplifies the expression of q.
func SimplifyQuery(q model.SearchQuery, max int) string {
	return Simplify(q.Expression(), max)
}

// Terms returns every extractable term of expr in order of appearance.
func Terms(expr string) []string {
	var out []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"':
			end := strings.IndexByte(expr[i+1:], '"')
			if end < 0 {
				// unterminated quote: the rest is one token starting with a quote, skip it
				i = len(expr)
				continue
			}
			phrase := expr[i : i+end+2]
			if strings.TrimSpace(strings.Trim(phrase, `"`)) != "" {
				out = append(out, phrase)
			}
			i += end + 2
		default:
			j := i
			for j < len(expr) && !isSpace(expr[j]) && expr[j] != '"' {
				j++
			}
			tok := expr[i:j]
			i = j
			if keep(tok) {
				out = append(out, strings.Trim(tok, "()"))
			}
		}
	}
	return out
}

func keep(tok string) bool {
	tok = strings.Trim(tok, "()")
	if tok == "" {
		return false
	}
	if strings.EqualFold(tok, "and") || strings.EqualFold(tok, "or") {
		return false
	}
	if strings.HasPrefix(tok, `"`) {
		return false
	}
	// filter:blue_verified, min_faves:3, -filter:replies
	if strings.Contains(tok, ":") {
		return false
	}
	// bare exclusions such as -giveaway carry no search intent for a fragile source
	if strings.HasPrefix(tok, "-") {
		return false
	}
	return true
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
