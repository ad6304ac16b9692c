package model

import (
	"strings"
	"time"
)

// Source tells where a record came from.
type Source string

const (
	SourcePrimary   Source = "primary-live"
	SourceSecondary Source = "secondary-live"
	SourceSynthetic Source = "synthetic"
)

// MaxTextRunes caps record text at creation.
const MaxTextRunes = 1000

// Engagement holds public counters for a post. All default to 0.
type Engagement struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
}

// Record is one scraped post matching a watched query.
type Record struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	Text       string     `json:"text"`
	URL        string     `json:"url"`
	CreatedAt  time.Time  `json:"created_at"`
	Engagement Engagement `json:"engagement"`
	Source     Source     `json:"source"`
	Query      string     `json:"query,omitempty"`
}

// IsSynthetic reports whether the record is a locally generated placeholder.
func (r Record) IsSynthetic() bool { return r.Source == SourceSynthetic }

// CapText truncates s to MaxTextRunes runes.
func CapText(s string) string {
	if len(s) <= MaxTextRunes {
		return s
	}
	rs := []rune(s)
	if len(rs) <= MaxTextRunes {
		return s
	}
	return string(rs[:MaxTextRunes])
}

// DeliveryRecord is the persisted delivery state of one record id.
type DeliveryRecord struct {
	ID          string
	DeliveredAt time.Time
	Snapshot    Record
	Notified    bool
}

// SearchQuery is a watched search expression. Entries are defined at
// configuration time and never mutated.
type SearchQuery struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Filters     []string   `yaml:"filters"`  // e.g. filter:blue_verified, min_faves:3
	Keywords    []string   `yaml:"keywords"` // required bare keywords
	AnyOf       [][]string `yaml:"anyOf"`    // AND of OR groups of phrases
	Raw         string     `yaml:"raw"`      // literal expression, overrides the rest
}

// Expression renders the query as a search expression, e.g.
// `filter:blue_verified min_faves:3 Podha AND ("RWA" OR "Yield")`.
func (q SearchQuery) Expression() string {
	if q.Raw != "" {
		return strings.TrimSpace(q.Raw)
	}
	var parts []string
	parts = append(parts, q.Filters...)
	var clauses []string
	if len(q.Keywords) > 0 {
		clauses = append(clauses, strings.Join(q.Keywords, " "))
	}
	for _, group := range q.AnyOf {
		var quoted []string
		for _, p := range group {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			quoted = append(quoted, `"`+strings.Trim(p, `"`)+`"`)
		}
		switch len(quoted) {
		case 0:
		case 1:
			clauses = append(clauses, quoted[0])
		default:
			clauses = append(clauses, "("+strings.Join(quoted, " OR ")+")")
		}
	}
	if len(clauses) > 0 {
		parts = append(parts, strings.Join(clauses, " AND "))
	}
	return strings.Join(parts, " ")
}
