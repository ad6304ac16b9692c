package query

import "xwatch/internal/model"

// Builtin returns the fixed set of watched queries. Custom entries from
// config are appended after these.
func Builtin() []model.SearchQuery {
	return []model.SearchQuery{
		{
			Name:        "podha-rwa",
			Description: "Verified accounts talking about Podha and RWA yield",
			Filters:     []string{"filter:blue_verified", "min_faves:3"},
			Keywords:    []string{"Podha"},
			AnyOf:       [][]string{{"RWA", "Yield"}},
		},
		{
			Name:        "podha-mentions",
			Description: "Any original post mentioning Podha",
			Filters:     []string{"-filter:replies"},
			Keywords:    []string{"Podha"},
		},
		{
			Name:        "rwa-yield",
			Description: "Popular posts on real world asset yield",
			Filters:     []string{"min_faves:10", "lang:en"},
			AnyOf:       [][]string{{"real world assets", "RWA"}, {"yield", "APY"}},
		},
		{
			Name:        "tokenized-treasuries",
			Description: "Verified chatter about onchain treasuries",
			Filters:     []string{"filter:blue_verified"},
			AnyOf:       [][]string{{"tokenized treasuries", "onchain T-bills"}},
		},
	}
}

// Expand turns queries into the deduplicated list of search strings for one
// run: each expression followed by its simplified variant.
func Expand(queries []model.SearchQuery, max int) []string {
	seen := make(map[string]struct{}, 2*len(queries))
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, q := range queries {
		add(q.Expression())
		add(SimplifyQuery(q, max))
	}
	return out
}
