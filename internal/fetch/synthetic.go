package fetch

import (
	"context"
	"fmt"
	"time"

	"xwatch/internal/model"
	"xwatch/internal/query"
	"xwatch/internal/util"
)

const DefaultSyntheticCount = 3

var syntheticTemplates = []string{
	"Watching %s closely this week. Early numbers look promising.",
	"Thread on %s: what changed, who is building, and what to expect next.",
	"New data on %s just dropped. Worth a look if you follow the space.",
	"Quick take on %s from today's calls.",
}

// SyntheticStrategy produces placeholder records so a run always has
// something to deliver. IDs are stable within a UTC day.
type SyntheticStrategy struct {
	Count    int
	MaxTerms int
	nowFn    func() time.Time
}

func (s *SyntheticStrategy) Name() string { return "synthetic" }

func (s *SyntheticStrategy) Attempt(_ context.Context, q string) Outcome {
	now := time.Now
	if s.nowFn != nil {
		now = s.nowFn
	}
	n := s.Count
	if n <= 0 {
		n = DefaultSyntheticCount
	}
	topic := query.Simplify(q, s.MaxTerms)
	if topic == "" {
		topic = "the market"
	}
	t := now().UTC()
	day := t.Format("2006-01-02")
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		h := util.ShortHash(12, q, day, fmt.Sprint(i))
		seed := int(h[0]) + int(h[1])
		out = append(out, model.Record{
			ID:        "synthetic-" + h,
			Author:    fmt.Sprintf("sample_%s", h[:6]),
			Text:      model.CapText(fmt.Sprintf(syntheticTemplates[i%len(syntheticTemplates)], topic)),
			CreatedAt: t.Add(-time.Duration(15*(i+1)) * time.Minute),
			Engagement: model.Engagement{
				Likes:   5 + seed%40,
				Reposts: seed % 12,
				Replies: seed % 7,
			},
			Source: model.SourceSynthetic,
		})
	}
	return found(out)
}
