package analytics

import (
	"sort"
	"time"

	"xwatch/internal/model"
)

// HourlyDeliveries buckets delivered records per UTC hour and source.
func HourlyDeliveries(ds []model.DeliveryRecord) map[time.Time]map[string]int {
	buckets := make(map[time.Time]map[string]int)
	for _, d := range ds {
		if !d.Notified {
			continue
		}
		ts := d.DeliveredAt.UTC()
		key := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][string(d.Snapshot.Source)]++
	}
	return buckets
}

// TopAuthors returns the n authors with the most deliveries, ties by name.
func TopAuthors(ds []model.DeliveryRecord, n int) []AuthorCount {
	counts := map[string]int{}
	for _, d := range ds {
		if !d.Notified || d.Snapshot.Author == "" || d.Snapshot.IsSynthetic() {
			continue
		}
		counts[d.Snapshot.Author]++
	}
	out := make([]AuthorCount, 0, len(counts))
	for a, c := range counts {
		out = append(out, AuthorCount{Author: a, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count { return out[i].Count > out[j].Count }
		return out[i].Author < out[j].Author
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type AuthorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// SortedBucketKeys returns sorted hour keys.
func SortedBucketKeys(m map[time.Time]map[string]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}
