package metrics

import "sort"

// StatusBucket represents the aggregated failure count for a job kind and failure code.
type StatusBucket struct {
	Kind  string
	Code  string
	Count int
}

// FlattenStatusBuckets converts a nested kind->code map into a sorted slice of StatusBucket rows.
// Rows are sorted by descending count, then by kind/code for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for kind, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, StatusBucket{Kind: kind, Code: code, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Kind == rows[j].Kind {
				return rows[i].Code < rows[j].Code
			}
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
