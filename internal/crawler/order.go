package crawler

import "sort"

// DefaultOriginFields lists the item fields that may carry the originating URL,
// in lookup order.
var DefaultOriginFields = []string{"url", "inputUrl", "facebookUrl"}

// Reorder returns items sorted so each item sits at the position of its
// originating target within batch. Items without a recognizable origin keep
// backend order and sort after all matched items.
func Reorder(batch Batch, items []Item, originFields []string) []Item {
	if len(originFields) == 0 {
		originFields = DefaultOriginFields
	}
	exact := make(map[string]int, len(batch))
	normalized := make(map[string]int, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		exact[string(batch[i])] = i
		normalized[NormalizeURL(string(batch[i]))] = i
	}

	positions := make([]int, len(items))
	for i, item := range items {
		positions[i] = originPosition(item, originFields, exact, normalized, len(batch))
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return positions[order[a]] < positions[order[b]]
	})

	out := make([]Item, len(items))
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out
}

func originPosition(item Item, fields []string, exact, normalized map[string]int, missing int) int {
	for _, field := range fields {
		raw, ok := item[field].(string)
		if !ok || raw == "" {
			continue
		}
		if pos, ok := exact[raw]; ok {
			return pos
		}
		if pos, ok := normalized[NormalizeURL(raw)]; ok {
			return pos
		}
	}
	return missing
}
