package charts

// Select picks at most min(limit, MaxSelected) charts, one per priority
// slot in this order:
//
//  1. the correlation heatmap
//  2. the first scatter plot (the backend sends the strongest pair first)
//  3. a numeric distribution: first histogram, else first boxplot
//  4. a categorical chart: first horizontal bar, else first pie
//
// Free slots are then filled, in payload order, with charts whose kind is
// not yet shown. Unclassified charts always qualify. The input order is
// never changed, so the result is deterministic.
func Select(all []Chart, limit int) []Chart {
	if limit <= 0 || limit > MaxSelected {
		limit = MaxSelected
	}

	taken := make([]bool, len(all))
	shown := make(map[Kind]bool, MaxSelected)
	var out []Chart

	take := func(kinds ...Kind) {
		if len(out) >= limit {
			return
		}
		for _, k := range kinds {
			for i, ch := range all {
				if !taken[i] && ch.Kind == k {
					taken[i] = true
					shown[k] = true
					out = append(out, ch)
					return
				}
			}
		}
	}

	take(KindHeatmap)
	take(KindScatter)
	take(KindHistogram, KindBoxplot)
	take(KindBarh, KindPie)

	for i, ch := range all {
		if len(out) >= limit {
			break
		}
		if taken[i] || (shown[ch.Kind] && ch.Kind != KindOther) {
			continue
		}
		taken[i] = true
		shown[ch.Kind] = true
		out = append(out, ch)
	}
	return out
}
