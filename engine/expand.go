package engine

// ============================================================================
// EXPANSION — Raw line with nested cells → flat rows
// ============================================================================
// A line without nested cells is one row. A nested cell with k child lines
// turns the line into k rows (at least), each with the nested cell replaced
// in place by one child's own expansion. Applied depth-first, so chained
// expanded sub-reports multiply rows. Row order follows child order.
// ============================================================================

// expandLine calls emit for every flat row of line, stopping as soon as emit
// returns false. It reports whether expansion ran to completion.
func expandLine(line []Cell, emit func(row []string) bool) bool {
	return expandFrom(line, 0, make([]string, 0, len(line)), emit)
}

// expandFrom expands line[i:] after the already flattened prefix. prefix is
// owned by the call.
func expandFrom(line []Cell, i int, prefix []string, emit func([]string) bool) bool {
	for ; i < len(line); i++ {
		c := line[i]
		if !c.IsNested() {
			prefix = append(prefix, c.String())
			continue
		}

		rest := i + 1
		for _, child := range c.Lines {
			ok := expandLine(child, func(sub []string) bool {
				row := make([]string, 0, len(prefix)+len(sub)+len(line)-rest)
				row = append(row, prefix...)
				row = append(row, sub...)
				return expandFrom(line, rest, row, emit)
			})
			if !ok {
				return false
			}
		}
		return true
	}
	return emit(prefix)
}
