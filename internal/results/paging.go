package results

// Offset returns the row offset of page for a page size of limit. Page 1
// (and anything below it) starts at 0; the result is never negative.
func Offset(page, limit int) int {
	if page == 1 {
		return 0
	}
	start := (page - 1) * limit
	if start < 0 {
		return 0
	}
	return start
}

// IsStale reports whether a window starting at offset lies past the end of
// a non-empty result set of total rows.
func IsStale(total int64, offset int) bool {
	return total > 0 && total < int64(offset)+1
}

// StaleResultPage is the page a result list falls back to when its window
// has moved past the end of the results: 1 for a single remaining row,
// otherwise limit/total rounded down, with 1 standing in for 0.
func StaleResultPage(limit int, total int64) int {
	if total <= 1 || limit <= 0 {
		return 1
	}
	if p := int(int64(limit) / total); p > 0 {
		return p
	}
	return 1
}

// LastPage is the last page holding any of total rows at limit rows per page.
// It is at least 1.
func LastPage(limit int, total int64) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
