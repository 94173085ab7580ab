package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePages parses a page list such as "5,6,8-10" into 1-based page
// numbers in the order given. Repeated pages are kept once.
func parsePages(list string) ([]int, error) {
	seen := make(map[int]bool)
	var pages []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		last, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		if first < 1 || last < first {
			return nil, fmt.Errorf("invalid page range %q", part)
		}
		for p := first; p <= last; p++ {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages given")
	}
	return pages, nil
}
