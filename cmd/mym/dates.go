package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
)

// parseDate accepts 2006-01-02, RFC 3339, or casual English such as
// "yesterday" or "last friday at 5pm". Shopkeepers backfill records after
// the fact, so the casual forms matter.
func parseDate(text string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}

	res, err := when.EN.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", text)
	}
	return res.Time, nil
}
