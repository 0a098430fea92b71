package domain

import "time"

// Post is the rated entity. Its score is always derived from DailyAggregates
// and never stored on the post itself.
type Post struct {
	ID          string
	Title       string
	Description string
	CreatedAt   time.Time
}
