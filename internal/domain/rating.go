package domain

import "time"

// MinRating and MaxRating bound the integer value a rater may submit.
const (
	MinRating = 0
	MaxRating = 5
)

// Rating represents a single rater's score for a post. There is at most one
// Rating per (post, rater); resubmissions replace Value in place.
type Rating struct {
	ID          int64
	PostID      string
	RaterID     string
	Value       int
	AggregateID int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DailyAggregate buckets the ratings of one post created on one calendar day.
//
// Total and Count are only ever written by the aggregator. Rating writes set
// Dirty and bump Revision; the aggregator clears Dirty only when the revision
// it read is still current.
type DailyAggregate struct {
	ID        int64
	PostID    string
	Day       time.Time
	Total     int64
	Count     int64
	Average   float64
	Dirty     bool
	Revision  int64
	UpdatedAt time.Time
}

// ValidateRatingValue reports whether v is an acceptable rating value.
func ValidateRatingValue(v int) error {
	if v < MinRating || v > MaxRating {
		return NewValidationError("value", "must be an integer between 0 and 5")
	}
	return nil
}
