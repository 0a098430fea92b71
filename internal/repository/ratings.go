package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/post-score/internal/domain"
)

// RatingsRepository stores per-rater ratings and signals their buckets.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

const ratingColumns = `id, post_id, rater_id, value, aggregate_id, created_at, updated_at`

// RatingSubmitParams captures the payload required to submit a rating.
// Day is the calendar day of CreatedAt in the service time zone.
type RatingSubmitParams struct {
	PostID    string
	RaterID   string
	Value     int
	CreatedAt time.Time
	Day       time.Time
}

// Submit inserts or replaces the rating of (PostID, RaterID) and marks the
// owning bucket dirty in the same transaction. A new rating lands in the
// bucket for Day, created on demand; a replaced rating keeps its bucket.
// Totals are never touched here. The bool reports whether a row was created.
func (r *RatingsRepository) Submit(ctx context.Context, params RatingSubmitParams) (domain.Rating, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Rating{}, false, fmt.Errorf("begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rating, inserted, err := submitTx(ctx, tx, params)
	if err != nil {
		return domain.Rating{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Rating{}, false, fmt.Errorf("commit submit: %w", err)
	}
	return rating, inserted, nil
}

func submitTx(ctx context.Context, tx pgx.Tx, params RatingSubmitParams) (domain.Rating, bool, error) {
	var existingAggregate int64
	err := tx.QueryRow(ctx, `
        SELECT aggregate_id FROM ratings
        WHERE post_id = $1 AND rater_id = $2
        FOR UPDATE
    `, params.PostID, params.RaterID).Scan(&existingAggregate)

	switch {
	case err == nil:
		query := fmt.Sprintf(`
            UPDATE ratings SET value = $3, updated_at = now()
            WHERE post_id = $1 AND rater_id = $2
            RETURNING %s
        `, ratingColumns)
		rating, err := scanRating(tx.QueryRow(ctx, query, params.PostID, params.RaterID, params.Value))
		if err != nil {
			return domain.Rating{}, false, err
		}
		if err := markDirty(ctx, tx, rating.AggregateID); err != nil {
			return domain.Rating{}, false, err
		}
		return rating, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		aggregateID, err := ensureDirtyBucket(ctx, tx, params.PostID, params.Day)
		if err != nil {
			return domain.Rating{}, false, err
		}
		rating, inserted, err := insertRating(ctx, tx, params, aggregateID)
		if err != nil {
			return domain.Rating{}, false, err
		}
		// A concurrent first submission by the same rater won the insert; the
		// value was applied to its row, whose bucket may differ.
		if rating.AggregateID != aggregateID {
			if err := markDirty(ctx, tx, rating.AggregateID); err != nil {
				return domain.Rating{}, false, err
			}
		}
		return rating, inserted, nil

	default:
		return domain.Rating{}, false, mapError(err)
	}
}

func insertRating(ctx context.Context, tx pgx.Tx, params RatingSubmitParams, aggregateID int64) (domain.Rating, bool, error) {
	query := fmt.Sprintf(`
        INSERT INTO ratings (post_id, rater_id, value, aggregate_id, created_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (post_id, rater_id)
        DO UPDATE SET value = EXCLUDED.value, updated_at = now()
        RETURNING %s, (xmax = 0) AS inserted
    `, ratingColumns)

	var rating domain.Rating
	var inserted bool
	err := tx.QueryRow(ctx, query, params.PostID, params.RaterID, params.Value, aggregateID, params.CreatedAt).Scan(
		&rating.ID,
		&rating.PostID,
		&rating.RaterID,
		&rating.Value,
		&rating.AggregateID,
		&rating.CreatedAt,
		&rating.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return domain.Rating{}, false, mapError(err)
	}
	return rating, inserted, nil
}

// ensureDirtyBucket is the race-safe get-or-create of the (post, day) bucket.
// Both paths leave the bucket dirty with a bumped revision.
func ensureDirtyBucket(ctx context.Context, tx pgx.Tx, postID string, day time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
        INSERT INTO daily_aggregates (post_id, day, dirty, revision)
        VALUES ($1, $2, true, 1)
        ON CONFLICT (post_id, day)
        DO UPDATE SET dirty = true, revision = daily_aggregates.revision + 1
        RETURNING id
    `, postID, calendarDay(day)).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func markDirty(ctx context.Context, tx pgx.Tx, aggregateID int64) error {
	_, err := tx.Exec(ctx, `
        UPDATE daily_aggregates
        SET dirty = true, revision = revision + 1
        WHERE id = $1
    `, aggregateID)
	if err != nil {
		return fmt.Errorf("mark aggregate %d dirty: %w", aggregateID, err)
	}
	return nil
}

// Get retrieves the rating of a specific rater for a post.
func (r *RatingsRepository) Get(ctx context.Context, postID, raterID string) (domain.Rating, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM ratings
        WHERE post_id = $1 AND rater_id = $2
    `, ratingColumns)
	return scanRating(r.pool.QueryRow(ctx, query, postID, raterID))
}

func scanRating(row pgx.Row) (domain.Rating, error) {
	var rating domain.Rating
	err := row.Scan(
		&rating.ID,
		&rating.PostID,
		&rating.RaterID,
		&rating.Value,
		&rating.AggregateID,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		return domain.Rating{}, mapError(err)
	}
	return rating, nil
}
