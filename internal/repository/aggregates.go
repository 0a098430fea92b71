package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/post-score/internal/domain"
	"github.com/Clark-Hu/post-score/internal/scoring"
)

// AggregatesRepository manages the per-(post, day) rating buckets.
type AggregatesRepository struct {
	pool *pgxpool.Pool
}

const aggregateColumns = `id, post_id, day, total, count, average, dirty, revision, updated_at`

// ScoreTotals splits a post's bucket sums into today and everything else.
type ScoreTotals struct {
	Historical scoring.Tally
	Today      scoring.Tally
}

// Get fetches a bucket by id.
func (r *AggregatesRepository) Get(ctx context.Context, id int64) (domain.DailyAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM daily_aggregates WHERE id = $1`, aggregateColumns)
	return scanAggregate(r.pool.QueryRow(ctx, query, id))
}

// GetForDay fetches the bucket of a post for one calendar day.
func (r *AggregatesRepository) GetForDay(ctx context.Context, postID string, day time.Time) (domain.DailyAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM daily_aggregates WHERE post_id = $1 AND day = $2`, aggregateColumns)
	return scanAggregate(r.pool.QueryRow(ctx, query, postID, calendarDay(day)))
}

// ListDirty returns the ids of every bucket awaiting recomputation.
func (r *AggregatesRepository) ListDirty(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM daily_aggregates WHERE dirty ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dirty aggregates: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("list dirty aggregates: %w", err)
	}
	return ids, nil
}

// Recompute re-derives total, count and average of a bucket from its ratings.
//
// The ratings are summed together with the bucket revision in one statement.
// The write clears dirty only if no rating write bumped the revision in the
// meantime, so a racing write is picked up by the next pass instead of lost.
func (r *AggregatesRepository) Recompute(ctx context.Context, id int64) (domain.DailyAggregate, error) {
	var revision int64
	var tally scoring.Tally
	err := r.pool.QueryRow(ctx, `
        SELECT a.revision, COALESCE(SUM(r.value), 0)::int8, COUNT(r.id)
        FROM daily_aggregates a
        LEFT JOIN ratings r ON r.aggregate_id = a.id
        WHERE a.id = $1
        GROUP BY a.id
    `, id).Scan(&revision, &tally.Total, &tally.Count)
	if err != nil {
		return domain.DailyAggregate{}, fmt.Errorf("read aggregate %d: %w", id, mapError(err))
	}

	query := fmt.Sprintf(`
        UPDATE daily_aggregates
        SET total = $2, count = $3, average = $4, dirty = (revision <> $5), updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, aggregateColumns)
	agg, err := scanAggregate(r.pool.QueryRow(ctx, query, id, tally.Total, tally.Count, scoring.Average(tally), revision))
	if err != nil {
		return domain.DailyAggregate{}, fmt.Errorf("write aggregate %d: %w", id, err)
	}
	return agg, nil
}

type bucketSnapshot struct {
	id       int64
	revision int64
	tally    scoring.Tally
}

// RecomputeAllDirty recomputes every dirty bucket and returns how many were
// written. All buckets are summed in one query and written back in one
// statement, with averages from scoring.Average so both recompute paths round
// alike. The revision guard of Recompute applies per bucket.
func (r *AggregatesRepository) RecomputeAllDirty(ctx context.Context) (int64, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT d.id, d.revision, COALESCE(SUM(r.value), 0)::int8, COUNT(r.id)
        FROM daily_aggregates d
        LEFT JOIN ratings r ON r.aggregate_id = d.id
        WHERE d.dirty
        GROUP BY d.id
        ORDER BY d.id
    `)
	if err != nil {
		return 0, fmt.Errorf("sum dirty aggregates: %w", err)
	}
	snapshots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (bucketSnapshot, error) {
		var s bucketSnapshot
		err := row.Scan(&s.id, &s.revision, &s.tally.Total, &s.tally.Count)
		return s, err
	})
	if err != nil {
		return 0, fmt.Errorf("sum dirty aggregates: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(snapshots))
	totals := make([]int64, len(snapshots))
	counts := make([]int64, len(snapshots))
	averages := make([]float64, len(snapshots))
	revisions := make([]int64, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.id
		totals[i] = s.tally.Total
		counts[i] = s.tally.Count
		averages[i] = scoring.Average(s.tally)
		revisions[i] = s.revision
	}

	tag, err := r.pool.Exec(ctx, `
        UPDATE daily_aggregates a
        SET total = u.total,
            count = u.count,
            average = u.average,
            dirty = (a.revision <> u.revision),
            updated_at = now()
        FROM unnest($1::int8[], $2::int8[], $3::int8[], $4::float8[], $5::int8[])
             AS u(id, total, count, average, revision)
        WHERE a.id = u.id
    `, ids, totals, counts, averages, revisions)
	if err != nil {
		return 0, fmt.Errorf("write dirty aggregates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Totals sums a post's buckets, keeping the bucket for today apart from the
// rest. Missing buckets contribute zero.
func (r *AggregatesRepository) Totals(ctx context.Context, postID string, today time.Time) (ScoreTotals, error) {
	var totals ScoreTotals
	err := r.pool.QueryRow(ctx, `
        SELECT COALESCE(SUM(total) FILTER (WHERE day <> $2::date), 0)::int8,
               COALESCE(SUM(count) FILTER (WHERE day <> $2::date), 0)::int8,
               COALESCE(SUM(total) FILTER (WHERE day = $2::date), 0)::int8,
               COALESCE(SUM(count) FILTER (WHERE day = $2::date), 0)::int8
        FROM daily_aggregates
        WHERE post_id = $1
    `, postID, calendarDay(today)).Scan(
		&totals.Historical.Total,
		&totals.Historical.Count,
		&totals.Today.Total,
		&totals.Today.Count,
	)
	if err != nil {
		return ScoreTotals{}, fmt.Errorf("sum aggregates: %w", mapError(err))
	}
	return totals, nil
}

func scanAggregate(row pgx.Row) (domain.DailyAggregate, error) {
	var agg domain.DailyAggregate
	err := row.Scan(
		&agg.ID,
		&agg.PostID,
		&agg.Day,
		&agg.Total,
		&agg.Count,
		&agg.Average,
		&agg.Dirty,
		&agg.Revision,
		&agg.UpdatedAt,
	)
	if err != nil {
		return domain.DailyAggregate{}, mapError(err)
	}
	return agg, nil
}
