package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/post-score/internal/domain"
)

// PostsRepository provides persistence helpers for posts.
type PostsRepository struct {
	pool *pgxpool.Pool
}

const postColumns = `id, title, description, created_at`

// PostCreateParams bundles the fields required to create a post.
type PostCreateParams struct {
	Title       string
	Description string
}

// Create inserts a new post row and returns the stored entity.
func (r *PostsRepository) Create(ctx context.Context, params PostCreateParams) (domain.Post, error) {
	query := fmt.Sprintf(`
        INSERT INTO posts (title, description)
        VALUES ($1,$2)
        RETURNING %s
    `, postColumns)

	return scanPost(r.pool.QueryRow(ctx, query, params.Title, params.Description))
}

// GetByID fetches a single post.
func (r *PostsRepository) GetByID(ctx context.Context, id string) (domain.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts WHERE id = $1`, postColumns)
	return scanPost(r.pool.QueryRow(ctx, query, id))
}

// Delete removes a post together with its aggregates and ratings.
func (r *PostsRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPost(row pgx.Row) (domain.Post, error) {
	var post domain.Post
	if err := row.Scan(&post.ID, &post.Title, &post.Description, &post.CreatedAt); err != nil {
		return domain.Post{}, mapError(err)
	}
	return post, nil
}
