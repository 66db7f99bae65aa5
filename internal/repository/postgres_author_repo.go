package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/favepipe/internal/model"
)

// PostgresAuthorRepo はPostgreSQLを使用した投稿者リポジトリ。
type PostgresAuthorRepo struct {
	db *sql.DB
}

// NewPostgresAuthorRepo はPostgresAuthorRepoを生成する。
func NewPostgresAuthorRepo(db *sql.DB) *PostgresAuthorRepo {
	return &PostgresAuthorRepo{db: db}
}

// FindByPlatformUserID はプラットフォームとユーザーIDで投稿者を検索する。
func (r *PostgresAuthorRepo) FindByPlatformUserID(ctx context.Context, platform model.Platform, platformUserID string) (*model.Author, error) {
	author := &model.Author{}
	var avatarURL sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_user_id, username, avatar_url, created_at
		 FROM authors WHERE platform = $1 AND platform_user_id = $2`,
		platform, platformUserID,
	).Scan(
		&author.ID, &author.Platform, &author.PlatformUserID,
		&author.Username, &avatarURL, &author.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿者の検索に失敗しました: %w", err)
	}

	author.AvatarURL = nullStringValue(avatarURL)
	return author, nil
}

// Create は投稿者を作成する。
func (r *PostgresAuthorRepo) Create(ctx context.Context, author *model.Author) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authors (id, platform, platform_user_id, username, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		author.ID, author.Platform, author.PlatformUserID,
		author.Username, nullString(author.AvatarURL), author.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿者の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuthorRepository = (*PostgresAuthorRepo)(nil)
