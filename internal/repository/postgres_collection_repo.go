package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/favepipe/internal/model"
)

// PostgresCollectionRepo はPostgreSQLを使用したコレクションリポジトリ。
type PostgresCollectionRepo struct {
	db *sql.DB
}

// NewPostgresCollectionRepo はPostgresCollectionRepoを生成する。
func NewPostgresCollectionRepo(db *sql.DB) *PostgresCollectionRepo {
	return &PostgresCollectionRepo{db: db}
}

// FindByID は内部IDでコレクションを検索する。
func (r *PostgresCollectionRepo) FindByID(ctx context.Context, id string) (*model.Collection, error) {
	collection := &model.Collection{}
	var description, coverURL, workshopID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_collection_id, title, description,
		        cover_url, item_count, workshop_id, created_at
		 FROM collections WHERE id = $1`,
		id,
	).Scan(
		&collection.ID, &collection.Platform, &collection.PlatformCollectionID,
		&collection.Title, &description, &coverURL,
		&collection.ItemCount, &workshopID, &collection.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コレクションの検索に失敗しました: %w", err)
	}

	collection.Description = nullStringValue(description)
	collection.CoverURL = nullStringValue(coverURL)
	collection.WorkshopID = nullStringValue(workshopID)
	return collection, nil
}

// FindByPlatformCollectionID はプラットフォームとコレクションIDでコレクションを検索する。
func (r *PostgresCollectionRepo) FindByPlatformCollectionID(ctx context.Context, platform model.Platform, platformCollectionID string) (*model.Collection, error) {
	collection := &model.Collection{}
	var description, coverURL, workshopID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_collection_id, title, description,
		        cover_url, item_count, workshop_id, created_at
		 FROM collections WHERE platform = $1 AND platform_collection_id = $2`,
		platform, platformCollectionID,
	).Scan(
		&collection.ID, &collection.Platform, &collection.PlatformCollectionID,
		&collection.Title, &description, &coverURL,
		&collection.ItemCount, &workshopID, &collection.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コレクションの検索に失敗しました: %w", err)
	}

	collection.Description = nullStringValue(description)
	collection.CoverURL = nullStringValue(coverURL)
	collection.WorkshopID = nullStringValue(workshopID)
	return collection, nil
}

// Create はコレクションを作成する。
func (r *PostgresCollectionRepo) Create(ctx context.Context, collection *model.Collection) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (id, platform, platform_collection_id, title,
		                          description, cover_url, item_count, workshop_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		collection.ID, collection.Platform, collection.PlatformCollectionID,
		collection.Title, nullString(collection.Description),
		nullString(collection.CoverURL), collection.ItemCount,
		nullString(collection.WorkshopID), collection.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("コレクションの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CollectionRepository = (*PostgresCollectionRepo)(nil)
