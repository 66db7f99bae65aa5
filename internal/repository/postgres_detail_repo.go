package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/favepipe/internal/model"
)

// PostgresDetailRepo はPostgreSQLを使用した詳細レコードリポジトリ。
// プラットフォームごとの詳細テーブルへのUPSERTを提供する。
type PostgresDetailRepo struct {
	db *sql.DB
}

// NewPostgresDetailRepo はPostgresDetailRepoを生成する。
func NewPostgresDetailRepo(db *sql.DB) *PostgresDetailRepo {
	return &PostgresDetailRepo{db: db}
}

// SaveDetails は詳細レコードをfavorite_item_idで冪等にUPSERTする。
func (r *PostgresDetailRepo) SaveDetails(ctx context.Context, favoriteItemID string, record *model.DetailRecord) error {
	switch record.Platform {
	case model.PlatformBilibili:
		if record.Bilibili == nil {
			return fmt.Errorf("Bilibili詳細レコードが設定されていません")
		}
		return r.saveBilibili(ctx, favoriteItemID, record.Bilibili)
	case model.PlatformXiaohongshu:
		if record.Xiaohongshu == nil {
			return fmt.Errorf("小紅書詳細レコードが設定されていません")
		}
		return r.saveXiaohongshu(ctx, favoriteItemID, record.Xiaohongshu)
	default:
		return fmt.Errorf("未対応のプラットフォームです: %s", record.Platform)
	}
}

// saveBilibili はBilibili動画詳細をUPSERTする。
func (r *PostgresDetailRepo) saveBilibili(ctx context.Context, favoriteItemID string, d *model.BilibiliVideoDetail) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bilibili_video_details
		    (id, favorite_item_id, bvid, tname, duration_sec,
		     view_count, like_count, coin_count, favorite_count,
		     reply_count, share_count, danmaku_count,
		     video_url, audio_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		 ON CONFLICT (favorite_item_id) DO UPDATE SET
		    bvid = EXCLUDED.bvid, tname = EXCLUDED.tname,
		    duration_sec = EXCLUDED.duration_sec,
		    view_count = EXCLUDED.view_count, like_count = EXCLUDED.like_count,
		    coin_count = EXCLUDED.coin_count, favorite_count = EXCLUDED.favorite_count,
		    reply_count = EXCLUDED.reply_count, share_count = EXCLUDED.share_count,
		    danmaku_count = EXCLUDED.danmaku_count,
		    video_url = EXCLUDED.video_url, audio_url = EXCLUDED.audio_url,
		    updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), favoriteItemID, d.Bvid, nullString(d.Tname), d.DurationSec,
		d.ViewCount, d.LikeCount, d.CoinCount, d.FavoriteCount,
		d.ReplyCount, d.ShareCount, d.DanmakuCount,
		nullString(d.VideoURL), nullString(d.AudioURL), now,
	)
	if err != nil {
		return fmt.Errorf("Bilibili動画詳細の保存に失敗しました: %w", err)
	}
	return nil
}

// saveXiaohongshu は小紅書ノート詳細をUPSERTする。
// 画像URLリストはtext[]カラムに保存する。
func (r *PostgresDetailRepo) saveXiaohongshu(ctx context.Context, favoriteItemID string, d *model.XiaohongshuNoteDetail) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO xiaohongshu_note_details
		    (id, favorite_item_id, note_id, xsec_token, description,
		     ip_location, published_date,
		     like_count, collect_count, comment_count,
		     image_urls, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (favorite_item_id) DO UPDATE SET
		    note_id = EXCLUDED.note_id,
		    xsec_token = CASE WHEN EXCLUDED.xsec_token <> '' THEN EXCLUDED.xsec_token
		                      ELSE xiaohongshu_note_details.xsec_token END,
		    description = EXCLUDED.description,
		    ip_location = EXCLUDED.ip_location,
		    published_date = EXCLUDED.published_date,
		    like_count = EXCLUDED.like_count,
		    collect_count = EXCLUDED.collect_count,
		    comment_count = EXCLUDED.comment_count,
		    image_urls = EXCLUDED.image_urls,
		    updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), favoriteItemID, d.NoteID, d.XsecToken, nullString(d.Description),
		nullString(d.IPLocation), nullString(d.PublishedDate),
		d.LikeCount, d.CollectCount, d.CommentCount,
		pq.Array(d.ImageURLs), now,
	)
	if err != nil {
		return fmt.Errorf("小紅書ノート詳細の保存に失敗しました: %w", err)
	}
	return nil
}

// SaveXiaohongshuToken はxsec_tokenのみを先行保存する。
// 詳細未取得の段階ではdescriptionは空のまま作成される。
func (r *PostgresDetailRepo) SaveXiaohongshuToken(ctx context.Context, favoriteItemID, noteID, xsecToken string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO xiaohongshu_note_details
		    (id, favorite_item_id, note_id, xsec_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (favorite_item_id) DO UPDATE SET
		    xsec_token = CASE WHEN EXCLUDED.xsec_token <> '' THEN EXCLUDED.xsec_token
		                      ELSE xiaohongshu_note_details.xsec_token END,
		    updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), favoriteItemID, noteID, xsecToken, now,
	)
	if err != nil {
		return fmt.Errorf("xsec_tokenの保存に失敗しました: %w", err)
	}
	return nil
}

// FindXiaohongshuToken は項目に紐づくxsec_tokenを取得する。
func (r *PostgresDetailRepo) FindXiaohongshuToken(ctx context.Context, favoriteItemID string) (string, error) {
	var token sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT xsec_token FROM xiaohongshu_note_details WHERE favorite_item_id = $1`,
		favoriteItemID,
	).Scan(&token)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("xsec_tokenの取得に失敗しました: %w", err)
	}

	return nullStringValue(token), nil
}

// compile-time interface check
var _ DetailRepository = (*PostgresDetailRepo)(nil)
