// Package stream はストリームイベントの受信から永続化・詳細取得・タスク作成までを
// つなぐオーケストレーションを提供する。
package stream

import (
	"github.com/hitoshi/favepipe/internal/detail"
	"github.com/hitoshi/favepipe/internal/model"
)

// EventParser はプラットフォーム固有のイベントペイロードをパースするインターフェース。
// 実装はinternal/eventにある。
type EventParser interface {
	Parse(raw []byte) (*model.StreamEvent, error)
}

// Bundle は1プラットフォーム分の処理部品の束。
type Bundle struct {
	Parser  EventParser
	Fetcher detail.Fetcher
}

// Registry はプラットフォーム識別子から処理部品を引くレジストリ。
// プラットフォームの追加はここへの登録だけで済む。
type Registry struct {
	bundles map[model.Platform]Bundle
}

// NewRegistry は空のRegistryを作成する。
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[model.Platform]Bundle)}
}

// Register はプラットフォームの処理部品を登録する。
func (r *Registry) Register(platform model.Platform, bundle Bundle) {
	r.bundles[platform] = bundle
}

// Lookup はプラットフォームの処理部品を返す。
// 未登録の場合はfalseを返す。
func (r *Registry) Lookup(platform model.Platform) (Bundle, bool) {
	bundle, ok := r.bundles[platform]
	return bundle, ok
}

// Platforms は登録済みプラットフォームの一覧を返す。
func (r *Registry) Platforms() []model.Platform {
	platforms := make([]model.Platform, 0, len(r.bundles))
	for platform := range r.bundles {
		platforms = append(platforms, platform)
	}
	return platforms
}
