package favorite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/favepipe/internal/ledger"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/security"
)

// --- テスト用モック ---

// mockAuthorRepo はテスト用のAuthorRepositoryモック。
type mockAuthorRepo struct {
	byPlatformUserID map[string]*model.Author
	createCalls      int
	createErr        error
}

func newMockAuthorRepo() *mockAuthorRepo {
	return &mockAuthorRepo{byPlatformUserID: make(map[string]*model.Author)}
}

func (m *mockAuthorRepo) FindByPlatformUserID(_ context.Context, platform model.Platform, platformUserID string) (*model.Author, error) {
	return m.byPlatformUserID[string(platform)+"|"+platformUserID], nil
}

func (m *mockAuthorRepo) Create(_ context.Context, author *model.Author) error {
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.byPlatformUserID[string(author.Platform)+"|"+author.PlatformUserID] = author
	return nil
}

// mockCollectionRepo はテスト用のCollectionRepositoryモック。
type mockCollectionRepo struct {
	byPlatformCollectionID map[string]*model.Collection
	createCalls            int
}

func newMockCollectionRepo() *mockCollectionRepo {
	return &mockCollectionRepo{byPlatformCollectionID: make(map[string]*model.Collection)}
}

func (m *mockCollectionRepo) FindByID(_ context.Context, id string) (*model.Collection, error) {
	for _, c := range m.byPlatformCollectionID {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockCollectionRepo) FindByPlatformCollectionID(_ context.Context, platform model.Platform, platformCollectionID string) (*model.Collection, error) {
	return m.byPlatformCollectionID[string(platform)+"|"+platformCollectionID], nil
}

func (m *mockCollectionRepo) Create(_ context.Context, collection *model.Collection) error {
	m.createCalls++
	m.byPlatformCollectionID[string(collection.Platform)+"|"+collection.PlatformCollectionID] = collection
	return nil
}

// mockFavoriteRepo はテスト用のFavoriteRepositoryモック。
type mockFavoriteRepo struct {
	byPlatformItemID map[string]*model.FavoriteItem
	createCalls      int
	refreshCalls     int
	retryStateCalls  int
	createErr        error
	// concurrentInsert はCreateが一意制約違反を返すとき、
	// 並行プロセスが作成した体でマップに登録される項目。
	concurrentInsert *model.FavoriteItem
}

func newMockFavoriteRepo() *mockFavoriteRepo {
	return &mockFavoriteRepo{byPlatformItemID: make(map[string]*model.FavoriteItem)}
}

func (m *mockFavoriteRepo) FindByPlatformItemID(_ context.Context, platform model.Platform, platformItemID string) (*model.FavoriteItem, error) {
	return m.byPlatformItemID[string(platform)+"|"+platformItemID], nil
}

func (m *mockFavoriteRepo) Create(_ context.Context, item *model.FavoriteItem) error {
	m.createCalls++
	if m.createErr != nil {
		if m.concurrentInsert != nil {
			m.byPlatformItemID[string(m.concurrentInsert.Platform)+"|"+m.concurrentInsert.PlatformItemID] = m.concurrentInsert
		}
		return m.createErr
	}
	m.byPlatformItemID[string(item.Platform)+"|"+item.PlatformItemID] = item
	return nil
}

func (m *mockFavoriteRepo) UpdateRefreshable(_ context.Context, item *model.FavoriteItem) error {
	m.refreshCalls++
	m.byPlatformItemID[string(item.Platform)+"|"+item.PlatformItemID] = item
	return nil
}

func (m *mockFavoriteRepo) UpdateRetryState(_ context.Context, item *model.FavoriteItem) error {
	m.retryStateCalls++
	m.byPlatformItemID[string(item.Platform)+"|"+item.PlatformItemID] = item
	return nil
}

func (m *mockFavoriteRepo) ListDetailsSyncCandidates(_ context.Context, _ model.Platform, _, _ int) ([]*model.FavoriteItem, error) {
	return nil, nil
}

func (m *mockFavoriteRepo) ListPermanentlyFailed(_ context.Context, _, _ int) ([]*model.FavoriteItem, error) {
	return nil, nil
}

// mockDetailRepo はテスト用のDetailRepositoryモック。
type mockDetailRepo struct {
	tokenCalls    int
	lastItemID    string
	lastNoteID    string
	lastXsecToken string
}

func (m *mockDetailRepo) SaveDetails(_ context.Context, _ string, _ *model.DetailRecord) error {
	return nil
}

func (m *mockDetailRepo) SaveXiaohongshuToken(_ context.Context, favoriteItemID, noteID, xsecToken string) error {
	m.tokenCalls++
	m.lastItemID = favoriteItemID
	m.lastNoteID = noteID
	m.lastXsecToken = xsecToken
	return nil
}

func (m *mockDetailRepo) FindXiaohongshuToken(_ context.Context, _ string) (string, error) {
	return m.lastXsecToken, nil
}

// --- テストヘルパー ---

const testRecoveryWindow = 24 * time.Hour

func newTestPersister(
	authorRepo *mockAuthorRepo,
	collectionRepo *mockCollectionRepo,
	favoriteRepo *mockFavoriteRepo,
	detailRepo *mockDetailRepo,
) *Persister {
	ldg := ledger.New(ledger.LinearBackoff{RetryDelay: 5 * time.Minute}, 5)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPersister(
		authorRepo, collectionRepo, favoriteRepo, detailRepo,
		security.NewContentSanitizer(), ldg, logger, testRecoveryWindow,
	)
}

func testBrief() *model.BriefItem {
	return &model.BriefItem{
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		Title:          "テスト動画",
		Intro:          "動画の紹介文",
		CoverURL:       "https://example.com/cover.jpg",
		Creator: model.BriefCreator{
			UserID:   "u100",
			Username: "テスト作者",
		},
		FavoritedAt: time.Now(),
	}
}

// --- テスト ---

// TestPersist_NewItem は新規項目の作成を検証する。
// 投稿者も自動作成され、リトライ台帳は試行0回で初期化される。
func TestPersist_NewItem(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	result, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if !result.NewlyCreated {
		t.Error("NewlyCreated = false, want true")
	}
	if result.NeedsRecovery {
		t.Error("NeedsRecovery = true, want false")
	}
	if result.Item == nil {
		t.Fatal("Itemがnilです")
	}
	if result.Item.RetryState.AttemptCount != 0 {
		t.Errorf("新規項目の試行回数が不正: got %d, want 0", result.Item.RetryState.AttemptCount)
	}
	if authorRepo.createCalls != 1 {
		t.Errorf("投稿者の作成回数が不正: got %d, want 1", authorRepo.createCalls)
	}
	if result.Item.AuthorID == "" {
		t.Error("AuthorIDが設定されていません")
	}
	if favoriteRepo.createCalls != 1 {
		t.Errorf("項目の作成回数が不正: got %d, want 1", favoriteRepo.createCalls)
	}
}

// TestPersist_ExistingItemRefreshesOnly は再観測時に更新可能フィールドのみが
// 上書きされ、リトライ台帳に触れないことを検証する。
func TestPersist_ExistingItemRefreshesOnly(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	// 1回目: 新規作成
	first, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("1回目のPersistがエラーを返しました: %v", err)
	}

	// 既存項目に試行履歴を付与
	lastAttempt := time.Now().Add(-10 * time.Minute)
	first.Item.RetryState.AttemptCount = 2
	first.Item.RetryState.LastAttemptAt = &lastAttempt
	first.Item.RetryState.LastError = "接続エラー"

	// 2回目: タイトルが変わった同一項目を再観測
	brief := testBrief()
	brief.Title = "更新されたタイトル"
	second, err := p.Persist(context.Background(), model.PlatformBilibili, brief)
	if err != nil {
		t.Fatalf("2回目のPersistがエラーを返しました: %v", err)
	}

	if second.NewlyCreated {
		t.Error("再観測でNewlyCreated = true になっています")
	}
	if second.Item.ID != first.Item.ID {
		t.Errorf("既存項目のIDが変わっています: got %s, want %s", second.Item.ID, first.Item.ID)
	}
	if second.Item.Title != "更新されたタイトル" {
		t.Errorf("タイトルが上書きされていません: got %q", second.Item.Title)
	}
	if second.Item.RetryState.AttemptCount != 2 {
		t.Errorf("再観測でリトライ台帳が変更されています: got %d, want 2", second.Item.RetryState.AttemptCount)
	}
	if second.Item.RetryState.LastError != "接続エラー" {
		t.Errorf("再観測で最終エラーが変更されています: got %q", second.Item.RetryState.LastError)
	}
	if favoriteRepo.createCalls != 1 {
		t.Errorf("項目の作成回数が不正: got %d, want 1", favoriteRepo.createCalls)
	}
	if favoriteRepo.refreshCalls != 1 {
		t.Errorf("上書き更新の回数が不正: got %d, want 1", favoriteRepo.refreshCalls)
	}
}

// TestPersist_UniqueViolationResolvedAsExisting は並行保存との競合
// （一意制約違反）が既存項目の再読込で解決されることを検証する。
func TestPersist_UniqueViolationResolvedAsExisting(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	// 並行保存を模倣: Createは一意制約違反を返し、
	// その時点で別プロセスが作成した項目がマップに現れる。
	concurrent := &model.FavoriteItem{
		ID:             "existing-id",
		Platform:       model.PlatformBilibili,
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		Title:          "並行保存された項目",
		FavoritedAt:    time.Now(),
	}
	favoriteRepo.createErr = &pq.Error{Code: "23505"}
	favoriteRepo.concurrentInsert = concurrent

	result, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if result.NewlyCreated {
		t.Error("競合解決後にNewlyCreated = true になっています")
	}
	if result.Item.ID != "existing-id" {
		t.Errorf("競合相手の項目が返っていません: got %s", result.Item.ID)
	}
	// 競合解決後は既存項目として上書き更新される
	if favoriteRepo.refreshCalls != 1 {
		t.Errorf("競合解決後の上書き更新回数が不正: got %d, want 1", favoriteRepo.refreshCalls)
	}
}

// TestPersist_XiaohongshuTokenPreSaved は小紅書項目のxsec_tokenが
// 簡易保存の時点で先行保存されることを検証する。
func TestPersist_XiaohongshuTokenPreSaved(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	brief := &model.BriefItem{
		PlatformItemID: "note123",
		ItemType:       model.ItemTypeNote,
		Title:          "テストノート",
		CollectionID:   "board1",
		XsecToken:      "token-abc",
		Creator: model.BriefCreator{
			UserID:   "u200",
			Username: "ノート作者",
		},
		FavoritedAt: time.Now(),
	}

	result, err := p.Persist(context.Background(), model.PlatformXiaohongshu, brief)
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if detailRepo.tokenCalls != 1 {
		t.Fatalf("xsec_tokenの先行保存回数が不正: got %d, want 1", detailRepo.tokenCalls)
	}
	if detailRepo.lastItemID != result.Item.ID {
		t.Errorf("先行保存の項目IDが不正: got %s, want %s", detailRepo.lastItemID, result.Item.ID)
	}
	if detailRepo.lastNoteID != "note123" {
		t.Errorf("先行保存のノートIDが不正: got %s", detailRepo.lastNoteID)
	}
	if detailRepo.lastXsecToken != "token-abc" {
		t.Errorf("先行保存のトークンが不正: got %s", detailRepo.lastXsecToken)
	}

	// コレクションも自動作成される
	if collectionRepo.createCalls != 1 {
		t.Errorf("コレクションの作成回数が不正: got %d, want 1", collectionRepo.createCalls)
	}
	if result.Item.CollectionID == "" {
		t.Error("CollectionIDが設定されていません")
	}
}

// TestPersist_BilibiliSkipsTokenSave はBilibili項目ではトークンの
// 先行保存が行われないことを検証する。
func TestPersist_BilibiliSkipsTokenSave(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	if _, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief()); err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if detailRepo.tokenCalls != 0 {
		t.Errorf("Bilibili項目でトークンが先行保存されています: got %d, want 0", detailRepo.tokenCalls)
	}
}

// TestPersist_RecoveryAfterWindow は恒久失敗した項目の再観測で、
// リカバリ期間経過後に台帳がリセットされることを検証する。
func TestPersist_RecoveryAfterWindow(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	// 恒久失敗した既存項目（最終試行はリカバリ期間より前）
	staleAttempt := time.Now().Add(-testRecoveryWindow - time.Hour)
	existing := &model.FavoriteItem{
		ID:             "item-1",
		Platform:       model.PlatformBilibili,
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		Title:          "失敗した動画",
		FavoritedAt:    staleAttempt,
		RetryState: model.RetryState{
			AttemptCount:  5,
			LastAttemptAt: &staleAttempt,
			LastError:     "取得タイムアウト",
		},
	}
	favoriteRepo.byPlatformItemID["bilibili|BV1abc"] = existing

	result, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if !result.NeedsRecovery {
		t.Error("NeedsRecovery = false, want true")
	}
	if result.Item.RetryState.AttemptCount != 0 {
		t.Errorf("リカバリ後の試行回数が不正: got %d, want 0", result.Item.RetryState.AttemptCount)
	}
	if result.Item.RetryState.LastAttemptAt != nil {
		t.Error("リカバリ後のLastAttemptAtがリセットされていません")
	}
	if favoriteRepo.retryStateCalls != 1 {
		t.Errorf("台帳更新の回数が不正: got %d, want 1", favoriteRepo.retryStateCalls)
	}
}

// TestPersist_NoRecoveryWithinWindow はリカバリ期間内の再観測では
// 台帳がリセットされないことを検証する。
func TestPersist_NoRecoveryWithinWindow(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	recentAttempt := time.Now().Add(-time.Hour)
	existing := &model.FavoriteItem{
		ID:             "item-1",
		Platform:       model.PlatformBilibili,
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		Title:          "失敗した動画",
		FavoritedAt:    recentAttempt,
		RetryState: model.RetryState{
			AttemptCount:  5,
			LastAttemptAt: &recentAttempt,
			LastError:     "取得タイムアウト",
		},
	}
	favoriteRepo.byPlatformItemID["bilibili|BV1abc"] = existing

	result, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if result.NeedsRecovery {
		t.Error("NeedsRecovery = true, want false")
	}
	if result.Item.RetryState.AttemptCount != 5 {
		t.Errorf("期間内リカバリで台帳が変更されています: got %d, want 5", result.Item.RetryState.AttemptCount)
	}
}

// TestPersist_SucceededItemNotRecovered は詳細取得済みの項目が
// リカバリ対象にならないことを検証する。
func TestPersist_SucceededItemNotRecovered(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	syncedAt := time.Now().Add(-48 * time.Hour)
	existing := &model.FavoriteItem{
		ID:             "item-1",
		Platform:       model.PlatformBilibili,
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		Title:          "取得済みの動画",
		FavoritedAt:    syncedAt,
		RetryState: model.RetryState{
			AttemptCount: 1,
			SyncedAt:     &syncedAt,
		},
	}
	favoriteRepo.byPlatformItemID["bilibili|BV1abc"] = existing

	result, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief())
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if result.NeedsRecovery {
		t.Error("取得済み項目にNeedsRecoveryが立っています")
	}
	if !result.Item.RetryState.HasDetails() {
		t.Error("SyncedAtが失われています")
	}
}

// TestPersist_AuthorReused は既知の投稿者が再利用されることを検証する。
func TestPersist_AuthorReused(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	// 1回目で投稿者が作成される
	if _, err := p.Persist(context.Background(), model.PlatformBilibili, testBrief()); err != nil {
		t.Fatalf("1回目のPersistがエラーを返しました: %v", err)
	}

	// 別項目・同一投稿者
	brief := testBrief()
	brief.PlatformItemID = "BV2xyz"
	if _, err := p.Persist(context.Background(), model.PlatformBilibili, brief); err != nil {
		t.Fatalf("2回目のPersistがエラーを返しました: %v", err)
	}

	if authorRepo.createCalls != 1 {
		t.Errorf("投稿者の作成回数が不正: got %d, want 1", authorRepo.createCalls)
	}
}

// TestPersist_SanitizesText はタイトルと紹介文がサニタイズされて
// 保存されることを検証する。
func TestPersist_SanitizesText(t *testing.T) {
	authorRepo := newMockAuthorRepo()
	collectionRepo := newMockCollectionRepo()
	favoriteRepo := newMockFavoriteRepo()
	detailRepo := &mockDetailRepo{}
	p := newTestPersister(authorRepo, collectionRepo, favoriteRepo, detailRepo)

	brief := testBrief()
	brief.Title = "<script>alert(1)</script>動画タイトル"
	brief.Intro = "<b>紹介文</b>です"

	result, err := p.Persist(context.Background(), model.PlatformBilibili, brief)
	if err != nil {
		t.Fatalf("Persistがエラーを返しました: %v", err)
	}

	if result.Item.Title != "動画タイトル" {
		t.Errorf("タイトルのサニタイズ結果が不正: got %q", result.Item.Title)
	}
	if result.Item.Intro != "紹介文です" {
		t.Errorf("紹介文のサニタイズ結果が不正: got %q", result.Item.Intro)
	}
}
