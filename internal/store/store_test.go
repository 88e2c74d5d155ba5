package store

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *Store {
	return New(testLogger())
}

func product(id string, status model.ProductStatus) model.Product {
	return model.Product{
		ID:          id,
		URL:         "https://example.com/" + id,
		Title:       "Item " + id,
		Price:       "10",
		Description: "desc",
		Status:      status,
	}
}

func enriched(id string, status model.ProductStatus, imageIDs ...string) model.EnrichedProduct {
	ep := model.EnrichedProduct{Product: product(id, status)}
	for i, imgID := range imageIDs {
		ep.Images = append(ep.Images, model.ProductImage{ID: imgID, Path: "/img/" + imgID + ".jpg", Ordinal: i})
	}
	return ep
}

func TestUpsert_PreservesInsertionOrder(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("a", model.StatusPending))
	s.Upsert(product("b", model.StatusPosted))
	s.Upsert(product("c", model.StatusSold))

	// 更新已有商品不改变顺序
	s.Upsert(product("a", model.StatusReadyToPost))

	list := s.List(FilterAll)
	if len(list) != 3 {
		t.Fatalf("expected 3 products, got %d", len(list))
	}
	if list[0].ID != "a" || list[1].ID != "b" || list[2].ID != "c" {
		t.Fatalf("insertion order broken: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
	if list[0].Status != model.StatusReadyToPost {
		t.Fatalf("upsert should replace wholesale, got %s", list[0].Status)
	}
}

func TestList_Filters(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("p1", model.StatusPending))
	s.Upsert(product("p2", model.StatusCollected))
	s.Upsert(product("p3", model.StatusReadyToPost))
	s.Upsert(product("p4", model.StatusPosted))
	s.Upsert(product("p5", model.StatusSold))

	cases := []struct {
		filter Filter
		want   int
	}{
		{FilterAll, 5},
		{FilterReady, 1},
		{FilterPosted, 1},
		{FilterSold, 1},
		{FilterPending, 2}, // pending + collected
	}
	for _, tc := range cases {
		if got := len(s.List(tc.filter)); got != tc.want {
			t.Errorf("filter %s: expected %d, got %d", tc.filter, tc.want, got)
		}
	}

	counts := s.Counts()
	if counts[FilterPending] != 2 || counts[FilterAll] != 5 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestOptimisticStatus_RollbackRestoresExactly(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("p1", model.StatusReadyToPost))

	txn, err := s.BeginStatus("p1", model.StatusPosted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 乐观状态立即可见
	p, _ := s.Get("p1")
	if p.Status != model.StatusPosted {
		t.Fatalf("optimistic status not applied, got %s", p.Status)
	}

	txn.Rollback()

	p, _ = s.Get("p1")
	if p.Status != model.StatusReadyToPost {
		t.Fatalf("rollback must restore prior status exactly, got %s", p.Status)
	}
	if s.MutationInFlight("p1") {
		t.Fatalf("inflight flag must clear on rollback")
	}
}

func TestOptimisticStatus_CommitWithAuthoritative(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("p1", model.StatusReadyToPost))

	txn, err := s.BeginStatus("p1", model.StatusPosted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	auth := product("p1", model.StatusPosted)
	auth.Title = "Server Title"
	txn.Commit(&auth)

	p, _ := s.Get("p1")
	if p.Status != model.StatusPosted || p.Title != "Server Title" {
		t.Fatalf("authoritative record not applied: %+v", p)
	}
	if s.MutationInFlight("p1") {
		t.Fatalf("inflight flag must clear on commit")
	}
}

func TestOptimisticStatus_SecondMutationRejected(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("p1", model.StatusReadyToPost))

	txn, err := s.BeginStatus("p1", model.StatusPosted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.BeginStatus("p1", model.StatusSold); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected ErrMutationInFlight, got %v", err)
	}

	// 其他商品不受影响
	s.Upsert(product("p2", model.StatusReadyToPost))
	if _, err := s.BeginStatus("p2", model.StatusPosted); err != nil {
		t.Fatalf("independent product should not be blocked: %v", err)
	}

	txn.Commit(nil)
	if _, err := s.BeginStatus("p1", model.StatusSold); err != nil {
		t.Fatalf("after commit a new mutation must be allowed: %v", err)
	}
}

func TestOptimisticStatus_DoubleReleaseIsNoop(t *testing.T) {
	s := newTestStore()
	s.Upsert(product("p1", model.StatusReadyToPost))

	txn, _ := s.BeginStatus("p1", model.StatusPosted)
	txn.Commit(nil)
	txn.Rollback() // 已结束的事务再回滚不生效

	p, _ := s.Get("p1")
	if p.Status != model.StatusPosted {
		t.Fatalf("rollback after commit must be a no-op, got %s", p.Status)
	}
}

func TestBeginStatus_UnknownProduct(t *testing.T) {
	s := newTestStore()
	if _, err := s.BeginStatus("missing", model.StatusPosted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveImage_ClampsSelectedIndex(t *testing.T) {
	s := newTestStore()
	s.UpsertEnriched(enriched("p1", model.StatusCollected, "i0", "i1", "i2"))

	// 选中最后一张，删除它后选中索引回退到新的末尾
	if err := s.SelectImage("p1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RemoveImage("p1", "i2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx, _ := s.SelectedImage("p1"); idx != 1 {
		t.Fatalf("expected selected index 1, got %d", idx)
	}

	// 删除未选中的图片不影响选中位置
	if err := s.SelectImage("p1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RemoveImage("p1", "i1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx, _ := s.SelectedImage("p1"); idx != 0 {
		t.Fatalf("expected selected index 0, got %d", idx)
	}

	// 删除最后一张图片，索引永不为负
	if err := s.RemoveImage("p1", "i0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx, _ := s.SelectedImage("p1"); idx != 0 {
		t.Fatalf("expected selected index clamped to 0, got %d", idx)
	}
}

func TestRemoveImage_RenumbersOrdinals(t *testing.T) {
	s := newTestStore()
	s.UpsertEnriched(enriched("p1", model.StatusCollected, "i0", "i1", "i2"))

	if err := s.RemoveImage("p1", "i1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ep, _ := s.GetEnriched("p1")
	if len(ep.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(ep.Images))
	}
	for i, img := range ep.Images {
		if img.Ordinal != i {
			t.Fatalf("ordinals not contiguous: %+v", ep.Images)
		}
	}
	if ep.Images[0].ID != "i0" || ep.Images[1].ID != "i2" {
		t.Fatalf("unexpected remaining images: %+v", ep.Images)
	}
}

func TestRemoveImage_Unknown(t *testing.T) {
	s := newTestStore()
	s.UpsertEnriched(enriched("p1", model.StatusCollected, "i0"))

	if err := s.RemoveImage("p1", "nope"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
	if err := s.RemoveImage("missing", "i0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove_ClearsFocusAtomically(t *testing.T) {
	s := newTestStore()
	s.UpsertEnriched(enriched("p1", model.StatusPosted, "i0"))
	s.Upsert(product("p2", model.StatusSold))

	if err := s.Focus("p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Remove("p1")

	if _, ok := s.Focused(); ok {
		t.Fatalf("focus must clear when focused product is removed")
	}
	if _, ok := s.Get("p1"); ok {
		t.Fatalf("product should be gone")
	}

	// 删除非聚焦商品不影响焦点
	if err := s.Focus("p2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Remove("p1") // 不存在，no-op
	if focused, ok := s.Focused(); !ok || focused.ID != "p2" {
		t.Fatalf("focus should survive unrelated removals")
	}
}

func TestUpsertEnriched_ResetsSelection(t *testing.T) {
	s := newTestStore()
	s.UpsertEnriched(enriched("p1", model.StatusCollected, "i0", "i1", "i2"))
	if err := s.SelectImage("p1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 重新装配后的图集替换旧图集，选中位置回到开头
	s.UpsertEnriched(enriched("p1", model.StatusCollected, "j0"))
	if idx, _ := s.SelectedImage("p1"); idx != 0 {
		t.Fatalf("expected selection reset, got %d", idx)
	}
	ep, _ := s.GetEnriched("p1")
	if len(ep.Images) != 1 || ep.Images[0].ID != "j0" {
		t.Fatalf("images not replaced: %+v", ep.Images)
	}
}
