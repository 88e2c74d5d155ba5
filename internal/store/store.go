package store

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

var (
	// ErrNotFound 表示缓存中没有该商品。
	ErrNotFound = errors.New("product not found in store")
	// ErrMutationInFlight 表示该商品已有进行中的变更操作。
	ErrMutationInFlight = errors.New("another mutation is in flight for this product")
	// ErrImageNotFound 表示该商品下没有此图片。
	ErrImageNotFound = errors.New("image not found")
)

// Filter 对应列表视图的筛选标签。
type Filter string

const (
	FilterAll     Filter = "all"
	FilterReady   Filter = "ready"
	FilterPosted  Filter = "posted"
	FilterSold    Filter = "sold"
	FilterPending Filter = "pending" // pending + collected 合并展示为"进行中"
)

func (f Filter) matches(s model.ProductStatus) bool {
	switch f {
	case FilterReady:
		return s == model.StatusReadyToPost
	case FilterPosted:
		return s == model.StatusPosted
	case FilterSold:
		return s == model.StatusSold
	case FilterPending:
		return s == model.StatusPending || s == model.StatusCollected
	default:
		return true
	}
}

type entry struct {
	product  model.Product
	images   []model.ProductImage
	selected int // 画廊当前选中的图片索引
}

// Store 是商品的客户端缓存。
//
// 服务端是权威状态，这里只维护一个可回滚的本地视图：
// 变更操作先乐观生效，权威响应到达后覆盖，失败则精确回滚。
// 所有写入必须通过这里定义的操作进行，互斥锁保证外部观察不到中间态。
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // 插入顺序，列表视图按此排列
	focusID  string
	inflight map[string]bool
	logger   *slog.Logger
}

// New 创建一个空的商品缓存。
func New(logger *slog.Logger) *Store {
	return &Store{
		entries:  make(map[string]*entry),
		inflight: make(map[string]bool),
		logger:   logger,
	}
}

// Upsert 整体替换商品记录；新商品追加到列表末尾，已有图片保持不变。
func (s *Store) Upsert(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(p)
}

// UpsertEnriched 替换商品及其图片集合。
func (s *Store) UpsertEnriched(ep model.EnrichedProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(ep.Product)
	e := s.entries[ep.ID]
	e.images = append([]model.ProductImage(nil), ep.Images...)
	e.selected = 0
}

func (s *Store) upsertLocked(p model.Product) {
	p.RecomputeMissingFields()
	if e, ok := s.entries[p.ID]; ok {
		e.product = p
		return
	}
	s.entries[p.ID] = &entry{product: p}
	s.order = append(s.order, p.ID)
}

// Get 返回商品记录。
func (s *Store) Get(id string) (model.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return model.Product{}, false
	}
	return e.product, true
}

// GetEnriched 返回商品及其图片。
func (s *Store) GetEnriched(id string) (model.EnrichedProduct, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return model.EnrichedProduct{}, false
	}
	return model.EnrichedProduct{
		Product: e.product,
		Images:  append([]model.ProductImage(nil), e.images...),
	}, true
}

// List 按插入顺序返回匹配筛选条件的商品。
func (s *Store) List(f Filter) []model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Product, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok && f.matches(e.product.Status) {
			out = append(out, e.product)
		}
	}
	return out
}

// Counts 返回各筛选标签下的商品数量。
func (s *Store) Counts() map[Filter]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Filter]int{}
	for _, f := range []Filter{FilterAll, FilterReady, FilterPosted, FilterSold, FilterPending} {
		counts[f] = 0
	}
	for _, e := range s.entries {
		for f := range counts {
			if f.matches(e.product.Status) {
				counts[f]++
			}
		}
	}
	return counts
}

// Remove 删除商品；如果它是当前聚焦的商品，焦点一并清除。
//
// 删除与焦点清理在同一临界区内完成，调用方不会观察到悬空引用。
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	delete(s.inflight, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.focusID == id {
		s.focusID = ""
	}
}

// Focus 把某个商品设为当前聚焦（详情视图）。
func (s *Store) Focus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	s.focusID = id
	return nil
}

// Focused 返回当前聚焦的商品。
func (s *Store) Focused() (model.EnrichedProduct, bool) {
	s.mu.Lock()
	focusID := s.focusID
	s.mu.Unlock()
	if focusID == "" {
		return model.EnrichedProduct{}, false
	}
	return s.GetEnriched(focusID)
}

// ClearFocus 清除焦点。
func (s *Store) ClearFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusID = ""
}

// SelectImage 设置画廊选中的图片索引。
func (s *Store) SelectImage(id string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if idx < 0 || idx >= len(e.images) {
		return ErrImageNotFound
	}
	e.selected = idx
	return nil
}

// SelectedImage 返回画廊当前选中的图片索引。
func (s *Store) SelectedImage(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.selected, true
}

// RemoveImage 按 id 删除图片，剩余图片的 ordinal 重新连续编号。
//
// 选中索引重算为 min(原索引, 新长度-1)，永不为负。
func (s *Store) RemoveImage(productID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[productID]
	if !ok {
		return ErrNotFound
	}

	idx := -1
	for i, img := range e.images {
		if img.ID == imageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrImageNotFound
	}

	e.images = append(e.images[:idx], e.images[idx+1:]...)
	for i := range e.images {
		e.images[i].Ordinal = i
	}

	if e.selected > len(e.images)-1 {
		e.selected = len(e.images) - 1
	}
	if e.selected < 0 {
		e.selected = 0
	}

	e.product.Thumbnail = ""
	if len(e.images) > 0 {
		e.product.Thumbnail = e.images[0].Path
	}
	return nil
}

// StatusTxn 是一次乐观状态变更事务。
//
// BeginStatus 立即应用乐观状态并记录先前值；权威响应到达后 Commit，
// 对应的远程调用失败则 Rollback，绝不把乐观状态留成脏值。
type StatusTxn struct {
	s        *Store
	id       string
	prev     model.ProductStatus
	released bool
}

// BeginStatus 开启乐观状态变更。
//
// 同一商品同时只允许一个进行中的事务，第二次调用返回
// ErrMutationInFlight（拒绝而不是排队）。
func (s *Store) BeginStatus(id string, next model.ProductStatus) (*StatusTxn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.inflight[id] {
		return nil, ErrMutationInFlight
	}

	prev := e.product.Status
	e.product.Status = next
	s.inflight[id] = true
	return &StatusTxn{s: s, id: id, prev: prev}, nil
}

// Commit 用权威记录结束事务；authoritative 为 nil 时保留乐观值。
func (t *StatusTxn) Commit(authoritative *model.Product) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	delete(t.s.inflight, t.id)

	if authoritative != nil {
		t.s.upsertLocked(*authoritative)
	}
}

// Rollback 把状态精确恢复为事务开始前的值。
func (t *StatusTxn) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	delete(t.s.inflight, t.id)

	if e, ok := t.s.entries[t.id]; ok {
		e.product.Status = t.prev
	}
}

// MutationInFlight 报告该商品是否有进行中的事务。
func (s *Store) MutationInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}
