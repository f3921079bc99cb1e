package adapter

import (
	"context"
	"sort"
	"sync"
)

type orderKey struct {
	userID, voucherID int64
}

// InMemory implements OrderStore with maps. Transactions are serialized.
type InMemory struct {
	mu       sync.Mutex
	vouchers map[int64]Voucher
	orders   map[int64]Order
	byUser   map[orderKey]int64
}

// NewInMemory returns an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{
		vouchers: make(map[int64]Voucher),
		orders:   make(map[int64]Order),
		byUser:   make(map[orderKey]int64),
	}
}

// SaveVoucher implements OrderStore.SaveVoucher.
func (s *InMemory) SaveVoucher(ctx context.Context, v Voucher) error {
	s.mu.Lock()
	s.vouchers[v.ID] = v
	s.mu.Unlock()
	return nil
}

// GetVoucher implements OrderStore.GetVoucher.
func (s *InMemory) GetVoucher(ctx context.Context, id int64) (Voucher, bool, error) {
	s.mu.Lock()
	v, ok := s.vouchers[id]
	s.mu.Unlock()
	return v, ok, nil
}

// Capacity implements OrderStore.Capacity.
func (s *InMemory) Capacity(ctx context.Context, id int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return 0, false, nil
	}
	n := v.Stock
	for _, o := range s.orders {
		if o.VoucherID == id {
			n++
		}
	}
	return n, true, nil
}

// WithinTx implements OrderStore.WithinTx. Changes are staged and applied
// only when fn succeeds.
func (s *InMemory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, taken: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, n := range tx.taken {
		v := s.vouchers[id]
		v.Stock -= n
		s.vouchers[id] = v
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		s.byUser[orderKey{o.UserID, o.VoucherID}] = o.ID
	}
	return nil
}

// Orders returns every committed order sorted by id.
func (s *InMemory) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	s      *InMemory
	taken  map[int64]int64
	orders []Order
}

func (t *memTx) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	n := 0
	if _, ok := t.s.byUser[orderKey{userID, voucherID}]; ok {
		n++
	}
	for _, o := range t.orders {
		if o.UserID == userID && o.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	v, ok := t.s.vouchers[voucherID]
	if !ok || v.Stock-t.taken[voucherID] <= 0 {
		return false, nil
	}
	t.taken[voucherID]++
	return true, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o Order) (bool, error) {
	if _, ok := t.s.orders[o.ID]; ok {
		return false, nil
	}
	if n, _ := t.CountOrders(ctx, o.UserID, o.VoucherID); n > 0 {
		return false, nil
	}
	for _, staged := range t.orders {
		if staged.ID == o.ID {
			return false, nil
		}
	}
	t.orders = append(t.orders, o)
	return true, nil
}
