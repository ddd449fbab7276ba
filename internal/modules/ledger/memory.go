// README: In-process ledger used when no spreadsheet is configured.
package ledger

import (
	"context"
	"sync"

	"restaurantbot/internal/modules/order"
)

type Memory struct {
	mu   sync.Mutex
	tabs map[order.Bucket][]Row
}

func NewMemory() *Memory {
	return &Memory{tabs: make(map[order.Bucket][]Row)}
}

func (m *Memory) index(bucket order.Bucket, code string) int {
	for i, r := range m.tabs[bucket] {
		if r.Code == code {
			return i
		}
	}
	return -1
}

func (m *Memory) UpsertRow(_ context.Context, bucket order.Bucket, code string, row Row) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.Code = code
	if i := m.index(bucket, code); i >= 0 {
		m.tabs[bucket][i] = row
		return false, nil
	}
	m.tabs[bucket] = append(m.tabs[bucket], row)
	return true, nil
}

func (m *Memory) FindRow(_ context.Context, bucket order.Bucket, code string) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(bucket, code)
	if i < 0 {
		return nil, nil
	}
	r := m.tabs[bucket][i]
	return &r, nil
}

func (m *Memory) MoveRow(_ context.Context, from, to order.Bucket, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(from, code)
	if i < 0 {
		return false, nil
	}
	row := m.tabs[from][i]
	if m.index(to, code) < 0 {
		m.tabs[to] = append(m.tabs[to], row)
	}
	m.tabs[from] = append(m.tabs[from][:i:i], m.tabs[from][i+1:]...)
	return true, nil
}

func (m *Memory) DeleteRow(_ context.Context, bucket order.Bucket, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for i := m.index(bucket, code); i >= 0; i = m.index(bucket, code) {
		m.tabs[bucket] = append(m.tabs[bucket][:i:i], m.tabs[bucket][i+1:]...)
		removed = true
	}
	return removed, nil
}

// Rows returns a copy of one bucket's rows.
func (m *Memory) Rows(bucket order.Bucket) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Row(nil), m.tabs[bucket]...)
}
