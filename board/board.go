package board

import (
	"sync"

	"tasklane/coordinator"
	"tasklane/domain"
)

// Board keeps one Row per task. All rows share the coordinator so the
// in-flight guard covers every trigger path; each row keeps its own session.
type Board struct {
	coord *coordinator.Coordinator
	opts  Options

	mu    sync.RWMutex
	order []string
	rows  map[string]*Row
}

func NewBoard(coord *coordinator.Coordinator, opts Options) *Board {
	return &Board{coord: coord, opts: opts, rows: make(map[string]*Row)}
}

// Load replaces the board's rows. Soft-deleted tasks are skipped.
func (b *Board) Load(tasks []domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = b.order[:0]
	b.rows = make(map[string]*Row, len(tasks))
	for _, t := range tasks {
		if t.Deleted {
			continue
		}
		b.rows[t.ID] = NewRow(t, b.coord, b.opts)
		b.order = append(b.order, t.ID)
	}
}

func (b *Board) Row(taskID string) (*Row, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rows[taskID]
	return r, ok
}

// Views returns the view of every visible row in load order.
func (b *Board) Views() []RowView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RowView, 0, len(b.order))
	for _, id := range b.order {
		v := b.rows[id].View()
		if v.Collapsed {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Wait blocks until every row's background work finished.
func (b *Board) Wait() {
	b.mu.RLock()
	rows := make([]*Row, 0, len(b.rows))
	for _, r := range b.rows {
		rows = append(rows, r)
	}
	b.mu.RUnlock()
	for _, r := range rows {
		r.Wait()
	}
	b.coord.Wait()
}
