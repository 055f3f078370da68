package registry

import (
	"container/heap"
	"sync"
	"time"

	"tg-multipost/internal/domain"
)

// Drafts — хранилище черновиков, упорядоченное по времени публикации.
// Очередь с приоритетом вместо списка с мутацией при обходе: планировщик
// атомарно забирает только созревшие записи.
type Drafts struct {
	mu     sync.Mutex
	heap   draftHeap
	nextID int64
}

// NewDrafts создаёт пустое хранилище.
func NewDrafts() *Drafts {
	return &Drafts{}
}

var _ domain.DraftStore = (*Drafts)(nil)

// Put сохраняет черновик и возвращает его идентификатор.
// Черновик без даты публикации — противоречие: его следовало
// отправить синхронно.
func (d *Drafts) Put(draft domain.Draft) (int64, error) {
	if draft.ScheduledAt.IsZero() {
		return 0, domain.ErrDraftNotScheduled
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	draft.ID = d.nextID
	heap.Push(&d.heap, draft)
	return draft.ID, nil
}

// PopDue атомарно извлекает все черновики, чьё время наступило.
// Извлечённый черновик обратно не возвращается: ровно одна попытка
// публикации на черновик.
func (d *Drafts) PopDue(now time.Time) []domain.Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	var due []domain.Draft
	for d.heap.Len() > 0 && !d.heap[0].ScheduledAt.After(now) {
		due = append(due, heap.Pop(&d.heap).(domain.Draft))
	}
	return due
}

// Snapshot возвращает копию содержимого без извлечения.
func (d *Drafts) Snapshot() []domain.Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Draft, len(d.heap))
	copy(out, d.heap)
	return out
}

// Len возвращает число отложенных черновиков.
func (d *Drafts) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heap.Len()
}

type draftHeap []domain.Draft

func (h draftHeap) Len() int            { return len(h) }
func (h draftHeap) Less(i, j int) bool  { return h[i].ScheduledAt.Before(h[j].ScheduledAt) }
func (h draftHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *draftHeap) Push(x any)         { *h = append(*h, x.(domain.Draft)) }
func (h *draftHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
