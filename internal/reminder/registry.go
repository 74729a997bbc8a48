package reminder

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	task Task
	seq  uint64 // insertion order, keeps snapshots stable
}

// Registry is the concurrent-safe set of pending tasks.
//
// Every method takes the lock for one discrete operation only; nothing here
// blocks on I/O while holding it.
type Registry struct {
	mu    sync.Mutex
	tasks map[Handle]*entry
	seq   uint64
	newID func() Handle
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[Handle]*entry{}, newID: uuid.New}
}

// Add inserts t and returns its handle. It never fails.
// TODO: enforce a capacity bound here once a per-chat quota exists.
func (r *Registry) Add(t Task) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	r.seq++
	r.tasks[id] = &entry{task: t, seq: r.seq}
	return id
}

// Snapshot returns the live handles in insertion order. It does not mutate.
func (r *Registry) Snapshot() []Handle {
	r.mu.Lock()
	ents := make([]handleSeq, 0, len(r.tasks))
	for h, e := range r.tasks {
		ents = append(ents, handleSeq{h: h, seq: e.seq})
	}
	r.mu.Unlock()

	sort.Slice(ents, func(i, j int) bool { return ents[i].seq < ents[j].seq })
	out := make([]Handle, len(ents))
	for i, e := range ents {
		out[i] = e.h
	}
	return out
}

type handleSeq struct {
	h   Handle
	seq uint64
}

// Mutate applies fn to exactly one task and returns the resulting copy.
// Period is restored after fn and Remaining is clamped to [0, Period].
// It reports false if h is no longer registered.
func (r *Registry) Mutate(h Handle, fn func(*Task)) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[h]
	if !ok {
		return Task{}, false
	}
	period := e.task.Period
	fn(&e.task)
	e.task.Period = period
	if e.task.Remaining < 0 {
		e.task.Remaining = 0
	}
	if period > 0 && e.task.Remaining > period {
		e.task.Remaining = period
	}
	return e.task, true
}

// Remove deletes the given handles and returns how many were present.
func (r *Registry) Remove(hs ...Handle) int {
	if len(hs) == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range hs {
		if _, ok := r.tasks[h]; ok {
			delete(r.tasks, h)
			n++
		}
	}
	return n
}

func (r *Registry) Get(h Handle) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[h]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Entry pairs a handle with a task copy.
type Entry struct {
	ID   Handle `json:"id"`
	Task Task   `json:"task"`
}

// List returns copies of the tasks accepted by keep (nil keeps all), soonest first.
func (r *Registry) List(keep func(Task) bool) []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.tasks))
	seqs := make(map[Handle]uint64, len(r.tasks))
	for h, e := range r.tasks {
		if keep != nil && !keep(e.task) {
			continue
		}
		out = append(out, Entry{ID: h, Task: e.task})
		seqs[h] = e.seq
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Task.Remaining != out[j].Task.Remaining {
			return out[i].Task.Remaining < out[j].Task.Remaining
		}
		return seqs[out[i].ID] < seqs[out[j].ID]
	})
	return out
}
