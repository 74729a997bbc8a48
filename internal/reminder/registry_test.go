package reminder

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"remindbot/internal/transport"
)

func testTask(period int, repeat bool) Task {
	return Task{
		Destination: transport.ChatTarget{ChatID: "c1"},
		Owner:       transport.User{ID: "u1", Username: "ann"},
		Remaining:   period,
		Period:      period,
		Message:     "tea",
		Repeat:      repeat,
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := r.Add(testTask(20, false))
	b := r.Add(testTask(30, true))
	require.NotEqual(t, a, b)
	require.Equal(t, 2, r.Len())

	got, ok := r.Get(b)
	require.True(t, ok)
	require.Equal(t, 30, got.Period)

	require.Equal(t, 1, r.Remove(a, a))
	_, ok = r.Get(a)
	require.False(t, ok)
	require.Equal(t, 0, r.Remove())
	require.Equal(t, 1, r.Len())
}

func TestRegistrySnapshotInsertionOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var want []Handle
	for i := 0; i < 50; i++ {
		want = append(want, r.Add(testTask(20+i, false)))
	}
	require.Equal(t, want, r.Snapshot())
}

func TestRegistryMutateKeepsPeriodAndClamps(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	h := r.Add(testTask(20, true))

	got, ok := r.Mutate(h, func(t *Task) {
		t.Period = 1
		t.Remaining = 500
	})
	require.True(t, ok)
	require.Equal(t, 20, got.Period)
	require.Equal(t, 20, got.Remaining)

	got, _ = r.Mutate(h, func(t *Task) { t.Remaining = -3 })
	require.Equal(t, 0, got.Remaining)

	r.Remove(h)
	_, ok = r.Mutate(h, func(*Task) { t.Fatal("mutated a removed task") })
	require.False(t, ok)
}

func TestRegistryListSoonestFirst(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add(testTask(60, false))
	mid := r.Add(testTask(40, false))
	other := testTask(25, false)
	other.Destination.ChatID = "c2"
	r.Add(other)

	all := r.List(nil)
	require.Len(t, all, 3)
	require.Equal(t, 25, all[0].Task.Remaining)
	require.Equal(t, mid, all[1].ID)

	c1 := r.List(func(t Task) bool { return t.Destination.ChatID == "c1" })
	require.Len(t, c1, 2)
	require.Equal(t, 40, c1[0].Task.Remaining)
}

func TestRegistryConcurrentAdds(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h := r.Add(testTask(20, false))
				r.Mutate(h, func(t *Task) { t.Remaining-- })
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, r.Len())
}
