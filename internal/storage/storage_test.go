package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "audit.db")}, logx.Nop())
		require.NoError(t, err)
		require.NotNil(t, st)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestAuditAppendRecentPrune(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := context.Background()

	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:         base.Add(time.Duration(i) * time.Minute),
					Event:      "reminder.delivered",
					ReminderID: "r" + string(rune('0'+i)),
					ChatID:     "42",
					Period:     20,
					Repeat:     i%2 == 0,
				}))
			}

			got, err := st.RecentAudit(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, "r4", got[0].ReminderID)
			require.Equal(t, "r2", got[2].ReminderID)
			require.True(t, got[0].Repeat)
			require.Equal(t, 20, got[0].Period)

			n, err := st.PruneAudit(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			require.EqualValues(t, 2, n)

			got, err = st.RecentAudit(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, "r2", got[len(got)-1].ReminderID)

			// Appends keep working after a prune rewrote the backing file.
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base.Add(time.Hour), Event: "reminder.added"}))
			got, err = st.RecentAudit(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, "reminder.added", got[0].Event)
		})
	}
}

func TestPrunerRunOnce(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.jsonl")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: now.Add(-48 * time.Hour), Event: "old"}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: now.Add(-time.Hour), Event: "fresh"}))

	p := NewPruner(st, Config{Retention: 24 * time.Hour}, logx.Nop())
	p.now = func() time.Time { return now }
	require.True(t, p.Enabled())
	p.RunOnce(ctx)

	got, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "fresh", got[0].Event)
}

func TestPrunerDisabledWithoutRetention(t *testing.T) {
	t.Parallel()
	p := NewPruner(nil, Config{}, logx.Nop())
	require.False(t, p.Enabled())
	require.NoError(t, p.Start(context.Background()))
	p.Stop(context.Background())
}

func TestValidatePruneSchedule(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidatePruneSchedule(""))
	require.NoError(t, ValidatePruneSchedule("@every 30m"))
	require.NoError(t, ValidatePruneSchedule("0 3 * * *"))
	require.Error(t, ValidatePruneSchedule("whenever"))
}
