package history

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymaccess/internal/store"
)

// newTestRepo connects to HISTORY_TEST_DATABASE_URL and isolates the test
// in a throwaway schema. Skipped when the variable is unset.
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("HISTORY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HISTORY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	admin, err := store.NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := "history_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Client.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Client.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err, "HISTORY_TEST_DATABASE_URL must be a postgres:// URL")
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := store.NewDB(ctx, u.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db.Client)
	require.NoError(t, repo.EnsureSchema(ctx))
	// api and worker both run it at startup
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestRepositoryInsertIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	first, err := repo.InsertSample(ctx, Sample{ID: uuid.NewString(), TakenAt: at, Occupancy: 5, Source: "live", LiveState: "connected"})
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	redelivered := first
	redelivered.Occupancy = 99
	again, err := repo.InsertSample(ctx, redelivered)
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))

	got, err := repo.ListSamples(ctx, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, 5, got[0].Occupancy, "the first write is kept")
	assert.Equal(t, "connected", got[0].LiveState)
	assert.True(t, at.Equal(got[0].TakenAt))
}

func TestRepositoryInsertDefaults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s, err := repo.InsertSample(ctx, Sample{Occupancy: 1, Source: "aggregate"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.WithinDuration(t, time.Now(), s.TakenAt, time.Minute)

	_, err = repo.InsertSample(ctx, Sample{Occupancy: 1})
	assert.Error(t, err)
}

func TestRepositoryListSamples(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := repo.InsertSample(ctx, Sample{TakenAt: base.Add(time.Duration(i) * time.Hour), Occupancy: i, Source: "live"})
		require.NoError(t, err)
	}

	all, err := repo.ListSamples(ctx, time.Time{}, time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 4, all[0].Occupancy, "newest first")
	assert.Equal(t, 0, all[4].Occupancy)

	// from is inclusive, to exclusive
	window, err := repo.ListSamples(ctx, base.Add(time.Hour), base.Add(3*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, 2, window[0].Occupancy)
	assert.Equal(t, 1, window[1].Occupancy)

	since, err := repo.ListSamples(ctx, base.Add(3*time.Hour), time.Time{}, 100)
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := repo.ListSamples(ctx, time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 4, limited[0].Occupancy)
}

func TestRepositoryWeekly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := func(d, h int) time.Time { return time.Date(2026, 10, d, h, 0, 0, 0, time.UTC) }
	for _, s := range []Sample{
		{TakenAt: day(16, 10), Occupancy: 3, PresentToday: 12},
		{TakenAt: day(16, 12), Occupancy: 8, PresentToday: 20},
		{TakenAt: day(14, 9), Occupancy: 2, PresentToday: 2},
		{TakenAt: day(9, 18), Occupancy: 50, PresentToday: 50}, // before the window
		{TakenAt: day(17, 1), Occupancy: 60, PresentToday: 60}, // after it
	} {
		s.Source = "live"
		_, err := repo.InsertSample(ctx, s)
		require.NoError(t, err)
	}

	days, err := repo.Weekly(ctx, day(16, 15))
	require.NoError(t, err)
	require.Len(t, days, 7)
	assert.Equal(t, "2026-10-10", days[0].Date.Format(time.DateOnly))
	assert.Equal(t, "2026-10-16", days[6].Date.Format(time.DateOnly))

	assert.Equal(t, Day{Date: days[6].Date, PeakOccupancy: 8, PeakPresent: 20, Samples: 2}, days[6])
	assert.Equal(t, 2, days[4].PeakOccupancy)
	assert.Equal(t, 1, days[4].Samples)
	for _, i := range []int{0, 1, 2, 3, 5} {
		assert.Zero(t, days[i].Samples, days[i].Date.Format(time.DateOnly))
	}
}
