package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newRecord создаёт корректную запись с заданным временем загрузки и TTL.
func newRecord(id, name string, uploadedAt time.Time, ttl time.Duration) *model.FileRecord {
	ext := model.ExtensionOf(name)
	return &model.FileRecord{
		ID:          id,
		DisplayName: name,
		StoredName:  model.StoredNameFor(id, ext),
		SizeBytes:   int64(len(name)),
		MimeType:    "application/octet-stream",
		Extension:   ext,
		Checksum:    "sum-" + id,
		UploadedAt:  uploadedAt.UTC().Truncate(time.Microsecond),
		ExpiresAt:   uploadedAt.UTC().Truncate(time.Microsecond).Add(ttl),
	}
}

func TestSQLite_PutGet(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	rec := newRecord("id-1", "reports/q1.csv", time.Now(), time.Hour)
	rec.IsTextFile = true
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Полная замена записи
	rec.DisplayName = "reports/q2.csv"
	require.NoError(t, s.Put(ctx, rec))
	got, err = s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "reports/q2.csv", got.DisplayName)
}

func TestSQLite_GetNotFound(t *testing.T) {
	s := openTestSQLite(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLite_PutRejectsInvalid(t *testing.T) {
	s := openTestSQLite(t)

	rec := newRecord("id-1", "a.txt", time.Now(), time.Hour)
	rec.ExpiresAt = rec.UploadedAt
	err := s.Put(context.Background(), rec)
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSQLite_ListAllOrdering(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// b и c загружены одновременно, порядок по id
	require.NoError(t, s.Put(ctx, newRecord("a", "a.txt", base.Add(-2*time.Minute), time.Hour)))
	require.NoError(t, s.Put(ctx, newRecord("c", "c.txt", base, time.Hour)))
	require.NoError(t, s.Put(ctx, newRecord("b", "b.txt", base, time.Hour)))

	all, err := s.ListAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, ids(all))

	page, err := s.ListAll(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(page))
}

func TestSQLite_ListExpiredAndLive(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	older := newRecord("older", "o.txt", now.Add(-3*time.Hour), time.Hour)  // истёк 2ч назад
	recent := newRecord("recent", "r.txt", now.Add(-2*time.Hour), time.Hour) // истёк 1ч назад
	boundary := newRecord("boundary", "b.txt", now.Add(-time.Hour), time.Hour)
	live := newRecord("live", "l.txt", now, time.Hour)
	for _, r := range []*model.FileRecord{recent, live, boundary, older} {
		require.NoError(t, s.Put(ctx, r))
	}

	expired, err := s.ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "recent"}, ids(expired), "expires_at == asOf не входит в ListExpired(asOf)")

	expired, err = s.ListExpired(ctx, now.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "recent", "boundary"}, ids(expired))

	current, err := s.ListLive(ctx, now, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(current))
}

func TestSQLite_ListExpiredSubMicrosecond(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	uploaded := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := newRecord("edge", "e.txt", uploaded, time.Hour)
	require.NoError(t, s.Put(ctx, rec))

	asOf := rec.ExpiresAt.Add(500 * time.Nanosecond)
	require.True(t, rec.IsExpired(asOf))

	expired, err := s.ListExpired(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, ids(expired), "запись, истёкшая для чтения, должна попасть в очистку")

	expired, err = s.ListExpired(ctx, rec.ExpiresAt)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestExpiredBound(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"целые микросекунды", base.Add(3 * time.Microsecond), base.Add(3 * time.Microsecond)},
		{"дробная часть", base.Add(3*time.Microsecond + time.Nanosecond), base.Add(4 * time.Microsecond)},
		{"другая зона", base.In(time.FixedZone("MSK", 3*3600)).Add(500 * time.Nanosecond), base.Add(time.Microsecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(expiredBound(tt.in)), "получили %s", expiredBound(tt.in))
		})
	}
}

func TestSQLite_DeleteReturnsExisted(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("id-1", "a.txt", time.Now(), time.Hour)))

	existed, err := s.Delete(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSQLite_DeleteConcurrentSingleWinner(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("id-1", "a.txt", time.Now(), time.Hour)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			existed, err := s.Delete(ctx, "id-1")
			assert.NoError(t, err)
			if existed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSQLite_AggregateStats(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, name := range []string{"a.txt", "b.txt", "c.png", "d.bin"} {
		rec := newRecord(fmt.Sprintf("id-%d", i), name, now, time.Hour)
		rec.SizeBytes = int64(100 * (i + 1))
		require.NoError(t, s.Put(ctx, rec))
	}
	text := newRecord("text", "note.txt", now.Add(-2*time.Hour), time.Hour)
	text.IsTextFile = true
	text.SizeBytes = 1
	require.NoError(t, s.Put(ctx, text))

	stats, err := s.AggregateStats(ctx, now, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.TotalFiles)
	assert.EqualValues(t, 1001, stats.TotalSize)
	assert.EqualValues(t, 1, stats.ExpiredFiles)
	assert.EqualValues(t, 1, stats.TextFiles)
	require.Len(t, stats.Extensions, 2)
	// bin=400, txt=100+200+1=301, png=300
	assert.Equal(t, "bin", stats.Extensions[0].Extension)
	assert.Equal(t, "txt", stats.Extensions[1].Extension)
	assert.EqualValues(t, 3, stats.Extensions[1].Count)
	assert.EqualValues(t, 301, stats.Extensions[1].TotalSize)
}

func TestSQLite_AggregateStatsEmpty(t *testing.T) {
	s := openTestSQLite(t)

	stats, err := s.AggregateStats(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
	assert.Empty(t, stats.Extensions)
}

func TestSQLite_Operations(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordOperation(ctx, model.Operation{
		Operation: model.OpUpload, FileID: "old", CreatedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, s.RecordOperation(ctx, model.Operation{Operation: model.OpDelete, FileID: "new"}))

	ops, err := s.ListOperations(ctx, model.OperationQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, model.OpDelete, ops[0].Operation)
	assert.Equal(t, "old", ops[1].FileID)

	ops, err = s.ListOperations(ctx, model.OperationQuery{Operation: model.OpUpload, Limit: 10})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "old", ops[0].FileID)

	ops, err = s.ListOperations(ctx, model.OperationQuery{Operation: model.OpArchive})
	require.NoError(t, err)
	assert.Empty(t, ops)

	pruned, err := s.PruneOperations(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	ops, err = s.ListOperations(ctx, model.OperationQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "new", ops[0].FileID)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	require.NoError(t, Migrate(DriverSQLite, path, testLogger()))
	require.NoError(t, Migrate(DriverSQLite, path, testLogger()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", testLogger())
	assert.Error(t, err)
}

func ids(records []*model.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
