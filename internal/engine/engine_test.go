package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sheetdb/internal/metrics"
	"github.com/roach88/sheetdb/internal/schema"
	"github.com/roach88/sheetdb/internal/testutil"
	"github.com/roach88/sheetdb/internal/validate"
)

// newTestDB opens a database over a fresh SQLite file with the demo schema.
func newTestDB(t *testing.T, cfg Config) *Database {
	t.Helper()
	if cfg.DSN == "" && cfg.Store == nil {
		cfg.DSN = filepath.Join(t.TempDir(), "test.db")
	}
	db, err := Init(context.Background(), cfg, testutil.DemoTables()...)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreate(t *testing.T, db *Database, table string, raw map[string]any) Record {
	t.Helper()
	w, err := db.Create(context.Background(), table, raw)
	require.NoError(t, err)
	return w.Record
}

func TestInit_DuplicateTable(t *testing.T) {
	tables := append(testutil.DemoTables(), testutil.DemoTables()[0])
	_, err := Init(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "dup.db")}, tables...)
	require.Error(t, err)
	assert.True(t, schema.IsDuplicateTable(err))
}

func TestRegister_AfterInit(t *testing.T) {
	db := newTestDB(t, Config{})

	err := db.Register(schema.TableConfig{
		Name:   "TAG",
		Fields: []schema.FieldDef{{Name: "label", Type: schema.TypeString}},
	})
	require.NoError(t, err)

	rec := mustCreate(t, db, "TAG", map[string]any{"label": "new"})
	assert.Equal(t, int64(1), rec.ID())

	err = db.Register(schema.TableConfig{Name: "TAG"})
	assert.True(t, schema.IsDuplicateTable(err))
}

func TestUnknownTableIsMisuse(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	_, err := db.Create(ctx, "NOPE", map[string]any{})
	assert.ErrorIs(t, err, schema.ErrUnknownTable)
	_, isEngineErr := CodeOf(err)
	assert.False(t, isEngineErr)

	_, err = db.Read(ctx, "NOPE", 1)
	assert.ErrorIs(t, err, schema.ErrUnknownTable)
}

func TestCreate_DefaultsAndCoercion(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	w, err := db.Create(ctx, "CATEGORY", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "default_name", w.Record["name"])
	assert.Equal(t, []string{"name"}, w.Report.Defaulted)

	w, err = db.Create(ctx, "PRODUCT", map[string]any{
		"name":        "Lamp",
		"price":       "12.5",
		"category_fk": 1,
		"added":       "2024-03-01",
		"colour":      "red",
	})
	require.NoError(t, err)

	rec := w.Record
	assert.Equal(t, int64(1), rec.ID())
	assert.Equal(t, "Lamp", rec["name"])
	assert.Equal(t, 12.5, rec["price"])
	assert.Equal(t, 1.0, rec["category_fk"])
	added, ok := rec["added"].(time.Time)
	require.True(t, ok, "added is %T", rec["added"])
	assert.True(t, added.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.NotContains(t, rec, "colour")
	assert.Equal(t, []string{"colour"}, w.Report.Skipped)
}

func TestCreate_CoercionFailureIsNonFatal(t *testing.T) {
	db := newTestDB(t, Config{})

	w, err := db.Create(context.Background(), "PRODUCT", map[string]any{
		"name":  "Lamp",
		"price": "cheap",
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, w.Record["price"])
	require.Len(t, w.Report.Coercion, 1)
	assert.Equal(t, "price", w.Report.Coercion[0].Field)
}

func TestCreate_MissingRequiredField(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	_, err := db.Create(ctx, "PRODUCT", map[string]any{"price": 3})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	ve, ok := ValidationDetail(err)
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, ve.Fields)

	n, err := db.Store().Count(ctx, "PRODUCT")
	require.NoError(t, err)
	assert.Zero(t, n, "aborted create must not write")
}

func TestCreateWithLogs_TraceOnFailure(t *testing.T) {
	db := newTestDB(t, Config{})

	_, trace, err := db.CreateWithLogs(context.Background(), "PRODUCT", map[string]any{"price": "9"})
	require.Error(t, err)
	require.NotEmpty(t, trace)

	byField := make(map[string]validate.FieldTrace)
	for _, ft := range trace {
		byField[ft.Field] = ft
	}
	assert.Equal(t, validate.ActionMissing, byField["name"].Action)
	assert.Equal(t, validate.ActionCoerced, byField["price"].Action)
	assert.Equal(t, 9.0, byField["price"].Coerced)
}

func TestCreate_AllowedFields(t *testing.T) {
	db := newTestDB(t, Config{})

	w, err := db.Create(context.Background(), "PRODUCT",
		map[string]any{"name": "Lamp", "price": 99},
		WithAllowedFields("name"),
	)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w.Record["price"])
	assert.Equal(t, []string{"price"}, w.Report.Skipped)
}

func TestCreate_IDsNeverReused(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 3; i++ {
		rec := mustCreate(t, db, "CATEGORY", map[string]any{})
		assert.False(t, seen[rec.ID()])
		seen[rec.ID()] = true
	}

	_, err := db.Remove(ctx, "CATEGORY", 3)
	require.NoError(t, err)

	rec := mustCreate(t, db, "CATEGORY", map[string]any{})
	assert.Equal(t, int64(4), rec.ID())
}

func TestRemove_ThenReadFails(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	created := mustCreate(t, db, "CATEGORY", map[string]any{"name": "Tools"})

	removed, err := db.Remove(ctx, "CATEGORY", created.ID())
	require.NoError(t, err)
	assert.Equal(t, created, removed)

	_, err = db.Read(ctx, "CATEGORY", created.ID())
	assert.True(t, IsNotFound(err))

	hist, err := db.ReadHistory(ctx, "CATEGORY", created.ID())
	require.NoError(t, err)
	assert.Equal(t, created, hist)

	_, err = db.Remove(ctx, "CATEGORY", created.ID())
	assert.True(t, IsNotFound(err))
}

func TestRemove_HistoryFailureKeepsRecord(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	created := mustCreate(t, db, "CATEGORY", map[string]any{"name": "Tools"})
	_, err := db.Store().DB().Exec(`
		CREATE TRIGGER fail_history BEFORE INSERT ON sheet_rows
		WHEN NEW.sheet = 'CATEGORY_HISTORY'
		BEGIN SELECT RAISE(ABORT, 'history unavailable'); END
	`)
	require.NoError(t, err)

	_, err = db.Remove(ctx, "CATEGORY", created.ID())
	require.Error(t, err)

	rec, err := db.Read(ctx, "CATEGORY", created.ID())
	require.NoError(t, err)
	assert.Equal(t, "Tools", rec["name"])
}

func TestRestore(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	created := mustCreate(t, db, "CATEGORY", map[string]any{"name": "Tools"})
	_, err := db.Remove(ctx, "CATEGORY", created.ID())
	require.NoError(t, err)

	restored, err := db.Restore(ctx, "CATEGORY", created.ID())
	require.NoError(t, err)
	assert.Equal(t, created, restored)

	_, err = db.ReadHistory(ctx, "CATEGORY", created.ID())
	assert.True(t, IsNotFound(err))

	_, err = db.Restore(ctx, "CATEGORY", 42)
	assert.True(t, IsNotFound(err))
}

func TestReadIDList(t *testing.T) {
	db := newTestDB(t, Config{})

	for _, name := range []string{"a", "b", "c"} {
		mustCreate(t, db, "CATEGORY", map[string]any{"name": name})
	}

	list, err := db.ReadIDList(context.Background(), "CATEGORY", []int64{3, 9, 1, 7})
	require.NoError(t, err)

	require.Len(t, list.Data, 2)
	assert.Equal(t, int64(3), list.Data[0].ID())
	assert.Equal(t, int64(1), list.Data[1].ID())
	assert.Equal(t, []int64{9, 7}, list.NotFound)

	empty, err := db.ReadIDList(context.Background(), "CATEGORY", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty.Data)
	assert.NotNil(t, empty.NotFound)
}

func TestUpdate_Partial(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	created := mustCreate(t, db, "PRODUCT", map[string]any{"name": "Lamp", "price": 10})

	w, err := db.Update(ctx, "PRODUCT", created.ID(), map[string]any{"price": "15"})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", w.Record["name"])
	assert.Equal(t, 15.0, w.Record["price"])

	rec, err := db.Read(ctx, "PRODUCT", created.ID())
	require.NoError(t, err)
	assert.Equal(t, w.Record, rec)
}

func TestUpdate_NotFoundAndInvalid(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	_, err := db.Update(ctx, "PRODUCT", 5, map[string]any{"price": 1})
	assert.True(t, IsNotFound(err))

	created := mustCreate(t, db, "PRODUCT", map[string]any{"name": "Lamp"})
	_, err = db.Update(ctx, "PRODUCT", created.ID(), map[string]any{"name": nil})
	require.NoError(t, err, "name allows null")

	_, trace, err := db.UpdateWithLogs(ctx, "PRODUCT", created.ID(), map[string]any{"name": []int{1}})
	assert.True(t, IsValidation(err))
	assert.NotEmpty(t, trace)
}

func TestUpdate_ConcurrentNoLostUpdate(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	created := mustCreate(t, db, "PRODUCT", map[string]any{"name": "start", "price": 0})
	patches := []map[string]any{
		{"name": "a", "price": 1},
		{"name": "b", "price": 2},
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for _, p := range patches {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := db.Update(ctx, "PRODUCT", created.ID(), p)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	rec, err := db.Read(ctx, "PRODUCT", created.ID())
	require.NoError(t, err)
	final := [2]any{rec["name"], rec["price"]}
	assert.Contains(t, [][2]any{{"a", 1.0}, {"b", 2.0}}, final)
}

func TestConcurrentCreates_UniqueIDs(t *testing.T) {
	db := newTestDB(t, Config{})
	ctx := context.Background()

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := db.Create(ctx, "CATEGORY", map[string]any{})
			if assert.NoError(t, err) {
				ids <- w.Record.ID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestWrite_LockTimeout(t *testing.T) {
	db := newTestDB(t, Config{LockTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = db.guard.Do(ctx, "CATEGORY", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	_, err := db.Create(ctx, "CATEGORY", map[string]any{})
	require.Error(t, err)
	assert.True(t, IsLockTimeout(err))
	code, _ := CodeOf(err)
	assert.Equal(t, ErrCodeLockTimeout, code)

	// other tables are unaffected
	_, err = db.Create(ctx, "ORDER", map[string]any{"customer": "ann"})
	assert.NoError(t, err)

	close(release)

	// the caller retries once the lock is free
	_, err = db.Create(ctx, "CATEGORY", map[string]any{})
	assert.NoError(t, err)
}

type recordingBackend struct {
	mu       sync.Mutex
	counters []metrics.Labels
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name != metrics.OperationsTotal {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, labels)
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels metrics.Labels) {}

func TestMetrics_OperationStatus(t *testing.T) {
	rb := &recordingBackend{}
	db := newTestDB(t, Config{Metrics: rb})
	ctx := context.Background()

	mustCreate(t, db, "CATEGORY", map[string]any{})
	_, err := db.Read(ctx, "CATEGORY", 99)
	require.Error(t, err)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	require.Len(t, rb.counters, 2)
	assert.Equal(t, metrics.Labels{"table": "CATEGORY", "op": "create", "status": "success"}, rb.counters[0])
	assert.Equal(t, metrics.Labels{"table": "CATEGORY", "op": "read", "status": "not_found"}, rb.counters[1])
}

func TestErrorHelpers(t *testing.T) {
	err := newNotFoundError("T", 4, nil)
	wrapped := errors.Join(errors.New("context"), err)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.Equal(t, "NOT_FOUND: record 4 not found (table=T, id=4)", err.Error())

	q := newInvalidQueryError("T", "bad", nil)
	assert.Equal(t, "INVALID_QUERY: bad (table=T)", q.Error())
	assert.True(t, IsInvalidQuery(q))
}
