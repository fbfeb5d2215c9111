package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/testutil"
)

func names(page *Page) []string {
	out := make([]string, len(page.Data))
	for i, rec := range page.Data {
		out[i], _ = rec["name"].(string)
	}
	return out
}

func TestGetAll_DefaultInsertionOrder(t *testing.T) {
	db := newTestDB(t, Config{})
	seedShop(t, db)

	page, err := db.GetAll(context.Background(), "PRODUCT", query.Options{}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Lamp", "Bulb", "Chair"}, names(page))
	assert.Equal(t, query.Metadata{Total: 3, Page: 1, PageSize: 3, PageCount: 1}, page.Metadata)
	assert.False(t, page.Cached)
}

func TestGetAll_SortAndPage(t *testing.T) {
	db := newTestDB(t, Config{})
	seedShop(t, db)
	mustCreate(t, db, "PRODUCT", map[string]any{"name": "Desk", "price": 250})

	page, err := db.GetAll(context.Background(), "PRODUCT", query.Options{
		Page:      1,
		PageSize:  2,
		SortBy:    "price",
		SortOrder: query.Desc,
	}, false)
	require.NoError(t, err)

	// 250 before 80: numeric, not lexicographic
	assert.Equal(t, []string{"Desk", "Chair"}, names(page))
	assert.Equal(t, query.Metadata{Total: 4, Page: 1, PageSize: 2, PageCount: 2}, page.Metadata)
}

func TestGetAll_InvalidOptions(t *testing.T) {
	db := newTestDB(t, Config{})

	_, err := db.GetAll(context.Background(), "PRODUCT", query.Options{SortBy: "colour"}, false)
	assert.True(t, IsInvalidQuery(err))

	_, err = db.GetAll(context.Background(), "PRODUCT", query.Options{PageSize: -3}, true)
	assert.True(t, IsInvalidQuery(err))
}

func TestGetAll_CacheHitAndInvalidation(t *testing.T) {
	db := newTestDB(t, Config{})
	seedShop(t, db)
	ctx := context.Background()

	first, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.False(t, first.Cached, "cached flag is per response")

	// a different options object is a different entry
	paged, err := db.GetAll(ctx, "PRODUCT", query.Options{PageSize: 1}, true)
	require.NoError(t, err)
	assert.False(t, paged.Cached)

	// writes to another table leave the entry alone
	mustCreate(t, db, "CATEGORY", map[string]any{})
	again, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.True(t, again.Cached)

	mustCreate(t, db, "PRODUCT", map[string]any{"name": "Desk"})
	fresh, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.Equal(t, []string{"Lamp", "Bulb", "Chair", "Desk"}, names(fresh))
}

func TestGetAll_CacheEquivalentOptions(t *testing.T) {
	db := newTestDB(t, Config{})
	seedShop(t, db)
	ctx := context.Background()

	_, err := db.GetAll(ctx, "PRODUCT", query.Options{SortBy: "name"}, true)
	require.NoError(t, err)

	// normalizes to the same options
	page, err := db.GetAll(ctx, "PRODUCT", query.Options{SortBy: "name", SortOrder: "ASC"}, true)
	require.NoError(t, err)
	assert.True(t, page.Cached)
}

func TestGetAll_CacheExpires(t *testing.T) {
	clock := testutil.NewManualClock(time.Time{})
	db := newTestDB(t, Config{CacheTTL: 30 * time.Second, CacheClock: clock})
	seedShop(t, db)
	ctx := context.Background()

	_, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	page, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.True(t, page.Cached)

	clock.Advance(time.Second)
	page, err = db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)
	assert.False(t, page.Cached)
}

func TestGetAll_WithoutCacheAlwaysScans(t *testing.T) {
	db := newTestDB(t, Config{})
	seedShop(t, db)
	ctx := context.Background()

	_, err := db.GetAll(ctx, "PRODUCT", query.Options{}, true)
	require.NoError(t, err)

	page, err := db.GetAll(ctx, "PRODUCT", query.Options{}, false)
	require.NoError(t, err)
	assert.False(t, page.Cached)
}
