package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// setupQueueTestDB creates a test database and returns cleanup function
func setupQueueTestDB(t *testing.T) (*QueueStorage, func()) {
	dbPath := t.TempDir() + "/test.db"

	logger := arbor.NewLogger()
	db, err := NewSQLiteDB(logger, dbPath)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return NewQueueStorage(db, logger), cleanup
}

func TestQueueStorage_EnqueueAndGet(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id, err := queue.Enqueue(ctx, "site_a", models.CheckTypeVisual, models.PriorityManual, "dashboard")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	item, err := queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "site_a", item.WebsiteID)
	assert.Equal(t, models.CheckTypeVisual, item.CheckType)
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, models.PriorityManual, item.Priority)
	assert.Equal(t, "dashboard", item.RequestedBy)
	assert.False(t, item.CreatedAt.IsZero())
	assert.Nil(t, item.StartedAt)
	assert.Nil(t, item.CompletedAt)
}

func TestQueueStorage_EnqueueInvalidType(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()

	_, err := queue.Enqueue(context.Background(), "site_a", models.CheckType("bogus"), models.PriorityManual, "")
	assert.Error(t, err)
}

func TestQueueStorage_DuplicateSubmission(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "alice")
	require.NoError(t, err)

	// Second submission for the same (website, check_type) returns the
	// live row instead of creating another
	second, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "bob")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	pending, err := queue.ListPending(ctx, "site_a")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// A different check type for the same site is its own slot
	third, err := queue.Enqueue(ctx, "site_a", models.CheckTypeVisual, models.PriorityManual, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	// Once the first is terminal the slot reopens
	require.NoError(t, queue.UpdateStatus(ctx, first, models.QueueStatusProcessing, "", ""))
	require.NoError(t, queue.UpdateStatus(ctx, first, models.QueueStatusCompleted, "", ""))

	fourth, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, fourth)
}

func TestQueueStorage_PriorityOrdering(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Manual submissions beat an older scheduled one; within a priority
	// class submission order wins
	w1, err := queue.Enqueue(ctx, "site_w1", models.CheckTypeFull, models.PriorityManual, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	w3, err := queue.Enqueue(ctx, "site_w3", models.CheckTypeFull, models.PriorityScheduled, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	w2, err := queue.Enqueue(ctx, "site_w2", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)

	expected := []string{w1, w2, w3}
	for _, want := range expected {
		item, err := queue.DequeueNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)

		require.NoError(t, queue.UpdateStatus(ctx, item.ID, models.QueueStatusProcessing, "", ""))
		require.NoError(t, queue.UpdateStatus(ctx, item.ID, models.QueueStatusCompleted, "", ""))
	}

	_, err = queue.DequeueNext(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestQueueStorage_StatusTransitions(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id, err := queue.Enqueue(ctx, "site_a", models.CheckTypeBlur, models.PriorityManual, "")
	require.NoError(t, err)

	// Completing a pending item skips processing and is illegal
	err = queue.UpdateStatus(ctx, id, models.QueueStatusCompleted, "", "")
	assert.Error(t, err)

	require.NoError(t, queue.UpdateStatus(ctx, id, models.QueueStatusProcessing, "", ""))
	item, err := queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusProcessing, item.Status)
	require.NotNil(t, item.StartedAt)

	require.NoError(t, queue.UpdateStatus(ctx, id, models.QueueStatusCompleted, "", `{"status":"completed"}`))
	item, err = queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, item.Status)
	require.NotNil(t, item.CompletedAt)
	assert.True(t, !item.CompletedAt.Before(*item.StartedAt))
	assert.Equal(t, `{"status":"completed"}`, item.ResultPayload)

	// Terminal rows never transition again
	err = queue.UpdateStatus(ctx, id, models.QueueStatusProcessing, "", "")
	assert.Error(t, err)

	// Failing requires a user-visible message
	fid, err := queue.Enqueue(ctx, "site_b", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)
	err = queue.UpdateStatus(ctx, fid, models.QueueStatusFailed, "", "")
	assert.Error(t, err)

	// Failing straight from pending is allowed (website vanished)
	require.NoError(t, queue.UpdateStatus(ctx, fid, models.QueueStatusFailed, "Website no longer exists.", ""))
	item, err = queue.Get(ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, item.Status)
	assert.Equal(t, "Website no longer exists.", item.ErrorMessage)
	require.NotNil(t, item.CompletedAt)

	// Unknown item
	err = queue.UpdateStatus(ctx, "chk_missing", models.QueueStatusProcessing, "", "")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestQueueStorage_ListPending(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = queue.Enqueue(ctx, "site_b", models.CheckTypeVisual, models.PriorityScheduled, "")
	require.NoError(t, err)

	require.NoError(t, queue.UpdateStatus(ctx, a, models.QueueStatusProcessing, "", ""))

	// Both live rows are listed, manual first
	items, err := queue.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "site_a", items[0].WebsiteID)
	assert.Equal(t, models.QueueStatusProcessing, items[0].Status)

	// Per-website narrowing
	items, err = queue.ListPending(ctx, "site_b")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "site_b", items[0].WebsiteID)

	// Terminal rows fall out of the listing
	require.NoError(t, queue.UpdateStatus(ctx, a, models.QueueStatusCompleted, "", ""))
	items, err = queue.ListPending(ctx, "site_a")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueStorage_Prune(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	done, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)
	require.NoError(t, queue.UpdateStatus(ctx, done, models.QueueStatusProcessing, "", ""))
	require.NoError(t, queue.UpdateStatus(ctx, done, models.QueueStatusCompleted, "", ""))

	live, err := queue.Enqueue(ctx, "site_b", models.CheckTypeVisual, models.PriorityManual, "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	removed, err := queue.Prune(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = queue.Get(ctx, done)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Live rows are never pruned regardless of age
	_, err = queue.Get(ctx, live)
	assert.NoError(t, err)
}

func TestQueueStorage_ClearActive(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "site_a", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)
	b, err := queue.Enqueue(ctx, "site_b", models.CheckTypeVisual, models.PriorityManual, "")
	require.NoError(t, err)
	require.NoError(t, queue.UpdateStatus(ctx, b, models.QueueStatusProcessing, "", ""))

	done, err := queue.Enqueue(ctx, "site_c", models.CheckTypeBlur, models.PriorityManual, "")
	require.NoError(t, err)
	require.NoError(t, queue.UpdateStatus(ctx, done, models.QueueStatusProcessing, "", ""))
	require.NoError(t, queue.UpdateStatus(ctx, done, models.QueueStatusCompleted, "", ""))

	removed, err := queue.ClearActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The terminal row survives
	_, err = queue.Get(ctx, done)
	assert.NoError(t, err)
}

func TestQueueStorage_DeleteByWebsite(t *testing.T) {
	queue, cleanup := setupQueueTestDB(t)
	defer cleanup()
	ctx := context.Background()

	doomed, err := queue.Enqueue(ctx, "site_doomed", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)
	other, err := queue.Enqueue(ctx, "site_other", models.CheckTypeCrawl, models.PriorityManual, "")
	require.NoError(t, err)

	require.NoError(t, queue.DeleteByWebsite(ctx, "site_doomed"))

	_, err = queue.Get(ctx, doomed)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = queue.Get(ctx, other)
	assert.NoError(t, err)
}
