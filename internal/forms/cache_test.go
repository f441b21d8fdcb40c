package forms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffport/api/internal/store"
)

func TestCacheUpdatePatchesRowAndSigner(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{
		{
			ID:     1,
			Status: StatusSent,
			Signers: []store.SubmissionSigner{
				{Email: "a@example.com", Status: StatusSent},
				{Email: "b@example.com", Status: StatusSent},
			},
		},
	}, 0)

	now := time.Now()
	ok := cache.Update(1, Patch{Status: StatusOpened, OpenedAt: &now}, "a@example.com")
	require.True(t, ok)

	rows, _ := cache.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, StatusOpened, rows[0].Status)
	assert.Equal(t, StatusOpened, rows[0].Signers[0].Status)
	// only the named signer is patched
	assert.Equal(t, StatusSent, rows[0].Signers[1].Status)
}

func TestCacheUpdateUnknownIDIsNoOp(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{{ID: 1, Status: StatusSent}}, 0)
	before := cache.Version()

	ok := cache.Update(99, Patch{Status: StatusCompleted}, "")
	assert.False(t, ok)
	assert.Equal(t, before, cache.Version())
}

func TestCacheSnapshotIsACopy(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{
		{ID: 1, Status: StatusSent, Signers: []store.SubmissionSigner{{Email: "a@example.com"}}},
	}, 0)

	rows, _ := cache.Snapshot()
	rows[0].Status = StatusCompleted
	rows[0].Signers[0].Email = "mutated@example.com"

	fresh, _ := cache.Snapshot()
	assert.Equal(t, StatusSent, fresh[0].Status)
	assert.Equal(t, "a@example.com", fresh[0].Signers[0].Email)
}

func TestCacheUpsertReplacesByID(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{{ID: 1, TemplateID: "tpl_1", Status: StatusSent}}, 0)

	cache.Upsert(store.FormSubmission{ID: 1, TemplateID: "tpl_1", Status: StatusCompleted})

	rows, _ := cache.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, StatusCompleted, rows[0].Status)
}

func TestCacheUpsertReplacesByTemplateID(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{{ID: 1, TemplateID: "tpl_1", Status: StatusSent}}, 0)

	cache.Upsert(store.FormSubmission{ID: 2, TemplateID: "tpl_1", Status: StatusSent})

	rows, _ := cache.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)
}

func TestCacheUpsertPrependsNewRow(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{{ID: 1, TemplateID: "tpl_1", Status: StatusSent}}, 0)

	cache.Upsert(store.FormSubmission{ID: 2, TemplateID: "tpl_2", Status: StatusSent})

	rows, _ := cache.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)
}

func TestCacheReconcileRejectsStaleList(t *testing.T) {
	cache := NewCache()
	cache.Reconcile([]store.FormSubmission{{ID: 1, Status: StatusSent}}, 0)

	// Take a snapshot, then let an optimistic write land before the
	// reconcile based on that snapshot arrives.
	_, version := cache.Snapshot()
	cache.Update(1, Patch{Status: StatusCompleted}, "")

	accepted := cache.Reconcile([]store.FormSubmission{{ID: 1, Status: StatusSent}}, version)
	assert.False(t, accepted)

	rows, _ := cache.Snapshot()
	assert.Equal(t, StatusCompleted, rows[0].Status)
}

func TestCacheReconcileAcceptsCurrentList(t *testing.T) {
	cache := NewCache()
	_, version := cache.Snapshot()

	accepted := cache.Reconcile([]store.FormSubmission{{ID: 7, Status: StatusSent}}, version)
	require.True(t, accepted)

	rows, _ := cache.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].ID)
}
