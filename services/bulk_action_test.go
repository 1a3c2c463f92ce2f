package services

import (
	"context"
	"testing"

	"contact_flow_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestValidateBulkAction(t *testing.T) {
	tests := []struct {
		name    string
		action  BulkAction
		wantErr error
	}{
		{"Mark ready", BulkAction{FormName: FormBulk, Action: ActionMarkReady, IDs: []uint{1}}, nil},
		{"Soft delete", BulkAction{FormName: FormBulk, Action: ActionDelete, IDs: []uint{1}}, nil},
		{"Restore", BulkAction{FormName: FormTrash, Action: ActionRestore, IDs: []uint{1}}, nil},
		{"Purge selection", BulkAction{FormName: FormTrash, Action: ActionDelete, IDs: []uint{1}}, nil},
		{"Empty trash without selection", BulkAction{FormName: FormTrash, Action: ActionEmpty}, nil},
		{"Empty selection", BulkAction{FormName: FormBulk, Action: ActionMarkNew}, ErrEmptySelection},
		{"Restore without selection", BulkAction{FormName: FormTrash, Action: ActionRestore}, ErrEmptySelection},
		{"Purge without selection", BulkAction{FormName: FormTrash, Action: ActionDelete}, ErrEmptySelection},
		{"Restore on bulk form", BulkAction{FormName: FormBulk, Action: ActionRestore, IDs: []uint{1}}, ErrInvalidAction},
		{"Empty on bulk form", BulkAction{FormName: FormBulk, Action: ActionEmpty}, ErrInvalidAction},
		{"Status on trash form", BulkAction{FormName: FormTrash, Action: ActionMarkReady, IDs: []uint{1}}, ErrInvalidAction},
		{"Unknown form", BulkAction{FormName: "email", Action: ActionDelete, IDs: []uint{1}}, ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBulkAction(tt.action)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestBulkMarkReadySkipsTrashed(t *testing.T) {
	db := setupTestDB(t)
	tokens := newTestTokens()
	admin := seedStaff(t, db, models.RoleAdmin, nil)

	r3, _ := seedRequest(t, db, tokens, nil)
	r5, _ := seedRequest(t, db, tokens, func(r *models.Request) { r.IsDeleted = true })
	r9, _ := seedRequest(t, db, tokens, func(r *models.Request) { r.Status = models.StatusInProgress })

	result, err := ProcessBulkAction(context.Background(), db, nil, admin, BulkAction{
		FormName: FormBulk,
		Action:   ActionMarkReady,
		IDs:      []uint{r3.ID, r5.ID, r9.ID, r3.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{r3.ID, r9.ID}, result.Affected)

	for _, id := range []uint{r3.ID, r9.ID} {
		got, err := GetRequest(db, id, false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReady, got.Status)

		activities, err := RequestActivities(db, id, false)
		require.NoError(t, err)
		require.Len(t, activities, 1)
		assert.Equal(t, models.ActivityStatusChange, activities[0].Type)
		assert.Equal(t, "ready", activities[0].Meta["to"])
	}
	assert.Equal(t, "in_progress", mustActivities(t, db, r9.ID)[0].Meta["from"])

	untouched, err := GetRequest(db, r5.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, untouched.Status)
	assert.Empty(t, mustActivities(t, db, r5.ID))

	// one audit row per affected request
	assert.Equal(t, int64(2), countRows(t, db, &models.AuditLog{}, "action = ?", models.AuditActionStatusChange))
	assert.Zero(t, countRows(t, db, &models.AuditLog{}, "request_id = ?", r5.ID))

	// running it again changes nothing and logs nothing
	result, err = ProcessBulkAction(context.Background(), db, nil, admin, BulkAction{
		FormName: FormBulk, Action: ActionMarkReady, IDs: []uint{r3.ID, r9.ID},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Affected)
	assert.Equal(t, int64(2), countRows(t, db, &models.AuditLog{}, "action = ?", models.AuditActionStatusChange))
}

func TestBulkTrashLifecycle(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	admin := seedStaff(t, db, models.RoleAdmin, nil)
	ctx := context.Background()

	a, _ := seedRequest(t, db, svc.Tokens, nil)
	b, _ := seedRequest(t, db, svc.Tokens, nil)
	c, _ := seedRequest(t, db, svc.Tokens, nil)

	_, err := svc.StaffUpdateRequest(ctx, admin, c.ID, StaffUpdate{},
		[]*Upload{newUpload("c.pdf", "application/pdf", []byte("%PDF"))})
	require.NoError(t, err)
	var keys []string
	require.NoError(t, db.Model(&models.Attachment{}).Where("request_id = ?", c.ID).Pluck("storage_key", &keys).Error)
	require.Len(t, keys, 1)

	result, err := ProcessBulkAction(ctx, db, svc.Storage, admin, BulkAction{FormName: FormBulk, Action: ActionDelete, IDs: []uint{a.ID, b.ID, c.ID}})
	require.NoError(t, err)
	assert.Len(t, result.Affected, 3)

	result, err = ProcessBulkAction(ctx, db, svc.Storage, admin, BulkAction{FormName: FormTrash, Action: ActionRestore, IDs: []uint{a.ID}})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID}, result.Affected)

	result, err = ProcessBulkAction(ctx, db, svc.Storage, admin, BulkAction{FormName: FormTrash, Action: ActionDelete, IDs: []uint{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, result.Affected, "restored requests are not purged")

	result, err = ProcessBulkAction(ctx, db, svc.Storage, admin, BulkAction{FormName: FormTrash, Action: ActionEmpty})
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID}, result.Affected)

	exists, err := svc.Storage.Exists(ctx, keys[0])
	require.NoError(t, err)
	assert.False(t, exists, "attachment objects are removed after purge")

	var remaining []uint
	require.NoError(t, db.Model(&models.Request{}).Pluck("id", &remaining).Error)
	assert.Equal(t, []uint{a.ID}, remaining)

	assert.Equal(t, int64(3), countRows(t, db, &models.AuditLog{}, "action = ?", models.AuditActionDelete))
	assert.Equal(t, int64(2), countRows(t, db, &models.AuditLog{}, "action = ?", models.AuditActionPurge))
}

func TestBulkActionRequiresAdmin(t *testing.T) {
	db := setupTestDB(t)
	dept := seedDepartment(t, db, "Cert")
	employee := seedStaff(t, db, models.RoleEmployee, &dept.ID)

	_, err := ProcessBulkAction(context.Background(), db, nil, employee, BulkAction{FormName: FormTrash, Action: ActionEmpty})
	assert.ErrorIs(t, err, ErrForbidden)

	admin := seedStaff(t, db, models.RoleAdmin, nil)
	_, err = ProcessBulkAction(context.Background(), db, nil, admin, BulkAction{FormName: FormBulk, Action: ActionMarkReady})
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func mustActivities(t *testing.T, db *gorm.DB, id uint) []models.Activity {
	t.Helper()
	activities, err := RequestActivities(db, id, false)
	require.NoError(t, err)
	return activities
}
