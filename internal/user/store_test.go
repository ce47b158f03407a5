package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/model"
	"github.com/d9705996/helpdesk/internal/testutil"
	"github.com/d9705996/helpdesk/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	org := testutil.CreateOrganisation(t, gdb, "Acme Corp")
	s := user.NewStore(gdb)

	u := &model.User{Name: "Alice", Email: "alice@acme.com", PasswordHash: "h", Role: model.RoleUser, OrganisationID: org.ID}
	require.NoError(t, s.Create(ctx, u))
	require.NotZero(t, u.ID)

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@acme.com", byID.Email)

	byEmail, err := s.FindByEmail(ctx, "alice@acme.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	exists, err := s.EmailExists(ctx, "alice@acme.com")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_CreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	org := testutil.CreateOrganisation(t, gdb, "Acme Corp")
	s := user.NewStore(gdb)

	require.NoError(t, s.Create(ctx, &model.User{Name: "A", Email: "dup@acme.com", PasswordHash: "h", Role: model.RoleUser, OrganisationID: org.ID}))
	err := s.Create(ctx, &model.User{Name: "B", Email: "dup@acme.com", PasswordHash: "h", Role: model.RoleUser, OrganisationID: org.ID})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(testutil.NewDB(t))

	_, err := s.FindByID(ctx, 42)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = s.FindByEmail(ctx, "nobody@acme.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(s.UpdatePassword(ctx, 42, "h")))
}

func TestStore_Updates(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	org := testutil.CreateOrganisation(t, gdb, "Acme Corp")
	u := testutil.CreateUser(t, gdb, "carol@acme.com", model.RoleUser, org.ID)
	s := user.NewStore(gdb)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastLogin(ctx, u.ID, at))
	require.NoError(t, s.UpdatePassword(ctx, u.ID, "new-hash"))

	updated, err := s.UpdateRole(ctx, u.ID, model.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, updated.Role)
	assert.Equal(t, "new-hash", updated.PasswordHash)
	require.NotNil(t, updated.LastLoginAt)
	assert.True(t, at.Equal(*updated.LastLoginAt))
}

func TestStore_Organisations(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	globex := testutil.CreateOrganisation(t, gdb, "Globex Inc")
	testutil.CreateOrganisation(t, gdb, "Acme Corp")
	s := user.NewStore(gdb)

	orgs, err := s.ListOrganisations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Acme Corp", orgs[0].Name)

	ok, err := s.OrganisationExists(ctx, globex.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.OrganisationExists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}
