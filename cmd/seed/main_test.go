package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
	userrepo "github.com/akshithakatte/AgriConnect/internal/user/repository"
)

func TestEnsureUser_Idempotent(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewMemoryRepository()
	s := seedUser{phone: "+91 90000 00001", name: "NGO Admin", role: userdomain.RoleNGOAdmin}

	created, err := ensureUser(ctx, users, s)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ensureUser(ctx, users, s)
	require.NoError(t, err)
	assert.False(t, created)

	u, err := users.GetByPhone(ctx, "+919000000001")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, userdomain.RoleNGOAdmin, u.Role)
	assert.True(t, u.Active)
	assert.Equal(t, "en", u.Language)
}

func TestEnsureUser_InvalidPhone(t *testing.T) {
	_, err := ensureUser(context.Background(), userrepo.NewMemoryRepository(), seedUser{phone: "abc", role: userdomain.RoleExpert})
	assert.Error(t, err)
}
