package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_SetPassword(t *testing.T) {
	u := &User{}
	err := u.SetPassword("password123")
	assert.NoError(t, err)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "password123", u.PasswordHash)
}

func TestUser_CheckPassword(t *testing.T) {
	u := &User{}
	_ = u.SetPassword("password123")

	assert.True(t, u.CheckPassword("password123"))
	assert.False(t, u.CheckPassword("wrongpassword"))
}

func TestUser_Roles(t *testing.T) {
	owner := &User{Role: RoleOwner}
	mod := &User{Role: RoleModerator}
	member := &User{Role: RoleUser}

	assert.True(t, owner.IsOwner())
	assert.True(t, owner.IsPrivileged())
	assert.False(t, mod.IsOwner())
	assert.True(t, mod.IsPrivileged())
	assert.False(t, member.IsPrivileged())
	assert.False(t, IsPrivilegedRole(""))
}
