package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"securedocs/internal/model"
	"securedocs/internal/repository/mocks"
)

func TestCreateUser(t *testing.T) {
	repo := new(mocks.MockPrincipalRepository)
	repo.On("EnsureGroup", mock.Anything, "finance").Return(int64(3), nil).Once()
	repo.On("EnsureGroup", mock.Anything, "legal").Return(int64(8), nil).Once()

	var storedHash string
	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Principal) bool {
		return p.Username == "alice" && p.Email == "alice@example.com" &&
			!p.IsStaff && p.IsActive && assert.ObjectsAreEqual([]int64{3, 8}, p.Groups)
	}), mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { storedHash = args.String(2) }).
		Return(&model.Principal{ID: 11, Username: "alice"}, nil).Once()

	p, password, err := createUser(context.Background(), repo, options{
		username: " alice ",
		email:    "alice@example.com",
		groups:   []string{"finance", " ", "legal"},
		length:   16,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.ID)
	assert.Len(t, password, 16)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)))
	repo.AssertExpectations(t)
}

func TestCreateUser_Errors(t *testing.T) {
	t.Run("missing username", func(t *testing.T) {
		repo := new(mocks.MockPrincipalRepository)
		_, _, err := createUser(context.Background(), repo, options{username: "  "})
		assert.Error(t, err)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("group failure", func(t *testing.T) {
		repo := new(mocks.MockPrincipalRepository)
		repo.On("EnsureGroup", mock.Anything, "ops").Return(int64(0), errors.New("db down")).Once()

		_, _, err := createUser(context.Background(), repo, options{username: "bob", groups: []string{"ops"}})
		assert.ErrorContains(t, err, `group "ops"`)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate user", func(t *testing.T) {
		repo := new(mocks.MockPrincipalRepository)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unique violation")).Once()

		_, _, err := createUser(context.Background(), repo, options{username: "bob"})
		assert.ErrorContains(t, err, "create user")
	})
}

func TestNewCommandFlags(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-u", "carol", "--staff", "-g", "a,b", "-g", "c"}))

	staff, err := cmd.Flags().GetBool("staff")
	require.NoError(t, err)
	assert.True(t, staff)

	groups, err := cmd.Flags().GetStringSlice("group")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, groups)

	length, err := cmd.Flags().GetInt("password-length")
	require.NoError(t, err)
	assert.Equal(t, 12, length)
}
