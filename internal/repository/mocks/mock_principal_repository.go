package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"securedocs/internal/model"
)

type MockPrincipalRepository struct {
	mock.Mock
}

func (m *MockPrincipalRepository) FindByID(ctx context.Context, id int64) (*model.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *MockPrincipalRepository) FindCredentials(ctx context.Context, username string) (*model.Credentials, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credentials), args.Error(1)
}

func (m *MockPrincipalRepository) Create(ctx context.Context, p *model.Principal, passwordHash string) (*model.Principal, error) {
	args := m.Called(ctx, p, passwordHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *MockPrincipalRepository) EnsureGroup(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}
