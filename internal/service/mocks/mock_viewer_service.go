package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"securedocs/internal/model"
	"securedocs/internal/service"
)

type MockViewerService struct {
	mock.Mock
}

func (m *MockViewerService) Open(ctx context.Context, p *model.Principal, docID int64) (*service.DocumentHandle, error) {
	args := m.Called(ctx, p, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentHandle), args.Error(1)
}

func (m *MockViewerService) Page(ctx context.Context, p *model.Principal, docID int64, pageNo int) (*service.PageImage, error) {
	args := m.Called(ctx, p, docID, pageNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PageImage), args.Error(1)
}
