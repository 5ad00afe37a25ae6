package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"mogakjak-gateway/internal/models"
)

type SupplierMock struct {
	mock.Mock
}

func (m *SupplierMock) Token(ctx context.Context) (string, bool) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1)
}

type GroupDataSourceMock struct {
	mock.Mock
}

func (m *GroupDataSourceMock) GroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	args := m.Called(ctx, groupID)
	var members []models.GroupMember
	if val := args.Get(0); val != nil {
		members = val.([]models.GroupMember)
	}
	return members, args.Error(1)
}

type GroupMembersClientMock struct {
	mock.Mock
}

func (m *GroupMembersClientMock) GetGroupMembers(ctx context.Context, token, groupID string) ([]models.GroupMember, error) {
	args := m.Called(ctx, token, groupID)
	var members []models.GroupMember
	if val := args.Get(0); val != nil {
		members = val.([]models.GroupMember)
	}
	return members, args.Error(1)
}
