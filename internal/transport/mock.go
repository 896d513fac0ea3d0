package transport

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hearthhq/hearth/internal/models"
)

// MockTransport mocks the Transport interface for tests.
type MockTransport struct {
	mock.Mock
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) SendBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchResponse, error) {
	args := m.Called(ctx, req)

	if result := args.Get(0); result != nil {
		return result.(*models.BatchResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransport) SetToken(token string) {
	m.Called(token)
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}
