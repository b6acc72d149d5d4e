package wsdispatcher

import (
	"context"

	"github.com/gbdevw/gowsengine/wscodec"
	"github.com/stretchr/testify/mock"
)

// Mock for Service
type ServiceMock struct {
	mock.Mock
}

// Factory
func NewServiceMock() *ServiceMock {
	return &ServiceMock{
		Mock: mock.Mock{},
	}
}

// Mocked Call method. Expectations must provide a wscodec.Message and an error.
func (mock *ServiceMock) Call(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
	args := mock.Called(ctx, frame)
	return args.Get(0).(wscodec.Message), args.Error(1)
}
