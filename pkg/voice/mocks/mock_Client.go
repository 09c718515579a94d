// Package mocks provides test doubles for the voice client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	voice "github.com/sells-group/outreach-cli/pkg/voice"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// CreateCall provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateCall(ctx context.Context, req voice.CreateCallRequest) (*voice.Call, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateCall")
	}

	var r0 *voice.Call
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, voice.CreateCallRequest) (*voice.Call, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*voice.Call)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetCall provides a mock function with given fields: ctx, id
func (_m *MockClient) GetCall(ctx context.Context, id string) (*voice.Call, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetCall")
	}

	var r0 *voice.Call
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*voice.Call, error)); ok {
		return rf(ctx, id)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*voice.Call)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
