package runtime

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	status  error
	started bool
	stopped bool
}

type secondMockService struct {
	status error
}

func (m *mockService) Start() {
	m.started = true
}

func (m *mockService) Stop() error {
	m.stopped = true
	return nil
}

func (m *mockService) Status() error {
	return m.status
}

func (_ *secondMockService) Start() {
}

func (_ *secondMockService) Stop() error {
	return nil
}

func (s *secondMockService) Status() error {
	return s.status
}

func TestRegisterService_Twice(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m), "failed to register first service")
	require.Len(t, registry.serviceTypes, 1)

	err := registry.RegisterService(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service already exists")
}

func TestRegisterService_Different(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(m), "failed to register first service")
	require.NoError(t, registry.RegisterService(s), "failed to register second service")

	require.Len(t, registry.serviceTypes, 2)

	_, exists := registry.services[reflect.TypeOf(m)]
	assert.True(t, exists, "service of type %v not registered", reflect.TypeOf(m))

	_, exists = registry.services[reflect.TypeOf(s)]
	assert.True(t, exists, "service of type %v not registered", reflect.TypeOf(s))
}

func TestFetchService_OK(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m), "failed to register first service")

	err := registry.FetchService(*m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input must be of pointer type")

	var s *secondMockService
	err = registry.FetchService(&s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")

	var m2 *mockService
	require.NoError(t, registry.FetchService(&m2), "failed to fetch service")
	require.Equal(t, m, m2)
}

func TestServiceStatus_OK(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))

	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(s))

	m.status = errors.New("something bad has happened")
	s.status = errors.New("service unreachable")

	statuses := registry.Statuses()

	assert.EqualError(t, statuses[reflect.TypeOf(m)], "something bad has happened")
	assert.EqualError(t, statuses[reflect.TypeOf(s)], "service unreachable")
}

func TestStopAll_ReverseOrder(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(&secondMockService{}))

	registry.StopAll()
	assert.True(t, m.stopped, "registered service was not stopped")
}
