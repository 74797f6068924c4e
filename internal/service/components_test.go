package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponents_Shutdown(t *testing.T) {
	mockBrowser := new(MockCloser)
	mockCache := new(MockCloser)
	mockLLM := new(MockLLMClient)
	mockPool := new(MockPool)

	mockBrowser.On("Close").Return(nil).Once()
	mockLLM.On("Close").Return(nil).Once()
	mockCache.On("Close").Return(nil).Once()
	mockPool.On("Close").Return().Once()

	components := &Components{
		Browser: mockBrowser,
		LLM:     mockLLM,
		Cache:   mockCache,
		DBPool:  mockPool,
	}
	components.Shutdown()

	mockBrowser.AssertExpectations(t)
	mockLLM.AssertExpectations(t)
	mockCache.AssertExpectations(t)
	mockPool.AssertExpectations(t)
}

func TestComponents_Shutdown_ContinuesPastErrors(t *testing.T) {
	mockBrowser := new(MockCloser)
	mockLLM := new(MockLLMClient)
	mockPool := new(MockPool)

	mockBrowser.On("Close").Return(errors.New("chrome already gone"))
	mockLLM.On("Close").Return(errors.New("transport closed"))
	mockPool.On("Close").Return()

	components := &Components{Browser: mockBrowser, LLM: mockLLM, DBPool: mockPool}
	components.Shutdown()

	mockPool.AssertCalled(t, "Close")
}

func TestComponents_Shutdown_Empty(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Shutdown() })
}
