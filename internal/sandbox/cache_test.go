package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/mocks"
	"github.com/xkilldash9x/mender/internal/observability"
)

func newCache(t *testing.T, next schemas.SandboxValidator) (*CachingValidator, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m := observability.NewMetrics(prometheus.NewRegistry())
	return NewCachingValidator(next, client, time.Hour, 1280, 800, zaptest.NewLogger(t), m), mr, m
}

func sampleValidation() schemas.ValidationResult {
	return schemas.ValidationResult{
		ElementResults: []schemas.ElementResult{{Selector: "#go", Status: schemas.StatusResponsive}},
		JSErrors:       []string{},
		ConsoleErrors:  []string{},
		Passed:         true,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Screenshot:     []byte{0x89, 'P', 'N', 'G'},
	}
}

func TestCachingValidator_MissThenHit(t *testing.T) {
	next := new(mocks.MockSandboxValidator)
	next.On("Validate", mock.Anything, "<p>doc</p>").Return(sampleValidation(), nil).Once()
	c, mr, m := newCache(t, next)

	first, err := c.Validate(context.Background(), "<p>doc</p>")
	require.NoError(t, err)
	assert.NotNil(t, first.Screenshot)

	second, err := c.Validate(context.Background(), "<p>doc</p>")
	require.NoError(t, err)
	assert.Equal(t, first.ElementResults, second.ElementResults)
	assert.True(t, second.Passed)
	assert.Nil(t, second.Screenshot)

	next.AssertExpectations(t)
	key := c.key("<p>doc</p>")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit")))
}

func TestCachingValidator_ErrorsAreNotCached(t *testing.T) {
	next := new(mocks.MockSandboxValidator)
	next.On("Validate", mock.Anything, "doc").Return(schemas.ValidationResult{}, errors.New("browser gone")).Twice()
	c, mr, _ := newCache(t, next)

	for i := 0; i < 2; i++ {
		_, err := c.Validate(context.Background(), "doc")
		assert.Error(t, err)
	}
	assert.False(t, mr.Exists(c.key("doc")))
	next.AssertExpectations(t)
}

func TestCachingValidator_RedisDownFallsThrough(t *testing.T) {
	next := new(mocks.MockSandboxValidator)
	next.On("Validate", mock.Anything, "doc").Return(sampleValidation(), nil).Twice()
	c, mr, m := newCache(t, next)
	mr.Close()

	for i := 0; i < 2; i++ {
		res, err := c.Validate(context.Background(), "doc")
		require.NoError(t, err)
		assert.True(t, res.Passed)
	}
	next.AssertExpectations(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("error")))
}

func TestCachingValidator_CorruptEntry(t *testing.T) {
	next := new(mocks.MockSandboxValidator)
	next.On("Validate", mock.Anything, "doc").Return(sampleValidation(), nil).Once()
	c, mr, _ := newCache(t, next)
	require.NoError(t, mr.Set(c.key("doc"), "{broken"))

	res, err := c.Validate(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	next.AssertExpectations(t)
}

func TestCachingValidator_KeyIncludesViewport(t *testing.T) {
	c, _, _ := newCache(t, new(mocks.MockSandboxValidator))
	other := NewCachingValidator(nil, nil, time.Hour, 375, 667, zaptest.NewLogger(t), nil)
	assert.NotEqual(t, c.key("doc"), other.key("doc"))
	assert.Contains(t, c.key("doc"), ":1280x800")
}
