package switcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smartim/internal/ime"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	sources, _ := args.Get(0).([]string)
	return sources, args.Error(1)
}

func (m *mockRegistry) Activate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockFallback struct {
	mock.Mock
}

func (m *mockFallback) ActivateNative(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockFallback) ActivateLatin(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestKeepNeverTouchesRegistry(t *testing.T) {
	reg := &mockRegistry{}
	fb := &mockFallback{}
	s := New(reg, fb, nil)

	res := s.Do(context.Background(), Keep())
	assert.True(t, res.OK)
	assert.Equal(t, PathKeep, res.Path)
	assert.True(t, s.Apply(context.Background(), Named("")))

	reg.AssertNotCalled(t, "List", mock.Anything)
	reg.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
	fb.AssertNotCalled(t, "ActivateNative", mock.Anything)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := &mockRegistry{}
	reg.On("List", ctx).Return([]string{"ABC", "搜狗拼音"}, nil).Once()
	reg.On("Activate", ctx, "ABC").Return(nil).Once()
	s := New(reg, &mockFallback{}, nil)

	assert.True(t, s.Apply(ctx, Latin("ABC")))
	res := s.Do(ctx, Latin("ABC"))
	assert.True(t, res.OK)
	assert.Equal(t, PathCache, res.Path)

	reg.AssertExpectations(t)
	reg.AssertNumberOfCalls(t, "Activate", 1)
}

func TestPrimarySuccessSetsCache(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC", "搜狗拼音")
	s := New(reg, &mockFallback{}, nil)

	res := s.Do(ctx, Native("搜狗拼音"))
	require.True(t, res.OK)
	assert.Equal(t, PathPrimary, res.Path)
	assert.Equal(t, "搜狗拼音", s.Cached())
	assert.Equal(t, "搜狗拼音", reg.Active())
}

func TestMissingNativeUsesFallback(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC")
	fb := &mockFallback{}
	fb.On("ActivateNative", ctx).Return(nil).Twice()
	s := New(reg, fb, nil)

	res := s.Do(ctx, Native("搜狗拼音"))
	assert.True(t, res.OK)
	assert.Equal(t, PathFallback, res.Path)
	assert.ErrorIs(t, res.Err, ime.ErrSourceNotFound)
	assert.Empty(t, s.Cached())

	// No cache entry, so the next call goes through the registry again.
	res = s.Do(ctx, Native("搜狗拼音"))
	assert.Equal(t, PathFallback, res.Path)

	fb.AssertExpectations(t)
	fb.AssertNotCalled(t, "ActivateLatin", mock.Anything)
	assert.Equal(t, 0, reg.Activations())
}

func TestLatinFallbackOnActivationFailure(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC")
	reg.FailActivation("ABC", errors.New("OSStatus -50"))
	fb := &mockFallback{}
	fb.On("ActivateLatin", ctx).Return(nil).Once()
	s := New(reg, fb, nil)

	res := s.Do(ctx, Latin("ABC"))
	assert.True(t, res.OK)
	assert.Equal(t, PathFallback, res.Path)
	assert.Empty(t, s.Cached())
	fb.AssertExpectations(t)
}

func TestFallbackFailure(t *testing.T) {
	ctx := context.Background()
	reg := &mockRegistry{}
	reg.On("List", ctx).Return(nil, errors.New("bus down"))
	fb := &mockFallback{}
	fb.On("ActivateNative", ctx).Return(errors.New("exit status 1"))
	s := New(reg, fb, nil)

	res := s.Do(ctx, Native("搜狗拼音"))
	assert.False(t, res.OK)
	assert.Equal(t, PathFailed, res.Path)
	assert.Error(t, res.Err)
}

func TestNamedHasNoFallback(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC")
	fb := &mockFallback{}
	s := New(reg, fb, nil)

	res := s.Do(ctx, Named("Rime"))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ime.ErrNoFallback)
	fb.AssertNotCalled(t, "ActivateNative", mock.Anything)
	fb.AssertNotCalled(t, "ActivateLatin", mock.Anything)
}

func TestNilFallback(t *testing.T) {
	s := New(ime.NewStaticRegistry(), nil, nil)
	res := s.Do(context.Background(), Latin("ABC"))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ime.ErrNoFallback)
}

func TestFallbackClearsCache(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC")
	fb := &mockFallback{}
	fb.On("ActivateNative", ctx).Return(nil).Once()
	s := New(reg, fb, nil)

	require.True(t, s.Apply(ctx, Latin("ABC")))
	require.Equal(t, "ABC", s.Cached())

	res := s.Do(ctx, Native("搜狗拼音"))
	require.Equal(t, PathFallback, res.Path)
	assert.Empty(t, s.Cached())

	// The script left the native source active, so Latin must reach the
	// registry again instead of trusting the old cache entry.
	res = s.Do(ctx, Latin("ABC"))
	assert.Equal(t, PathPrimary, res.Path)
	assert.Equal(t, 2, reg.Activations())
	assert.Equal(t, "ABC", s.Cached())
	fb.AssertExpectations(t)
}

func TestFailedSwitchKeepsCache(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC", "搜狗拼音")
	reg.FailActivation("搜狗拼音", errors.New("denied"))
	s := New(reg, nil, nil)

	require.True(t, s.Apply(ctx, Latin("ABC")))
	assert.False(t, s.Apply(ctx, Native("搜狗拼音")))
	assert.Equal(t, "ABC", s.Cached())
}

func TestConcurrentApplySerialized(t *testing.T) {
	ctx := context.Background()
	reg := ime.NewStaticRegistry("ABC")
	s := New(reg, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Apply(ctx, Latin("ABC"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Activations())
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, "keep", Keep().String())
	assert.Equal(t, "native(搜狗拼音)", Native("搜狗拼音").String())
	assert.Equal(t, "latin(ABC)", Latin("ABC").String())
	assert.Equal(t, "named(Rime)", Named("Rime").String())
}
