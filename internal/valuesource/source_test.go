package valuesource

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// MockLLMClient is a mock implementation of schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return nil }

func testFields() []schemas.FieldDescriptor {
	return []schemas.FieldDescriptor{
		{Identifier: "email", Label: "Email Address", ControlType: schemas.ControlText},
		{Identifier: "phone", Label: "Phone", ControlType: schemas.ControlText},
	}
}

func newObservedSource(t *testing.T, gen schemas.LLMClient, opts ...Option) (*Source, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return New(gen, zap.New(core), opts...), logs
}

func TestSourceValues_Generated(t *testing.T) {
	gen := new(MockLLMClient)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Options.ForceJSONFormat && strings.Contains(req.UserPrompt, `"id":"email"`)
	})).Return("```json\n{\"email\":\"alex@example.com\",\"phone\":\"5551234567\"}\n```", nil).Once()

	src, _ := newObservedSource(t, gen)
	m := src.Values(context.Background(), testFields())

	v, ok := m.Get("phone")
	require.True(t, ok)
	assert.Equal(t, "5551234567", v)
	gen.AssertExpectations(t)
}

func TestSourceValues_FallbackOnEveryFailure(t *testing.T) {
	cases := map[string]func(*MockLLMClient){
		"network error": func(g *MockLLMClient) {
			g.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("dial tcp: refused"))
		},
		"non json": func(g *MockLLMClient) {
			g.On("Generate", mock.Anything, mock.Anything).Return("I cannot help with that.", nil)
		},
		"empty mapping": func(g *MockLLMClient) {
			g.On("Generate", mock.Anything, mock.Anything).Return("{}", nil)
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			gen := new(MockLLMClient)
			setup(gen)
			src, logs := newObservedSource(t, gen)

			fields := testFields()
			m := src.Values(context.Background(), fields)
			assert.Equal(t, Fallback(fields), m)
			assert.Equal(t, 1, logs.FilterMessage("Using fallback values.").Len())
		})
	}
}

func TestSourceValues_NoGenerator(t *testing.T) {
	src, _ := newObservedSource(t, nil)
	fields := testFields()

	m := src.Values(context.Background(), fields)
	for _, f := range fields {
		_, ok := m.Get(f.Key())
		assert.True(t, ok)
	}
	assert.Zero(t, src.Values(context.Background(), nil).Len())
}

func TestSourceCorrections(t *testing.T) {
	gen := new(MockLLMClient)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, `Errors found on page: ["Invalid Phone"]`)
	})).Return(`{"phone":"1234567890"}`, nil).Once()

	src, _ := newObservedSource(t, gen)
	m := src.Corrections(context.Background(), testFields(), []string{"Invalid Phone"})

	v, ok := m.Get("phone")
	require.True(t, ok)
	assert.Equal(t, "1234567890", v)
	gen.AssertExpectations(t)

	failing := new(MockLLMClient)
	failing.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("boom"))
	src, _ = newObservedSource(t, failing)
	assert.Equal(t, Fallback(testFields()), src.Corrections(context.Background(), testFields(), []string{"Required"}))
}

func TestSourceValues_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCacheFromClient(client, WithPrefix("test:"))

	gen := new(MockLLMClient)
	gen.On("Generate", mock.Anything, mock.Anything).Return(`{"email":"cached@example.com"}`, nil).Once()

	src, _ := newObservedSource(t, gen, WithCache(cache))
	first := src.Values(context.Background(), testFields())
	second := src.Values(context.Background(), testFields())

	assert.Equal(t, first, second)
	v, _ := second.Get("email")
	assert.Equal(t, "cached@example.com", v)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestSourceValues_FallbackIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gen := new(MockLLMClient)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("down"))

	src, _ := newObservedSource(t, gen, WithCache(NewRedisCacheFromClient(client)))
	src.Values(context.Background(), testFields())
	src.Values(context.Background(), testFields())

	gen.AssertNumberOfCalls(t, "Generate", 2)
	assert.Empty(t, mr.Keys())
}
