// Package valuesource turns field descriptors into proposed values, asking a
// text generator first and falling back to a local keyword table on any failure.
package valuesource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

const (
	kindFill       = "fill"
	kindCorrection = "correction"

	servedGenerated = "generated"
	servedCached    = "cached"
	servedFallback  = "fallback"
)

// Source is the value source adapter. The zero generator is valid and makes
// every request resolve to the local fallback.
type Source struct {
	generator schemas.LLMClient
	cache     Cache
	metrics   *observability.Metrics
	logger    *zap.Logger
}

type Option func(*Source)

// WithCache caches successful fill responses. Corrections are never cached.
func WithCache(c Cache) Option {
	return func(s *Source) { s.cache = c }
}

// WithMetrics records per-request outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// New creates a Source. generator may be nil.
func New(generator schemas.LLMClient, logger *zap.Logger, opts ...Option) *Source {
	s := &Source{generator: generator, logger: logger.Named("valuesource")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Values returns a mapping for fields. It never fails: generator errors
// resolve to Fallback(fields).
func (s *Source) Values(ctx context.Context, fields []schemas.FieldDescriptor) schemas.ValueMapping {
	if len(fields) == 0 {
		return schemas.ValueMapping{}
	}

	cacheKey := s.lookupKey(fields)
	if cacheKey != "" {
		if m, ok, err := s.cache.Get(ctx, cacheKey); err != nil {
			s.logger.Debug("Value cache read failed.", zap.Error(err))
		} else if ok {
			s.metrics.ObserveValueRequest(kindFill, servedCached)
			return m
		}
	}

	m, err := s.request(ctx, kindFill, func() (schemas.GenerationRequest, error) {
		return BuildFillPrompt(fields)
	})
	if err != nil {
		return s.fallback(kindFill, fields, err)
	}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, m); err != nil {
			s.logger.Debug("Value cache write failed.", zap.Error(err))
		}
	}
	return m
}

// Corrections asks for corrected values given visible validation errors.
// Like Values it never fails.
func (s *Source) Corrections(ctx context.Context, fields []schemas.FieldDescriptor, validationErrors []string) schemas.ValueMapping {
	if len(fields) == 0 {
		return schemas.ValueMapping{}
	}
	m, err := s.request(ctx, kindCorrection, func() (schemas.GenerationRequest, error) {
		return BuildCorrectionPrompt(fields, validationErrors)
	})
	if err != nil {
		return s.fallback(kindCorrection, fields, err)
	}
	return m
}

func (s *Source) request(ctx context.Context, kind string, build func() (schemas.GenerationRequest, error)) (schemas.ValueMapping, error) {
	if s.generator == nil {
		return schemas.ValueMapping{}, fmt.Errorf("%w: no generator configured", ErrSourceUnavailable)
	}
	req, err := build()
	if err != nil {
		return schemas.ValueMapping{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	start := time.Now()
	text, err := s.generator.Generate(ctx, req)
	s.metrics.ObserveGeneration(kind, time.Since(start))
	if err != nil {
		return schemas.ValueMapping{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	m, err := ParseMapping(text)
	if err != nil {
		return schemas.ValueMapping{}, err
	}
	s.metrics.ObserveValueRequest(kind, servedGenerated)
	s.logger.Debug("Generated values.", zap.String("kind", kind), zap.Int("count", m.Len()))
	return m, nil
}

func (s *Source) fallback(kind string, fields []schemas.FieldDescriptor, cause error) schemas.ValueMapping {
	level := s.logger.Warn
	if errors.Is(cause, ErrSourceUnavailable) && s.generator == nil {
		level = s.logger.Debug
	}
	level("Using fallback values.", zap.String("kind", kind), zap.Error(cause))
	s.metrics.ObserveValueRequest(kind, servedFallback)
	return Fallback(fields)
}

func (s *Source) lookupKey(fields []schemas.FieldDescriptor) string {
	if s.cache == nil || s.generator == nil {
		return ""
	}
	key, err := FieldsKey(fields)
	if err != nil {
		return ""
	}
	return key
}
