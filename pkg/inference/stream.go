package inference

import (
	"strings"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// sdkStream is the iterator shape shared by the provider SDK streams.
type sdkStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// fragmentStream adapts an SDK event stream to a Stream of text fragments.
type fragmentStream[T any] struct {
	src      sdkStream[T]
	extract  func(T) string
	provider string
	span     trace.Span
	logger   zerolog.Logger
	started  time.Time

	cur       string
	err       error
	fragments int
	done      bool
	closeOnce sync.Once
}

func newFragmentStream[T any](src sdkStream[T], provider string, extract func(T) string, span trace.Span, logger zerolog.Logger) *fragmentStream[T] {
	return &fragmentStream[T]{
		src:      src,
		extract:  extract,
		provider: provider,
		span:     span,
		logger:   logger,
		started:  time.Now(),
	}
}

func (s *fragmentStream[T]) Next() bool {
	if s.done {
		return false
	}

	for s.src.Next() {
		fragment := s.extract(s.src.Current())
		if fragment == "" {
			continue
		}
		if s.fragments == 0 {
			observability.RecordFirstFragment(s.provider, time.Since(s.started))
		}
		s.fragments++
		s.cur = fragment
		observability.RecordFragment(s.provider)
		return true
	}

	s.done = true
	s.cur = ""
	if err := s.src.Err(); err != nil {
		s.err = wrapTransport(s.provider, err)
		observability.RecordInferenceError(s.provider)
		s.span.RecordError(s.err)
		s.span.SetStatus(codes.Error, s.err.Error())
		s.logger.Warn().Err(s.err).Int("fragments", s.fragments).Msg("Inference stream failed")
	} else {
		s.logger.Debug().
			Int("fragments", s.fragments).
			Dur("duration", time.Since(s.started)).
			Msg("Inference stream completed")
	}
	return false
}

func (s *fragmentStream[T]) Fragment() string {
	return s.cur
}

func (s *fragmentStream[T]) Err() error {
	return s.err
}

func (s *fragmentStream[T]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.src.Close()
		s.span.End()
	})
	return err
}

// Collect drains a stream, calling onFragment for each fragment, and returns
// the concatenated text. On error the partial text is discarded. The stream
// is always closed.
func Collect(stream Stream, onFragment func(string)) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		fragment := stream.Fragment()
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
