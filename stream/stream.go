package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/jonwraymond/llmcore/chat"
)

// Option configures a Stream.
type Option func(*Stream)

// WithAccumulator uses acc instead of a fresh accumulator. Pass one created
// before the request was sent to measure time-to-first-token from the send.
func WithAccumulator(acc *Accumulator) Option {
	return func(s *Stream) {
		if acc != nil {
			s.acc = acc
		}
	}
}

// WithParserOptions configures the underlying frame parser.
func WithParserOptions(opts ...ParserOption) Option {
	return func(s *Stream) {
		s.parserOpts = append(s.parserOpts, opts...)
	}
}

// WithOnFinish registers fn to run exactly once when the stream ends, with
// nil on normal completion or the terminating error.
func WithOnFinish(fn func(acc *Accumulator, err error)) Option {
	return func(s *Stream) {
		s.onFinish = fn
	}
}

// Stream is a lazy, finite sequence of events read from an SSE body.
//
//	for s.Next() {
//	    ev := s.Event()
//	    ...
//	}
//	if err := s.Err(); err != nil { ... }
//	completion, err := s.Completion()
//
// Cancelling the context passed to New stops consumption and closes the
// body; the accumulated state is then discarded.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *FrameReader
	acc    *Accumulator

	parserOpts []ParserOption
	onFinish   func(*Accumulator, error)
	stopCancel func() bool

	pending []Event
	current Event
	err     error
	done    bool
}

// New returns a Stream reading frames from body. The stream owns body and
// closes it when it ends.
func New(ctx context.Context, body io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{ctx: ctx, body: body}
	for _, opt := range opts {
		opt(s)
	}
	if s.acc == nil {
		s.acc = NewAccumulator()
	}
	s.reader = NewFrameReader(body, s.parserOpts...)
	// A blocked Read returns once the body is closed.
	s.stopCancel = context.AfterFunc(ctx, func() { _ = body.Close() })
	return s
}

// Next advances to the next event. It returns false when the stream has
// ended, either normally or with an error reported by Err.
func (s *Stream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.done {
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.fail(err)
			continue
		}

		frame, err := s.reader.Next()
		if err != nil {
			s.readFailed(err)
			continue
		}

		events, err := s.acc.Apply(frame)
		if err != nil {
			s.fail(err)
			continue
		}
		s.pending = append(s.pending, events...)
		if frame.Kind == FrameDone {
			s.finish(nil)
		}
	}
}

func (s *Stream) readFailed(err error) {
	switch {
	case s.ctx.Err() != nil:
		s.fail(s.ctx.Err())
	case errors.Is(err, io.EOF) && s.acc.State() == StateComplete:
		s.finish(nil)
	case errors.Is(err, io.EOF):
		s.fail(fmt.Errorf("%w: last state %s", ErrIncomplete, s.acc.State()))
	default:
		s.fail(fmt.Errorf("stream: read: %w", err))
	}
}

// Event returns the event produced by the last successful Next.
func (s *Stream) Event() Event {
	return s.current
}

// Err returns the error that ended the stream, or nil.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the stream and releases the body. Closing a finished stream
// is a no-op. A stream closed early cannot produce a Completion.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.acc.Fail(ErrClosed)
	s.pending = nil
	s.finish(ErrClosed)
	return nil
}

// Completion drains any remaining events and returns the finalized result.
func (s *Stream) Completion() (*chat.Completion, error) {
	for s.Next() {
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.acc.Finalize()
}

// TimeToFirstToken reports the accumulator's time-to-first-token.
func (s *Stream) TimeToFirstToken() (time.Duration, bool) {
	return s.acc.TimeToFirstToken()
}

// All returns the remaining events as a range-over-func sequence. A
// terminating error is yielded last with a zero Event. Breaking out of the
// loop closes the stream.
func (s *Stream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for s.Next() {
			if !yield(s.current, nil) {
				_ = s.Close()
				return
			}
		}
		if s.err != nil {
			yield(Event{}, s.err)
		}
	}
}

func (s *Stream) fail(err error) {
	if s.done {
		return
	}
	s.err = err
	s.pending = nil
	s.acc.Fail(err)
	s.finish(err)
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.stopCancel()
	_ = s.body.Close()
	if s.onFinish != nil {
		s.onFinish(s.acc, err)
	}
}
