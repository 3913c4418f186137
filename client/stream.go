package client

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/jonwraymond/llmcore/chat"
	"github.com/jonwraymond/llmcore/observe"
	"github.com/jonwraymond/llmcore/resilience"
	"github.com/jonwraymond/llmcore/stream"
	"github.com/jonwraymond/llmcore/transport"
)

// Stream opens a streamed chat-completion call.
//
// Opening the stream goes through the breaker, limiter and retry policy
// like Complete; a failure before the response headers is retried. Once
// events flow the stream is never re-opened, since the caller may already
// have seen some of them. The stream reads until ctx is done or it ends,
// and the caller must drain or Close it; until then it holds its
// WithMaxConcurrent slot.
func (c *Client) Stream(ctx context.Context, req *chat.Request) (*stream.Stream, error) {
	payload, err := encodeRequest(req, true)
	if err != nil {
		return nil, err
	}
	meta := observe.CallMeta{
		Operation: observe.OperationStream,
		Model:     req.Model,
		RequestID: uuid.NewString(),
		Streaming: true,
	}

	callCtx, end := c.mw.Start(ctx, meta)
	s, err := resilience.Call(callCtx, c.orch, func(attemptCtx context.Context) (*stream.Stream, error) {
		return c.open(callCtx, attemptCtx, payload, meta, end)
	}, c.callOptions()...)
	if err != nil {
		end(err)
		return nil, err
	}
	return s, nil
}

// open runs one streaming attempt. The exchange is bounded by attemptCtx
// only until headers arrive; the body then lives on callCtx.
func (c *Client) open(callCtx, attemptCtx context.Context, payload []byte, meta observe.CallMeta, end func(error)) (*stream.Stream, error) {
	reqCtx, cancel := context.WithCancel(callCtx)
	stop := context.AfterFunc(attemptCtx, cancel)

	// Created before sending so time-to-first-token includes the request.
	acc := stream.NewAccumulator()

	body, err := c.transport.SendStreaming(reqCtx, &transport.Request{
		Path:      c.path,
		Body:      payload,
		RequestID: meta.RequestID,
	})
	if !stop() {
		// The attempt ended while the exchange was in flight. The transport
		// error only reflects reqCtx being cancelled.
		cancel()
		if body != nil {
			_ = body.Close()
		}
		return nil, attemptCtx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	// An open stream counts against WithMaxConcurrent until it finishes.
	releaseSlot := resilience.HoldBulkheadSlot(attemptCtx)

	return stream.New(callCtx, &cancelOnClose{ReadCloser: body, cancel: cancel},
		stream.WithAccumulator(acc),
		stream.WithOnFinish(func(acc *stream.Accumulator, err error) {
			releaseSlot()
			if ttft, ok := acc.TimeToFirstToken(); ok {
				c.mw.Metrics().RecordTimeToFirstToken(callCtx, meta, ttft)
			}
			if errors.Is(err, stream.ErrClosed) {
				c.logger.Debug(callCtx, "stream closed by caller")
				err = nil
			}
			end(err)
		}),
	), nil
}

// cancelOnClose releases the request context with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
