package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jonwraymond/llmcore/chat"
)

// State is the accumulator lifecycle state.
type State int

const (
	// StateIdle is the initial state; no frame has been applied.
	StateIdle State = iota
	// StateStarted means id, model and created have been captured.
	StateStarted
	// StateContentStreaming means the latest delta carried content.
	StateContentStreaming
	// StateToolCallBuilding means the latest delta carried tool call data.
	StateToolCallBuilding
	// StateComplete means a finish reason or the sentinel was seen.
	StateComplete
	// StateError is terminal; the accumulator cannot be finalized.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateContentStreaming:
		return "content_streaming"
	case StateToolCallBuilding:
		return "tool_call_building"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Accumulator folds frames into a chat.Completion.
//
// Contract:
//   - Concurrency: not safe for concurrent use; frames must be applied in
//     arrival order by a single goroutine.
//   - Content per choice is the exact concatenation of its content deltas.
//   - A choice's finish reason is set once; later values are ignored.
//   - Error is terminal.
type Accumulator struct {
	state State
	err   error

	id      string
	model   string
	created int64
	choices map[int]*choiceAccumulator
	usage   *chat.Usage
	sawDone bool

	now          func() time.Time
	startedAt    time.Time
	firstTokenAt time.Time
}

type choiceAccumulator struct {
	index   int
	role    string
	content strings.Builder

	calls   []*toolCallAccumulator
	byID    map[string]*toolCallAccumulator
	byIndex map[int]*toolCallAccumulator

	finishReason string
	finished     bool
}

type toolCallAccumulator struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithClock sets the time source used for time-to-first-token.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccumulator returns an idle accumulator. Its start time is the moment
// of creation, so create it right before the request is sent.
func NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		choices: make(map[int]*choiceAccumulator),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.startedAt = a.now()
	return a
}

// State returns the current state.
func (a *Accumulator) State() State {
	return a.state
}

// Err returns the error that moved the accumulator to StateError, if any.
func (a *Accumulator) Err() error {
	return a.err
}

// Apply processes one frame and returns the events it produced.
// Once the accumulator is in StateError every call returns that error.
func (a *Accumulator) Apply(f Frame) ([]Event, error) {
	if a.state == StateError {
		return nil, a.err
	}
	if a.sawDone {
		return nil, nil
	}

	switch f.Kind {
	case FrameError:
		a.Fail(f.Err)
		return nil, a.err
	case FrameDone:
		a.sawDone = true
		a.state = StateComplete
		return []Event{{Kind: EventDone}}, nil
	}

	if f.Event == "error" {
		a.Fail(fmt.Errorf("%w: %w", ErrServerEvent, decodeServerError(f.Data)))
		return nil, a.err
	}

	var chunk chat.Chunk
	if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
		a.Fail(&ParseError{Text: truncate(f.Data), Err: err})
		return nil, a.err
	}
	if chunk.Error != nil {
		a.Fail(fmt.Errorf("%w: %w", ErrServerEvent, chunk.Error))
		return nil, a.err
	}

	return a.applyChunk(&chunk), nil
}

func (a *Accumulator) applyChunk(chunk *chat.Chunk) []Event {
	var events []Event

	if a.id == "" {
		a.id = chunk.ID
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	if a.created == 0 {
		a.created = chunk.Created
	}
	if a.firstTokenAt.IsZero() {
		a.firstTokenAt = a.now()
	}
	if a.state == StateIdle {
		a.state = StateStarted
		events = append(events, Event{Kind: EventStart, ID: a.id, Model: a.model})
	}

	for _, c := range chunk.Choices {
		ca := a.choice(c.Index)
		if ca.role == "" {
			ca.role = c.Delta.Role
		}

		if c.Delta.Content != "" {
			ca.content.WriteString(c.Delta.Content)
			a.advance(StateContentStreaming)
			events = append(events, Event{Kind: EventContentDelta, Index: c.Index, Content: c.Delta.Content})
		}

		for _, td := range c.Delta.ToolCalls {
			tc := ca.toolCall(td)
			tc.args.WriteString(td.Function.Arguments)
			a.advance(StateToolCallBuilding)
			events = append(events, Event{
				Kind:       EventToolCallDelta,
				Index:      c.Index,
				ToolCallID: tc.id,
				ToolName:   tc.name,
				Arguments:  td.Function.Arguments,
			})
		}

		if c.FinishReason != nil && *c.FinishReason != "" && !ca.finished {
			ca.finishReason = *c.FinishReason
			ca.finished = true
			a.state = StateComplete
			events = append(events, Event{Kind: EventFinish, Index: c.Index, FinishReason: ca.finishReason})
		}
	}

	if chunk.Usage != nil {
		u := *chunk.Usage
		a.usage = &u
		events = append(events, Event{Kind: EventUsage, Usage: &u})
	}
	return events
}

// advance moves between the streaming states. Complete is never left.
func (a *Accumulator) advance(to State) {
	if a.state != StateComplete {
		a.state = to
	}
}

func (a *Accumulator) choice(index int) *choiceAccumulator {
	ca, ok := a.choices[index]
	if !ok {
		ca = &choiceAccumulator{
			index:   index,
			byID:    make(map[string]*toolCallAccumulator),
			byIndex: make(map[int]*toolCallAccumulator),
		}
		a.choices[index] = ca
	}
	return ca
}

// toolCall finds the call a delta belongs to: by id when the delta has one,
// otherwise by its index. Unknown calls are created on first sight.
func (ca *choiceAccumulator) toolCall(td chat.ToolCallDelta) *toolCallAccumulator {
	var tc *toolCallAccumulator
	if td.ID != "" {
		tc = ca.byID[td.ID]
	} else {
		tc = ca.byIndex[td.Index]
	}

	if tc == nil {
		id := td.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		tc = &toolCallAccumulator{id: id}
		ca.calls = append(ca.calls, tc)
		ca.byID[id] = tc
	}
	ca.byIndex[td.Index] = tc

	if tc.name == "" {
		tc.name = td.Function.Name
	}
	if tc.typ == "" {
		tc.typ = td.Type
	}
	return tc
}

// Fail moves the accumulator to StateError. The first error wins.
func (a *Accumulator) Fail(err error) {
	if a.state == StateError {
		return
	}
	if err == nil {
		err = ErrClosed
	}
	a.state = StateError
	a.err = err
}

// Finalize builds the completion. It fails with ErrNotFinalizable unless a
// finish reason or the sentinel has been seen and no error occurred.
func (a *Accumulator) Finalize() (*chat.Completion, error) {
	switch a.state {
	case StateComplete:
	case StateError:
		return nil, fmt.Errorf("%w: %w", ErrNotFinalizable, a.err)
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotFinalizable, a.state)
	}

	indexes := lo.Keys(a.choices)
	slices.Sort(indexes)

	out := &chat.Completion{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
		Choices: make([]chat.Choice, 0, len(indexes)),
	}
	for _, i := range indexes {
		out.Choices = append(out.Choices, a.choices[i].build())
	}
	if a.usage != nil {
		u := *a.usage
		out.Usage = &u
	}
	return out, nil
}

func (ca *choiceAccumulator) build() chat.Choice {
	role := ca.role
	if role == "" {
		role = chat.RoleAssistant
	}

	msg := chat.Message{Role: role, Content: ca.content.String()}
	msg.ToolCalls = lo.Map(ca.calls, func(tc *toolCallAccumulator, _ int) chat.ToolCall {
		typ := tc.typ
		if typ == "" {
			typ = "function"
		}
		return chat.ToolCall{
			ID:       tc.id,
			Type:     typ,
			Function: chat.FunctionCall{Name: tc.name, Arguments: tc.args.String()},
		}
	})
	if len(msg.ToolCalls) == 0 {
		msg.ToolCalls = nil
	}

	return chat.Choice{Index: ca.index, Message: msg, FinishReason: ca.finishReason}
}

// TimeToFirstToken returns the delay between creation and the first data
// frame, and false when no data frame has arrived.
func (a *Accumulator) TimeToFirstToken() (time.Duration, bool) {
	if a.firstTokenAt.IsZero() {
		return 0, false
	}
	return a.firstTokenAt.Sub(a.startedAt), true
}

// decodeServerError reads the payload of an "event: error" frame, which may
// be {"error":{...}}, a bare error object, or plain text.
func decodeServerError(data string) error {
	var wrapped struct {
		Error *chat.APIError `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &wrapped); err == nil && wrapped.Error != nil {
		return wrapped.Error
	}

	var bare chat.APIError
	if err := json.Unmarshal([]byte(data), &bare); err == nil && bare.Message != "" {
		return &bare
	}

	if strings.TrimSpace(data) == "" {
		return errors.New("empty error event")
	}
	return &chat.APIError{Message: data}
}
