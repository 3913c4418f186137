package stream

import (
	"bytes"
	"io"
	"strings"
)

// DoneSentinel is the data payload that ends a stream normally.
const DoneSentinel = "[DONE]"

// DefaultMaxLineSize bounds a single SSE line.
const DefaultMaxLineSize = 1 << 20

// FrameKind classifies a Frame.
type FrameKind int

const (
	// FrameData carries a payload.
	FrameData FrameKind = iota
	// FrameDone marks normal end of stream. No frames follow it.
	FrameDone
	// FrameError carries a *ParseError.
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one SSE event, delimited by a blank line.
type Frame struct {
	Kind  FrameKind
	Event string // value of the event: field, empty when absent
	Data  string // data: lines joined with "\n"
	Err   error  // set for FrameError
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithMaxLineSize sets the longest line the parser buffers.
// Default: DefaultMaxLineSize
func WithMaxLineSize(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.maxLine = n
		}
	}
}

// Parser splits an SSE byte stream into frames.
//
// Lines end with "\n", optionally preceded by "\r". Within a frame, data:
// lines are joined with "\n" and event: sets the event name. id:, retry: and
// comment lines are accepted and ignored. Any other field yields a FrameError
// instead of being dropped. Partial lines are kept across Feed calls.
type Parser struct {
	buf     []byte
	line    int
	maxLine int

	event   string
	data    strings.Builder
	hasData bool

	done bool
}

// NewParser returns a parser ready for the first chunk.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{maxLine: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Done reports whether the sentinel or a fatal error has been seen.
// Feed and Flush return nothing once Done is true.
func (p *Parser) Done() bool {
	return p.done
}

// Feed consumes chunk and returns every frame it completes.
func (p *Parser) Feed(chunk []byte) []Frame {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	start := 0
	for !p.done {
		i := bytes.IndexByte(p.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := p.buf[start : start+i]
		start += i + 1
		frames = p.processLine(line, frames)
	}

	if p.done {
		p.buf = nil
		return frames
	}
	p.buf = append(p.buf[:0], p.buf[start:]...)

	if len(p.buf) > p.maxLine {
		frames = append(frames, p.errorFrame(p.line+1, string(p.buf), ErrLineTooLong))
		p.done = true
		p.buf = nil
	}
	return frames
}

// Flush ends the input. A trailing unterminated line and any pending data
// are emitted as if a blank line followed.
func (p *Parser) Flush() []Frame {
	if p.done {
		return nil
	}
	var frames []Frame
	if len(p.buf) > 0 {
		frames = p.processLine(p.buf, frames)
		p.buf = nil
	}
	if !p.done {
		frames = p.dispatch(frames)
	}
	p.done = true
	return frames
}

func (p *Parser) processLine(line []byte, frames []Frame) []Frame {
	p.line++
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(line) > p.maxLine {
		p.done = true
		return append(frames, p.errorFrame(p.line, string(line), ErrLineTooLong))
	}
	if len(line) == 0 {
		return p.dispatch(frames)
	}
	if line[0] == ':' {
		return frames
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		value = bytes.TrimPrefix(value, []byte(" "))
	}

	switch string(field) {
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.Write(value)
		p.hasData = true
	case "event":
		p.event = string(value)
	case "id", "retry":
	default:
		frames = append(frames, p.errorFrame(p.line, string(line), ErrUnknownField))
	}
	return frames
}

// dispatch emits the pending frame, if any, and resets frame state.
func (p *Parser) dispatch(frames []Frame) []Frame {
	if !p.hasData {
		p.event = ""
		return frames
	}
	f := Frame{Kind: FrameData, Event: p.event, Data: p.data.String()}
	p.event = ""
	p.data.Reset()
	p.hasData = false

	if f.Data == DoneSentinel {
		p.done = true
		f = Frame{Kind: FrameDone}
	}
	return append(frames, f)
}

func (p *Parser) errorFrame(line int, text string, cause error) Frame {
	return Frame{
		Kind: FrameError,
		Err:  &ParseError{Line: line, Text: truncate(text), Err: cause},
	}
}

// FrameReader pulls frames from an io.Reader.
type FrameReader struct {
	r       io.Reader
	p       *Parser
	buf     []byte
	pending []Frame
	err     error
}

const readBufferSize = 32 << 10

// NewFrameReader returns a FrameReader over r.
func NewFrameReader(r io.Reader, opts ...ParserOption) *FrameReader {
	return &FrameReader{
		r:   r,
		p:   NewParser(opts...),
		buf: make([]byte, readBufferSize),
	}
}

// Next returns the next frame. It returns io.EOF after the sentinel frame,
// after a fatal parse error, or when the reader is exhausted. Read errors
// other than io.EOF are returned as-is.
func (fr *FrameReader) Next() (Frame, error) {
	for {
		if len(fr.pending) > 0 {
			f := fr.pending[0]
			fr.pending = fr.pending[1:]
			return f, nil
		}
		if fr.err != nil {
			return Frame{}, fr.err
		}
		if fr.p.Done() {
			fr.err = io.EOF
			continue
		}

		n, err := fr.r.Read(fr.buf)
		if n > 0 {
			fr.pending = fr.p.Feed(fr.buf[:n])
		}
		switch {
		case err == io.EOF:
			fr.pending = append(fr.pending, fr.p.Flush()...)
			fr.err = io.EOF
		case err != nil:
			fr.err = err
		}
	}
}
