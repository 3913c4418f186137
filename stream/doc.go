// Package stream turns a server-sent-events byte stream from a chat-completion
// endpoint into typed incremental events and one finalized chat.Completion.
//
// Three layers, each usable on its own:
//
//   - Parser splits arbitrary byte chunks into Frames. It is push based:
//     Feed as bytes arrive, Flush at end of input. FrameReader adapts it to
//     an io.Reader.
//
//   - Accumulator folds Frames, in arrival order, into per-choice content,
//     tool calls, finish reasons and usage. It is an explicit state machine:
//
//     Idle -> Started -> {ContentStreaming | ToolCallBuilding} -> Complete
//
//     with Error reachable from any state. Finalize succeeds only after
//     Complete or the [DONE] sentinel.
//
//   - Stream is the pull-based sequence handed to callers: Next/Event/Err,
//     or All for range-over-func. It is finite, cannot be restarted, and
//     stops reading as soon as its context is cancelled.
//
// None of the types are safe for concurrent use.
package stream
