// Package chat defines the chat-completion wire types shared by buffered and
// streamed calls.
//
// A buffered call decodes straight into Completion. A streamed call delivers
// Chunk values, one per SSE frame, which the stream package folds back into
// an equivalent Completion.
package chat
