package stream_test

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jonwraymond/llmcore/stream"
)

func ExampleParser() {
	p := stream.NewParser()

	// A frame split across two network reads.
	for _, f := range p.Feed([]byte("event: message\ndata: hel")) {
		fmt.Println("unexpected", f.Kind)
	}
	for _, f := range p.Feed([]byte("lo\n\ndata: [DONE]\n\n")) {
		fmt.Printf("%s %q %q\n", f.Kind, f.Event, f.Data)
	}
	// Output:
	// data "message" "hello"
	// done "" ""
}

func ExampleStream() {
	body := strings.Join([]string{
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"2"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"+2"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":" equals 4."},"finish_reason":"stop"}],"usage":{"prompt_tokens":20,"completion_tokens":8}}`,
		`data: [DONE]`,
	}, "\n\n") + "\n\n"

	s := stream.New(context.Background(), io.NopCloser(strings.NewReader(body)))
	for ev, err := range s.All() {
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if ev.Kind == stream.EventContentDelta {
			fmt.Printf("delta %q\n", ev.Content)
		}
	}

	c, err := s.Completion()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(c.Content())
	fmt.Println(c.Choices[0].FinishReason, c.Usage.PromptTokens, c.Usage.CompletionTokens)
	// Output:
	// delta "2"
	// delta "+2"
	// delta " equals 4."
	// 2+2 equals 4.
	// stop 20 8
}
