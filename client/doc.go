// Package client is the entry point for chat-completion calls: it wires a
// transport to the resilience stack, telemetry and stream handling.
//
// # Buffered calls
//
//	cfg, err := config.Load("llmcore.yaml")
//	if err != nil { ... }
//	c, err := client.NewFromConfig(ctx, cfg)
//	if err != nil { ... }
//	defer c.Close(ctx)
//
//	completion, err := c.Complete(ctx, &chat.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello"}},
//	})
//
// # Streaming
//
//	s, err := c.Stream(ctx, req)
//	if err != nil { ... }
//	for ev, err := range s.All() {
//	    if err != nil { ... }
//	    fmt.Print(ev.Content)
//	}
//
// Every call shares the client's circuit breaker and rate limiter. Retries
// reuse the call's X-Request-ID so the endpoint can correlate them.
package client
