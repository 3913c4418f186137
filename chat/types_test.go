package chat

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRequest_Validate(t *testing.T) {
	user := []Message{{Role: RoleUser, Content: "hi"}}

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "valid", req: Request{Model: "gpt-4o", Messages: user}},
		{name: "missing model", req: Request{Messages: user}, want: ErrMissingModel},
		{name: "blank model", req: Request{Model: "  ", Messages: user}, want: ErrMissingModel},
		{name: "no messages", req: Request{Model: "gpt-4o"}, want: ErrNoMessages},
		{
			name: "bad role",
			req:  Request{Model: "gpt-4o", Messages: []Message{{Role: "robot"}}},
			want: ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChunk_Decode(t *testing.T) {
	payload := `{"id":"chatcmpl-1","created":1700000000,"model":"gpt-4o",` +
		`"choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`

	var c Chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if c.ID != "chatcmpl-1" || c.Model != "gpt-4o" || c.Created != 1700000000 {
		t.Errorf("header = %q %q %d", c.ID, c.Model, c.Created)
	}
	if len(c.Choices) != 1 {
		t.Fatalf("len(Choices) = %d, want 1", len(c.Choices))
	}
	if c.Choices[0].FinishReason != nil {
		t.Errorf("FinishReason = %q, want nil", *c.Choices[0].FinishReason)
	}
	if c.Choices[0].Delta.Content != "Hel" {
		t.Errorf("Delta.Content = %q, want %q", c.Choices[0].Delta.Content, "Hel")
	}
	if c.Error != nil {
		t.Errorf("Error = %v, want nil", c.Error)
	}
}

func TestChunk_DecodeError(t *testing.T) {
	var c Chunk
	err := json.Unmarshal([]byte(`{"error":{"message":"overloaded","type":"server_error","code":529}}`), &c)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if c.Error == nil {
		t.Fatal("Error = nil, want API error")
	}
	if got, want := c.Error.Error(), "chat: server_error (529): overloaded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		err  APIError
		want string
	}{
		{APIError{Message: "boom"}, "chat: boom"},
		{APIError{Message: "boom", Type: "server_error"}, "chat: server_error: boom"},
		{APIError{Message: "slow down", Type: "rate_limit", Code: "rate_limit_exceeded"}, "chat: rate_limit (rate_limit_exceeded): slow down"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestToolCall_DecodeArguments(t *testing.T) {
	tc := ToolCall{ID: "call_1", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"city":"Oslo"}`}}

	var args struct {
		City string `json:"city"`
	}
	if err := tc.DecodeArguments(&args); err != nil {
		t.Fatalf("DecodeArguments() error = %v", err)
	}
	if args.City != "Oslo" {
		t.Errorf("City = %q, want %q", args.City, "Oslo")
	}

	empty := ToolCall{Function: FunctionCall{Name: "noop"}}
	var m map[string]any
	if err := empty.DecodeArguments(&m); err != nil {
		t.Errorf("DecodeArguments(empty) error = %v", err)
	}

	bad := ToolCall{Function: FunctionCall{Name: "weather", Arguments: `{"city":`}}
	if err := bad.DecodeArguments(&m); err == nil {
		t.Error("DecodeArguments(truncated) error = nil, want error")
	}
}

func TestUsage_Total(t *testing.T) {
	if got := (Usage{PromptTokens: 20, CompletionTokens: 8}).Total(); got != 28 {
		t.Errorf("Total() = %d, want 28", got)
	}
	if got := (Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 30}).Total(); got != 30 {
		t.Errorf("Total() = %d, want 30", got)
	}
}

func TestCompletion_Content(t *testing.T) {
	var nilCompletion *Completion
	if got := nilCompletion.Content(); got != "" {
		t.Errorf("nil Content() = %q, want empty", got)
	}
	c := &Completion{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: "4"}}}}
	if got := c.Content(); got != "4" {
		t.Errorf("Content() = %q, want %q", got, "4")
	}
}
