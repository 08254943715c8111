package memory

import (
	"testing"

	"github.com/hrygo/memrelay/config"
)

func TestExtractQuery(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[
		{"role":"system","content":"be terse"},
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"first answer"},
		{"role":"user","content":"second question"}
	]}`)

	testCases := []struct {
		strategy string
		expected string
	}{
		{config.QueryLastUser, "second question"},
		{config.QueryFirstUser, "first question"},
		{config.QueryAllUser, "first question | second question"},
		{config.QueryLastAssistant, "first answer"},
	}

	for _, tc := range testCases {
		t.Run(tc.strategy, func(t *testing.T) {
			if got := extractQuery(body, tc.strategy); got != tc.expected {
				t.Errorf("strategy %s: expected %q, got %q", tc.strategy, tc.expected, got)
			}
		})
	}
}

func TestExtractQuery_NoEligibleMessage(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"system","content":"be terse"}]}`)

	if got := extractQuery(body, config.QueryLastUser); got != "" {
		t.Errorf("expected empty query with no user messages, got %q", got)
	}

	empty := []byte(`{"model":"gpt-4","messages":[]}`)
	if got := extractQuery(empty, config.QueryLastUser); got != "" {
		t.Errorf("expected empty query with empty message list, got %q", got)
	}
}

func TestExtractQuery_StructuredContent(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":[{"type":"text","text":"part one "},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"part two"}]}
	]}`)

	if got := extractQuery(body, config.QueryLastUser); got != "part one part two" {
		t.Errorf("expected concatenated text parts, got %q", got)
	}
}

func TestInject_SystemPrepend(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"Where is the Eiffel Tower?"}],"temperature":0.5}`)

	out, ok := inject(body, "Paris is the capital of France.", config.InjectSystemPrepend)
	if !ok {
		t.Fatal("expected injection to happen")
	}

	expected := `{"model":"gpt-4","messages":[{"role":"system","content":"Paris is the capital of France."},{"role":"user","content":"Where is the Eiffel Tower?"}],"temperature":0.5}`
	if string(out) != expected {
		t.Errorf("unexpected body:\n got: %s\nwant: %s", out, expected)
	}
}

func TestInject_UserPrefix(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"question"},{"role":"user","content":"later"}]}`)

	out, ok := inject(body, "ctx", config.InjectUserPrefix)
	if !ok {
		t.Fatal("expected injection to happen")
	}

	expected := `{"messages":[{"role":"user","content":"ctx\n\nquestion"},{"role":"user","content":"later"}]}`
	if string(out) != expected {
		t.Errorf("unexpected body:\n got: %s\nwant: %s", out, expected)
	}
}

func TestInject_UserSuffix(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"question"},{"role":"user","content":"later"}]}`)

	out, ok := inject(body, "ctx", config.InjectUserSuffix)
	if !ok {
		t.Fatal("expected injection to happen")
	}

	expected := `{"messages":[{"role":"user","content":"question"},{"role":"user","content":"later\n\nctx"}]}`
	if string(out) != expected {
		t.Errorf("unexpected body:\n got: %s\nwant: %s", out, expected)
	}
}

func TestInject_StructuredContentLeftAlone(t *testing.T) {
	// Prefix/suffix rewrites only apply to plain string content; a structured
	// message must not have its shape changed.
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"q"}]}]}`)

	out, ok := inject(body, "ctx", config.InjectUserPrefix)
	if ok {
		t.Fatal("expected no injection into structured content")
	}
	if string(out) != string(body) {
		t.Error("body must be unchanged when injection is skipped")
	}
}

func TestInject_EmptyMessages(t *testing.T) {
	body := []byte(`{"messages":[]}`)

	out, ok := inject(body, "ctx", config.InjectSystemPrepend)
	if !ok {
		t.Fatal("system prepend should work on an empty message list")
	}
	expected := `{"messages":[{"role":"system","content":"ctx"}]}`
	if string(out) != expected {
		t.Errorf("unexpected body:\n got: %s\nwant: %s", out, expected)
	}
}
