package memory

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hrygo/memrelay/config"
)

// messageText extracts the text of a chat message's content. String content
// is returned as-is; structured content (a list of parts) contributes its
// text parts joined together. Anything else yields "".
func messageText(msg gjson.Result) string {
	content := msg.Get("content")
	switch {
	case content.Type == gjson.String:
		return content.Str
	case content.IsArray():
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").Str == "text" {
				if text := part.Get("text").Str; text != "" {
					parts = append(parts, text)
				}
			}
			return true
		})
		return strings.Join(parts, "")
	default:
		return ""
	}
}

// extractQuery derives the retrieval query from the message list per the
// configured strategy. Returns "" when no query is available, which skips
// retrieval entirely.
func extractQuery(body []byte, strategy string) string {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return ""
	}

	var userTexts []string
	lastUser, firstUser, lastAssistant := "", "", ""
	messages.ForEach(func(_, msg gjson.Result) bool {
		text := messageText(msg)
		switch msg.Get("role").Str {
		case "user":
			if firstUser == "" {
				firstUser = text
			}
			lastUser = text
			if text != "" {
				userTexts = append(userTexts, text)
			}
		case "assistant":
			lastAssistant = text
		}
		return true
	})

	switch strategy {
	case config.QueryLastUser:
		return lastUser
	case config.QueryFirstUser:
		return firstUser
	case config.QueryAllUser:
		return strings.Join(userTexts, " | ")
	case config.QueryLastAssistant:
		return lastAssistant
	default:
		return ""
	}
}

// inject places the context snippet into the message list. The body is
// rewritten surgically so every other field, known or unknown, is preserved
// byte-for-byte. The second return is false when nothing was injected.
func inject(body []byte, snippet, strategy string) ([]byte, bool) {
	switch strategy {
	case config.InjectSystemPrepend:
		return injectSystemMessage(body, snippet)
	case config.InjectUserPrefix:
		idx, text, ok := findUserMessage(body, false)
		if !ok {
			return body, false
		}
		return rewriteContent(body, idx, snippet+"\n\n"+text)
	case config.InjectUserSuffix:
		idx, text, ok := findUserMessage(body, true)
		if !ok {
			return body, false
		}
		return rewriteContent(body, idx, text+"\n\n"+snippet)
	default:
		return body, false
	}
}

// injectSystemMessage inserts a new system message at position 0 without
// touching the existing entries.
func injectSystemMessage(body []byte, snippet string) ([]byte, bool) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, false
	}

	newMsg, err := json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "system", Content: snippet})
	if err != nil {
		return body, false
	}

	raw := strings.TrimSpace(messages.Raw)
	var rebuilt string
	if inner := strings.TrimSpace(raw[1 : len(raw)-1]); inner == "" {
		rebuilt = "[" + string(newMsg) + "]"
	} else {
		rebuilt = "[" + string(newMsg) + "," + inner + "]"
	}

	out, err := sjson.SetRawBytes(body, "messages", []byte(rebuilt))
	if err != nil {
		return body, false
	}
	return out, true
}

// findUserMessage returns the index and text of the first (or last) user
// message. The third return is false when there is no user message or that
// message has structured content: structured content is left alone so the
// rewrite cannot change a message's shape.
func findUserMessage(body []byte, last bool) (int, string, bool) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return 0, "", false
	}

	foundIdx, foundText, found := 0, "", false
	i := -1
	messages.ForEach(func(_, msg gjson.Result) bool {
		i++
		if msg.Get("role").Str != "user" {
			return true
		}
		content := msg.Get("content")
		foundIdx, foundText, found = i, content.Str, content.Type == gjson.String
		// First hit is enough unless we want the last one.
		return last
	})
	return foundIdx, foundText, found
}

func rewriteContent(body []byte, idx int, content string) ([]byte, bool) {
	out, err := sjson.SetBytes(body, "messages."+strconv.Itoa(idx)+".content", content)
	if err != nil {
		return body, false
	}
	return out, true
}
