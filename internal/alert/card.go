package alert

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/t77yq/port-monitor/internal/model"
)

const (
	// MaxOutputExcerpt caps the script output quoted in a card, in characters
	MaxOutputExcerpt = 500

	timeLayout = "2006-01-02 15:04:05"
)

// Message is a Feishu bot message of type interactive
type Message struct {
	MsgType string `json:"msg_type"`
	Card    Card   `json:"card"`
}

type Card struct {
	Config   CardConfig `json:"config"`
	Header   CardHeader `json:"header"`
	Elements []Element  `json:"elements"`
}

type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type CardHeader struct {
	Title    Text   `json:"title"`
	Template string `json:"template"`
}

type Text struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// Element is a card block. Only the fields of its tag are set.
type Element struct {
	Tag      string `json:"tag"`
	Text     *Text  `json:"text,omitempty"`
	Elements []Text `json:"elements,omitempty"`
}

// BuildCard renders the alert card for event
func BuildCard(event model.AlertEvent) Message {
	title := "🚨 Port check failed"
	if event.Kind == model.TaskKindScript {
		title = "🚨 Script check failed"
	}

	var b strings.Builder
	b.WriteString("**⚠️ Check failure details**\n\n")
	fmt.Fprintf(&b, "**Task:** %s\n", event.TaskName)
	fmt.Fprintf(&b, "**Target:** %s\n", event.Target)
	fmt.Fprintf(&b, "**Error:** %s\n", event.ErrorDetail)
	fmt.Fprintf(&b, "**Checked at:** %s\n", event.OccurredAt.Local().Format(timeLayout))

	if event.Kind == model.TaskKindScript && event.Output != "" {
		excerpt, truncated := Excerpt(event.Output, MaxOutputExcerpt)
		b.WriteString("\n**Output:**\n```\n")
		b.WriteString(excerpt)
		b.WriteString("\n```\n")
		if truncated {
			b.WriteString("_output truncated_\n")
		}
	}
	b.WriteString("\n**Please check the target service now.**")

	return Message{
		MsgType: "interactive",
		Card: Card{
			Config: CardConfig{WideScreenMode: true},
			Header: CardHeader{
				Title:    Text{Tag: "plain_text", Content: title},
				Template: "red",
			},
			Elements: []Element{
				{Tag: "div", Text: &Text{Tag: "lark_md", Content: b.String()}},
				{Tag: "hr"},
				{Tag: "note", Elements: []Text{{
					Tag:     "plain_text",
					Content: "Sent automatically by port-monitor.",
				}}},
			},
		},
	}
}

// Excerpt returns at most limit characters of s and whether s was cut
func Excerpt(s string, limit int) (string, bool) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}
