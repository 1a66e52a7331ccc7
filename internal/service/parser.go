package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const titleLimit = 100

// ParseRequest is free text to turn into a task.
type ParseRequest struct {
	Text      string
	Location  *time.Location
	Now       time.Time
	Forwarded bool
}

// ParsedTask is the structured form of a task message.
type ParsedTask struct {
	Title string
	DueAt *time.Time
	Notes string
}

// TextParser extracts a task from free text.
type TextParser interface {
	Parse(ctx context.Context, req ParseRequest) (ParsedTask, error)
}

// FallbackTask keeps the raw text as the title and drops any date.
func FallbackTask(text string) ParsedTask {
	return ParsedTask{Title: truncateRunes(strings.TrimSpace(text), titleLimit)}
}

// PlainParser is used when no language model is configured.
type PlainParser struct{}

func (PlainParser) Parse(_ context.Context, req ParseRequest) (ParsedTask, error) {
	return FallbackTask(req.Text), nil
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LLMParser asks an OpenAI compatible model to structure the text.
type LLMParser struct {
	model llms.Model
}

// NewLLMParser builds a parser over the openai client of langchaingo.
func NewLLMParser(cfg LLMConfig) (*LLMParser, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return NewLLMParserWithModel(llm), nil
}

func NewLLMParserWithModel(model llms.Model) *LLMParser {
	return &LLMParser{model: model}
}

const textPrompt = `You are a task parser. Extract structured task information from user messages.

Current date and time: %s
User timezone: %s

Return a JSON object with these fields:
- "title": concise task title (string, max 100 chars)
- "due_at": deadline if mentioned (ISO 8601 datetime with offset in the user's timezone, or null)
- "notes": additional details if any (string or null)

If only a date is mentioned, use 09:00. Relative times are counted from the current time.
If the text is already short, use it as the title unchanged.
Respond ONLY with valid JSON, no markdown, no explanation.`

const forwardPrompt = `You are a task parser. The user forwarded a message and wants a task from it.

Current date and time: %s
User timezone: %s

Return a JSON object with these fields:
- "title": short actionable title for the main request of the message (max 100 chars)
- "due_at": deadline if the text mentions one (ISO 8601 datetime with offset, or null)
- "notes": null

For informational messages phrase the title as "Check: ..." or "Review: ...".
Respond ONLY with valid JSON, no markdown, no explanation.`

type llmReply struct {
	Title string  `json:"title"`
	DueAt *string `json:"due_at"`
	Notes *string `json:"notes"`
}

func (p *LLMParser) Parse(ctx context.Context, req ParseRequest) (ParsedTask, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	tmpl := textPrompt
	if req.Forwarded {
		tmpl = forwardPrompt
	}
	system := fmt.Sprintf(tmpl, req.Now.In(loc).Format("Monday, 02 January 2006 15:04"), loc.String())

	resp, err := p.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, req.Text),
	}, llms.WithTemperature(0.1), llms.WithMaxTokens(500))
	if err != nil {
		return ParsedTask{}, fmt.Errorf("llm request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ParsedTask{}, errors.New("llm returned no choices")
	}
	return decodeReply(resp.Choices[0].Content, req.Text, loc)
}

func decodeReply(content, original string, loc *time.Location) (ParsedTask, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return ParsedTask{}, errors.New("empty llm response")
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return ParsedTask{}, fmt.Errorf("decode llm response: %w", err)
	}

	out := ParsedTask{Title: truncateRunes(strings.TrimSpace(reply.Title), titleLimit)}
	if out.Title == "" {
		out.Title = FallbackTask(original).Title
	}
	if reply.Notes != nil {
		out.Notes = strings.TrimSpace(*reply.Notes)
	}
	if reply.DueAt != nil && strings.TrimSpace(*reply.DueAt) != "" {
		due, err := parseDue(strings.TrimSpace(*reply.DueAt), loc)
		if err != nil {
			return ParsedTask{}, err
		}
		out.DueAt = &due
	}
	return out, nil
}

func parseDue(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "02.01.2006 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised due date %q", raw)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
