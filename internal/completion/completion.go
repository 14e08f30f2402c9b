// Package completion turns an [llm.Provider] into a structured, schema
// validated call: a prompt goes in, a typed Go value comes out.
//
// The output schema is derived from the destination type with jsonschema-go.
// It is sent to the provider as a response format, repeated in the system
// prompt for providers without native structured output, and used to validate
// the reply before it is decoded.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
	"github.com/MrWong99/ana/pkg/provider/llm"
)

// Prompt is one structured completion request.
type Prompt struct {
	// Name labels the call in metrics and spans and names the response schema
	// ("classifier", "entity_agent", ...).
	Name string

	// System is the instruction block.
	System string

	// User is the turn-specific content (command, entities).
	User string

	// Temperature overrides the invoker default when non-zero.
	Temperature float64
}

// Invoker runs a structured completion and decodes the validated result
// into out, which must be a non-nil pointer.
//
// Errors wrap [turn.ErrTransient] for provider failures and
// [turn.ErrUpstreamFormat] for replies that do not match the schema.
type Invoker interface {
	Invoke(ctx context.Context, p Prompt, out any) error
}

// LLM is an [Invoker] backed by an [llm.Provider].
type LLM struct {
	provider    llm.Provider
	metrics     *observe.Metrics
	temperature float64
	maxTokens   int

	schemas sync.Map // reflect.Type -> *schemaEntry
}

var _ Invoker = (*LLM)(nil)

// Option is a functional option for [New].
type Option func(*LLM)

// WithMetrics records latency and token usage to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *LLM) { l.metrics = m }
}

// WithTemperature sets the default sampling temperature. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(l *LLM) { l.temperature = t }
}

// WithMaxTokens caps completion tokens per call. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(l *LLM) { l.maxTokens = n }
}

// New returns an [LLM] invoker for provider.
func New(provider llm.Provider, opts ...Option) *LLM {
	l := &LLM{
		provider:    provider,
		metrics:     observe.DefaultMetrics(),
		temperature: 0.7,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type schemaEntry struct {
	raw      map[string]any
	text     string
	resolved *jsonschema.Resolved
}

// Invoke implements [Invoker].
func (l *LLM) Invoke(ctx context.Context, p Prompt, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("completion: %s: out must be a non-nil pointer, got %T", p.Name, out)
	}
	schema, err := l.schemaFor(rv.Type().Elem())
	if err != nil {
		return fmt.Errorf("completion: %s: %w", p.Name, err)
	}

	ctx, span := observe.StartSpan(ctx, "completion."+p.Name)
	defer span.End()

	temp := l.temperature
	if p.Temperature != 0 {
		temp = p.Temperature
	}
	req := llm.CompletionRequest{
		SystemPrompt: p.System + "\n\nRespond ONLY with a JSON object that matches this JSON Schema:\n" + schema.text,
		Messages:     []llm.Message{{Role: "user", Content: p.User}},
		Temperature:  temp,
		MaxTokens:    l.maxTokens,
		ResponseFormat: &llm.ResponseFormat{
			Name:   p.Name,
			Schema: schema.raw,
		},
	}

	start := time.Now()
	resp, err := l.provider.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("completion: %s: %w: %w", p.Name, turn.ErrTransient, err)
	}
	if resp == nil {
		return fmt.Errorf("completion: %s: %w: empty response", p.Name, turn.ErrUpstreamFormat)
	}
	l.metrics.RecordLLM(ctx, p.Name, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if err := decode(resp.Content, schema.resolved, out); err != nil {
		observe.Logger(ctx).Warn("completion: reply rejected", "stage", p.Name, "err", err, "content", truncate(resp.Content, 500))
		span.RecordError(err)
		return fmt.Errorf("completion: %s: %w: %w", p.Name, turn.ErrUpstreamFormat, err)
	}
	return nil
}

func (l *LLM) schemaFor(t reflect.Type) (*schemaEntry, error) {
	if v, ok := l.schemas.Load(t); ok {
		return v.(*schemaEntry), nil
	}
	s, err := jsonschema.ForType(t, nil)
	if err != nil {
		return nil, fmt.Errorf("derive schema for %s: %w", t, err)
	}
	allowExtraProperties(s)
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for %s: %w", t, err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", t, err)
	}
	entry := &schemaEntry{raw: raw, text: string(b), resolved: resolved}
	v, _ := l.schemas.LoadOrStore(t, entry)
	return v.(*schemaEntry), nil
}

// allowExtraProperties drops the additionalProperties=false constraint that
// jsonschema-go puts on every struct. Models routinely add fields such as
// "thoughts"; they are ignored on decode.
func allowExtraProperties(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.AdditionalProperties = nil
	for _, p := range s.Properties {
		allowExtraProperties(p)
	}
	allowExtraProperties(s.Items)
}

// decode extracts the JSON document from content, validates it and decodes
// it into out.
func decode(content string, schema *jsonschema.Resolved, out any) error {
	doc := extractJSON(content)
	if doc == "" {
		return errors.New("no JSON object in reply")
	}
	var instance any
	if err := json.Unmarshal([]byte(doc), &instance); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("validate reply: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// extractJSON returns the outermost JSON object of s, tolerating markdown
// code fences and prose around it.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if body, _, ok := strings.Cut(rest, "```"); ok {
			s = strings.TrimSpace(body)
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
