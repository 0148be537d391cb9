// Package templates provides the prompt template strategies.
//
// Information Hiding:
// - Each template hides one vendor prompt dialect behind Prepare
// - Templates are pure: no I/O, no per-call state, safe to share across goroutines
// - Role vocabularies are mapped here; unmapped roles are dropped, not errored

package templates

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/richinex/codeweave/llm"
)

// ErrUnknownTemplate is returned when a template name is not registered.
var ErrUnknownTemplate = errors.New("unknown template")

// Template translates a vendor-neutral Context into request body fields.
type Template interface {
	// Name returns the registry name of the template.
	Name() string

	// Description returns a one-line human readable summary.
	Description() string

	// WireFormat returns the prompt shape family.
	WireFormat() llm.WireFormat

	// StopSequences returns the strings the backend should stop generation at.
	StopSequences() []string

	// SupportsProvider reports whether the template may be sent to the provider.
	SupportsProvider(id llm.ProviderID) bool

	// Prepare writes the template's fields into body. The same Context always
	// yields the same body.
	Prepare(body *llm.Body, c llm.Context)
}

// info holds the static description shared by every template.
type info struct {
	name        string
	description string
	format      llm.WireFormat
	stops       []string
	providers   []llm.ProviderID
}

func (i info) Name() string               { return i.name }
func (i info) Description() string        { return i.description }
func (i info) WireFormat() llm.WireFormat { return i.format }

func (i info) StopSequences() []string {
	return slices.Clone(i.stops)
}

func (i info) SupportsProvider(id llm.ProviderID) bool {
	return slices.Contains(i.providers, id)
}

// Registry holds templates by name. It is built once at startup and read
// concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates a new empty template registry.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]Template),
	}
}

// Register adds a template.
// Returns error if a template with the same name already exists.
func (r *Registry) Register(t Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.templates[name]; exists {
		return fmt.Errorf("template '%s' already registered", name)
	}
	r.templates[name] = t
	return nil
}

// Get returns a template by exact name.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[name]
	return t, ok
}

// Lookup returns a template by name, falling back to a case-insensitive match.
func (r *Registry) Lookup(name string) (Template, error) {
	if t, ok := r.Get(name); ok {
		return t, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for n, t := range r.templates {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
}

// Names returns all registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForProvider returns the templates that support the provider, sorted by name.
func (r *Registry) ForProvider(id llm.ProviderID) []Template {
	return r.filter(func(t Template) bool { return t.SupportsProvider(id) })
}

// ForKind returns the templates eligible for a request kind, sorted by name.
func (r *Registry) ForKind(kind llm.RequestKind) []Template {
	return r.filter(func(t Template) bool { return kind.Accepts(t.WireFormat()) })
}

func (r *Registry) filter(keep func(Template) bool) []Template {
	var out []Template
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// WithDefaults creates a registry with every built-in template.
func WithDefaults() (*Registry, error) {
	registry := NewRegistry()

	builtins := []Template{
		OllamaFIM(),
		CodeLlamaFIM(),
		StarCoder2FIM(),
		CodestralFIM(),
		LlamaCppFIM(),
		OllamaChat(),
		OpenAI(),
		OpenAICompatible(),
		MistralChat(),
		ChatML(),
		Alpaca(),
		Claude(),
		GoogleAI(),
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register default templates: %w", err)
		}
	}

	return registry, nil
}

// systemText merges the system prompt with the file context.
func systemText(c llm.Context) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(c.SystemPrompt); s != "" {
		parts = append(parts, c.SystemPrompt)
	}
	if strings.TrimSpace(c.FileContext) != "" {
		parts = append(parts, c.FileContext)
	}
	return strings.Join(parts, "\n\n")
}

// conversation returns the history to send. A completion routed through a
// chat template arrives without history; it is turned into one user turn.
func conversation(c llm.Context) []llm.Message {
	if len(c.History) > 0 || (c.Prefix == "" && c.Suffix == "") {
		return c.History
	}
	return []llm.Message{llm.UserMessage(completionPrompt(c))}
}

func completionPrompt(c llm.Context) string {
	var b strings.Builder
	b.WriteString("Complete the code at the <cursor> marker. Reply with the inserted code only.\n\n")
	b.WriteString("<code_context>\n")
	b.WriteString(c.Prefix)
	b.WriteString("<cursor>")
	b.WriteString(c.Suffix)
	b.WriteString("\n</code_context>")
	return b.String()
}
