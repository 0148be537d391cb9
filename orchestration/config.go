package orchestration

import (
	"fmt"
	"strings"

	"github.com/richinex/codeweave/config"
	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/providers"
	"github.com/richinex/codeweave/templates"
)

// EndpointMode selects which provider path a request is sent to.
type EndpointMode int

const (
	// EndpointAuto uses the completion path for FIM templates and the chat path otherwise.
	EndpointAuto EndpointMode = iota
	// EndpointCustom uses the configured endpoint verbatim.
	EndpointCustom
	// EndpointFIM always uses the completion path.
	EndpointFIM
	// EndpointChat always uses the chat path.
	EndpointChat
)

// String returns the string representation of the endpoint mode.
func (m EndpointMode) String() string {
	switch m {
	case EndpointAuto:
		return "auto"
	case EndpointCustom:
		return "custom"
	case EndpointFIM:
		return "fim"
	case EndpointChat:
		return "chat"
	default:
		return "unknown"
	}
}

// ParseEndpointMode parses an endpoint mode (case-insensitive). Empty means auto.
func ParseEndpointMode(s string) (EndpointMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EndpointAuto, nil
	case "custom":
		return EndpointCustom, nil
	case "fim", "completion":
		return EndpointFIM, nil
	case "chat":
		return EndpointChat, nil
	default:
		return 0, fmt.Errorf("unknown endpoint mode: %q", s)
	}
}

// ResolvedConfig is a submission's configuration with every name resolved.
// It is built once per submission and not mutated after dispatch.
type ResolvedConfig struct {
	Provider       providers.Provider
	Template       templates.Template
	URL            string
	Stream         bool
	APIKey         string
	Kind           llm.RequestKind
	Model          string
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int
	KeepAlive      string
}

func (rc ResolvedConfig) options() providers.Options {
	return providers.Options{
		Model:          rc.Model,
		Stream:         rc.Stream,
		MaxTokens:      rc.MaxTokens,
		Temperature:    rc.Temperature,
		ThinkingBudget: rc.ThinkingBudget,
		KeepAlive:      rc.KeepAlive,
	}
}

// ResolveConfig turns a profile into a ResolvedConfig. Every failure is a
// *ConfigError.
func ResolveConfig(p config.Profile, kind llm.RequestKind, provs *providers.Registry, tmpls *templates.Registry) (ResolvedConfig, error) {
	provider, err := provs.Get(p.Provider)
	if err != nil {
		return ResolvedConfig{}, &ConfigError{Field: "provider", Value: p.Provider, Err: err}
	}

	tmpl, err := tmpls.Lookup(p.Template)
	if err != nil {
		return ResolvedConfig{}, &ConfigError{Field: "template", Value: p.Template, Err: err}
	}
	if !tmpl.SupportsProvider(provider.ID()) {
		return ResolvedConfig{}, &ConfigError{
			Field: "template",
			Value: tmpl.Name(),
			Err:   fmt.Errorf("%w %s", ErrTemplateUnsupported, provider.Name()),
		}
	}
	if !kind.Accepts(tmpl.WireFormat()) {
		return ResolvedConfig{}, &ConfigError{
			Field: "template",
			Value: tmpl.Name(),
			Err:   fmt.Errorf("%w: %s template for %s request", ErrKindMismatch, tmpl.WireFormat(), kind),
		}
	}

	mode, err := ParseEndpointMode(p.EndpointMode)
	if err != nil {
		return ResolvedConfig{}, &ConfigError{Field: "endpoint mode", Value: p.EndpointMode, Err: err}
	}

	endpoints := provider.Endpoints()
	var path string
	switch mode {
	case EndpointCustom:
		path = strings.TrimSpace(p.Endpoint)
		if path == "" {
			return ResolvedConfig{}, &ConfigError{Field: "endpoint", Err: ErrMissingEndpoint}
		}
	case EndpointFIM:
		path = endpoints.Completion
	case EndpointChat:
		path = endpoints.Chat
	default:
		path = endpoints.Chat
		if tmpl.WireFormat() == llm.FormatFIM {
			path = endpoints.Completion
		}
	}
	path = provider.ResolveEndpoint(path, p.Model, p.Stream)

	return ResolvedConfig{
		Provider:       provider,
		Template:       tmpl,
		URL:            joinURL(p.URL, provider.DefaultURL(), path),
		Stream:         p.Stream,
		APIKey:         p.APIKey,
		Kind:           kind,
		Model:          p.Model,
		MaxTokens:      p.MaxTokens,
		Temperature:    p.Temperature,
		ThinkingBudget: p.ThinkingBudget,
		KeepAlive:      p.KeepAlive,
	}, nil
}

// joinURL appends path to base, falling back to the provider default. An
// absolute path is used as is.
func joinURL(base, fallback, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base = strings.TrimSpace(base)
	if base == "" {
		base = fallback
	}
	base = strings.TrimRight(base, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
