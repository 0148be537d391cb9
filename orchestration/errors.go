package orchestration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateUnsupported is wrapped when a template does not support the provider.
	ErrTemplateUnsupported = errors.New("template does not support provider")
	// ErrKindMismatch is wrapped when a template's wire format cannot serve the request kind.
	ErrKindMismatch = errors.New("template cannot serve request kind")
	// ErrMissingEndpoint is wrapped when custom endpoint mode has no endpoint.
	ErrMissingEndpoint = errors.New("custom endpoint mode requires an endpoint")
)

// ConfigError is a submission that could not be resolved into a provider,
// template and endpoint. It never reaches the network.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration error: %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError lists the problems the provider found in the assembled body.
type ValidationError struct {
	Provider string
	Template string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request for %s: %s", e.Template, e.Provider, strings.Join(e.Problems, "; "))
}
