// Command execution for CLI commands.
//
// Information Hiding:
// - Settings overlay and registry setup hidden
// - Request ids, journal bookkeeping and cancellation hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/codeweave/config"
	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/orchestration"
	"github.com/richinex/codeweave/providers"
	"github.com/richinex/codeweave/storage"
	"github.com/richinex/codeweave/templates"
)

// Options holds CLI execution options. Zero values keep the configured setting.
type Options struct {
	Provider     string
	Model        string
	URL          string
	Template     string
	EndpointMode string
	NoStream     bool
	ConfigPath   string
	DBPath       string
	Timeout      time.Duration
	Verbose      bool
}

// LoadSettings reads configuration and overlays the command-line options.
func LoadSettings(opts Options) (config.Settings, error) {
	settings, err := config.Load(opts.ConfigPath, opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}
	for _, p := range []*config.Profile{&settings.Completion, &settings.Chat} {
		if opts.Model != "" {
			p.Model = opts.Model
		}
		if opts.URL != "" {
			p.URL = opts.URL
		}
		if opts.EndpointMode != "" {
			p.EndpointMode = opts.EndpointMode
		}
		if opts.NoStream {
			p.Stream = false
		}
	}
	// Completions take either format; a FIM template never reaches the chat profile.
	if opts.Template != "" {
		tmpls, err := templates.WithDefaults()
		if err != nil {
			return config.Settings{}, err
		}
		tmpl, err := tmpls.Lookup(opts.Template)
		if err != nil {
			return config.Settings{}, err
		}
		settings.Completion.Template = tmpl.Name()
		if tmpl.WireFormat() == llm.FormatChat {
			settings.Chat.Template = tmpl.Name()
		}
	}
	if opts.Timeout > 0 {
		settings.Timeout = opts.Timeout
	}
	if opts.DBPath != "" {
		settings.Database = opts.DBPath
	}
	return settings, nil
}

// Runner executes CLI requests through an Orchestrator, one at a time.
type Runner struct {
	settings config.Settings
	orch     *orchestration.Orchestrator
	journal  storage.Journal
	sessions storage.SessionStorage
	term     *terminal
	out      io.Writer
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	out        io.Writer
	logger     *slog.Logger
	httpClient *http.Client
}

// WithOutput sets where responses are printed.
func WithOutput(w io.Writer) RunnerOption {
	return func(c *runnerConfig) { c.out = w }
}

// WithLogger sets the logger shared by the runner and the core.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) { c.logger = l }
}

// WithHTTPClient sets the HTTP client used by every provider.
func WithHTTPClient(hc *http.Client) RunnerOption {
	return func(c *runnerConfig) { c.httpClient = hc }
}

// NewRunner wires settings, storage and the default registries together.
func NewRunner(settings config.Settings, journal storage.Journal, sessions storage.SessionStorage, opts ...RunnerOption) (*Runner, error) {
	cfg := runnerConfig{
		out:    os.Stdout,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	provOpts := []providers.Option{providers.WithLogger(cfg.logger)}
	if settings.Timeout > 0 {
		provOpts = append(provOpts, providers.WithTimeout(settings.Timeout))
	}
	if cfg.httpClient != nil {
		provOpts = append(provOpts, providers.WithHTTPClient(cfg.httpClient))
	}
	provs, err := providers.WithDefaults(provOpts...)
	if err != nil {
		return nil, err
	}
	tmpls, err := templates.WithDefaults()
	if err != nil {
		return nil, err
	}

	term := newTerminal(cfg.out)
	orch := orchestration.New(provs, tmpls,
		orchestration.WithListener(NewJournalListener(journal, term, cfg.logger)),
		orchestration.WithContextBuilder(NewContextBuilder()),
		orchestration.WithLogger(cfg.logger),
	)

	return &Runner{
		settings: settings,
		orch:     orch,
		journal:  journal,
		sessions: sessions,
		term:     term,
		out:      cfg.out,
		logger:   cfg.logger,
	}, nil
}

// Close cancels anything still in flight.
func (r *Runner) Close() {
	r.orch.Close()
}

// Complete runs a fill-in-middle completion and prints the inserted code.
func (r *Runner) Complete(ctx context.Context, req Request) (string, error) {
	return r.run(ctx, llm.KindCompletion, req)
}

// Refactor rewrites req.Selection following req.Prompt.
func (r *Runner) Refactor(ctx context.Context, req Request) (string, error) {
	return r.run(ctx, llm.KindRefactor, req)
}

// Ask sends one chat turn. With a session id the history is loaded before
// and saved after the turn.
func (r *Runner) Ask(ctx context.Context, sessionID string, req Request) (string, error) {
	if sessionID != "" {
		history, err := r.sessions.Load(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("failed to load history: %w", err)
		}
		req.History = history
	}

	text, err := r.run(ctx, llm.KindChat, req)
	if err != nil {
		return "", err
	}

	if sessionID != "" {
		user, err := NewContextBuilder().userMessage(req.Prompt, req.Images)
		if err != nil {
			return text, err
		}
		history := append(req.History, user, llm.AssistantMessage(text))
		if err := r.sessions.Save(ctx, sessionID, history); err != nil {
			r.logger.Warn("failed to save history", "session", sessionID, "err", err)
		}
	}
	return text, nil
}

// Chat starts an interactive chat reading prompts from in.
func (r *Runner) Chat(ctx context.Context, sessionID string, in io.Reader) error {
	if sessionID == "" {
		sessionID = "default"
	}
	if history, err := r.sessions.Load(ctx, sessionID); err == nil && len(history) > 0 {
		fmt.Fprintf(r.out, "Resuming session '%s' (%d messages)\n\n", sessionID, len(history))
	}
	fmt.Fprintf(r.out, "Chat with %s (%s). Type 'exit' to quit.\n\n", r.settings.Chat.Provider, r.settings.Chat.Model)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		_, err := r.Ask(ctx, sessionID, Request{Prompt: input})
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			fmt.Fprintf(r.out, "\nError: %v\n\n", err)
		default:
			fmt.Fprintln(r.out)
		}
	}
	return scanner.Err()
}

// run submits one request and waits for its outcome. Cancelling ctx cancels
// the request.
func (r *Runner) run(ctx context.Context, kind llm.RequestKind, req Request) (string, error) {
	profile := r.settings.ProfileFor(kind)
	id := uuid.NewString()
	r.logger.Debug("submitting", "id", id, "kind", kind, "profile", profile.Redacted())

	entry := storage.NewJournalEntry(id, kind.String(), profile.Provider, profile.Template, profile.Model)
	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.Warn("journal record failed", "id", id, "err", err)
	}

	err := profile.CheckAPIKey()
	if err == nil {
		err = r.orch.Submit(id, kind, req, profile)
	}
	if err != nil {
		r.finishJournal(id, storage.StatusFailed, "", err.Error())
		return "", err
	}

	for {
		select {
		case o := <-r.term.done:
			if o.id != id {
				continue
			}
			if o.failed {
				return "", errors.New(o.reason)
			}
			return o.text, nil
		case <-ctx.Done():
			if r.orch.Cancel(id) {
				r.finishJournal(id, storage.StatusCancelled, "", ctx.Err().Error())
			}
			r.term.forget(id)
			return "", ctx.Err()
		}
	}
}

func (r *Runner) finishJournal(id string, status storage.Status, text, reason string) {
	if err := r.journal.Finish(context.Background(), id, status, text, reason); err != nil {
		r.logger.Warn("journal update failed", "id", id, "err", err)
	}
}

// History prints the most recent journal entries.
func (r *Runner) History(ctx context.Context, limit int) error {
	entries, err := r.journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No requests recorded.")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tID\tKIND\tPROVIDER\tTEMPLATE\tSTATUS\tDETAIL")
	for _, e := range entries {
		detail := e.Reason
		if e.Status == storage.StatusCompleted {
			detail = e.Text
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			time.Unix(e.CreatedAt, 0).Format(time.DateTime),
			e.ID, e.Kind, e.Provider, e.Template, e.Status,
			truncateString(strings.ReplaceAll(detail, "\n", " "), 60))
	}
	return w.Flush()
}

// ListTemplates prints the registered templates, optionally only those
// supporting provider.
func ListTemplates(w io.Writer, provider string) error {
	tmpls, err := templates.WithDefaults()
	if err != nil {
		return err
	}

	list := make([]templates.Template, 0)
	if provider == "" {
		for _, name := range tmpls.Names() {
			t, _ := tmpls.Get(name)
			list = append(list, t)
		}
	} else {
		id, err := llm.ParseProviderID(provider)
		if err != nil {
			return err
		}
		list = tmpls.ForProvider(id)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORMAT\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name(), t.WireFormat(), t.Description())
	}
	return tw.Flush()
}

// ListProviders prints the supported providers with their default endpoints.
func ListProviders(w io.Writer) error {
	provs, err := providers.WithDefaults()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tDEFAULT URL\tCOMPLETION\tCHAT")
	for _, p := range provs.List() {
		e := p.Endpoints()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name(), p.DefaultURL(), e.Completion, e.Chat)
	}
	return tw.Flush()
}

// truncateString shortens a string to maxLen runes with an ellipsis.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
