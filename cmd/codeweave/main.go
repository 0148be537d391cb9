// Package main provides the codeweave CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/codeweave/cli"
	"github.com/richinex/codeweave/storage"
)

// cursorMarker splits a file into prefix and suffix when no offset is given.
const cursorMarker = "<CURSOR>"

var opts cli.Options

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "codeweave",
		Short: "Code completion and chat across LLM providers",
		Long: `A CLI for fill-in-middle completion, chat and refactoring against
Ollama, OpenAI, Claude, Google AI, Mistral AI, llama.cpp, OpenRouter and
OpenAI compatible servers.

Settings come from the environment (and .env), an optional config file, and
the flags below, in increasing precedence.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (ollama, openai, claude, google, mistral, llamacpp, openrouter, compatible)")
	flags.StringVarP(&opts.Model, "model", "m", "", "Model name")
	flags.StringVar(&opts.URL, "url", "", "Provider base URL")
	flags.StringVarP(&opts.Template, "template", "t", "", "Prompt template name")
	flags.StringVar(&opts.EndpointMode, "endpoint-mode", "", "Endpoint mode (auto, fim, chat, custom)")
	flags.BoolVar(&opts.NoStream, "no-stream", false, "Wait for the full response instead of streaming")
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to config file (yaml, json or toml)")
	flags.StringVar(&opts.DBPath, "db", "", "Database path for the request journal and chat sessions")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Show debug logs")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Transfer timeout per request (e.g. 90s)")

	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(refactorCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withRunner opens storage, builds a runner and runs fn with a context that
// Ctrl-C cancels.
func withRunner(fn func(ctx context.Context, r *cli.Runner) error) error {
	settings, err := cli.LoadSettings(opts)
	if err != nil {
		return err
	}
	logger := newLogger()

	store, err := storage.OpenSqlite(settings.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	runner, err := cli.NewRunner(settings, store, store, cli.WithLogger(logger))
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, runner)
}

func completeCmd() *cobra.Command {
	var (
		file         string
		offset       int
		prefix       string
		suffix       string
		contextFiles []string
	)

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Fill in the code at a cursor position",
		Long: `Fill in the code at a cursor position.

The cursor is given either by --prefix/--suffix, by --file with --offset,
or by a ` + cursorMarker + ` marker inside --file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := cli.Request{Prefix: prefix, Suffix: suffix, Files: contextFiles}
			if file != "" {
				p, s, err := splitAtCursor(file, offset)
				if err != nil {
					return err
				}
				req.Prefix, req.Suffix = p, s
			}
			if req.Prefix == "" && req.Suffix == "" {
				return fmt.Errorf("nothing to complete: give --prefix/--suffix or --file")
			}
			return withRunner(func(ctx context.Context, r *cli.Runner) error {
				_, err := r.Complete(ctx, req)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Source file to complete")
	cmd.Flags().IntVar(&offset, "offset", -1, "Byte offset of the cursor in --file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Code before the cursor")
	cmd.Flags().StringVar(&suffix, "suffix", "", "Code after the cursor")
	cmd.Flags().StringArrayVarP(&contextFiles, "context", "c", nil, "Additional file to show the model (repeatable)")

	return cmd
}

func splitAtCursor(path string, offset int) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	content := string(data)
	if offset < 0 {
		i := strings.Index(content, cursorMarker)
		if i < 0 {
			return "", "", fmt.Errorf("%s has no %s marker; use --offset", path, cursorMarker)
		}
		return content[:i], content[i+len(cursorMarker):], nil
	}
	if offset > len(content) {
		return "", "", fmt.Errorf("offset %d beyond end of %s (%d bytes)", offset, path, len(content))
	}
	return content[:offset], content[offset:], nil
}

func chatCmd() *cobra.Command {
	var (
		session      string
		images       []string
		contextFiles []string
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Ask a question, or start an interactive chat without a prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(ctx context.Context, r *cli.Runner) error {
				if len(args) == 0 {
					return r.Chat(ctx, session, os.Stdin)
				}
				_, err := r.Ask(ctx, session, cli.Request{Prompt: args[0], Images: images, Files: contextFiles})
				return err
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session ID for conversation persistence")
	cmd.Flags().StringArrayVar(&images, "image", nil, "Image file or URL to attach (repeatable)")
	cmd.Flags().StringArrayVarP(&contextFiles, "context", "c", nil, "Additional file to show the model (repeatable)")

	return cmd
}

func refactorCmd() *cobra.Command {
	var (
		file         string
		lines        string
		contextFiles []string
	)

	cmd := &cobra.Command{
		Use:   "refactor [instructions]",
		Short: "Rewrite a file or a line range of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			selection, err := readSelection(file, lines)
			if err != nil {
				return err
			}
			req := cli.Request{Selection: selection, Files: contextFiles}
			if len(args) == 1 {
				req.Prompt = args[0]
			}
			return withRunner(func(ctx context.Context, r *cli.Runner) error {
				_, err := r.Refactor(ctx, req)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Source file to refactor")
	cmd.Flags().StringVar(&lines, "lines", "", "Line range to refactor, e.g. 10:42 (1-based, inclusive)")
	cmd.Flags().StringArrayVarP(&contextFiles, "context", "c", nil, "Additional file to show the model (repeatable)")

	return cmd
}

func readSelection(path, lines string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if lines == "" {
		return string(data), nil
	}
	var from, to int
	if _, err := fmt.Sscanf(lines, "%d:%d", &from, &to); err != nil {
		return "", fmt.Errorf("invalid --lines %q: %w", lines, err)
	}
	all := strings.Split(string(data), "\n")
	if from < 1 || to < from || to > len(all) {
		return "", fmt.Errorf("--lines %q out of range (file has %d lines)", lines, len(all))
	}
	return strings.Join(all[from-1:to], "\n"), nil
}

func templatesCmd() *cobra.Command {
	var forProvider string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTemplates(os.Stdout, forProvider)
		},
	}

	cmd.Flags().StringVar(&forProvider, "for", "", "Only templates supporting this provider")

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListProviders(os.Stdout)
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent requests from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(ctx context.Context, r *cli.Runner) error {
				return r.History(ctx, limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")

	return cmd
}
