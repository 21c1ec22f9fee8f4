package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/aplbridge/internal/journal"
	"github.com/roach88/aplbridge/internal/session"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Token    string
	Type     string // optional - filter to one message type
}

// TraceResult holds the envelopes of one session or document.
type TraceResult struct {
	Session string          `json:"session,omitempty"`
	Token   string          `json:"token,omitempty"`
	Entries []journal.Entry `json:"entries"`
	Stats   TraceStats      `json:"stats"`
}

// TraceStats summarises a trace.
type TraceStats struct {
	Total    int `json:"total"`
	Incoming int `json:"incoming"`
	Outgoing int `json:"outgoing"`
	Tokens   int `json:"tokens"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded view host traffic",
		Long: `Read an envelope journal written by "aplbridge serve --journal".

Without --session or --token, lists the recorded sessions. With either,
shows the matching envelopes in capture order: direction, message type,
document token and seqno. --verbose adds payloads.

Examples:
  aplbridge trace --db ./bridge.db
  aplbridge trace --db ./bridge.db --session 0b6f...
  aplbridge trace --db ./bridge.db --token home --type hierarchy
  aplbridge trace --db ./bridge.db --token home --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show")
	cmd.Flags().StringVar(&opts.Token, "token", "", "document token to show")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one message type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// sqlite creates missing files; a trace of a typo is an error.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(commandFailure(ErrCodeJournal, "failed to open journal", err))
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.Fail(commandFailure(ErrCodeJournal, "failed to open journal", err))
	}
	defer j.Close()

	if opts.Session == "" && opts.Token == "" {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if opts.Format == "json" {
			return outputTraceJSON(cmd, map[string]any{"sessions": sessions})
		}
		return outputSessionsText(cmd.OutOrStdout(), sessions)
	}

	entries, err := j.Entries(ctx, journal.Filter{Session: opts.Session, Token: opts.Token})
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	result := buildTrace(opts, entries)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTrace applies the type filter and computes stats.
func buildTrace(opts *TraceOptions, entries []journal.Entry) TraceResult {
	result := TraceResult{
		Session: opts.Session,
		Token:   opts.Token,
		Entries: []journal.Entry{},
	}
	tokens := make(map[string]struct{})
	for _, e := range entries {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		result.Entries = append(result.Entries, e)
		switch e.Direction {
		case session.DirectionIn:
			result.Stats.Incoming++
		case session.DirectionOut:
			result.Stats.Outgoing++
		}
		if e.Token != "" {
			tokens[e.Token] = struct{}{}
		}
	}
	result.Stats.Total = len(result.Entries)
	result.Stats.Tokens = len(tokens)
	return result
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, data any) error {
	response := CLIResponse{
		Status: "ok",
		Data:   data,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func outputSessionsText(w io.Writer, sessions []journal.SessionSummary) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	fmt.Fprintln(w, "=== Sessions ===")
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s  %d envelopes (%d in, %d out), %d documents\n",
			truncateID(s.Session), s.Entries, s.Incoming, s.Outgoing, s.Tokens)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	switch {
	case result.Session != "" && result.Token != "":
		fmt.Fprintf(w, "Trace for session %s, document %s\n", truncateID(result.Session), result.Token)
	case result.Session != "":
		fmt.Fprintf(w, "Trace for session %s\n", truncateID(result.Session))
	default:
		fmt.Fprintf(w, "Trace for document %s\n", result.Token)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Envelopes ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  No envelopes found.")
	}
	for _, e := range result.Entries {
		formatEntry(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:     %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Incoming:  %d\n", result.Stats.Incoming)
	fmt.Fprintf(w, "  Outgoing:  %d\n", result.Stats.Outgoing)
	fmt.Fprintf(w, "  Documents: %d\n", result.Stats.Tokens)
	return nil
}

// formatEntry formats one envelope for text output.
func formatEntry(w io.Writer, e journal.Entry, verbose bool) {
	arrow := "->"
	if e.Direction == session.DirectionIn {
		arrow = "<-"
	}
	msgType := e.Type
	if msgType == "" {
		msgType = "(malformed)"
	}
	line := fmt.Sprintf("  [%d] %s %s", e.ID, arrow, msgType)
	if e.Token != "" {
		line += " token=" + e.Token
	}
	if e.Seqno != 0 {
		line += fmt.Sprintf(" seqno=%d", e.Seqno)
	}
	fmt.Fprintln(w, line)

	if verbose {
		fmt.Fprintf(w, "       Payload: %s\n", formatPayload(e.Payload))
	}
}

// formatPayload renders a payload with sorted keys.
func formatPayload(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return formatValue(v)
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
