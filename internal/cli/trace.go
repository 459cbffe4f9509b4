package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
}

// TraceEvent is one timeline entry. Submissions carry Seq, Action and
// Payload; resolutions carry Status and the snapshot summary.
type TraceEvent struct {
	Ordinal      int64           `json:"ordinal"`
	Type         string          `json:"type"` // "submission" or "resolution"
	ID           string          `json:"id"`
	Seq          int64           `json:"seq,omitempty"`
	Action       cart.Kind       `json:"action,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status,omitempty"`
	Stale        bool            `json:"stale,omitempty"`
	ConfirmedSeq int64           `json:"confirmed_seq,omitempty"`
	Lines        []string        `json:"lines,omitempty"`
	Quantity     int             `json:"total_quantity,omitempty"`
	SnapshotHash string          `json:"snapshot_hash,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
}

// TraceStats summarizes a session.
type TraceStats struct {
	Submissions int  `json:"submissions"`
	Succeeded   int  `json:"succeeded"`
	Failed      int  `json:"failed"`
	Stale       int  `json:"stale"`
	Unresolved  int  `json:"unresolved"`
	IsComplete  bool `json:"is_complete"`
}

// TraceResult is the trace command's output.
type TraceResult struct {
	Session  string       `json:"session"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print a recorded session timeline",
		Long: `Print the journal timeline of one session.

Submissions and resolutions are listed in the order they were recorded.
Each resolution shows its status, whether it was stale, and a summary of the
snapshot it carried. Without --session the recorded sessions are listed.

Examples:
  cartsync trace --db ./sessions.db
  cartsync trace --db ./sessions.db --session checkout-1
  cartsync trace --db ./sessions.db --session checkout-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace")

	return cmd
}

// openExisting opens a journal database that must already exist; Open
// would otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Session == "" {
		return listSessions(ctx, st, out)
	}

	events, err := st.Timeline(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read timeline", err)
	}
	if len(events) == 0 {
		msg := fmt.Sprintf("session not found: %s", opts.Session)
		if err := out.Error(ErrCodeSessionUnknown, msg, nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, msg)
	}

	result := buildTrace(opts.Session, events)
	if out.JSON() {
		return out.Encode(CLIResponse{Status: "ok", Data: result})
	}
	printTrace(out, result)
	return nil
}

func listSessions(ctx context.Context, st *store.Store, out *OutputFormatter) error {
	sessions, err := st.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	if out.JSON() {
		if sessions == nil {
			sessions = []string{}
		}
		return out.Encode(CLIResponse{Status: "ok", Data: map[string]any{"sessions": sessions}})
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out.Writer, "No sessions recorded.")
		return nil
	}
	fmt.Fprintf(out.Writer, "Sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(out.Writer, "  %s\n", s)
	}
	return nil
}

func buildTrace(session string, events []store.Event) TraceResult {
	result := TraceResult{Session: session, Timeline: make([]TraceEvent, 0, len(events))}
	resolved := make(map[string]bool)

	for _, ev := range events {
		switch {
		case ev.Submission != nil:
			s := ev.Submission
			result.Stats.Submissions++
			result.Timeline = append(result.Timeline, TraceEvent{
				Ordinal: ev.Ordinal,
				Type:    "submission",
				ID:      s.ID,
				Seq:     s.Seq,
				Action:  s.Kind,
				Payload: s.Payload,
			})

		case ev.Resolution != nil:
			r := ev.Resolution
			resolved[r.SubmissionID] = true
			switch {
			case r.Stale:
				result.Stats.Stale++
			case r.Status == "succeeded":
				result.Stats.Succeeded++
			default:
				result.Stats.Failed++
			}
			te := TraceEvent{
				Ordinal:      ev.Ordinal,
				Type:         "resolution",
				ID:           r.SubmissionID,
				Status:       r.Status,
				Stale:        r.Stale,
				ConfirmedSeq: r.ConfirmedSeq,
				SnapshotHash: r.SnapshotHash,
			}
			if r.Snapshot != nil {
				te.Lines = snapshotLines(r.Snapshot)
				te.Quantity = r.Snapshot.TotalQuantity
			}
			for _, e := range r.Errors {
				te.Errors = append(te.Errors, e.Error())
			}
			result.Timeline = append(result.Timeline, te)
		}
	}

	result.Stats.Unresolved = result.Stats.Submissions - len(resolved)
	result.Stats.IsComplete = result.Stats.Unresolved == 0
	return result
}

func snapshotLines(c *cart.Cart) []string {
	out := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = l.MerchandiseID + "=" + strconv.Itoa(l.Quantity)
	}
	return out
}

func printTrace(out *OutputFormatter, result TraceResult) {
	w := out.Writer
	fmt.Fprintf(w, "Session: %s\n\n", result.Session)
	fmt.Fprintln(w, "Timeline:")
	for _, ev := range result.Timeline {
		if ev.Type == "submission" {
			fmt.Fprintf(w, "  #%d submit  %s seq=%d %s %s\n", ev.Ordinal, ev.ID, ev.Seq, ev.Action, ev.Payload)
			continue
		}
		status := ev.Status
		if ev.Stale {
			status += " (stale)"
		}
		fmt.Fprintf(w, "  #%d resolve %s %s", ev.Ordinal, ev.ID, status)
		if ev.SnapshotHash != "" {
			fmt.Fprintf(w, " [%s] qty=%d hash=%s", strings.Join(ev.Lines, " "), ev.Quantity, shortHash(ev.SnapshotHash))
		}
		fmt.Fprintln(w)
		for _, e := range ev.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d submissions, %d succeeded, %d stale, %d failed, %d unresolved\n",
		s.Submissions, s.Succeeded, s.Stale, s.Failed, s.Unresolved)
	if s.IsComplete {
		fmt.Fprintln(w, "✓ Session complete")
	} else {
		fmt.Fprintln(w, "… Session has unresolved mutations")
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
