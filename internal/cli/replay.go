package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplaySessionResult is the replay outcome of one session.
type ReplaySessionResult struct {
	Session       string   `json:"session"`
	Submissions   int      `json:"submissions"`
	Resolutions   int      `json:"resolutions"`
	Unresolved    int      `json:"unresolved"`
	ExpectedHash  string   `json:"expected_hash,omitempty"`
	ActualHash    string   `json:"actual_hash,omitempty"`
	Mismatches    []string `json:"mismatches,omitempty"`
	Deterministic bool     `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded sessions and verify determinism",
		Long: `Replay recorded sessions through a fresh cart store.

Submissions are re-submitted in sequence order and the recorded responses
resolved in the order they originally arrived. Each resolution's status and
staleness, and the final snapshot hash, must match the journal.

Exit codes:
  0 - Every session replayed identically
  1 - At least one session diverged
  2 - Command error (database not found, unknown session, etc.)

Examples:
  cartsync replay --db ./sessions.db
  cartsync replay --db ./sessions.db --session checkout-1
  cartsync replay --db ./sessions.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var sessions []string
	if opts.Session != "" {
		sessions = []string{opts.Session}
	} else {
		sessions, err = st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}

	for _, session := range sessions {
		r, err := st.ReplaySession(ctx, session)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", session), err)
		}
		sr := toSessionResult(r)
		if !sr.Deterministic {
			result.AllDeterministic = false
		}
		result.Sessions = append(result.Sessions, sr)
	}

	var exitErr error
	if !result.AllDeterministic {
		exitErr = NewExitError(ExitFailure, "replay diverged from the journal")
	}

	if out.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if exitErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeReplayMismatch, Message: exitErr.Error()}
		}
		if err := out.Encode(resp); err != nil {
			return err
		}
		return exitErr
	}

	printReplay(out, result)
	return exitErr
}

func toSessionResult(r *store.ReplayResult) ReplaySessionResult {
	sr := ReplaySessionResult{
		Session:       r.Session,
		Submissions:   r.Submissions,
		Resolutions:   r.Resolutions,
		Unresolved:    r.Unresolved,
		ExpectedHash:  r.ExpectedHash,
		ActualHash:    r.ActualHash,
		Deterministic: r.Match(),
	}
	for _, m := range r.Mismatches {
		sr.Mismatches = append(sr.Mismatches, m.String())
	}
	if r.ExpectedHash != r.ActualHash {
		sr.Mismatches = append(sr.Mismatches, fmt.Sprintf("snapshot hash recorded %s, replayed %s",
			shortHash(r.ExpectedHash), shortHash(r.ActualHash)))
	}
	return sr
}

func printReplay(out *OutputFormatter, result ReplayResult) {
	w := out.Writer
	if result.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}

	for _, s := range result.Sessions {
		mark := "✓"
		if !s.Deterministic {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d submissions, %d resolutions, %d unresolved\n",
			mark, s.Session, s.Submissions, s.Resolutions, s.Unresolved)
		for _, m := range s.Mismatches {
			fmt.Fprintf(w, "    %s\n", m)
		}
	}

	fmt.Fprintln(w)
	if result.AllDeterministic {
		fmt.Fprintf(w, "✓ All %d session(s) replayed deterministically\n", result.TotalSessions)
	} else {
		fmt.Fprintln(w, "✗ Replay diverged from the journal")
	}
}
