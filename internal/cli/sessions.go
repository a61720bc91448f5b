package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/pitchtime/internal/store"
)

// NewSessionsCommand creates the sessions command group. It reads the
// session database directly; the server need not be running.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:           "sessions",
		Short:         "Inspect recorded sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "session database path (default: config store.path)")

	open := func() (*store.Store, error) {
		path := dbPath
		if path == "" {
			path = rootOpts.config().Store.Path
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open session store", err)
		}
		return st, nil
	}

	cmd.AddCommand(newSessionsListCommand(rootOpts, open))
	cmd.AddCommand(newSessionsShowCommand(rootOpts, open))
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions, open func() (*store.Store, error)) *cobra.Command {
	var f store.Filter

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List sessions in start order",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  pitchtime sessions list
  pitchtime sessions list --subject 17
  pitchtime sessions list --status started --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			switch f.Status {
			case "", store.StatusStarted, store.StatusFinished:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q: must be %s or %s",
					f.Status, store.StatusStarted, store.StatusFinished))
			}
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitCommandError, "list sessions", err)
			}
			if out.JSON() {
				return out.Success(sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out.Writer, "No sessions.")
				return nil
			}
			rows := make([][]string, len(sessions))
			for i, s := range sessions {
				rows[i] = []string{
					s.Token,
					strconv.Itoa(s.Subject),
					strconv.FormatBool(s.Assigned),
					s.Status,
					strconv.Itoa(s.Trials),
					strconv.FormatInt(s.Seq, 10),
				}
			}
			return out.Table([]string{"TOKEN", "SUBJECT", "ASSIGNED", "STATUS", "TRIALS", "SEQ"}, rows)
		},
	}

	cmd.Flags().IntVar(&f.Subject, "subject", 0, "only sessions for this participant")
	cmd.Flags().StringVar(&f.Status, "status", "", "only sessions with this status (started|finished)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of sessions")

	return cmd
}

// SessionDetail is the JSON payload of sessions show.
type SessionDetail struct {
	Session store.Session `json:"session"`
	Events  []store.Event `json:"events"`
}

func newSessionsShowCommand(rootOpts *RootOptions, open func() (*store.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:           "show TOKEN",
		Short:         "Show one session and its events",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.GetSession(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				out.Error("E404", fmt.Sprintf("session %q not found", args[0]), nil)
				return NewExitError(ExitFailure, "session not found")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "get session", err)
			}
			events, err := st.ListEvents(cmd.Context(), sess.Token)
			if err != nil {
				return WrapExitError(ExitCommandError, "list events", err)
			}

			if out.JSON() {
				return out.Success(SessionDetail{Session: sess, Events: events})
			}
			fmt.Fprintf(out.Writer, "Session:  %s\n", sess.Token)
			fmt.Fprintf(out.Writer, "Subject:  %d", sess.Subject)
			if sess.Assigned {
				fmt.Fprintf(out.Writer, " (assigned, raw %q)", sess.RawParticipant)
			}
			fmt.Fprintln(out.Writer)
			fmt.Fprintf(out.Writer, "Status:   %s\n", sess.Status)
			fmt.Fprintf(out.Writer, "Trials:   %d\n", sess.Trials)
			fmt.Fprintf(out.Writer, "Version:  %s %s\n", sess.Experiment, sess.CodeVersion)
			fmt.Fprintf(out.Writer, "Timeline: %s\n", sess.TimelineHash)
			fmt.Fprintf(out.Writer, "\nEvents (%d):\n", len(events))
			for _, ev := range events {
				fmt.Fprintf(out.Writer, "  [%d] %s\n", ev.Seq, ev.Kind)
			}
			return nil
		},
	}
}
