package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			stack, closer, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			sessions, err := stack.Conversations.ListSessions(cmd.Context(), userID, domain.AgentMode(agent))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tAGENT\tUPDATED\tTITLE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.AgentID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&agent, "agent", "a", "", "only sessions for this agent mode")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session id>",
		Short: "Print a session's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			stack, closer, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			messages, err := stack.Conversations.History(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range messages {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			stack, closer, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := stack.Conversations.DeleteSession(cmd.Context(), userID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
