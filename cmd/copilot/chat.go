package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var (
		sessionID string
		showLogs  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation with an agent",
		Long: `Starts an interactive conversation. Type a prompt and press enter.

Commands inside the conversation:
  /new            start a new session
  /switch <id>    resume a stored session
  /history        print the current transcript
  /quit           leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stack, closer, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			r := &repl{
				svc:      stack.Conversations,
				userID:   userID,
				mode:     domain.AgentMode(agentID),
				out:      cmd.OutOrStdout(),
				showLogs: showLogs,
			}
			if err := r.open(ctx, sessionID); err != nil {
				return err
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", string(domain.AgentPreCall), "agent mode to talk to")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume this session instead of starting a new one")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print agent log lines as they arrive")

	return cmd
}

// repl drives one terminal conversation at a time
type repl struct {
	svc      *service.ConversationService
	userID   string
	mode     domain.AgentMode
	conv     *service.Conversation
	out      io.Writer
	showLogs bool
}

// open starts a fresh conversation, or resumes sessionID when it is set
func (r *repl) open(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		r.replace(r.svc.NewConversation(r.userID, r.mode))
		fmt.Fprintf(r.out, "new %s session %s\n", r.mode, r.conv.SessionID())
		return nil
	}

	conv, err := r.svc.LoadConversation(ctx, r.userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	r.replace(conv)
	r.mode = conv.Mode()
	fmt.Fprintf(r.out, "resumed %s session %s\n", r.mode, conv.SessionID())
	r.printTranscript()
	return nil
}

// replace ends the current conversation so late updates cannot reach it
func (r *repl) replace(conv *service.Conversation) {
	if r.conv != nil {
		r.conv.Terminate()
	}
	r.conv = conv
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			if err := r.open(ctx, ""); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		case strings.HasPrefix(line, "/switch"):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch"))
			if id == "" {
				fmt.Fprintln(r.out, "usage: /switch <session id>")
				continue
			}
			if err := r.open(ctx, id); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		case line == "/history":
			r.printTranscript()
		default:
			r.turn(ctx, line)
		}

		if ctx.Err() != nil {
			return nil
		}
	}

	return scanner.Err()
}

func (r *repl) turn(ctx context.Context, prompt string) {
	events := make(chan domain.StreamEvent, 16)
	type outcome struct {
		res *service.TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.conv.SubmitTurn(ctx, prompt, events)
		done <- outcome{res, err}
	}()

	for ev := range events {
		if ev.Kind == domain.EventLog {
			if r.showLogs {
				fmt.Fprintf(r.out, "\n  %s\n", ev.Text)
			}
			continue
		}
		fmt.Fprint(r.out, ev.Text)
	}
	fmt.Fprintln(r.out)

	o := <-done
	if o.err != nil {
		fmt.Fprintf(r.out, "error: %v\n", o.err)
		return
	}
	if o.res.Outcome == service.OutcomeRetry {
		fmt.Fprintln(r.out, o.res.Answer)
	}
	for _, w := range o.res.Warnings {
		fmt.Fprintf(r.out, "warning: %v\n", w)
	}
}

func (r *repl) printTranscript() {
	for _, e := range r.conv.Transcript() {
		fmt.Fprintf(r.out, "%s: %s\n", e.Role, e.Content)
	}
}
