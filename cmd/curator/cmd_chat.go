package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/curator/internal/app"
	"github.com/ent0n29/curator/internal/conversation"
	"github.com/ent0n29/curator/internal/turn"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the curator in the terminal",
	Long: `Start one chat session in the terminal.

Lines starting with a slash are commands:
  /stats       show catalog counters
  /reload      reload the catalog
  /transcript  print the conversation so far
  /quit        end the session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "terminal", "user id attached to the session")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = built.Cleanup() }()

	return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), built, chatUser)
}

// chatLoop runs one session until input ends, /quit, or ctx is done.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, built *app.BuildResult, userID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, greeting := built.Sessions.Create(userID)
	defer func() { _, _ = built.Sessions.End(sess.ID) }()

	c, cond := built.Grounding.Catalog(ctx)
	writeStats(out, c, cond)
	fmt.Fprintln(out)
	printTurn(out, "Thư", greeting.Text)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = l
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "/") {
			if quit := chatCommand(ctx, out, built, sess.ID, trimmed); quit {
				return nil
			}
			continue
		}

		outcome, err := built.Sessions.Send(ctx, sess.ID, line)
		switch {
		case errors.Is(err, turn.ErrEmptyInput):
			continue
		case err != nil:
			return err
		}
		printOutcome(out, outcome)
	}
}

func chatCommand(ctx context.Context, out io.Writer, built *app.BuildResult, sessionID, line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit":
		return true
	case "/stats":
		c, cond := built.Grounding.Catalog(ctx)
		writeStats(out, c, cond)
	case "/reload":
		c, cond := built.Grounding.Reload(ctx)
		writeStats(out, c, cond)
	case "/transcript":
		turns, err := built.Sessions.Transcript(sessionID)
		if err != nil {
			fmt.Fprintf(out, "transcript unavailable: %v\n", err)
			return false
		}
		for _, t := range turns {
			printTurn(out, speakerFor(t.Role), t.Text)
		}
	default:
		fmt.Fprintf(out, "unknown command %q\n", line)
	}
	return false
}

func printOutcome(out io.Writer, o turn.Outcome) {
	if o.Reply != nil {
		printTurn(out, "Thư", o.Reply.Text)
		return
	}
	if o.Diagnostic != nil {
		fmt.Fprintf(out, "[%s] %s\n", o.Diagnostic.Code, o.Diagnostic.Message)
		if o.Diagnostic.Retryable {
			fmt.Fprintln(out, "(send your message again to retry)")
		}
	}
}

func printTurn(out io.Writer, speaker, text string) {
	fmt.Fprintf(out, "%s: %s\n", speaker, text)
}

func speakerFor(role conversation.Role) string {
	if role == conversation.RoleUser {
		return "Bạn"
	}
	return "Thư"
}
