// Command oracle-ask sends one question to a running Oracle server and prints
// tool progress followed by the rendered answer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ctbritt/dark-sun-assistant/internal/chat"
	"github.com/ctbritt/dark-sun-assistant/internal/clientapi"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

const defaultWidth = 100

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("oracle-ask", flag.ContinueOnError)
	flags.SetOutput(stderr)
	addr := flags.String("addr", envOr("ORACLE_URL", clientapi.DefaultBaseURL), "server base URL")
	conversationID := flags.String("conversation", "", "continue an existing conversation")
	plain := flags.Bool("plain", false, "print without colors or markdown rendering")
	status := flags.Bool("status", false, "print server health and exit")
	width := flags.Int("width", defaultWidth, "wrap width for rendered answers")
	flags.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: oracle-ask [flags] <question>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	renderer, err := clientapi.NewRenderer(*width, *plain)
	if err != nil {
		return err
	}
	client := clientapi.New(*addr, nil)

	if *status {
		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, renderer.Health(health))
		return nil
	}

	question := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if question == "" {
		flags.Usage()
		return errors.New("a question is required")
	}

	final, err := client.StreamChat(ctx, chat.Request{Message: question, ConversationID: *conversationID}, func(ev workflow.Event) {
		if p, ok := ev.(workflow.ProgressEvent); ok {
			_, _ = fmt.Fprintln(stderr, renderer.Progress(p))
		}
	})
	if err != nil {
		var apiErr *clientapi.APIError
		if errors.As(err, &apiErr) {
			_, _ = fmt.Fprintln(stderr, renderer.Error(apiErr.Message))
		}
		return err
	}

	_, _ = fmt.Fprintln(stdout, renderer.Answer(final.Message.Content))
	_, _ = fmt.Fprintln(stderr, renderer.Footer(final.ConversationID))
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
