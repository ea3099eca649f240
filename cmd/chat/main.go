package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"scheduleChat/config"
	"scheduleChat/pkg/client"
	"scheduleChat/pkg/realtime"
)

type options struct {
	server      string
	token       string
	meeting     string
	dm          string
	sendTimeout time.Duration
	logEnv      string
}

// parseFlags reads the command line. Defaults come from $CHAT_TOKEN and $SEND_TIMEOUT.
func parseFlags(args []string) (options, error) {
	timeout, err := config.SendTimeout()
	if err != nil {
		return options{}, err
	}

	var opts options
	flags := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	flags.StringVar(&opts.server, "server", "http://localhost:3003", "base URL of the scheduleChat server")
	flags.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "Firebase ID token (defaults to $CHAT_TOKEN)")
	flags.StringVar(&opts.meeting, "meeting", "", "open the chat of this meeting")
	flags.StringVar(&opts.dm, "dm", "", "open the direct conversation with this user")
	flags.DurationVar(&opts.sendTimeout, "send-timeout", timeout, "give up on a send after this long (defaults to $SEND_TIMEOUT)")
	flags.StringVar(&opts.logEnv, "log-env", "production", "logger preset: local, development or production")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.token == "" {
		return options{}, errors.New("a token is required (--token or $CHAT_TOKEN)")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(opts.logEnv)
	if err != nil {
		log.Fatalf("Unable to set up logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts.server, opts.token, opts.sendTimeout, initial(opts.meeting, opts.dm)); err != nil {
		logger.Sugar().Errorw("chat stopped", "error", err)
		os.Exit(1)
	}
}

func initial(meeting, dm string) *realtime.Conversation {
	switch {
	case dm != "":
		conv := realtime.Direct(dm)
		return &conv
	case meeting != "":
		conv := realtime.Meeting(meeting)
		return &conv
	}
	return nil
}

func run(ctx context.Context, logger *zap.Logger, server, token string, sendTimeout time.Duration, conv *realtime.Conversation) error {
	backend := client.New(server, token, nil)
	wsURL, err := backend.SocketURL()
	if err != nil {
		return err
	}

	socket, err := realtime.Dial(ctx, wsURL, token, realtime.SocketOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer socket.Close()

	session, err := realtime.NewSession(ctx, backend, socket, realtime.Options{Logger: logger, SendTimeout: sendTimeout})
	if err != nil {
		return err
	}
	defer session.Close()

	t := &terminal{ctx: ctx, session: session}
	defer t.closeView()
	if conv != nil {
		t.switchTo(*conv)
	}
	t.draw()

	lines := make(chan string)
	go readLines(lines)

	for {
		var viewChanges <-chan struct{}
		if t.view != nil {
			viewChanges = t.view.Changes()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-session.Presence().Changes():
			t.draw()
		case <-viewChanges:
			t.draw()
		case err := <-t.sendResult:
			t.sendResult = nil
			if err != nil {
				t.status = err
			}
			t.draw()
		case line, ok := <-lines:
			if !ok || !t.handle(line) {
				return nil
			}
			t.draw()
		}
	}
}

type terminal struct {
	ctx        context.Context
	session    *realtime.Session
	view       *realtime.View
	sendResult <-chan error
	status     error
}

// handle runs one input line and reports whether to keep going.
func (t *terminal) handle(line string) bool {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 1 && fields[0] == "/quit":
		return false
	case len(fields) == 2 && fields[0] == "/dm":
		t.switchTo(realtime.Direct(fields[1]))
		return true
	case len(fields) == 2 && fields[0] == "/meeting":
		t.switchTo(realtime.Meeting(fields[1]))
		return true
	}

	if t.view == nil {
		t.status = errors.New("open a conversation with /dm <userId> or /meeting <meetingId>")
		return true
	}
	result, err := t.view.Send(t.ctx, line)
	switch {
	case errors.Is(err, realtime.ErrEmptyContent):
	case err != nil:
		t.status = err
	default:
		t.status = nil
		t.sendResult = result
	}
	return true
}

// switchTo closes the open view before opening conv.
func (t *terminal) switchTo(conv realtime.Conversation) {
	t.closeView()
	view, err := t.session.Open(t.ctx, conv)
	if err != nil {
		t.status = err
		return
	}
	t.view = view
	t.status = nil
}

func (t *terminal) closeView() {
	if t.view == nil {
		return
	}
	_ = t.view.Close()
	t.view = nil
	t.sendResult = nil
}

func (t *terminal) draw() {
	title := "no conversation"
	var entries []realtime.Entry
	if t.view != nil {
		title = t.view.Conversation().String()
		entries = t.view.Messages()
	}
	status := t.status
	if status == nil && t.view != nil {
		status = t.view.Err()
	}
	render(os.Stdout, title, t.session.Presence().Online(), entries, status)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
