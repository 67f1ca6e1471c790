package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	"parley/internal/chat"
	"parley/internal/completion"
	"parley/internal/entrypoint"
	"parley/internal/message"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat on the terminal (Ctrl-C stops a reply, /reload regenerates, /exit quits)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close(ctx)

		return runREPL(ctx, s, os.Stdin, os.Stdout)
	},
}

// terminal prints the growth of the last assistant message.
type terminal struct {
	out     io.Writer
	mu      sync.Mutex
	id      string
	printed int
	called  bool
}

func (t *terminal) render(msgs []message.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleAssistant {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if last.ID != t.id {
		t.id, t.printed, t.called = last.ID, 0, false
	}
	if len(last.Content) > t.printed {
		fmt.Fprint(t.out, last.Content[t.printed:])
		t.printed = len(last.Content)
	}
	if fc := last.FunctionCall; fc != nil && !t.called {
		fmt.Fprintf(t.out, "[calling %s %s]", fc.Name, fc.Arguments)
		t.called = true
	}
}

func runREPL(ctx context.Context, s *stack, in io.Reader, out io.Writer) error {
	var (
		resultsMu sync.Mutex
		results   []entrypoint.Result
	)
	opts := append(slices.Clone(s.convOpts), chat.WithFunctionResults(func(_ context.Context, res entrypoint.Result) {
		resultsMu.Lock()
		results = append(results, res)
		resultsMu.Unlock()
	}))
	conv := chat.New(s.client, s.registry, opts...)
	term := &terminal{out: out}
	defer conv.Subscribe(term.render)()

	takeResult := func() (entrypoint.Result, bool) {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		if len(results) == 0 {
			return entrypoint.Result{}, false
		}
		res := results[0]
		results = nil
		return res, true
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()
	go func() {
		for range sigs {
			if !conv.InFlight() {
				os.Exit(130)
			}
			conv.Stop()
		}
	}()

	turn := func(start func(context.Context) error) {
		err := start(ctx)
		for i := 0; err == nil && i < s.cfg.Functions.MaxFollowUps; i++ {
			res, ok := takeResult()
			if !ok {
				break
			}
			var msg message.Message
			if msg, err = chat.FunctionMessage(res); err != nil {
				break
			}
			fmt.Fprintln(out)
			err = conv.Append(ctx, msg)
		}
		takeResult()
		fmt.Fprintln(out)
		switch {
		case errors.Is(err, completion.ErrAborted):
			fmt.Fprintln(out, "(stopped)")
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/exit", "/quit":
			return nil
		case "/reload":
			turn(conv.Reload)
		default:
			msg := message.New(message.RoleUser, line)
			turn(func(ctx context.Context) error { return conv.Append(ctx, msg) })
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
