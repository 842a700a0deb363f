package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/observability"
)

// TerminalName is the registry name of the terminal channel.
const TerminalName = "terminal"

// terminalSender is the sender attributed to every line read from stdin.
const terminalSender = "user"

// TerminalConfig configures a terminal channel.
type TerminalConfig struct {
	In     io.Reader // defaults to os.Stdin
	Out    io.Writer // defaults to os.Stdout
	Logger zerolog.Logger
}

// TerminalChannel is an interactive stdin/stdout REPL channel.
type TerminalChannel struct {
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
}

// NewTerminalChannel creates a terminal channel.
func NewTerminalChannel(cfg TerminalConfig) *TerminalChannel {
	in := cfg.In
	if in == nil {
		in = os.Stdin
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	return &TerminalChannel{
		in:     in,
		out:    out,
		logger: cfg.Logger.With().Str("component", "channel.terminal").Logger(),
	}
}

// Name returns the channel name.
func (c *TerminalChannel) Name() string {
	return TerminalName
}

// Start launches the read loop in a background goroutine. Each non-empty
// input line is dispatched and the reply printed back.
func (c *TerminalChannel) Start(ctx context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("terminal channel already started")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stopOnce = &sync.Once{}
	stopCh := c.stopCh
	c.mu.Unlock()

	fmt.Fprintln(c.out, "nara> Type a message (Ctrl+C to quit)")

	go c.readLoop(ctx, dispatch, stopCh)

	return nil
}

// Stop terminates the read loop. A read already blocked on stdin completes
// but its result is discarded.
func (c *TerminalChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.logger.Debug().Msg("terminal channel stopped")
	return nil
}

// Send prints a message to the terminal. The recipient is ignored, there is
// only one user on the other side of stdout.
func (c *TerminalChannel) Send(_ string, text string) error {
	_, err := fmt.Fprintf(c.out, "\n%s\n", text)
	if err != nil {
		return fmt.Errorf("failed to write to terminal: %w", err)
	}
	return nil
}

func (c *TerminalChannel) readLoop(ctx context.Context, dispatch DispatchFunc, stopCh chan struct{}) {
	scanner := bufio.NewScanner(c.in)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		fmt.Fprint(c.out, "\nyou> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.logger.Warn().Err(err).Msg("terminal read failed")
			}
			return
		}

		select {
		case <-stopCh:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		observability.RecordChannelMessage(TerminalName)

		reply, err := dispatch(ctx, InboundMessage{
			Channel: TerminalName,
			Sender:  terminalSender,
			Content: line,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("dispatch failed")
			fmt.Fprintf(c.out, "\nnara> error: %s\n", err)
			continue
		}

		fmt.Fprintf(c.out, "\nnara> %s\n", reply)
	}
}
