package cast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jmylchreest/castarr/internal/chain"
)

// StaticConfirmer always gives the same answer.
type StaticConfirmer struct {
	Answer chain.Answer
}

// Confirm returns the configured answer.
func (c StaticConfirmer) Confirm(context.Context, chain.Prompt) (chain.Answer, error) {
	return c.Answer, nil
}

// TerminalConfirmer asks on a terminal. Empty or unreadable input declines.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prints the prompt and waits for one line of input or ctx.
func (c TerminalConfirmer) Confirm(ctx context.Context, prompt chain.Prompt) (chain.Answer, error) {
	fmt.Fprintf(c.Out, "\n%s\n%s\n", prompt.Title, prompt.Message)
	fmt.Fprint(c.Out, "  [c] Cancel  [o] OK  [n] OK, don't warn me again: ")

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.In)
		if scanner.Scan() {
			lines <- scanner.Text()
			return
		}
		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}
		errs <- io.EOF
	}()

	select {
	case <-ctx.Done():
		return chain.Decline, ctx.Err()
	case err := <-errs:
		return chain.Decline, fmt.Errorf("reading answer: %w", err)
	case line := <-lines:
		return ParseAnswer(line), nil
	}
}

// ParseAnswer maps operator input to an answer.
func ParseAnswer(s string) chain.Answer {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "o", "ok", "y", "yes":
		return chain.Accept
	case "n", "never", "ok, don't warn me again", "dont-warn", "suppress":
		return chain.AcceptAndSuppressFuture
	default:
		return chain.Decline
	}
}
