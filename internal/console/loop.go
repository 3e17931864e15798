package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Loop calls fn with every non-blank line read from r until fn returns
// false or ctx is cancelled, both of which return nil. When r runs dry Loop
// returns io.EOF. Reading from r is not interruptible, so a cancelled Loop may
// leave one read behind.
func Loop(ctx context.Context, r io.Reader, fn func(line string) bool) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					if err == nil {
						err = io.EOF
					}

					return err
				default:
					return nil
				}
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if !fn(line) {
				return nil
			}
		}
	}
}

// Run drives Loop and calls stop only when fn asks to leave. Losing the input,
// say stdin closed by a process supervisor, is logged and leaves the caller
// running.
func Run(ctx context.Context, r io.Reader, fn func(line string) bool, stop func(), log *zap.Logger) {
	err := Loop(ctx, r, fn)

	switch {
	case ctx.Err() != nil:
		return

	case errors.Is(err, io.EOF):
		log.Info("Console input closed, still running")

	case err != nil:
		log.Warn("Console stopped", zap.Error(err))

	default:
		stop()
	}
}
