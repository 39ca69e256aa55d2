// ABOUTME: Line-oriented stdio transport for the bridge
// ABOUTME: Strictly sequential: read a line, dispatch, write, repeat

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxLineSize bounds one inbound JSON-RPC line (1 MiB).
const maxLineSize = 1 << 20

// StdioTransport runs one bridge session over a reader/writer pair,
// typically stdin/stdout. A single credential is bound at process start
// and used for every call, so the whole session maps to one identity.
type StdioTransport struct {
	bridge     *Bridge
	credential string
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger
}

// NewStdioTransport wires a bridge to a line-oriented byte stream.
func NewStdioTransport(b *Bridge, credential string, in io.Reader, out io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		bridge:     b,
		credential: credential,
		in:         in,
		out:        out,
		logger:     logger.With("component", "stdio"),
	}
}

// Run reads one JSON value per line until end-of-input or context
// cancellation. Dispatch is synchronous: request N's response is written
// before request N+1 is read, so responses keep request order. Returns nil
// on clean EOF.
func (t *StdioTransport) Run(ctx context.Context) error {
	defer t.bridge.Close()

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := t.bridge.HandleMessage(ctx, t.credential, []byte(line))
		if resp == nil {
			continue
		}
		if err := t.write(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			t.logger.Warn("input line exceeded maximum size")
		}
		return fmt.Errorf("reading input: %w", err)
	}

	t.logger.Info("end of input, session closed")
	return nil
}

func (t *StdioTransport) write(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = t.out.Write(data)
	return err
}
