// Package interactive provides the terminal session for flowsock-chat.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/flowsock/flowsock-go/pkg/client"
	"github.com/flowsock/flowsock-go/pkg/stream"
)

// Chat runs one interactive session over an established connection.
type Chat struct {
	conn *client.Conn
	rl   *readline.Instance
}

// New creates a session handler.
func New(conn *client.Conn) (*Chat, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	return &Chat{conn: conn, rl: rl}, nil
}

// Run drives the session until the connection settles or the user quits.
func (c *Chat) Run(ctx context.Context) error {
	defer c.rl.Close()

	// Receiver: print every inbound message above the prompt.
	go c.receiveLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return c.shutdown(1000, "")
		case <-c.conn.Done():
			return c.reportOutcome()
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF: close cleanly.
			return c.shutdown(1000, "")
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := c.command(ctx, input)
			if err != nil {
				fmt.Fprintf(c.rl.Stderr(), "error: %v\n", err)
			}
			if done {
				return c.reportOutcome()
			}
			continue
		}

		if err := c.conn.WriteText(ctx, input); err != nil {
			fmt.Fprintf(c.rl.Stderr(), "send failed: %v\n", err)
			if errors.Is(err, stream.ErrConnectionClosed) {
				return c.reportOutcome()
			}
		}
	}
}

// command handles one /-prefixed input line. done reports that the
// session should end.
func (c *Chat) command(ctx context.Context, input string) (done bool, err error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		code := 1000
		reason := ""
		if len(fields) > 1 {
			code, err = strconv.Atoi(fields[1])
			if err != nil {
				return false, fmt.Errorf("bad close code %q", fields[1])
			}
		}
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		return true, c.shutdown(code, reason)

	case "/bin":
		if len(fields) != 2 {
			return false, errors.New("usage: /bin <hex>")
		}
		data, err := hex.DecodeString(fields[1])
		if err != nil {
			return false, fmt.Errorf("bad hex: %w", err)
		}
		return false, c.conn.WriteBinary(ctx, data)

	case "/status":
		c.printStatus()
		return false, nil

	case "/help":
		c.printHelp()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

// receiveLoop prints inbound messages until the stream ends.
func (c *Chat) receiveLoop(ctx context.Context) {
	out := c.rl.Stdout()
	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "<< connection closed by peer")
			} else if !errors.Is(err, context.Canceled) {
				fmt.Fprintf(out, "<< receive error: %v\n", err)
			}
			return
		}
		if msg.IsText() {
			fmt.Fprintf(out, "<< %s\n", msg.Text())
		} else {
			fmt.Fprintf(out, "<< [binary %d bytes] %s\n", len(msg.Data), hex.EncodeToString(msg.Data))
		}
	}
}

// shutdown closes the connection and reports the outcome.
func (c *Chat) shutdown(code int, reason string) error {
	if err := c.conn.Close(context.Background(), code, reason); err != nil {
		return err
	}
	return c.reportOutcome()
}

// reportOutcome prints how the connection ended.
func (c *Chat) reportOutcome() error {
	status, err := c.conn.Closed(context.Background())
	out := c.rl.Stdout()
	if err != nil {
		fmt.Fprintf(out, "connection failed: %v\n", err)
		return nil
	}
	if status.Reason != "" {
		fmt.Fprintf(out, "closed: %d %q\n", status.Code, status.Reason)
	} else {
		fmt.Fprintf(out, "closed: %d\n", status.Code)
	}
	return nil
}

func (c *Chat) printStatus() {
	out := c.rl.Stdout()
	fmt.Fprintf(out, "connection %s\n", c.conn.ID())
	if p := c.conn.Subprotocol(); p != "" {
		fmt.Fprintf(out, "subprotocol %s\n", p)
	}
	select {
	case <-c.conn.Done():
		fmt.Fprintln(out, "state: terminated")
	default:
		fmt.Fprintln(out, "state: open")
	}
}

func (c *Chat) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `commands:
  /bin <hex>              send a binary message
  /status                 show connection state
  /quit [code [reason]]   close and exit (default 1000)
  /help                   this text
anything else is sent as a text message
`)
}
