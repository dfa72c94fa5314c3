package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/hub"
)

// streamMessage mirrors hub.Message with the payload left undecoded.
type streamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// executeTail connects to the live stream at addr and prints one line per
// event until the server closes the connection, ctx is cancelled, or count
// events were printed (count <= 0 means no limit).
func executeTail(ctx context.Context, addr, sessionID string, count int, w io.Writer) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	printed := 0
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var events []domain.Event
		switch msg.Type {
		case hub.TypeInitial:
			if err := json.Unmarshal(msg.Data, &events); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
		case hub.TypeEvent:
			var ev domain.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, ev)
		default:
			continue
		}

		for i := range events {
			fmt.Fprintln(w, formatEventLine(&events[i]))
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		}
	}
}

func formatEventLine(ev *domain.Event) string {
	marker := " "
	if ev.Synthetic {
		marker = "*"
	}
	line := fmt.Sprintf("%s %s %-10s %-12s %-20s %s",
		domain.FormatTime(ev.CreatedAt), marker, ev.SourceApp, ev.SessionID, ev.EventType, ev.Summary)
	return strings.TrimRight(line, " ")
}

func newTailCmd() *cobra.Command {
	var addr, sessionID string
	var count int

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "print the live event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeTail(cmd.Context(), addr, sessionID, count, os.Stdout)
		},
	}
	tailCmd.Flags().StringVar(&addr, "addr", "ws://localhost:4000/stream", "stream endpoint")
	tailCmd.Flags().StringVar(&sessionID, "session", "", "only show events of this session")
	tailCmd.Flags().IntVarP(&count, "count", "n", 0, "exit after printing this many events")

	return tailCmd
}
