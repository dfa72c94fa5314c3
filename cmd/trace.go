package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/observability/internal/config"
	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/tracer"
)

// executeTrace reconstructs the trace of eventID and writes it as indented
// JSON. Kept apart from the cobra command for tests.
func executeTrace(ctx context.Context, reader tracer.Reader, cfg *config.Config, eventID string, w io.Writer) error {
	t := tracer.New(reader, cfg.ContextWindowMin, cfg.ContextWindowMax)
	res, err := t.Trace(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no event with id %q", eventID)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newTraceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <event-id>",
		Short: "print the ancestors and descendants of an event as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := loadStore(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return executeTrace(cmd.Context(), db, cfg, args[0], os.Stdout)
		},
	}
}
