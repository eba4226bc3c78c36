package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"groupcal/internal/calendar"
	"groupcal/internal/datekey"
)

func newEventsCmd() *cobra.Command {
	var start, end, now string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Resolve calendar items once and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			svc, zone, err := newService(cfg, nil)
			if err != nil {
				return err
			}

			nowAt, err := parseNow(now, zone)
			if err != nil {
				return err
			}

			res := svc.Resolve(cmd.Context(), calendar.Request{Start: start, End: end, Now: nowAt})
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First date key, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&end, "end", "", "Last date key, YYYY-MM-DD (default: today + default_future_days)")
	cmd.Flags().StringVar(&now, "now", "", "Override the current time (RFC 3339 or YYYY-MM-DD)")
	return cmd
}

// parseNow accepts RFC 3339 instants or date keys (noon in the zone).
func parseNow(v string, zone *datekey.Zone) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if start, _, err := zone.InstantRange(v); err == nil {
		return start.Add(12 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("invalid --now %q: want RFC 3339 or YYYY-MM-DD", v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
