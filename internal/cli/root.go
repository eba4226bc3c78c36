// Package cli implements the groupcal command line.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"groupcal/internal/calendar"
	"groupcal/internal/config"
	"groupcal/internal/datekey"
	"groupcal/internal/ics"
	appLog "groupcal/internal/log"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "groupcal",
	Short:         "Group calendar feed service",
	Long:          `Serves the group's public calendar feed as a cached, recurrence-expanded list of items.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/groupcal/config.yaml", "Path to config file")
	rootCmd.AddCommand(newServeCmd(), newEventsCmd())
}

// loadConfig reads the config file and applies its log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.Setup(appLog.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return cfg, nil
}

// feedSource derives the upstream feed from the config.
func feedSource(cfg *config.Config) ics.Source {
	u := cfg.FeedURL
	if u == "" {
		u = ics.FeedURL(cfg.CalendarID)
	}
	return ics.Source{ID: cfg.CalendarID, URL: u}
}

func newService(cfg *config.Config, reg prometheus.Registerer) (*calendar.Service, *datekey.Zone, error) {
	zone, err := datekey.NewZone(cfg.Timezone)
	if err != nil {
		return nil, nil, err
	}
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	svc, err := calendar.NewService(ics.NewHTTPFetcher(timeout), calendar.Options{
		Source:       feedSource(cfg),
		Zone:         zone,
		FutureDays:   cfg.DefaultFutureDays,
		TTL:          time.Duration(cfg.CacheTTLSeconds) * time.Second,
		BufferDays:   cfg.BoundaryBufferDays,
		FetchTimeout: timeout,
		Registerer:   reg,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, zone, nil
}
