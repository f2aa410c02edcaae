package cli

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show effective settings",
	Long: `Shows the settings in effect: defaults, overlaid with config.toml, the .env
file and SCANPIPE_* environment variables. Settings that do not use their
default are listed with the layer that set them.`,
	RunE: runSettingsShow,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if settingsService == nil {
			return errors.New("settings service not configured")
		}
		cmd.Println(settingsService.Path())
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsPathCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Printf("Config file: %s\n", settingsService.Path())
	cmd.Println()

	cmd.Println("[Store]")
	cmd.Printf("  Driver: %s\n", settings.Store.Driver)
	if settings.Store.DSN != "" {
		cmd.Printf("  DSN: %s\n", maskDSN(settings.Store.DSN))
	}
	if settings.Store.Path != "" {
		cmd.Printf("  Path: %s\n", settings.Store.Path)
	}
	cmd.Printf("  Retry: %d attempts, %s apart\n", settings.Store.RetryAttempts, settings.Store.RetryDelay)
	cmd.Printf("  Cooldown: %s\n", settings.Store.Cooldown)
	cmd.Printf("  Query timeout: %s\n", settings.Store.QueryTimeout)
	cmd.Printf("  Cache TTL: %s\n", settings.Cache.TTL)
	cmd.Println()

	cmd.Println("[Notify]")
	cmd.Printf("  Driver: %s\n", settings.Notify.Driver)
	if settings.Notify.RedisAddr != "" {
		cmd.Printf("  Redis: %s (channel %s)\n", settings.Notify.RedisAddr, settings.Notify.Channel)
	}
	cmd.Println()

	cmd.Println("[Extract]")
	cmd.Printf("  Min text length: %d\n", settings.Extract.MinTextLength)
	cmd.Printf("  Min printable ratio: %.2f\n", settings.Extract.MinPrintableRatio)
	cmd.Printf("  Timeouts: native %s, OCR %s\n", settings.Extract.NativeTimeout, settings.Extract.OCRTimeout)
	cmd.Printf("  Concurrency: %d\n", settings.Extract.Concurrency)
	if settings.Extract.OCRRate > 0 {
		cmd.Printf("  OCR rate: %.2f/s\n", settings.Extract.OCRRate)
	} else {
		cmd.Println("  OCR rate: unlimited")
	}
	cmd.Printf("  Render DPI: %d\n", settings.Extract.RenderDPI)
	cmd.Printf("  OCR: %s (%s)\n", settings.OCR.Binary, settings.OCR.Language)
	cmd.Println()

	cmd.Println("[Housekeeping]")
	cmd.Printf("  Purge interval: %s\n", intervalOrOff(settings.Housekeeping.PurgeInterval.String(), settings.Housekeeping.PurgeInterval > 0))
	cmd.Printf("  Refresh interval: %s\n", intervalOrOff(settings.Housekeeping.RefreshInterval.String(), settings.Housekeeping.RefreshInterval > 0))
	cmd.Printf("  Worker grace period: %s\n", settings.Worker.GracePeriod)
	cmd.Println()

	cmd.Println("[Log]")
	cmd.Printf("  Level: %s\n", settings.Log.Level)
	cmd.Printf("  Format: %s\n", settings.Log.Format)

	printOverrides(cmd, settingsService.Sources())
	return nil
}

// printOverrides lists the settings that do not use their default.
func printOverrides(cmd *cobra.Command, sources []domain.SettingSource) {
	header := false
	for _, src := range sources {
		if src.Origin == domain.ConfigOriginDefault {
			continue
		}
		if !header {
			cmd.Println()
			cmd.Println("[Overrides]")
			header = true
		}
		cmd.Printf("  %-30s %s\n", src.Key, src.Origin)
	}
}

func intervalOrOff(s string, on bool) string {
	if !on {
		return "off"
	}
	return s
}

// maskDSN hides the password of a connection URL. Strings that do not
// parse as URLs are masked entirely.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "****"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
