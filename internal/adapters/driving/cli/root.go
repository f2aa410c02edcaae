// Package cli provides the scanpipe command line.
//
// Commands read the driving ports from package-level variables. They are
// filled by SetServices, either directly or through the Bootstrap hook
// once the global flags are parsed.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

// skipBootstrap marks commands that run without services.
const skipBootstrap = "skip-bootstrap"

// Global flags.
var (
	configDir string
	verbose   bool
	logFormat string
	logLevel  string
)

// Services are the driving ports used by the commands. A nil port makes
// the commands that need it fail with "not configured".
type Services struct {
	Settings   driving.SettingsService
	Mandates   driving.MandateService
	Processor  driving.BatchProcessor
	Banks      driving.BankValidator
	Supervisor driving.Supervisor
	Scheduler  driving.Scheduler

	// Close releases the resources behind the services.
	Close func() error
}

// Options carries global flags to the bootstrap function.
type Options struct {
	ConfigDir string
}

// Bootstrap builds the services after flags are parsed.
type Bootstrap func(ctx context.Context, opts Options) (*Services, error)

var (
	settingsService driving.SettingsService
	mandateService  driving.MandateService
	batchProcessor  driving.BatchProcessor
	bankValidator   driving.BankValidator
	supervisor      driving.Supervisor
	scheduler       driving.Scheduler

	bootstrap     Bootstrap
	closeServices func() error
)

var rootCmd = &cobra.Command{
	Use:   "scanpipe",
	Short: "Scanned invoice batch pipeline",
	Long: `scanpipe splits scanned PDF batches into documents using QR separator
sheets, extracts their text (native first, OCR fallback), recognises the
vendor and validates bank data, and stores the results per mandate.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configDir, "config", "", "config directory (default $SCANPIPE_CONFIG_DIR or ~/.scanpipe)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", "", "log format: console or json (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
}

// SetBootstrap registers the function that builds services for commands.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetServices installs the driving ports used by the commands.
func SetServices(s *Services) {
	if s == nil {
		s = &Services{}
	}
	settingsService = s.Settings
	mandateService = s.Mandates
	batchProcessor = s.Processor
	bankValidator = s.Banks
	supervisor = s.Supervisor
	scheduler = s.Scheduler
	closeServices = s.Close
}

// Execute runs the root command and releases the services afterwards.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if closeServices != nil {
		if cerr := closeServices(); cerr != nil {
			logger.Error(cerr, "closing services")
		}
		closeServices = nil
	}
	return err
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)

	if bootstrap != nil && cmd.Annotations[skipBootstrap] == "" {
		services, err := bootstrap(cmd.Context(), Options{ConfigDir: configDir})
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		SetServices(services)
	}

	// Flags win over the config file.
	if logFormat != "" {
		if err := logger.SetFormat(logFormat); err != nil {
			return err
		}
	}
	if logLevel != "" {
		if err := logger.SetLevel(logLevel); err != nil {
			return err
		}
	}
	return nil
}
