package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rkozlov/garmin-headless-auth/internal/auditlog"
	"github.com/rkozlov/garmin-headless-auth/internal/config"
	"github.com/rkozlov/garmin-headless-auth/internal/connect"
	"github.com/rkozlov/garmin-headless-auth/internal/mailbox"
	"github.com/rkozlov/garmin-headless-auth/internal/mfa"
	"github.com/rkozlov/garmin-headless-auth/internal/notify"
	"github.com/rkozlov/garmin-headless-auth/internal/orchestrator"
	"github.com/rkozlov/garmin-headless-auth/internal/tokenstore"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	withRetry  bool
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "garmin-headless-auth",
	Short: "Headless Garmin Connect authentication",
	Long: `Headless authentication for Garmin Connect.

Logs in with credentials, resolves MFA challenges without an interactive
prompt (pre-set code, code file, monitored mailbox, or webhook), and
persists the session tokens so subsequent runs skip the login entirely.

Typical use:
  garmin-headless-auth authenticate   Obtain or refresh a session
  garmin-headless-auth status         Check token validity and age`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// overrideExitCode is set by subcommands so main() can call os.Exit()
// after cobra finishes. This avoids calling os.Exit() inside RunE which
// would bypass deferred functions. -1 means "use default".
var overrideExitCode = -1

var authenticateCmd = &cobra.Command{
	Use:   "authenticate",
	Short: "Run one authentication cycle",
	Long: `Obtain a valid session.

The stored session is reused when the service still accepts it. Otherwise
a fresh login runs; if the service raises an MFA challenge the code is
resolved from the first configured source that yields one, in order:
pre-set code, code file, monitored mailbox, webhook.

With --retry, failed cycles are retried under exponential backoff per the
retry policy in the configuration. Missing credentials, an exhausted MFA
chain, and upstream throttling are never retried.`,
	RunE: runAuthenticate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check session validity and token age",
	Long: `Probe the stored session against the service and summarize the
attempt history: age of the last successful authentication, failures in
the last 24 hours, and the MFA code sources configured in this
deployment. Fires an aging alert when tokens are more than 60 days old.`,
	RunE: runStatus,
}

var mfaCodeCmd = &cobra.Command{
	Use:   "mfa-code",
	Short: "Fetch the newest verification code from the mailbox",
	Long: `Search the monitored mailbox for the most recent verification
code and print it. The message is consumed, so the code can be used for
exactly one manual login.`,
	RunE: runMFACode,
}

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test notification",
	RunE:  runNotifyTest,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration without contacting any
service, then print a summary with secrets redacted.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigPath(),
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	authenticateCmd.Flags().BoolVar(&withRetry, "retry", false,
		"Retry failed cycles per the configured retry policy")

	rootCmd.AddCommand(authenticateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mfaCodeCmd)
	rootCmd.AddCommand(notifyTestCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	config.SetupLogging(&cfg.Log)

	return cfg, nil
}

// wire assembles the component graph from configuration.
func wire(cfg *config.Config) (*orchestrator.Orchestrator, connect.Client, *notify.Notifier) {
	notifier := notify.New(
		cfg.Notify.Server,
		cfg.Notify.Topic,
		cfg.Notify.Token,
		cfg.Notify.FallbackTopic,
		cfg.Notify.Enabled,
	)
	client := connect.NewSSOClient(cfg.Login.BaseURL)
	store := tokenstore.New(cfg.Tokens.Path, cfg.Tokens.Base64Path)
	resolver := mfa.NewResolver(cfg, notifier)
	audit := auditlog.New(cfg.Audit.Path)

	creds := connect.Credentials{
		Email:    cfg.Credentials.Email,
		Password: cfg.Credentials.Password,
	}

	orch := orchestrator.New(creds, client, store, resolver, notifier, audit,
		time.Duration(cfg.Login.MinIntervalSeconds)*time.Second)

	return orch, client, notifier
}

func runAuthenticate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, client, _ := wire(cfg)

	slog.Info("starting authentication",
		"version", version,
		"token_path", cfg.Tokens.Path,
	)

	var sess *connect.Session
	if withRetry {
		sess, err = orch.AuthenticateWithRetry(ctx, orchestrator.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalSeconds) * time.Second,
		})
	} else {
		sess, err = orch.Authenticate(ctx)
	}
	if err != nil {
		return err
	}

	// The profile name doubles as a human-readable confirmation that the
	// session actually works.
	if name, perr := client.ProfileName(ctx, sess); perr == nil {
		fmt.Printf("Authenticated as: %s\n", name)
	} else {
		fmt.Println("Authenticated; session saved")
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, _, _ := wire(cfg)

	status, err := orch.CheckStatus(ctx)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	fmt.Println("Garmin Connect authentication status")
	fmt.Println()
	if status.Valid {
		fmt.Println("  Stored session:   VALID")
	} else {
		fmt.Println("  Stored session:   INVALID or MISSING")
	}
	if status.HasSuccess {
		fmt.Printf("  Last success:     %d days ago\n", status.LastSuccessAgeDays)
		switch {
		case status.LastSuccessAgeDays > 90:
			fmt.Println("  Token age:        CRITICAL (>90 days) - re-authenticate now")
		case status.LastSuccessAgeDays > 60:
			fmt.Println("  Token age:        aging (>60 days) - plan to re-authenticate")
		}
	} else {
		fmt.Println("  Last success:     never recorded")
	}
	fmt.Printf("  Failures (24h):   %d\n", status.RecentFailures)

	if len(status.ConfiguredMFA) > 0 {
		fmt.Println("  MFA code sources:")
		for _, m := range status.ConfiguredMFA {
			fmt.Printf("    - %s\n", m)
		}
	} else {
		fmt.Println("  MFA code sources: none configured")
	}

	if !status.Valid {
		overrideExitCode = ExitError
	}
	return nil
}

func runMFACode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !cfg.MailboxConfigured() {
		return fmt.Errorf("no mailbox credentials configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finder := mailbox.NewFinder(&cfg.Mailbox)
	code, err := finder.FindCode(ctx)
	if err != nil {
		return fmt.Errorf("could not find a verification code: %w", err)
	}

	fmt.Println(code)
	return nil
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	_, _, notifier := wire(cfg)

	if notifier.Test() {
		fmt.Printf("Test notification sent. Subscribe to: %s/%s\n",
			strings.TrimRight(cfg.Notify.Server, "/"), cfg.Notify.Topic)
		return nil
	}
	return fmt.Errorf("failed to send test notification; check notify.server and notify.topic")
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	r := cfg.Redact()

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  Account:          %s\n", valueOrUnset(r.Credentials.Email))
	fmt.Printf("  Password:         %s\n", valueOrUnset(r.Credentials.Password))
	fmt.Printf("  Token path:       %s\n", r.Tokens.Path)
	fmt.Printf("  Audit log:        %s\n", r.Audit.Path)
	fmt.Printf("  MFA code file:    %s\n", valueOrUnset(r.MFA.File))
	fmt.Printf("  MFA webhook:      %s\n", valueOrUnset(r.MFA.WebhookURL))
	fmt.Printf("  Mailbox user:     %s\n", valueOrUnset(r.Mailbox.User))
	if cfg.Mailbox.TokenFlowConfigured() {
		fmt.Printf("  Mailbox auth:     token flow\n")
	} else if cfg.Mailbox.PasswordFlowConfigured() {
		fmt.Printf("  Mailbox auth:     application password\n")
	} else {
		fmt.Printf("  Mailbox auth:     [NOT CONFIGURED]\n")
	}
	fmt.Printf("  Notifications:    %v (%s/%s)\n", r.Notify.Enabled, r.Notify.Server, r.Notify.Topic)
	fmt.Printf("  Retry policy:     %d attempt(s), initial interval %ds\n",
		r.Retry.MaxAttempts, r.Retry.InitialIntervalSeconds)
	fmt.Printf("  Log:              %s/%s\n", r.Log.Level, r.Log.Format)

	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("garmin-headless-auth version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "garmin-headless-auth.yaml"
	}
	return home + "/.config/garmin-headless-auth.yaml"
}

func valueOrUnset(v string) string {
	if v == "" {
		return "[NOT SET]"
	}
	return v
}
