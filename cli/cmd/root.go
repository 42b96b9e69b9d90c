package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	securestore "github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/audit"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

var (
	cfgFile       string
	namespaceName string
	passphrase    string
	outputFormat  string
	backingStore  persist.Store
	session       *securestore.Session
	auditLogger   audit.Logger
	cliContext    *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "securestore",
	Short: "Encrypted key-value storage with automatic expiry",
	Long: `securestore keeps values encrypted at rest in an untrusted key-value store.
Each value is sealed with ChaCha20-Poly1305 under a key derived from your
passphrase, optionally carries a time-to-live after which it is proactively
deleted, and is dropped as absent the moment it fails an integrity check.`,
	PersistentPreRunE:  initializeSession,
	PersistentPostRunE: closeSession,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Every persistent flag mirrors a config file key, so anything set
	// here can also live in .securestore.yaml or the environment.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.securestore.yaml)")
	flags.StringVarP(&namespaceName, "namespace", "n", "", "namespace isolating this store's records")
	flags.StringVar(&passphrase, "passphrase", "", "derivation passphrase (or use SECURESTORE_PASSPHRASE env var)")
	flags.String("store-type", "", "storage backend (memory, filesystem, s3, rocksdb)")
	flags.StringP("store-path", "p", "", "base path for the filesystem and rocksdb backends")
	flags.Bool("memory-lock", false, "lock process memory so key material cannot swap to disk")
	flags.StringVarP(&outputFormat, "output", "o", "", "output format (text, json, yaml)")

	bindFlagOrPanic("namespace", "namespace")
	bindFlagOrPanic("passphrase", "passphrase")
	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("store.path", "store-path")
	bindFlagOrPanic("memory_lock", "memory-lock")
	bindFlagOrPanic("output", "output")

	flags.Bool("audit", false, "enable the audit trail")
	flags.String("audit-type", "", "audit backend (file, syslog)")
	flags.String("audit-file", "", "audit log file location")
	flags.String("audit-level", "", "audit log level (info, warn, error)")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
	bindFlagOrPanic("audit.log_level", "audit-level")

	flags.String("s3-endpoint", "", "S3 endpoint (host:port)")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-bucket", "", "S3 bucket holding the records")
	flags.String("s3-prefix", "", "object name prefix inside the bucket")
	flags.String("s3-access-key", "", "S3 access key ID")
	flags.String("s3-secret-key", "", "S3 secret access key")
	flags.Bool("s3-use-ssl", true, "connect to S3 over TLS")

	bindFlagOrPanic("store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("store.s3.region", "s3-region")
	bindFlagOrPanic("store.s3.bucket", "s3-bucket")
	bindFlagOrPanic("store.s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/securestore")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".securestore")
	}

	viper.SetEnvPrefix("SECURESTORE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - defaults and env vars cover it
	} else {
		if os.Getenv("DEBUG") == "true" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

func setDefaults() {
	viper.SetDefault("namespace", securestore.DefaultNamespace)
	viper.SetDefault("output", "text")

	// Store defaults - a CLI needs data to outlive the process
	viper.SetDefault("store.type", "filesystem")
	viper.SetDefault("store.path", ".securestore")

	// S3 defaults
	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.key_prefix", "securestore/")
	viper.SetDefault("store.s3.use_ssl", true)

	// Audit defaults; off until asked for
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)

	// Placed next to the store unless set explicitly; see initializeSession
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeSession(cmd *cobra.Command, args []string) error {
	// Commands that never touch the store skip session setup
	switch cmd.Name() {
	case "help", "completion", "__complete", "debug-config":
		return nil
	}

	namespaceName = viper.GetString("namespace")

	// Keep the audit trail next to the records unless told otherwise
	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(viper.GetString("store.path"), "audit.log"))
	}

	passphrase = viper.GetString("passphrase")
	if passphrase == "" && stdinIsTerminal() {
		read, err := promptPassphrase("Passphrase")
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		passphrase = read
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase is required: use --passphrase flag or SECURESTORE_PASSPHRASE environment variable")
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	storeConfig, err := buildStoreConfig()
	if err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}
	backingStore, err = persist.NewStore(storeConfig, namespaceName)
	if err != nil {
		return fmt.Errorf("failed to create %s store: %w", storeConfig.Type, err)
	}

	options := securestore.Options{
		Namespace:        namespaceName,
		EnableMemoryLock: viper.GetBool("memory_lock"),
		UserID:           cliContext.UserID,
	}

	// One-shot commands rescan on open; no background loop needed.
	session, err = securestore.NewWithStore(passphrase, options, backingStore, auditLogger)
	if err != nil {
		backingStore.Close()
		return fmt.Errorf("failed to open namespace %s: %w", namespaceName, err)
	}

	return nil
}

func closeSession(cmd *cobra.Command, args []string) error {
	var errs []string
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if backingStore != nil {
		if err := backingStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown problems: %s", strings.Join(errs, "; "))
	}
	return nil
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:   viper.GetBool("audit.enabled"),
		Namespace: viper.GetString("namespace"),
		Type:      audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path":   viper.GetString("audit.options.file_path"),
			"max_size":    viper.GetInt("audit.options.max_size"),
			"max_backups": viper.GetInt("audit.options.max_backups"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func buildStoreConfig() (persist.StoreConfig, error) {
	storeType := strings.ToLower(viper.GetString("store.type"))
	switch storeType {
	case "memory":
		return persist.StoreConfig{Type: persist.StoreTypeMemory}, nil

	case "filesystem", "file":
		return persist.StoreConfig{
			Type: persist.StoreTypeFileSystem,
			Config: map[string]interface{}{
				"base_path": viper.GetString("store.path"),
			},
		}, nil

	case "rocksdb":
		return persist.StoreConfig{
			Type: persist.StoreTypeRocksDB,
			Config: map[string]interface{}{
				"base_path": viper.GetString("store.path"),
			},
		}, nil

	case "s3":
		if err := validateS3Config(); err != nil {
			return persist.StoreConfig{}, err
		}
		return persist.StoreConfig{
			Type: persist.StoreTypeS3,
			Config: map[string]interface{}{
				"endpoint":          viper.GetString("store.s3.endpoint"),
				"region":            viper.GetString("store.s3.region"),
				"bucket":            viper.GetString("store.s3.bucket"),
				"key_prefix":        viper.GetString("store.s3.key_prefix"),
				"access_key_id":     viper.GetString("store.s3.access_key_id"),
				"secret_access_key": viper.GetString("store.s3.secret_access_key"),
				"use_ssl":           viper.GetBool("store.s3.use_ssl"),
			},
		}, nil

	default:
		return persist.StoreConfig{}, fmt.Errorf("unsupported store type: %s. Supported types: memory, filesystem, s3, rocksdb", storeType)
	}
}

func validateS3Config() error {
	var missing []string

	if viper.GetString("store.s3.endpoint") == "" {
		missing = append(missing, "store.s3.endpoint")
	}
	if viper.GetString("store.s3.bucket") == "" {
		missing = append(missing, "store.s3.bucket")
	}

	hasAccessKey := viper.GetString("store.s3.access_key_id") != ""
	hasSecretKey := viper.GetString("store.s3.secret_access_key") != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "store.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "store.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// getStoreConfigSummary describes the configured backend in one line.
func getStoreConfigSummary(storeType string) string {
	switch strings.ToLower(storeType) {
	case "memory":
		return "Memory store: records vanish when the process exits"
	case "filesystem", "file":
		return fmt.Sprintf("Filesystem store: path=%s", viper.GetString("store.path"))
	case "rocksdb":
		return fmt.Sprintf("RocksDB store: path=%s", viper.GetString("store.path"))
	case "s3":
		return fmt.Sprintf("S3 store: bucket=%s, region=%s, prefix=%s",
			viper.GetString("store.s3.bucket"),
			viper.GetString("store.s3.region"),
			viper.GetString("store.s3.key_prefix"))
	default:
		return fmt.Sprintf("Unknown store type: %s", storeType)
	}
}

// isSensitiveFlag reports whether a flag or variable name may carry secret
// material. "data" is on the list because --data holds plaintext item
// values, which must never reach the audit trail.
func isSensitiveFlag(name string) bool {
	sensitive := []string{"passphrase", "password", "secret", "key", "token", "data"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// getCurrentUser names the operator for the audit trail.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		// Scratch containers without /etc/passwd land here.
		if envUser := os.Getenv("USER"); envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID tags every event of one CLI invocation with the same
// UUID so a multi-command session can be reassembled from the trail.
func generateSessionID() string {
	return uuid.New().String()
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown_host"
	}
	return hostname
}

// debugConfigCmd shows the effective configuration after file, environment,
// and flag merging. Secret-bearing values are reported present or absent,
// never echoed.
var debugConfigCmd = &cobra.Command{
	Use:   "debug-config",
	Short: "Show the effective configuration",
	Long:  "Display configuration values merged from the config file, SECURESTORE_* environment variables, flags, and defaults.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Effective Configuration")
		fmt.Println("=======================")

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("\nConfig file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Printf("\nConfig file: none found\n")
		}

		fmt.Println("\nEnvironment (SECURESTORE_*):")
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, "SECURESTORE_") {
				continue
			}
			name, value, ok := strings.Cut(env, "=")
			if !ok {
				continue
			}
			if isSensitiveFlag(name) {
				value = "***REDACTED***"
			}
			fmt.Printf("  %s=%s\n", name, value)
		}

		fmt.Println("\nGeneral:")
		fmt.Printf("  Namespace:   %s\n", viper.GetString("namespace"))
		fmt.Printf("  Store Type:  %s\n", viper.GetString("store.type"))
		fmt.Printf("  Store Path:  %s\n", viper.GetString("store.path"))
		fmt.Printf("  Memory Lock: %v\n", viper.GetBool("memory_lock"))
		fmt.Printf("  Output:      %s\n", viper.GetString("output"))
		fmt.Printf("  Passphrase:  %s\n", setOrNot(viper.GetString("passphrase")))

		fmt.Println("\nAudit:")
		fmt.Printf("  Enabled:   %v\n", viper.GetBool("audit.enabled"))
		fmt.Printf("  Type:      %s\n", viper.GetString("audit.type"))
		fmt.Printf("  File Path: %s\n", viper.GetString("audit.options.file_path"))
		fmt.Printf("  Log Level: %s\n", viper.GetString("audit.log_level"))

		storeType := viper.GetString("store.type")
		if strings.EqualFold(storeType, "s3") {
			fmt.Println("\nS3:")
			fmt.Printf("  Endpoint:   %s\n", viper.GetString("store.s3.endpoint"))
			fmt.Printf("  Region:     %s\n", viper.GetString("store.s3.region"))
			fmt.Printf("  Bucket:     %s\n", viper.GetString("store.s3.bucket"))
			fmt.Printf("  Prefix:     %s\n", viper.GetString("store.s3.key_prefix"))
			fmt.Printf("  Use SSL:    %v\n", viper.GetBool("store.s3.use_ssl"))
			fmt.Printf("  Access Key: %s\n", setOrNot(viper.GetString("store.s3.access_key_id")))
			fmt.Printf("  Secret Key: %s\n", setOrNot(viper.GetString("store.s3.secret_access_key")))
		}

		fmt.Printf("\nSummary: %s\n", getStoreConfigSummary(storeType))
		return nil
	},
}

func setOrNot(value string) string {
	if value != "" {
		return "***SET***"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(debugConfigCmd)
}

// auditCmdStart records a command_start event and returns the start time
// for the matching auditCmdComplete. Every command RunE opens with this
// pair so the trail shows invocations even when the command later fails.
func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	if auditLogger == nil {
		return now
	}
	err := auditLogger.Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       sanitizeArgs(args),
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	if err != nil {
		log.Printf("ERROR: %v\n", err)
	}
	return now
}

// auditCmdComplete records the command_complete event and passes the
// command's error through unchanged.
func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	if auditLogger != nil {
		auditLogger.Log("command_complete", err == nil, map[string]interface{}{
			"command":     cmd.CommandPath(),
			"duration_ms": time.Since(startedTime).Milliseconds(),
			"success":     err == nil,
			"error":       formatError(err),
			"user_id":     cliContext.UserID,
			"session_id":  cliContext.SessionID,
		})
	}
	return err
}

// formatError renders an error for the audit trail: the full wrapped
// message, capitalized, with the root cause called out when the chain is
// more than one level deep.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	message := err.Error()
	if message == "" {
		return "Error"
	}
	if first := message[:1]; first != strings.ToUpper(first) {
		message = strings.ToUpper(first) + message[1:]
	}

	root := err
	depth := 0
	for inner := errors.Unwrap(root); inner != nil; inner = errors.Unwrap(root) {
		root = inner
		depth++
	}
	if depth > 0 && root.Error() != err.Error() {
		return fmt.Sprintf("Error: %s (root cause: %s)", message, root.Error())
	}
	return fmt.Sprintf("Error: %s", message)
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

func sanitizeArgs(args []string) []string {
	// Positional arguments here are item keys and file paths; values only
	// travel through flags, which sanitizeFlags redacts.
	sanitized := make([]string, len(args))
	copy(sanitized, args)
	return sanitized
}
