package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/howeyc/gopass"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// readValueData resolves the value for a set from --data, --file, or stdin.
func readValueData() ([]byte, error) {
	if itemData != "" {
		return []byte(itemData), nil
	}

	if itemFile != "" {
		if itemFile == "-" {
			return io.ReadAll(os.Stdin)
		}
		return os.ReadFile(itemFile)
	}

	// If neither data nor file specified, read from stdin
	return io.ReadAll(os.Stdin)
}

// promptPassphrase asks on stderr and reads without echo, so prompts never
// contaminate piped output.
func promptPassphrase(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	read, err := gopass.GetPasswd()
	if err != nil {
		return "", err
	}
	return string(read), nil
}

// stdinIsTerminal reports whether stdin is interactive. Prompts are skipped
// for piped input so they never swallow data meant for a command.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func promptConfirmation(message string) bool {
	fmt.Printf("%s (y/N): ", message)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// outputStyle normalizes the configured output format.
func outputStyle() string {
	switch strings.ToLower(viper.GetString("output")) {
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	default:
		return "text"
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// printValue renders a retrieved item in the configured output format.
// Plain strings print raw in text mode so the output pipes cleanly.
func printValue(key string, value any) error {
	switch outputStyle() {
	case "json":
		return printJSON(map[string]any{"key": key, "value": value})
	case "yaml":
		return printYAML(map[string]any{"key": key, "value": value})
	}

	if s, ok := value.(string); ok {
		fmt.Print(s)
		if !strings.HasSuffix(s, "\n") {
			fmt.Println()
		}
		return nil
	}
	return printJSON(value)
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration meaning "that
// long ago" (e.g. 24h).
func parseTimeFlag(s string) (*time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		t := time.Now().Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("use RFC3339 (2024-01-02T15:04:05Z) or a duration (24h): %w", err)
	}
	return &t, nil
}
