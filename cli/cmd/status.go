package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show namespace status",
	Long:  "Display information about the namespace including the storage backend, memory protection level, and live record count.",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusInfo struct {
	Namespace        string `json:"namespace" yaml:"namespace"`
	StoreType        string `json:"store_type" yaml:"store_type"`
	MemoryProtection string `json:"memory_protection" yaml:"memory_protection"`
	SaltPresent      bool   `json:"salt_present" yaml:"salt_present"`
	LiveItems        int    `json:"live_items" yaml:"live_items"`
	AuditEnabled     bool   `json:"audit_enabled" yaml:"audit_enabled"`
}

func showStatus(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	keys, err := session.Keys()
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to list records: %w", err), started)
	}

	info := statusInfo{
		Namespace:        session.Namespace(),
		StoreType:        string(backingStore.GetType()),
		MemoryProtection: session.MemoryProtection(),
		SaltPresent:      session.EncodedSalt() != "",
		LiveItems:        len(keys),
		AuditEnabled:     viper.GetBool("audit.enabled"),
	}

	switch outputStyle() {
	case "json":
		err = printJSON(info)
	case "yaml":
		err = printYAML(info)
	default:
		fmt.Println("Namespace Status")
		fmt.Println("================")
		fmt.Printf("Namespace: %s\n", info.Namespace)
		fmt.Printf("Store: %s\n", info.StoreType)
		fmt.Printf("Memory Protection: %s\n", info.MemoryProtection)
		fmt.Printf("Salt Present: %v\n", info.SaltPresent)
		fmt.Printf("Live Items: %d\n", info.LiveItems)
		fmt.Printf("Audit Enabled: %v\n", info.AuditEnabled)
	}

	return auditCmdComplete(cmd, err, started)
}
