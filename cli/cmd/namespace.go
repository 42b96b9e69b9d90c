package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a namespace",
	Long:  "Open the namespace once so its derivation salt exists and leftovers from earlier runs are purged. Running init on an existing namespace is harmless.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Purge expired records and re-arm timers",
	Long:  "Walk every record in the namespace, delete those whose lifetime elapsed or whose metadata no longer parses, and keep the rest scheduled for deletion.",
	Args:  cobra.NoArgs,
	RunE:  runRescan,
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(rescanCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	// Opening the session already created the salt on first touch and
	// swept the namespace; all that is left is reporting.
	fmt.Printf("Namespace '%s' initialized\n", session.Namespace())
	fmt.Printf("Store: %s\n", backingStore.GetType())
	fmt.Printf("Memory protection: %s\n", session.MemoryProtection())

	return auditCmdComplete(cmd, nil, started)
}

func runRescan(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	if err := session.Rescan(); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("rescan failed: %w", err), started)
	}

	keys, err := session.Keys()
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to count live records: %w", err), started)
	}

	fmt.Printf("Rescan completed: %d live record(s)\n", len(keys))
	return auditCmdComplete(cmd, nil, started)
}
