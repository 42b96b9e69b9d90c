package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store an encrypted value",
	Long:  "Encrypt a value and store it under the given key. Data can be provided via stdin, file, or inline; an optional TTL schedules automatic deletion.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSet,
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Retrieve a stored value",
	Long:  "Decrypt and print the value stored under the given key. Expired, tampered, or corrupt records read as not found.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var rmCmd = &cobra.Command{
	Use:   "rm [key]",
	Short: "Remove a stored value",
	Long:  "Delete the record under the given key and disarm its deletion timer. Removing an absent key is not an error.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record in the namespace",
	Long:  "Delete all records in the namespace, derivation salt included. Every previously stored value becomes permanently unrecoverable.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var (
	itemData string
	itemFile string
	itemTTL  time.Duration
	itemJSON bool

	clearForce bool
)

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(clearCmd)

	setCmd.Flags().StringVarP(&itemData, "data", "d", "", "value as string")
	setCmd.Flags().StringVarP(&itemFile, "file", "f", "", "read value from file (use '-' for stdin)")
	setCmd.Flags().DurationVar(&itemTTL, "ttl", 0, "time-to-live after which the value is deleted (e.g. 30m, 24h; 0 = never)")
	setCmd.Flags().BoolVar(&itemJSON, "json", false, "parse the value as JSON before storing")

	clearCmd.Flags().BoolVar(&clearForce, "force", false, "skip the confirmation prompt")
}

func runSet(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	key := args[0]

	data, err := readValueData()
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to read value data: %w", err), started)
	}

	var value any = string(data)
	if itemJSON {
		var parsed any
		if err = json.Unmarshal(data, &parsed); err != nil {
			return auditCmdComplete(cmd, fmt.Errorf("value is not valid JSON: %w", err), started)
		}
		value = parsed
	}

	if err = session.SetItem(key, value, itemTTL); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to store item: %w", err), started)
	}

	fmt.Printf("Item '%s' stored successfully\n", key)
	if itemTTL > 0 {
		fmt.Printf("Expires: %s\n", time.Now().Add(itemTTL).UTC().Format(time.RFC3339))
	}

	return auditCmdComplete(cmd, nil, started)
}

func runGet(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	key := args[0]

	value, ok, err := session.GetItem(key)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to get item: %w", err), started)
	}
	if !ok {
		return auditCmdComplete(cmd, fmt.Errorf("item '%s' not found", key), started)
	}

	return auditCmdComplete(cmd, printValue(key, value), started)
}

func runRemove(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	key := args[0]

	if err := session.RemoveItem(key); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to remove item: %w", err), started)
	}

	fmt.Printf("Item '%s' removed\n", key)
	return auditCmdComplete(cmd, nil, started)
}

func runClear(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	keys, err := session.Keys()
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to list namespace: %w", err), started)
	}

	if !clearForce {
		fmt.Printf("This permanently deletes all %d record(s) in namespace '%s', salt included.\n", len(keys), session.Namespace())
		if !promptConfirmation("Continue?") {
			fmt.Println("Clear cancelled")
			return auditCmdComplete(cmd, nil, started)
		}
	}

	if err = session.Clear(); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to clear namespace: %w", err), started)
	}

	fmt.Printf("Namespace '%s' cleared: %d record(s) deleted\n", session.Namespace(), len(keys))
	return auditCmdComplete(cmd, nil, started)
}
