package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the namespace to an encrypted archive",
	Long:  "Write every live item to an archive file encrypted under an independent passphrase. Expired and undecryptable records never cross the export boundary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import items from an encrypted archive",
	Long:  "Decrypt an archive and store its items in the namespace, re-encrypted under this namespace's key. Items whose lifetime already elapsed are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var (
	archivePassphrase string
	importOverwrite   bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVar(&archivePassphrase, "archive-passphrase", "", "passphrase for archive encryption (or use SECURESTORE_ARCHIVE_PASSPHRASE env var)")
	importCmd.Flags().StringVar(&archivePassphrase, "archive-passphrase", "", "passphrase for archive decryption (or use SECURESTORE_ARCHIVE_PASSPHRASE env var)")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace items that already exist in the namespace")
}

// resolveArchivePassphrase checks the flag, then the environment, then asks.
// The archive passphrase is deliberately independent of the session's: an
// archive must be restorable into a namespace with a different passphrase.
func resolveArchivePassphrase() (string, error) {
	if archivePassphrase != "" {
		return archivePassphrase, nil
	}
	if env := os.Getenv("SECURESTORE_ARCHIVE_PASSPHRASE"); env != "" {
		return env, nil
	}
	if stdinIsTerminal() {
		read, err := promptPassphrase("Archive passphrase")
		if err == nil && read != "" {
			return read, nil
		}
	}
	return "", fmt.Errorf("archive passphrase is required. Use --archive-passphrase flag or SECURESTORE_ARCHIVE_PASSPHRASE environment variable")
}

func runExport(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	destination := args[0]

	pass, err := resolveArchivePassphrase()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to create archive file: %w", err), started)
	}

	if err = session.Export(f, pass); err != nil {
		f.Close()
		os.Remove(destination)
		return auditCmdComplete(cmd, fmt.Errorf("failed to export namespace: %w", err), started)
	}
	if err = f.Close(); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to finish archive file: %w", err), started)
	}

	info, err := os.Stat(destination)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("archive written but unreadable: %w", err), started)
	}

	fmt.Printf("Namespace '%s' exported to %s (%d bytes)\n", session.Namespace(), destination, info.Size())
	return auditCmdComplete(cmd, nil, started)
}

func runImport(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	source := args[0]

	pass, err := resolveArchivePassphrase()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	f, err := os.Open(source)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to open archive file: %w", err), started)
	}
	defer f.Close()

	result, err := session.Import(f, pass, importOverwrite)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to import archive: %w", err), started)
	}

	fmt.Printf("Import completed: %d imported, %d overwritten, %d skipped\n",
		result.Imported, result.Overwritten, result.Skipped)
	if len(result.SkippedKeys) > 0 {
		fmt.Printf("Skipped keys: %s\n", strings.Join(result.SkippedKeys, ", "))
		if !importOverwrite {
			fmt.Println("Use --overwrite to replace existing items")
		}
	}

	return auditCmdComplete(cmd, nil, started)
}
