package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/audit"
)

var (
	auditSince        string
	auditUntil        string
	auditAction       string
	auditSuccess      string
	auditItemKey      string
	auditLimit        int
	auditOffset       int
	auditFailuresOnly bool
	auditDetails      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the namespace's audit trail",
	Long: `Query the audit trail of this namespace.

Every store, read failure, expiry, purge, and export leaves an event, so the
trail answers when a value disappeared and why. Requires audit logging to be
enabled (--audit or audit.enabled in the config file).`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with filters.

Examples:
  # Everything recorded for this namespace
  securestore audit query

  # Failed operations in a time window
  securestore audit query --failures-only --since 2024-01-01T00:00:00Z

  # The history of one item
  securestore audit query --item-key session-token

  # Only stores
  securestore audit query --action ITEM_STORED`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long:  "Show failed operations, for spotting tampering attempts and storage trouble.",
	RunE:  runAuditFailures,
}

var auditExpiryCmd = &cobra.Command{
	Use:   "expiry",
	Short: "Show expiry and purge events",
	Long:  "Show when values expired or were discarded as corrupt, and which rescans removed them.",
	RunE:  runAuditExpiry,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit trail statistics",
	Long:  "Summarize the audit trail: event counts per action, failure rate, expiry activity, and the covered time range.",
	RunE:  runAuditStats,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditExpiryCmd)
	auditCmd.AddCommand(auditStatsCmd)

	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "events since this time (RFC3339, or a duration like 24h meaning that long ago)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "events until this time (RFC3339, or a duration like 1h)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "show full event details")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (e.g. ITEM_STORED, ITEM_EXPIRED)")
	auditQueryCmd.Flags().StringVar(&auditSuccess, "success", "", "filter by success status (true/false)")
	auditQueryCmd.Flags().StringVarP(&auditItemKey, "item-key", "k", "", "filter by item key")
	auditQueryCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "show only failed events")
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Namespace: namespaceName,
		Action:    auditAction,
		ItemKey:   auditItemKey,
		Limit:     auditLimit,
		Offset:    auditOffset,
	}

	if auditSince != "" {
		parsed, err := parseTimeFlag(auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time: %w", err)
		}
		options.Since = parsed
	}
	if auditUntil != "" {
		parsed, err := parseTimeFlag(auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time: %w", err)
		}
		options.Until = parsed
	}

	if auditSuccess != "" {
		success, err := strconv.ParseBool(auditSuccess)
		if err != nil {
			return options, fmt.Errorf("invalid success filter: %w", err)
		}
		options.Success = &success
	}
	if auditFailuresOnly {
		falseVal := false
		options.Success = &falseVal
	}

	return options, nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return runAuditWith(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	falseVal := false
	options.Success = &falseVal
	return runAuditWith(options)
}

func runAuditExpiry(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.ExpiryOnly = true
	return runAuditWith(options)
}

func runAuditWith(options audit.QueryOptions) error {
	if !viper.GetBool("audit.enabled") {
		fmt.Println("Audit logging is disabled; nothing to query. Enable it with --audit or audit.enabled in the config file.")
		return nil
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	switch outputStyle() {
	case "json":
		return printJSON(result)
	case "yaml":
		return printYAML(result)
	}

	if err = displayAuditEvents(result.Events); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d matching event(s)", len(result.Events), result.Filtered)
	if result.HasMore {
		fmt.Printf(" (more available; use --offset %d)", options.Offset+len(result.Events))
	}
	fmt.Println()
	return nil
}

func displayAuditEvents(events []audit.Event) error {
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)

			status := "SUCCESS"
			if !event.Success {
				status = "FAILED"
			}
			fmt.Fprintf(w, "Status:\t%s\n", status)

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.ItemKey != "" {
				fmt.Fprintf(w, "Item Key:\t%s\n", event.ItemKey)
			}
			if event.UserID != "" {
				fmt.Fprintf(w, "User ID:\t%s\n", event.UserID)
			}
			if event.RequestID != "" {
				fmt.Fprintf(w, "Request ID:\t%s\n", event.RequestID)
			}

			if len(event.Metadata) > 0 {
				fmt.Fprintf(w, "Metadata:\t")
				for _, k := range sortedMetadataKeys(event.Metadata) {
					fmt.Fprintf(w, "%s=%v ", k, event.Metadata[k])
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "----------------------------------------\n")
		}
	} else {
		fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tITEM\tDETAIL\n")

		for _, event := range events {
			status := "ok"
			if !event.Success {
				status = "FAILED"
			}

			detail := event.Error
			if detail == "" {
				if reason, ok := event.Metadata["failure_reason"].(string); ok {
					detail = reason
				} else if trigger, ok := event.Metadata["trigger"].(string); ok {
					detail = "trigger=" + trigger
				}
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.Action,
				status,
				event.ItemKey,
				detail,
			)
		}
	}

	return w.Flush()
}

func sortedMetadataKeys(metadata map[string]interface{}) []string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AuditStats aggregates a query result for the stats subcommand.
type AuditStats struct {
	TotalEvents  int            `json:"total_events" yaml:"total_events"`
	Failures     int            `json:"failures" yaml:"failures"`
	ByAction     map[string]int `json:"by_action" yaml:"by_action"`
	ItemsExpired int            `json:"items_expired" yaml:"items_expired"`
	Discarded    int            `json:"records_discarded" yaml:"records_discarded"`
	FirstEvent   *time.Time     `json:"first_event,omitempty" yaml:"first_event,omitempty"`
	LastEvent    *time.Time     `json:"last_event,omitempty" yaml:"last_event,omitempty"`
	UniqueItems  int            `json:"unique_items" yaml:"unique_items"`
	FailureRatio float64        `json:"failure_ratio" yaml:"failure_ratio"`
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	// Stats cover everything in range, not a page of it.
	options.Limit = 0
	options.Offset = 0

	if !viper.GetBool("audit.enabled") {
		fmt.Println("Audit logging is disabled; nothing to summarize. Enable it with --audit or audit.enabled in the config file.")
		return nil
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	stats := calculateAuditStats(result.Events)

	switch outputStyle() {
	case "json":
		return printJSON(stats)
	case "yaml":
		return printYAML(stats)
	}

	fmt.Println("Audit Statistics")
	fmt.Println("================")
	fmt.Printf("Total Events: %d\n", stats.TotalEvents)
	fmt.Printf("Failures: %d (%.1f%%)\n", stats.Failures, stats.FailureRatio*100)
	fmt.Printf("Items Expired: %d\n", stats.ItemsExpired)
	fmt.Printf("Records Discarded: %d\n", stats.Discarded)
	fmt.Printf("Unique Items Touched: %d\n", stats.UniqueItems)
	if stats.FirstEvent != nil && stats.LastEvent != nil {
		fmt.Printf("Time Range: %s to %s\n",
			stats.FirstEvent.Format("2006-01-02 15:04:05"),
			stats.LastEvent.Format("2006-01-02 15:04:05"))
	}

	if len(stats.ByAction) > 0 {
		fmt.Println("\nEvents by Action:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		actions := make([]string, 0, len(stats.ByAction))
		for action := range stats.ByAction {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			fmt.Fprintf(w, "  %s\t%d\n", action, stats.ByAction[action])
		}
		if err = w.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func calculateAuditStats(events []audit.Event) AuditStats {
	stats := AuditStats{
		TotalEvents: len(events),
		ByAction:    make(map[string]int),
	}

	items := make(map[string]struct{})
	for _, event := range events {
		stats.ByAction[event.Action]++
		if !event.Success {
			stats.Failures++
		}
		switch event.Action {
		case "ITEM_EXPIRED":
			stats.ItemsExpired++
		case "RECORD_DISCARDED":
			stats.Discarded++
		}
		if event.ItemKey != "" {
			items[event.ItemKey] = struct{}{}
		}

		ts := event.Timestamp
		if stats.FirstEvent == nil || ts.Before(*stats.FirstEvent) {
			first := ts
			stats.FirstEvent = &first
		}
		if stats.LastEvent == nil || ts.After(*stats.LastEvent) {
			last := ts
			stats.LastEvent = &last
		}
	}
	stats.UniqueItems = len(items)

	if stats.TotalEvents > 0 {
		stats.FailureRatio = float64(stats.Failures) / float64(stats.TotalEvents)
	}

	return stats
}
