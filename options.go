package securestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/audit"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

// DefaultCleanupInterval is the period of the background rescan applied when
// Options.CleanupInterval is zero.
const DefaultCleanupInterval = 60 * time.Second

// Options configures a Session.
type Options struct {
	// Namespace isolates this session's records inside a shared store:
	// every storage key is "<Namespace>::<logical key>". Sessions with
	// different namespaces never see each other's records. Defaults to
	// DefaultNamespace.
	Namespace string `json:"namespace" yaml:"namespace"`

	// AutoCleanup runs a background rescan every CleanupInterval, purging
	// records that expired while no timer covered them.
	AutoCleanup bool `json:"auto_cleanup" yaml:"auto_cleanup"`

	// CleanupInterval is the period of the background rescan. Zero means
	// DefaultCleanupInterval.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// EnableMemoryLock requests best-effort locking of process memory so
	// key material cannot be swapped to disk. A platform that refuses is
	// reported as a warning, not an error.
	EnableMemoryLock bool `json:"enable_memory_lock" yaml:"enable_memory_lock"`

	// UserID identifies the operator in audit events. Defaults to
	// "system".
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`

	// Store selects and configures the persistence backend New builds.
	// Defaults to the in-memory backend. NewWithStore ignores it.
	Store persist.StoreConfig `json:"store" yaml:"store"`

	// Audit configures the audit logger New builds. Nil disables
	// auditing. NewWithStore ignores it.
	Audit *audit.Config `json:"audit,omitempty" yaml:"audit,omitempty"`

	// Clock supplies time to the expiry scheduler. Nil means the real
	// clock; tests substitute a mock to drive expiry deterministically.
	Clock clock.Clock `json:"-" yaml:"-"`
}

// DefaultOptions returns the configuration most callers want: the default
// namespace, background cleanup on, records held in memory.
func DefaultOptions() Options {
	return Options{
		Namespace:       DefaultNamespace,
		AutoCleanup:     true,
		CleanupInterval: DefaultCleanupInterval,
		Store:           persist.StoreConfig{Type: persist.StoreTypeMemory},
	}
}

// Validate reports configuration that can never work. It does not fill in
// defaults; the session constructors do that before validating.
func (o Options) Validate() error {
	if strings.Contains(o.Namespace, namespaceSeparator) {
		return fmt.Errorf("namespace cannot contain %q", namespaceSeparator)
	}
	if o.CleanupInterval < 0 {
		return fmt.Errorf("cleanup interval cannot be negative")
	}
	return nil
}

// withDefaults returns a copy with zero-value fields filled in.
func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Store.Type == "" {
		o.Store.Type = persist.StoreTypeMemory
	}
	return o
}
