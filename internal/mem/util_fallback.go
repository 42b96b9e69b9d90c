//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// No way to pin pages here; memory wiping still applies
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
