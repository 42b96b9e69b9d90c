//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock exists but caps the working set; rely on enclave wiping
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
