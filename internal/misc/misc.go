package misc

const (
	// KeyIterations is the PBKDF2-HMAC-SHA256 iteration count used to derive
	// session keys from passphrases.
	KeyIterations = 310_000

	// KeySize is the derived key length in bytes
	KeySize = 32

	// SaltSize is the length of the persisted random salt in bytes
	SaltSize = 16

	// ArchiveArgonTime Archive key derivation parameters (argon2id)
	ArchiveArgonTime    uint32 = 4
	ArchiveArgonMemory  uint32 = 128 * 1024
	ArchiveArgonThreads uint8  = 4

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700 // user read + write + execute
)
