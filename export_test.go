package securestore

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/crypto"
	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/persist"
)

const archivePassphrase = "independent-archive-passphrase"

func TestExportImportRoundTrip(t *testing.T) {
	source := createSessionOn(t, persist.NewMemoryStore(), "exp-src", "source-session-passphrase", nil)
	defer source.Close()

	require.NoError(t, source.SetItem("greeting", "hello across stores", 0))
	require.NoError(t, source.SetItem("profile", map[string]int{"visits": 7}, 0))
	require.NoError(t, source.SetItem("token", "expires eventually", 2*time.Hour))

	var archive bytes.Buffer
	require.NoError(t, source.Export(&archive, archivePassphrase))
	assert.NotContains(t, archive.String(), "hello across stores", "archive must not leak plaintext")

	// The target session has a different store AND a different session
	// passphrase; only the archive passphrase is shared.
	targetStore := persist.NewMemoryStore()
	target := createSessionOn(t, targetStore, "exp-dst", "target-session-passphrase", nil)
	defer target.Close()

	result, err := target.Import(bytes.NewReader(archive.Bytes()), archivePassphrase, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Zero(t, result.Overwritten)
	assert.Zero(t, result.Skipped)

	value, ok, err := target.GetItem("greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello across stores", value)

	value, ok, err = target.GetItem("profile")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"visits": float64(7)}, value)

	// The TTL item keeps its expiry and gets a deletion timer in the
	// importing session.
	value, ok, err = target.GetItem("token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "expires eventually", value)
	assert.True(t, target.sched.armed(storageKey("exp-dst", "token")),
		"imported TTL record has no deletion timer")
}

func TestImportWrongPassphrase(t *testing.T) {
	s := createSessionOn(t, persist.NewMemoryStore(), "exp-auth", testPassphrase, nil)
	defer s.Close()
	require.NoError(t, s.SetItem("k", "v", 0))

	var archive bytes.Buffer
	require.NoError(t, s.Export(&archive, archivePassphrase))

	result, err := s.Import(bytes.NewReader(archive.Bytes()), "wrong-passphrase", false)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "decrypt")

	// Arbitrary junk fails the same way.
	_, err = s.Import(bytes.NewReader([]byte("not an archive, not even close")), archivePassphrase, false)
	require.Error(t, err)
}

func TestExportSkipsExpiredAndCorrupt(t *testing.T) {
	mock := clock.NewMock()
	store := persist.NewMemoryStore()
	s := createSessionOn(t, store, "exp-walk", testPassphrase, mock)
	defer s.Close()

	require.NoError(t, s.SetItem("keep", "the only survivor", 0))

	past := mock.Now().UTC().Add(-time.Hour)
	expiredKey := putRawRecord(t, store, "exp-walk", "stale", past.Add(-time.Hour), &past)
	garbageKey := storageKey("exp-walk", "garbage")
	require.NoError(t, store.Put(garbageKey, []byte("corrupted beyond recognition")))

	var archive bytes.Buffer
	require.NoError(t, s.Export(&archive, archivePassphrase))

	// Exporting doubles as a sweep: the expired and corrupt records are
	// gone from the store afterwards.
	assert.False(t, storeHasKey(store, expiredKey), "export left the expired record")
	assert.False(t, storeHasKey(store, garbageKey), "export left the corrupt record")

	// Decrypt the archive and check exactly one item was included.
	manifestYAML, err := crypto.DecryptWithPassphrase(archive.Bytes(), archivePassphrase)
	require.NoError(t, err)

	var manifest exportManifest
	require.NoError(t, yaml.Unmarshal(manifestYAML, &manifest))
	assert.Equal(t, exportManifestVersion, manifest.Version)
	assert.Equal(t, "exp-walk", manifest.Namespace)
	require.Len(t, manifest.Items, 1)
	assert.Equal(t, "keep", manifest.Items[0].Key)
}

func TestImportSkipAndOverwrite(t *testing.T) {
	source := createSessionOn(t, persist.NewMemoryStore(), "exp-over", testPassphrase, nil)
	defer source.Close()
	require.NoError(t, source.SetItem("k1", "archived k1", 0))
	require.NoError(t, source.SetItem("k2", "archived k2", 0))

	var archive bytes.Buffer
	require.NoError(t, source.Export(&archive, archivePassphrase))

	target := createSessionOn(t, persist.NewMemoryStore(), "exp-over", testPassphrase, nil)
	defer target.Close()
	require.NoError(t, target.SetItem("k1", "local k1", 0))

	// Without overwrite, the existing key wins.
	result, err := target.Import(bytes.NewReader(archive.Bytes()), archivePassphrase, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Contains(t, result.SkippedKeys, "k1")

	value, _, err := target.GetItem("k1")
	require.NoError(t, err)
	assert.Equal(t, "local k1", value)

	// With overwrite, the archive wins.
	result, err = target.Import(bytes.NewReader(archive.Bytes()), archivePassphrase, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Overwritten)
	assert.Zero(t, result.Imported)

	value, _, err = target.GetItem("k1")
	require.NoError(t, err)
	assert.Equal(t, "archived k1", value)
}

func TestImportSkipsExpiredItems(t *testing.T) {
	// The exporting session lives at the mock epoch, so its TTL item
	// carries a 1970 expiry; by the importing session's real clock that
	// is long past.
	mock := clock.NewMock()
	source := createSessionOn(t, persist.NewMemoryStore(), "exp-old", testPassphrase, mock)
	defer source.Close()
	require.NoError(t, source.SetItem("ancient", "from another era", time.Hour))

	var archive bytes.Buffer
	require.NoError(t, source.Export(&archive, archivePassphrase))

	target := createSessionOn(t, persist.NewMemoryStore(), "exp-old", testPassphrase, nil)
	defer target.Close()

	result, err := target.Import(bytes.NewReader(archive.Bytes()), archivePassphrase, false)
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Contains(t, result.SkippedKeys, "ancient")

	_, ok, err := target.GetItem("ancient")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExportImportValidation(t *testing.T) {
	s := createSessionOn(t, persist.NewMemoryStore(), "exp-val", testPassphrase, nil)
	defer s.Close()

	var archive bytes.Buffer
	assert.ErrorIs(t, s.Export(&archive, ""), ErrEmptyPassphrase)
	_, err := s.Import(bytes.NewReader(nil), "", false)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	// After Clear there is no session key to decrypt or re-encrypt with.
	require.NoError(t, s.SetItem("k", "v", 0))
	require.NoError(t, s.Export(&archive, archivePassphrase))
	require.NoError(t, s.Clear())

	assert.ErrorIs(t, s.Export(&bytes.Buffer{}, archivePassphrase), ErrNotInitialized)
	_, err = s.Import(bytes.NewReader(archive.Bytes()), archivePassphrase, false)
	assert.ErrorIs(t, err, ErrNotInitialized)
}
