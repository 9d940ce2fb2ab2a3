package vault

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/ncruces/go-sqlite3/driver"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlaintextModeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "")
	require.NoError(t, err)
	require.Equal(t, KDFNone, v.kdf)

	require.NoError(t, v.Store("github", "token-123"))
	secret, err := v.Get("github")
	require.NoError(t, err)
	require.Equal(t, "token-123", secret)
}

func TestEncryptedModeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, KDFV2, v.kdf)

	require.NoError(t, v.Store("openai", "sk-secret"))

	raw, createdAt, updatedAt := "", int64(0), int64(0)
	require.NoError(t, db.QueryRow(`SELECT ciphertext, created_at, updated_at FROM credentials WHERE service = 'openai'`).
		Scan(&raw, &createdAt, &updatedAt))
	require.NotEqual(t, "sk-secret", raw)

	secret, err := v.Get("openai")
	require.NoError(t, err)
	require.Equal(t, "sk-secret", secret)
}

func TestOpenWithoutKeyOnEncryptedStoreFails(t *testing.T) {
	db := newTestDB(t)
	_, err := Open(db, "a-real-password")
	require.NoError(t, err)

	_, err = Open(db, "")
	require.ErrorIs(t, err, ErrNoKeyForEncrypted)
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "right-password")
	require.NoError(t, err)
	require.NoError(t, v.Store("svc", "secret-value"))

	other, err := Open(db, "right-password")
	require.NoError(t, err)
	other.key, _ = deriveKey("wrong-password", mustSalt(t, db), KDFV2)

	_, err = other.Get("svc")
	require.ErrorIs(t, err, ErrWrongKey)
}

func mustSalt(t *testing.T, db *sql.DB) []byte {
	t.Helper()
	var salt []byte
	require.NoError(t, db.QueryRow(`SELECT salt FROM vault_metadata WHERE id = 1`).Scan(&salt))
	return salt
}

func TestStoreIfNewRejectsHyphenUnderscoreAlias(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "")
	require.NoError(t, err)

	created, err := v.StoreIfNew("my_service", "a")
	require.NoError(t, err)
	require.True(t, created)

	created, err = v.StoreIfNew("my-service", "b")
	require.NoError(t, err)
	require.False(t, created, "hyphen/underscore alias of an existing service should not create a duplicate")

	secret, err := v.Get("my_service")
	require.NoError(t, err)
	require.Equal(t, "a", secret)
}

func TestExists(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "")
	require.NoError(t, err)

	ok, err := v.Exists("svc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.Store("svc", "x"))
	ok, err = v.Exists("svc")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListAndListAll(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "pw")
	require.NoError(t, err)
	require.NoError(t, v.Store("a", "secret-a"))
	require.NoError(t, v.Store("b", "secret-b"))

	redacted, err := v.List()
	require.NoError(t, err)
	require.Len(t, redacted, 2)
	for _, e := range redacted {
		require.Empty(t, e.Secret)
	}

	full, err := v.ListAll()
	require.NoError(t, err)
	require.Len(t, full, 2)
	for _, e := range full {
		require.NotEmpty(t, e.Secret)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	v, err := Open(db, "")
	require.NoError(t, err)
	require.NoError(t, v.Store("svc", "x"))
	require.NoError(t, v.Delete("svc"))

	_, err = v.Get("svc")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLazyV1ToV2Migration(t *testing.T) {
	db := newTestDB(t)

	// Simulate a legacy store: a row exists but there's no metadata row,
	// forcing Open's legacy-v1-inference branch. The seed row is removed
	// right after Open so migrateToV2 never has to decrypt a row it didn't
	// itself encrypt.
	_, err := db.Exec(schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credentials (service, ciphertext, created_at, updated_at) VALUES ('__seed__', X'00', 0, 0)`)
	require.NoError(t, err)

	legacy, err := Open(db, "legacy-pass")
	require.NoError(t, err)
	require.Equal(t, KDFV1, legacy.kdf)

	_, err = db.Exec(`DELETE FROM credentials WHERE service = '__seed__'`)
	require.NoError(t, err)

	require.NoError(t, legacy.Store("svc", "legacy-secret"))

	secret, err := legacy.Get("svc")
	require.NoError(t, err)
	require.Equal(t, "legacy-secret", secret)
	require.Equal(t, KDFV2, legacy.kdf, "first successful Get on a v1 vault lazily migrates it to v2")

	secret, err = legacy.Get("svc")
	require.NoError(t, err)
	require.Equal(t, "legacy-secret", secret)
}
