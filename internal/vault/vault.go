// Package vault implements opt-in encrypted storage of per-service
// credentials (spec.md §4.4): AES-256-GCM payload encryption with a
// scrypt-derived key, legacy v1/v2 KDF parameter migration, and a
// plaintext fallback mode for callers that never supply a key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
)

// KDF version identifiers stored in the vault's metadata row.
const (
	KDFNone = 0 // plaintext mode: no key was ever supplied
	KDFV1   = 1 // legacy scrypt parameters
	KDFV2   = 2 // current scrypt parameters
)

// scrypt parameters per KDF version (spec.md §4.4).
const (
	v1N, v1r, v1p = 8192, 8, 1
	v2N, v2r, v2p = 16384, 8, 1
	keyLen        = 32
	saltLen       = 32
)

var (
	// ErrNoKeyForEncrypted is returned by Open when existing rows imply an
	// encrypted vault but the caller supplied no key.
	ErrNoKeyForEncrypted = errors.New("vault: rows exist and appear encrypted, but no key was supplied")
	// ErrWrongKey is returned by Get when decryption authentication fails,
	// the caller-visible signal that the supplied key is wrong.
	ErrWrongKey = errors.New("vault: decryption failed, key is likely incorrect")
)

// Entry is a stored credential, redacted (Secret is empty) unless the
// caller explicitly asked for a decrypted view.
type Entry struct {
	Service   string
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vault is the credential store. It shares its SQLite connection with the
// sibling store/vectorstore packages rather than opening its own.
type Vault struct {
	db  *sql.DB
	key []byte // nil in plaintext mode
	kdf int

	// retainedPassword is kept only long enough to re-derive a v2 key
	// during the legacy-v1 lazy migration triggered by the first
	// successful Get; it is cleared immediately afterward (spec.md §4.4).
	retainedPassword string
}

const schema = `
CREATE TABLE IF NOT EXISTS vault_metadata (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	kdf_version INTEGER NOT NULL,
	salt BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	service TEXT PRIMARY KEY,
	ciphertext BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open opens (or initializes) the vault against db. password may be empty,
// in which case the vault runs in plaintext mode unless existing rows
// imply otherwise, per spec.md §4.4's open-time inference rules.
func Open(db *sql.DB, password string) (*Vault, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("vault: schema: %w", err)
	}

	var kdf int
	var salt []byte
	err := db.QueryRow(`SELECT kdf_version, salt FROM vault_metadata WHERE id = 1`).Scan(&kdf, &salt)

	switch {
	case err == sql.ErrNoRows:
		return openFreshMetadata(db, password)
	case err != nil:
		return nil, fmt.Errorf("vault: read metadata: %w", err)
	}

	if kdf == KDFNone {
		if password != "" {
			fmt.Println("[vault] metadata marks this store plaintext; supplied key is ignored")
		}
		return &Vault{db: db, kdf: KDFNone}, nil
	}

	if password == "" {
		return nil, ErrNoKeyForEncrypted
	}

	key, err := deriveKey(password, salt, kdf)
	if err != nil {
		return nil, err
	}
	return &Vault{db: db, key: key, kdf: kdf, retainedPassword: password}, nil
}

func openFreshMetadata(db *sql.DB, password string) (*Vault, error) {
	var rowCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("vault: count credentials: %w", err)
	}

	if rowCount == 0 {
		if password == "" {
			if _, err := db.Exec(`INSERT INTO vault_metadata (id, kdf_version, salt) VALUES (1, ?, ?)`, KDFNone, []byte{}); err != nil {
				return nil, err
			}
			return &Vault{db: db, kdf: KDFNone}, nil
		}
		salt := make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("vault: generate salt: %w", err)
		}
		key, err := deriveKey(password, salt, KDFV2)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(`INSERT INTO vault_metadata (id, kdf_version, salt) VALUES (1, ?, ?)`, KDFV2, salt); err != nil {
			return nil, err
		}
		return &Vault{db: db, key: key, kdf: KDFV2}, nil
	}

	// Rows exist but no metadata: a store created before metadata tracking
	// existed. Infer legacy v1 and flag for lazy migration on first Get.
	if password == "" {
		return nil, ErrNoKeyForEncrypted
	}
	fmt.Println("[vault] no metadata found for existing rows, assuming legacy v1 KDF")
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	key, err := deriveKey(password, salt, KDFV1)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`INSERT INTO vault_metadata (id, kdf_version, salt) VALUES (1, ?, ?)`, KDFV1, salt); err != nil {
		return nil, err
	}
	return &Vault{db: db, key: key, kdf: KDFV1, retainedPassword: password}, nil
}

func deriveKey(password string, salt []byte, version int) ([]byte, error) {
	n, r, p := v2N, v2r, v2p
	if version == KDFV1 {
		n, r, p = v1N, v1r, v1p
	}
	return scrypt.Key([]byte(password), salt, n, r, p, keyLen)
}

func (v *Vault) encrypt(plaintext string) ([]byte, error) {
	if v.key == nil {
		return []byte(plaintext), nil
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (v *Vault) decrypt(ciphertext []byte) (string, error) {
	if v.key == nil {
		return string(ciphertext), nil
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrWrongKey
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", ErrWrongKey
	}
	return string(plain), nil
}

// Store encrypts and persists secret under service, overwriting any
// existing entry.
func (v *Vault) Store(service, secret string) error {
	ciphertext, err := v.encrypt(secret)
	if err != nil {
		return fmt.Errorf("vault: encrypt: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = v.db.Exec(`INSERT INTO credentials (service, ciphertext, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		service, ciphertext, now, now)
	return err
}

// legacyAlias returns the underscore/hyphen swapped form of service, the
// one alias class spec.md §4.4's storeIfNew pre-check guards against.
func legacyAlias(service string) string {
	if strings.Contains(service, "_") {
		return strings.ReplaceAll(service, "_", "-")
	}
	if strings.Contains(service, "-") {
		return strings.ReplaceAll(service, "-", "_")
	}
	return ""
}

// StoreIfNew stores secret under service only if neither service nor its
// underscore/hyphen alias already has an entry. Returns true if a new row
// was written.
func (v *Vault) StoreIfNew(service, secret string) (bool, error) {
	alias := legacyAlias(service)
	var exists int
	q := `SELECT COUNT(*) FROM credentials WHERE service = ?`
	args := []any{service}
	if alias != "" {
		q += ` OR service = ?`
		args = append(args, alias)
	}
	if err := v.db.QueryRow(q, args...).Scan(&exists); err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}

	ciphertext, err := v.encrypt(secret)
	if err != nil {
		return false, err
	}
	now := time.Now().UnixMilli()
	res, err := v.db.Exec(`INSERT INTO credentials (service, ciphertext, created_at, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(service) DO NOTHING`, service, ciphertext, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Get decrypts and returns the secret stored under service. The first
// successful Get against a legacy v1 vault triggers a lazy re-encryption
// of every row under a fresh v2 key (spec.md §4.4).
func (v *Vault) Get(service string) (string, error) {
	var ciphertext []byte
	var createdAt, updatedAt int64
	err := v.db.QueryRow(`SELECT ciphertext, created_at, updated_at FROM credentials WHERE service = ?`, service).
		Scan(&ciphertext, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", err
	}

	secret, err := v.decrypt(ciphertext)
	if err != nil {
		return "", err
	}

	if v.kdf == KDFV1 {
		if err := v.migrateToV2(); err != nil {
			fmt.Printf("[vault] lazy v1->v2 migration failed, continuing on v1: %v\n", err)
		}
	}
	return secret, nil
}

// migrateToV2 re-encrypts every row under a freshly derived v2 key in one
// transaction, then atomically swaps metadata to kdf_version=2.
func (v *Vault) migrateToV2() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT service, ciphertext FROM credentials`)
	if err != nil {
		return err
	}
	type row struct {
		service string
		secret  string
	}
	var plain []row
	for rows.Next() {
		var service string
		var ciphertext []byte
		if err := rows.Scan(&service, &ciphertext); err != nil {
			rows.Close()
			return err
		}
		secret, err := v.decrypt(ciphertext)
		if err != nil {
			rows.Close()
			return err
		}
		plain = append(plain, row{service: service, secret: secret})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	newSalt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, newSalt); err != nil {
		return err
	}
	newKey, err := deriveKey(v.retainedPassword, newSalt, KDFV2)
	if err != nil {
		return err
	}
	// Derive the new key without touching v.key until every row has been
	// successfully re-encrypted under it.
	tmp := &Vault{key: newKey, kdf: KDFV2}

	for _, r := range plain {
		ciphertext, err := tmp.encrypt(r.secret)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE credentials SET ciphertext = ? WHERE service = ?`, ciphertext, r.service); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE vault_metadata SET kdf_version = ?, salt = ? WHERE id = 1`, KDFV2, newSalt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	v.key = newKey
	v.kdf = KDFV2
	v.retainedPassword = ""
	return nil
}

// List returns every stored service name with redacted secrets.
func (v *Vault) List() ([]Entry, error) {
	rows, err := v.db.Query(`SELECT service, created_at, updated_at FROM credentials ORDER BY service`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt, updatedAt int64
		if err := rows.Scan(&e.Service, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAll returns every stored entry fully decrypted. Spec.md §4.4 calls
// out this operation should be used sparingly, since it forces decryption
// of the whole table.
func (v *Vault) ListAll() ([]Entry, error) {
	entries, err := v.List()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		secret, err := v.Get(entries[i].Service)
		if err != nil {
			return nil, fmt.Errorf("vault: decrypt %q: %w", entries[i].Service, err)
		}
		entries[i].Secret = secret
	}
	return entries, nil
}

// Delete removes the credential stored under service.
func (v *Vault) Delete(service string) error {
	_, err := v.db.Exec(`DELETE FROM credentials WHERE service = ?`, service)
	return err
}

// Exists reports whether service has a stored credential, without
// decrypting it.
func (v *Vault) Exists(service string) (bool, error) {
	var n int
	if err := v.db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE service = ?`, service).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

