// Package storage provides the encrypted persistence layer: the
// credential vault for user records, runtime configuration, and
// secrets, and the template store for face embeddings. All writes go
// through an atomic temp-and-rename so uncoordinated readers always
// observe a consistent snapshot.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/vaultcrypto"
)

// ErrUnknownDriver is returned when an update references a driver that
// was never enrolled.
var ErrUnknownDriver = errors.New("storage: unknown driver")

const (
	usersFile  = "users_database.encrypted"
	configFile = "system_config.encrypted"
	credsFile  = "credentials.encrypted"
)

// Vault persists user profiles, system configuration, and credentials
// as encrypted JSON blobs. Writes are serialized behind a single-writer
// lock per vault; reads decrypt whatever complete snapshot is on disk.
type Vault struct {
	mu     sync.Mutex
	cipher *vaultcrypto.Cipher
	dir    string
}

// NewVault creates a vault rooted at dir, creating the directory if
// needed.
func NewVault(dir string, cipher *vaultcrypto.Cipher) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Vault{cipher: cipher, dir: dir}, nil
}

// Initialize writes default blobs for any missing file: an empty user
// set, the default system configuration, and credentials hashed from
// the provided defaults. Existing files are left untouched.
func (v *Vault) Initialize(defaultPIN, defaultManagerKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := os.Stat(v.path(usersFile)); os.IsNotExist(err) {
		if err := v.saveLocked(usersFile, usersBlob{Users: []models.UserProfile{}}); err != nil {
			return err
		}
	}
	if _, err := os.Stat(v.path(configFile)); os.IsNotExist(err) {
		if err := v.saveLocked(configFile, models.DefaultSystemConfig()); err != nil {
			return err
		}
	}
	if _, err := os.Stat(v.path(credsFile)); os.IsNotExist(err) {
		pinHash, err := bcrypt.GenerateFromPassword([]byte(defaultPIN), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash default PIN: %w", err)
		}
		keyHash, err := bcrypt.GenerateFromPassword([]byte(defaultManagerKey), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash default manager key: %w", err)
		}
		creds := models.Credentials{
			EmergencyPINHash: string(pinHash),
			ManagerKeyHash:   string(keyHash),
		}
		if err := v.saveLocked(credsFile, creds); err != nil {
			return err
		}
	}
	return nil
}

// usersBlob is the on-disk shape of the user set.
type usersBlob struct {
	Users []models.UserProfile `json:"users"`
}

// Users returns every stored profile. A missing file is an empty,
// valid user set.
func (v *Vault) Users() ([]models.UserProfile, error) {
	var blob usersBlob
	if err := v.loadFile(usersFile, &blob); err != nil {
		return nil, err
	}
	if blob.Users == nil {
		blob.Users = []models.UserProfile{}
	}
	return blob.Users, nil
}

// UpsertUser inserts the profile or replaces the record with the same
// driver ID.
func (v *Vault) UpsertUser(profile models.UserProfile) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var blob usersBlob
	if err := v.loadFile(usersFile, &blob); err != nil {
		return err
	}
	replaced := false
	for i, u := range blob.Users {
		if u.DriverID == profile.DriverID {
			blob.Users[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		blob.Users = append(blob.Users, profile)
	}
	return v.saveLocked(usersFile, blob)
}

// TouchUser applies fn to the stored profile for driverID and persists
// the result. Returns ErrUnknownDriver if no such profile exists.
func (v *Vault) TouchUser(driverID string, fn func(*models.UserProfile)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var blob usersBlob
	if err := v.loadFile(usersFile, &blob); err != nil {
		return err
	}
	for i := range blob.Users {
		if blob.Users[i].DriverID == driverID {
			fn(&blob.Users[i])
			return v.saveLocked(usersFile, blob)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownDriver, driverID)
}

// Config returns the committed system configuration. A missing file
// yields the defaults.
func (v *Vault) Config() (models.SystemConfig, error) {
	cfg := models.DefaultSystemConfig()
	if err := v.loadFile(configFile, &cfg); err != nil {
		return models.SystemConfig{}, err
	}
	return cfg, nil
}

// SaveConfig atomically commits a new system configuration. Subsequent
// reads observe the new value.
func (v *Vault) SaveConfig(cfg models.SystemConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saveLocked(configFile, cfg)
}

// Credentials returns the stored credential hashes.
func (v *Vault) Credentials() (models.Credentials, error) {
	var creds models.Credentials
	if err := v.loadFile(credsFile, &creds); err != nil {
		return models.Credentials{}, err
	}
	return creds, nil
}

// VerifyPIN reports whether pin matches the stored emergency PIN hash.
func (v *Vault) VerifyPIN(pin string) (bool, error) {
	creds, err := v.Credentials()
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(creds.EmergencyPINHash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare PIN: %w", err)
	}
	return true, nil
}

// VerifyManagerKey reports whether key matches the stored manager
// credential hash.
func (v *Vault) VerifyManagerKey(key string) (bool, error) {
	creds, err := v.Credentials()
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(creds.ManagerKeyHash), []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare manager key: %w", err)
	}
	return true, nil
}

// SetPIN replaces the emergency PIN hash.
func (v *Vault) SetPIN(pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash PIN: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var creds models.Credentials
	if err := v.loadFile(credsFile, &creds); err != nil {
		return err
	}
	creds.EmergencyPINHash = string(hash)
	return v.saveLocked(credsFile, creds)
}

func (v *Vault) path(name string) string {
	return v.dir + string(os.PathSeparator) + name
}

// loadFile decrypts and decodes a blob. Callers need not hold the
// writer lock: the atomic-replace discipline means a read observes
// either the prior valid state or the complete new one.
func (v *Vault) loadFile(name string, out any) error {
	raw, err := os.ReadFile(v.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	plaintext, err := v.cipher.Open(string(raw))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", vaultcrypto.ErrIntegrityViolation, name, err)
	}
	return nil
}

func (v *Vault) saveLocked(name string, in any) error {
	plaintext, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	sealed, err := v.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal %s: %w", name, err)
	}
	return writeFileAtomic(v.path(name), []byte(sealed))
}
