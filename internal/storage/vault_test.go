package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/vaultcrypto"
)

func newTestVault(t *testing.T) (*Vault, string) {
	t.Helper()
	dir := t.TempDir()
	cipher, err := vaultcrypto.New("test-secret")
	require.NoError(t, err)
	v, err := NewVault(dir, cipher)
	require.NoError(t, err)
	return v, dir
}

func TestVault_EmptyDefaults(t *testing.T) {
	v, _ := newTestVault(t)

	users, err := v.Users()
	require.NoError(t, err)
	require.Empty(t, users)

	cfg, err := v.Config()
	require.NoError(t, err)
	require.Equal(t, models.DefaultSystemConfig(), cfg)
}

func TestVault_UsersRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)

	profile := models.UserProfile{
		DriverID:            "DRV001",
		Name:                "Thabo Mokoena",
		Phone:               "+27110000000",
		VehicleRegistration: "GP-123-456",
		Status:              models.StatusActive,
		RegisteredAt:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, v.UpsertUser(profile))

	users, err := v.Users()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, profile, users[0])

	// Upsert with the same driver ID replaces, not appends.
	profile.Phone = "+27119999999"
	require.NoError(t, v.UpsertUser(profile))
	users, err = v.Users()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "+27119999999", users[0].Phone)
}

func TestVault_TouchUser(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.UpsertUser(models.UserProfile{DriverID: "DRV001", Status: models.StatusActive}))

	now := time.Now().UTC()
	err := v.TouchUser("DRV001", func(u *models.UserProfile) {
		u.TotalAccesses++
		u.LastAccess = &now
	})
	require.NoError(t, err)

	users, err := v.Users()
	require.NoError(t, err)
	require.Equal(t, 1, users[0].TotalAccesses)
	require.NotNil(t, users[0].LastAccess)

	err = v.TouchUser("DRV404", func(u *models.UserProfile) {})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestVault_ConfigCommit(t *testing.T) {
	v, _ := newTestVault(t)

	cfg, err := v.Config()
	require.NoError(t, err)
	cfg.RecognitionThreshold = 0.45
	cfg.SecurityLevel = models.LevelEnhanced
	require.NoError(t, v.SaveConfig(cfg))

	got, err := v.Config()
	require.NoError(t, err)
	require.Equal(t, 0.45, got.RecognitionThreshold)
	require.Equal(t, models.LevelEnhanced, got.SecurityLevel)
}

func TestVault_CredentialsAndPIN(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.Initialize("1234", "manager-key"))

	ok, err := v.VerifyPIN("1234")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.VerifyPIN("0000")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.VerifyManagerKey("manager-key")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.VerifyManagerKey("not-the-key")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.SetPIN("9876"))
	ok, err = v.VerifyPIN("9876")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = v.VerifyPIN("1234")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVault_InitializeKeepsExisting(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.Initialize("1234", "manager-key"))
	require.NoError(t, v.SetPIN("5555"))

	// Second initialize must not clobber the changed PIN.
	require.NoError(t, v.Initialize("1234", "manager-key"))
	ok, err := v.VerifyPIN("5555")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVault_CorruptedBlobFailsClosed(t *testing.T) {
	v, dir := newTestVault(t)
	require.NoError(t, v.UpsertUser(models.UserProfile{DriverID: "DRV001", Status: models.StatusActive}))

	path := filepath.Join(dir, "users_database.encrypted")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = v.Users()
	require.Error(t, err)
	require.True(t, errors.Is(err, vaultcrypto.ErrIntegrityViolation))
}

func TestVault_FilesAreTextEncoded(t *testing.T) {
	v, dir := newTestVault(t)
	require.NoError(t, v.UpsertUser(models.UserProfile{DriverID: "DRV001", Name: "Thabo"}))

	raw, err := os.ReadFile(filepath.Join(dir, "users_database.encrypted"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "Thabo")
	for _, b := range raw {
		require.True(t, b >= 0x20 && b < 0x7f, "vault file must stay printable text")
	}
}
