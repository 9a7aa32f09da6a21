package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultSecretsFile)
	password := "test-password-12345"
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	if err := EncryptSecretsFile(path, password, secrets); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}
	if !SecretsFileExists(path) {
		t.Fatal("Secrets file was not created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	decrypted, err := DecryptSecretsFile(path, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	for key, want := range secrets {
		if got := decrypted[key]; got != want {
			t.Errorf("Secret %s: expected %q, got %q", key, want, got)
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultSecretsFile)
	if err := EncryptSecretsFile(path, "right", map[string]string{"K": "v"}); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}
	if _, err := DecryptSecretsFile(path, "wrong"); err == nil {
		t.Error("Expected decryption to fail with wrong password")
	}
}

func TestDecryptCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultSecretsFile)
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecretsFile(path, "any"); err == nil {
		t.Error("Expected error for corrupted file")
	}
}

func TestDecryptFixesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultSecretsFile)
	if err := EncryptSecretsFile(path, "pw", map[string]string{"K": "v"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecretsFile(path, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected permissions corrected to 0600, got %04o", info.Mode().Perm())
	}
}

func TestSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("OPNXT_TEST_SECRET", "env-value")
	SetDecryptedSecrets(nil)

	if v, err := GetSecret("OPNXT_TEST_SECRET"); err != nil || v != "env-value" {
		t.Errorf("expected env fallback, got %q, %v", v, err)
	}
	if err := SetSecret("OPNXT_TEST_SECRET", "memory-value"); err != nil {
		t.Fatal(err)
	}
	if v, _ := GetSecret("OPNXT_TEST_SECRET"); v != "memory-value" {
		t.Errorf("expected decrypted secret to win, got %q", v)
	}
	if err := DeleteSecret("OPNXT_TEST_SECRET"); err != nil {
		t.Fatal(err)
	}
	if names := GetDecryptedSecretNames(); len(names) != 0 {
		t.Errorf("expected no secret names, got %v", names)
	}
}

func TestUnlockSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultSecretsFile)
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	t.Setenv(EnvSecretsPassword, "")
	if loaded, err := UnlockSecrets(path); err != nil || loaded {
		t.Fatalf("expected no-op without password, got loaded=%v err=%v", loaded, err)
	}

	if err := EncryptSecretsFile(path, "pw-123", map[string]string{"OPNXT_TEST_SECRET": "from-file"}); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}
	t.Setenv(EnvSecretsPassword, "wrong")
	if _, err := UnlockSecrets(path); err == nil {
		t.Error("expected error for wrong password")
	}

	t.Setenv(EnvSecretsPassword, "pw-123")
	loaded, err := UnlockSecrets(path)
	if err != nil || !loaded {
		t.Fatalf("expected secrets to load, got loaded=%v err=%v", loaded, err)
	}
	if v, _ := GetSecret("OPNXT_TEST_SECRET"); v != "from-file" {
		t.Errorf("expected secret from file, got %q", v)
	}
}
