package commands

import (
	"path/filepath"
	"testing"
)

func TestKeygen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.key")

	cmd := keygenCmd()
	cmd.SetArgs([]string{"--out", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	kp, err := loadKeyPair(path)
	if err != nil {
		t.Fatalf("loadKeyPair: %v", err)
	}
	defer kp.Zeroize()
	if len(kp.PublicKey()) == 0 {
		t.Error("loaded key pair has no public key")
	}
}

func TestKeygen_WriteError(t *testing.T) {
	// Output directory does not exist; the command must surface the
	// write error instead of reporting success.
	path := filepath.Join(t.TempDir(), "missing", "id.key")

	cmd := keygenCmd()
	cmd.SetArgs([]string{"--out", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("keygen: expected error for unwritable path")
	}
}
