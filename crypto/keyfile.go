package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadKeyFile reads a hex-encoded private key from disk.
func LoadKeyFile(path string) (*PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file %s: %w", path, err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key file %s: %w", path, err)
	}
	key, err := PrivateKeyFromBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse key file %s: %w", path, err)
	}
	return key, nil
}

// SaveKeyFile writes a hex-encoded private key with owner-only permissions.
func SaveKeyFile(path string, key *PrivateKey) error {
	if key == nil {
		return fmt.Errorf("crypto: nil private key")
	}
	encoded := hex.EncodeToString(key.Bytes())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("crypto: write key file %s: %w", path, err)
	}
	return nil
}
