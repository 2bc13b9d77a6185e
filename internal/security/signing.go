// Package security implements the workspace security policy subsystem:
// device-key signing, the verification state machine, the agent write deny
// list, the hardcoded context suffix, and the policy file watcher.
//
// Security model:
//
//  1. Additive only - the user's LocalGPT.md can tighten restrictions on
//     top of the built-in rules, never weaken them.
//  2. Fail closed - any verification failure falls back to hardcoded-only
//     defense. The system never operates with a compromised policy.
//  3. Tamper-evident - policies are pinned with HMAC-SHA256 under a
//     device-local key stored outside the workspace; all outcomes land in
//     the hash-chained audit log.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ttulttul/localgpt/internal/fileutil"
	"github.com/ttulttul/localgpt/internal/logger"
)

var log = logger.New("security")

const (
	// PolicyFilename is the user-editable security policy in the workspace.
	PolicyFilename = "LocalGPT.md"
	// ManifestFilename is the signature manifest in the workspace.
	ManifestFilename = ".localgpt_manifest.json"
	// DeviceKeyFilename is the 32-byte HMAC key in the state directory.
	DeviceKeyFilename = "localgpt.device.key"

	// ManifestVersion is the only accepted manifest schema version.
	ManifestVersion = 1
	// DeviceKeyLen is the exact device key size in bytes.
	DeviceKeyLen = 32
)

// Manifest pins one policy file to the device key.
// Written only by the signing command - never by the agent.
type Manifest struct {
	// Version is the schema version, currently 1.
	Version int `json:"version"`
	// HMACSHA256 is the hex HMAC-SHA256 of the content under the device key.
	HMACSHA256 string `json:"hmac_sha256"`
	// SignedAt is the ISO 8601 signing timestamp.
	SignedAt string `json:"signed_at"`
	// SignedBy is "cli" or "gui". "agent" is forbidden.
	SignedBy string `json:"signed_by"`
	// ContentSHA256 is the plain hex SHA-256 of the content (quick check).
	ContentSHA256 string `json:"content_sha256"`
}

// EnsureDeviceKey generates the device key on first run. 32 bytes from the
// OS CSPRNG, written with owner-only permissions. Existing keys are never
// overwritten or re-derived.
func EnsureDeviceKey(stateDir string) error {
	keyPath := filepath.Join(stateDir, DeviceKeyFilename)
	if _, err := os.Stat(keyPath); err == nil {
		return nil
	}

	key := make([]byte, DeviceKeyLen)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate device key: %w", err)
	}
	defer Zeroize(key)

	if err := fileutil.SecureMkdirAll(stateDir); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := fileutil.SecureWriteFile(keyPath, key); err != nil {
		return fmt.Errorf("write device key: %w", err)
	}
	log.Info("Generated device key at %s", keyPath)
	return nil
}

// ReadDeviceKey loads the device key. The caller owns the returned bytes
// and must Zeroize them when done - the key never crosses task boundaries.
func ReadDeviceKey(stateDir string) ([]byte, error) {
	keyPath := filepath.Join(stateDir, DeviceKeyFilename)
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read device key (run `localgpt init`): %w", err)
	}
	if len(key) != DeviceKeyLen {
		Zeroize(key)
		return nil, fmt.Errorf("device key has unexpected length %d (expected %d)", len(key), DeviceKeyLen)
	}
	return key, nil
}

// Zeroize overwrites key material in place.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ContentSHA256 returns the hex-encoded SHA-256 of content.
func ContentSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ComputeHMAC returns the hex-encoded HMAC-SHA256 of content under key.
func ComputeHMAC(key, content []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign reads the policy file, computes its digests under the device key,
// and writes the manifest into the workspace.
//
// signedBy must be "cli" or "gui"; in particular "agent" is rejected - the
// agent must never be able to bless its own policy edits.
func Sign(stateDir, workspace, signedBy string) (*Manifest, error) {
	if signedBy != "cli" && signedBy != "gui" {
		return nil, fmt.Errorf("invalid signer %q (must be cli or gui)", signedBy)
	}

	policyPath := filepath.Join(workspace, PolicyFilename)
	content, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", PolicyFilename, err)
	}

	key, err := ReadDeviceKey(stateDir)
	if err != nil {
		return nil, err
	}
	hmacHex := ComputeHMAC(key, content)
	Zeroize(key)

	manifest := &Manifest{
		Version:       ManifestVersion,
		HMACSHA256:    hmacHex,
		SignedAt:      time.Now().UTC().Format(time.RFC3339),
		SignedBy:      signedBy,
		ContentSHA256: ContentSHA256(content),
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	manifestPath := filepath.Join(workspace, ManifestFilename)
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// ReadManifest parses the manifest file from the workspace. Unknown fields
// are ignored; a version mismatch is the caller's concern.
func ReadManifest(workspace string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(workspace, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestFilename, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest JSON: %w", err)
	}
	return &m, nil
}

// hexDigestsEqual compares two hex digests in constant time. Malformed hex
// never compares equal.
func hexDigestsEqual(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return hmac.Equal(ab, bb)
}
