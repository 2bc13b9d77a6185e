package security

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ttulttul/localgpt/internal/audit"
	"github.com/ttulttul/localgpt/internal/sanitize"
)

// MaxPolicyChars caps policy content after sanitization. Keeps the per-turn
// token cost of the security block near ~1000 tokens.
const MaxPolicyChars = 4096

// State classifies the verification outcome. Only StateValid permits
// injection into the context window.
type State int

const (
	// StateValid - signed, verified, sanitized, ready for injection.
	StateValid State = iota
	// StateUnsigned - policy exists but has no manifest.
	StateUnsigned
	// StateTamperDetected - digest mismatch; content changed after signing.
	StateTamperDetected
	// StateMissing - no policy file in the workspace.
	StateMissing
	// StateManifestCorrupted - manifest unreadable, unparseable, or wrong
	// version. Fail closed, same as tamper.
	StateManifestCorrupted
	// StateSuspiciousContent - policy contains injection patterns.
	StateSuspiciousContent
)

// String returns the snake_case state name.
func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateUnsigned:
		return "unsigned"
	case StateTamperDetected:
		return "tamper_detected"
	case StateMissing:
		return "missing"
	case StateManifestCorrupted:
		return "manifest_corrupted"
	default:
		return "suspicious_content"
	}
}

// Verification is the result of the session-start policy pipeline.
type Verification struct {
	State State
	// Content is the sanitized, possibly truncated policy text.
	// Set only when State is StateValid.
	Content string
	// ContentSHA256 is the digest of the raw file content when it was
	// readable, for audit entries.
	ContentSHA256 string
	// Patterns names the suspicious patterns found, when
	// State is StateSuspiciousContent.
	Patterns []string
	// Truncated reports whether Content was cut at MaxPolicyChars.
	Truncated bool
}

// LoadAndVerify runs the full verification pipeline once:
//
//	file exists? → manifest exists? → manifest parses (version 1)? →
//	SHA-256 quick check → HMAC-SHA256 under device key →
//	sanitize → detect suspicious → truncate
//
// It is pure with respect to the audit log; VerifyAndAudit wraps it with
// the one-entry-per-outcome guarantee.
func LoadAndVerify(workspace, stateDir string) Verification {
	policyPath := filepath.Join(workspace, PolicyFilename)

	raw, err := os.ReadFile(policyPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("no %s found in workspace", PolicyFilename)
			return Verification{State: StateMissing}
		}
		log.Warn("failed to read %s: %v", PolicyFilename, err)
		return Verification{State: StateMissing}
	}

	// Binary-safe read: the signing pipeline only ever blesses UTF-8
	// markdown, so invalid UTF-8 means the bytes changed underneath it.
	if !utf8.Valid(raw) {
		log.Warn("%s contains invalid UTF-8; treating as tamper", PolicyFilename)
		return Verification{State: StateTamperDetected, ContentSHA256: ContentSHA256(raw)}
	}
	contentSHA := ContentSHA256(raw)

	if _, err := os.Stat(filepath.Join(workspace, ManifestFilename)); err != nil {
		log.Warn("%s exists but is not signed; run `localgpt md sign` to activate", PolicyFilename)
		return Verification{State: StateUnsigned, ContentSHA256: contentSHA}
	}

	manifest, err := ReadManifest(workspace)
	if err != nil {
		log.Warn("manifest corrupted: %v", err)
		return Verification{State: StateManifestCorrupted, ContentSHA256: contentSHA}
	}
	if manifest.Version != ManifestVersion {
		log.Warn("manifest version %d unsupported (want %d)", manifest.Version, ManifestVersion)
		return Verification{State: StateManifestCorrupted, ContentSHA256: contentSHA}
	}

	// Quick check before touching the key.
	if !hexDigestsEqual(contentSHA, manifest.ContentSHA256) {
		log.Warn("%s content SHA-256 mismatch; tamper detected", PolicyFilename)
		return Verification{State: StateTamperDetected, ContentSHA256: contentSHA}
	}

	// Full check. The key is read fresh, used, and zeroized; a missing key
	// means the HMAC cannot be recomputed - fail closed as tamper.
	key, err := ReadDeviceKey(stateDir)
	if err != nil {
		log.Warn("cannot read device key: %v", err)
		return Verification{State: StateTamperDetected, ContentSHA256: contentSHA}
	}
	hmacHex := ComputeHMAC(key, raw)
	Zeroize(key)
	if !hexDigestsEqual(hmacHex, manifest.HMACSHA256) {
		log.Warn("%s HMAC mismatch; tamper detected", PolicyFilename)
		return Verification{State: StateTamperDetected, ContentSHA256: contentSHA}
	}

	// Sanitizer pipeline: strip → detect (blocking) → truncate (lossy but
	// never fail-closed).
	cleaned := sanitize.Sanitize(string(raw))
	if patterns := sanitize.DetectSuspicious(cleaned); len(patterns) > 0 {
		log.Warn("%s contains suspicious patterns %v; skipping user policy", PolicyFilename, patterns)
		return Verification{State: StateSuspiciousContent, ContentSHA256: contentSHA, Patterns: patterns}
	}
	cleaned, truncated := sanitize.Truncate(cleaned, MaxPolicyChars)
	if truncated {
		log.Warn("security policy truncated to %d chars", MaxPolicyChars)
	}

	log.Debug("security policy verified and loaded (%d chars)", len(cleaned))
	return Verification{
		State:         StateValid,
		Content:       cleaned,
		ContentSHA256: contentSHA,
		Truncated:     truncated,
	}
}

// auditAction maps a verification state to its audit action.
func auditAction(s State) audit.Action {
	switch s {
	case StateValid:
		return audit.ActionVerified
	case StateUnsigned:
		return audit.ActionUnsigned
	case StateTamperDetected:
		return audit.ActionTamperDetected
	case StateMissing:
		return audit.ActionMissing
	case StateManifestCorrupted:
		return audit.ActionManifestCorrupted
	default:
		return audit.ActionSuspiciousContent
	}
}

// VerifyAndAudit runs LoadAndVerify and appends exactly one audit entry for
// the outcome. There is no silent path: every state lands in the chain.
// Audit failure is logged and never blocks verification.
func VerifyAndAudit(workspace, stateDir string, auditLog *audit.Log, source string) Verification {
	v := LoadAndVerify(workspace, stateDir)

	detail := ""
	if len(v.Patterns) > 0 {
		detail = strings.Join(v.Patterns, ",")
	}
	auditLog.AppendBestEffort(auditAction(v.State), v.ContentSHA256, source, detail)
	return v
}
