package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ttulttul/localgpt/internal/audit"
	"github.com/ttulttul/localgpt/internal/config"
)

// ProtectedFiles are workspace-relative names agent tools must never write:
// the policy, its manifest, and the agent identity file. Their integrity is
// maintained by the user via CLI or by the security system itself.
var ProtectedFiles = []string{
	PolicyFilename,
	ManifestFilename,
	"IDENTITY.md",
}

// ProtectedExternalPaths are state-directory filenames the agent must not
// touch: the device key and the audit log. Checked as filename suffixes for
// defense in depth - the state dir sits outside the workspace and is not
// indexed by memory.
var ProtectedExternalPaths = []string{
	DeviceKeyFilename,
	audit.Filename,
}

// ProtectedPathError is returned to the agent when a tool call targets a
// protected file. The message is visible to the model so it can adapt.
type ProtectedPathError struct {
	Name string
}

func (e *ProtectedPathError) Error() string {
	return fmt.Sprintf("protected path: %s is maintained by the security system and cannot be written by tools", e.Name)
}

// IsWorkspaceFileProtected checks the final path component against the
// workspace deny list. Case-sensitive.
func IsWorkspaceFileProtected(name string) bool {
	base := filepath.Base(name)
	for _, p := range ProtectedFiles {
		if base == p {
			return true
		}
	}
	return false
}

// Guard rejects tool writes to protected paths. Beyond the compile-time
// deny lists it honors user-configured extra glob patterns.
type Guard struct {
	workspace string
	stateDir  string
	extra     []glob.Glob
}

// NewGuard builds a write guard for the given workspace and state dir.
// Invalid extra patterns are skipped with a warning rather than disabling
// the guard.
func NewGuard(workspace, stateDir string, cfg *config.SecurityConfig) *Guard {
	g := &Guard{workspace: workspace, stateDir: stateDir}
	if cfg != nil {
		for _, pattern := range cfg.ProtectedGlobs {
			compiled, err := glob.Compile(pattern, '/')
			if err != nil {
				log.Warn("ignoring invalid protected_globs pattern %q: %v", pattern, err)
				continue
			}
			g.extra = append(g.extra, compiled)
		}
	}
	return g
}

// CheckWrite resolves the target to a canonical absolute path and returns a
// *ProtectedPathError if it is denied. A nil error means the write may
// proceed.
func (g *Guard) CheckWrite(path string) error {
	expanded := config.ExpandTilde(path)

	resolved := expanded
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(g.workspace, resolved)
	}
	resolved = filepath.Clean(resolved)
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	// Workspace deny list: exact canonical match, then filename fallback
	// (catches targets that do not exist yet).
	for _, name := range ProtectedFiles {
		if resolved == filepath.Join(g.workspace, name) {
			return &ProtectedPathError{Name: name}
		}
	}
	if IsWorkspaceFileProtected(expanded) {
		return &ProtectedPathError{Name: filepath.Base(expanded)}
	}

	// External deny list: exact canonical match inside the state dir, then
	// filename fallback.
	for _, name := range ProtectedExternalPaths {
		if resolved == filepath.Join(g.stateDir, name) || filepath.Base(expanded) == name {
			return &ProtectedPathError{Name: name}
		}
	}

	for _, pattern := range g.extra {
		if pattern.Match(resolved) || pattern.Match(filepath.Base(resolved)) {
			return &ProtectedPathError{Name: filepath.Base(resolved)}
		}
	}
	return nil
}

// CheckShellCommand scans a shell command for references to protected
// files. Heuristic and acknowledged as bypassable - the kernel sandbox is
// the real enforcement; this catches casual and accidental writes.
//
// The command is parsed with a real shell parser so quoting and
// concatenation tricks ('Local'GPT'.md') do not slip past the scan; a
// plain substring pass backstops commands that fail to parse.
func (g *Guard) CheckShellCommand(command string) []string {
	protected := make([]string, 0, len(ProtectedFiles)+len(ProtectedExternalPaths))
	protected = append(protected, ProtectedFiles...)
	protected = append(protected, ProtectedExternalPaths...)

	seen := make(map[string]bool)
	var found []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			found = append(found, name)
		}
	}

	for _, word := range shellWords(command) {
		base := filepath.Base(word)
		for _, name := range protected {
			if base == name || strings.Contains(word, name) {
				add(name)
			}
		}
	}

	// Substring fallback for unparseable or obfuscation-adjacent input.
	for _, name := range protected {
		if strings.Contains(command, name) {
			add(name)
		}
	}
	return found
}

// shellWords extracts literal word values from a shell command. Expansions
// ($VAR, $(cmd)) contribute their literal parts only.
func shellWords(command string) []string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil
	}

	var words []string
	syntax.Walk(file, func(node syntax.Node) bool {
		if word, ok := node.(*syntax.Word); ok {
			var b strings.Builder
			for _, part := range word.Parts {
				if lit, ok := part.(*syntax.Lit); ok {
					b.WriteString(lit.Value)
				}
				if sq, ok := part.(*syntax.SglQuoted); ok {
					b.WriteString(sq.Value)
				}
				if dq, ok := part.(*syntax.DblQuoted); ok {
					for _, p := range dq.Parts {
						if lit, ok := p.(*syntax.Lit); ok {
							b.WriteString(lit.Value)
						}
					}
				}
			}
			if b.Len() > 0 {
				words = append(words, b.String())
			}
		}
		return true
	})
	return words
}
