package sanitize

import "fmt"

// Result carries wrapped content plus any suspicious-pattern names found.
// For tool output the warnings are advisory (content still flows through);
// the policy store treats a non-empty warning list as a hard rejection.
type Result struct {
	Content   string
	Warnings  []string
	Truncated bool
}

// MemorySource identifies which workspace file a memory block came from.
type MemorySource string

const (
	SourceIdentity MemorySource = "identity"
	SourceUser     MemorySource = "user"
	SourceSoul     MemorySource = "soul"
	SourceMemory   MemorySource = "memory"
)

// WrapToolOutput sanitizes and truncates raw tool output, then frames it in
// a <tool_output> block so the model treats it as data. maxChars <= 0 means
// no truncation.
func WrapToolOutput(toolName, output string, maxChars int) Result {
	cleaned := Sanitize(output)
	warnings := DetectSuspicious(cleaned)

	truncated := false
	if maxChars > 0 {
		cleaned, truncated = Truncate(cleaned, maxChars)
	}

	return Result{
		Content:   fmt.Sprintf("<tool_output tool=%q>\n%s\n</tool_output>", toolName, cleaned),
		Warnings:  warnings,
		Truncated: truncated,
	}
}

// WrapExternalContent frames fetched web or file content as data.
func WrapExternalContent(origin, content string) Result {
	cleaned := Sanitize(content)
	return Result{
		Content:  fmt.Sprintf("<external_content source=%q>\n%s\n</external_content>", origin, cleaned),
		Warnings: DetectSuspicious(cleaned),
	}
}

// WrapMemoryContent frames a workspace memory file as data.
func WrapMemoryContent(filename, content string, source MemorySource) Result {
	cleaned := Sanitize(content)
	return Result{
		Content: fmt.Sprintf("<memory_context file=%q kind=%q>\n%s\n</memory_context>",
			filename, string(source), cleaned),
		Warnings: DetectSuspicious(cleaned),
	}
}
