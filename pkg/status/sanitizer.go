// Package status normalizes worker-reported failure messages before they are
// stored on jobs and shards. Free-tier notebook runtimes embed session tokens,
// mounted drive paths and internal addresses in their tracebacks; those must
// never reach the job record or the dashboard.
package status

import (
	"regexp"
	"strings"
)

// FailureClass groups raw worker errors into the categories operators act on.
type FailureClass string

const (
	FailureOutOfMemory  FailureClass = "OUT_OF_MEMORY"
	FailureGPU          FailureClass = "GPU_ERROR"
	FailureDisconnected FailureClass = "RUNTIME_DISCONNECTED"
	FailureQuota        FailureClass = "QUOTA_EXCEEDED"
	FailureUserCode     FailureClass = "USER_CODE_ERROR"
	FailureUnknown      FailureClass = "UNKNOWN"
)

type classPattern struct {
	class    FailureClass
	keywords []string
}

// Checked in order; first match wins. OOM before generic GPU errors because
// CUDA OOM tracebacks contain both.
var classPatterns = []classPattern{
	{FailureOutOfMemory, []string{"out of memory", "oom", "cannot allocate memory", "memoryerror"}},
	{FailureGPU, []string{"cuda", "cudnn", "nvml", "gpu", "device-side assert"}},
	{FailureDisconnected, []string{"session expired", "runtime disconnected", "kernel died", "connection reset", "broken pipe"}},
	{FailureQuota, []string{"quota", "usage limit", "rate limit", "too many requests"}},
	{FailureUserCode, []string{"traceback", "exception", "assertionerror", "exit code"}},
}

type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// Patterns for secrets and identifiers that worker tracebacks leak.
var sensitivePatterns = []*sensitivePattern{
	// Bearer tokens and API keys in headers or URLs
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]+`), "bearer [token]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret)[=:]\s*[a-zA-Z0-9._-]+`), "$1=[redacted]"},

	// URLs carrying credentials
	{regexp.MustCompile(`https?://[^:\s]+:[^@\s]+@[a-zA-Z0-9][-a-zA-Z0-9_.]*`), "[url-with-credentials]"},

	// Private IPv4 ranges
	{regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},
	{regexp.MustCompile(`\b172\.(1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},
	{regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},

	// Notebook home and mounted drive paths
	{regexp.MustCompile(`/content/drive/[^\s"']*`), "/content/drive/[path]"},
	{regexp.MustCompile(`/kaggle/input/[^\s"']*`), "/kaggle/input/[path]"},
	{regexp.MustCompile(`/(?:home|root)/[a-zA-Z0-9][^\s"']*`), "[home-path]"},

	// Session and resource UUIDs
	{regexp.MustCompile(`\b[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}\b`), "[uuid]"},

	// Long hex blobs (session ids, auth cookies)
	{regexp.MustCompile(`\b[a-f0-9]{32,}\b`), "[hex]"},
}

// Sanitizer scrubs and classifies worker failure messages.
type Sanitizer struct {
	maxLength int
}

// NewSanitizer creates a sanitizer with the default message length cap.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{maxLength: 1000}
}

// Classify maps a raw failure message onto a failure class.
func (s *Sanitizer) Classify(raw string) FailureClass {
	lower := strings.ToLower(raw)
	for _, cp := range classPatterns {
		for _, kw := range cp.keywords {
			if strings.Contains(lower, kw) {
				return cp.class
			}
		}
	}
	return FailureUnknown
}

// Scrub redacts secrets and identifiers from a message. The result is safe
// to persist and to show on the dashboard.
func (s *Sanitizer) Scrub(message string) string {
	if message == "" {
		return message
	}

	result := message
	for _, sp := range sensitivePatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replacement)
	}

	if len(result) > s.maxLength {
		result = result[:s.maxLength] + "..."
	}
	return result
}

// Sanitize scrubs the message and prefixes it with its failure class so the
// stored error is both safe and greppable.
func (s *Sanitizer) Sanitize(raw string) string {
	if raw == "" {
		return raw
	}
	return string(s.Classify(raw)) + ": " + s.Scrub(raw)
}
