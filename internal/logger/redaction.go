package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule masks the part of a match that holds the secret. replacement may use
// submatch references to keep surrounding context such as field names.
type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks provider keys and database credentials in log output
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor for the credentials parley handles
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{
				name:        "provider key",
				pattern:     regexp.MustCompile(`\b(?:gsk_|sk-ant-|sk-)[A-Za-z0-9_-]{16,}`),
				replacement: redacted,
			},
			{
				name:        "bearer token",
				pattern:     regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/=-]+`),
				replacement: "${1}" + redacted,
			},
			{
				// zerolog fields: {"password":"..."}
				name:        "json field",
				pattern:     regexp.MustCompile(`("(?:api_key|apikey|password|passwd|secret|token)"\s*:\s*")[^"]*(")`),
				replacement: "${1}" + redacted + "${2}",
			},
			{
				name:        "key value",
				pattern:     regexp.MustCompile(`(?i)\b((?:api_key|password|passwd|pwd|secret|token)\s*[=:]\s*)[^\s",}]+`),
				replacement: "${1}" + redacted,
			},
			{
				// mysql DSN user:password@tcp(host)
				name:        "dsn password",
				pattern:     regexp.MustCompile(`([^\s:/@"]+:)[^\s@"]+(@tcp\()`),
				replacement: "${1}" + redacted + "${2}",
			},
		},
	}
}

// AddPattern masks every match of pattern entirely
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", pattern: re, replacement: redacted})
	return nil
}

// Redact returns s with every secret masked
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.replacement)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
// zerolog issues one write per event, so a secret never straddles two writes.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success because callers count input bytes, not
// the redacted output.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
