package logger

import (
	"io"
	"regexp"
)

// Scrubber removes secrets and contact details from log output.
// It is a last line of defense: conversational PII is handled by
// pkg/redact before anything reaches a log call.
type Scrubber struct {
	patterns []*regexp.Regexp
}

// NewScrubber creates a new scrubber with default patterns
func NewScrubber() *Scrubber {
	return &Scrubber{
		patterns: []*regexp.Regexp{
			// API keys
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Email addresses
			regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),

			// Phone numbers (international and local forms)
			regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),

			// Passwords and generic secrets
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom scrub pattern
func (s *Scrubber) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// Scrub removes sensitive information from a string
func (s *Scrubber) Scrub(in string) string {
	result := in
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, "[SCRUBBED]")
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is scrubbed
func (s *Scrubber) Wrap(w io.Writer) io.Writer {
	return &scrubbingWriter{
		writer:   w,
		scrubber: s,
	}
}

type scrubbingWriter struct {
	writer   io.Writer
	scrubber *Scrubber
}

func (w *scrubbingWriter) Write(p []byte) (n int, err error) {
	scrubbed := w.scrubber.Scrub(string(p))
	return w.writer.Write([]byte(scrubbed))
}
