// Package scenario resolves a classified caret context into an input-method
// target using per-language scenario configuration.
package scenario

import (
	"strings"

	smartctx "smartim/internal/context"
)

// Bucket names a per-language scenario configuration.
type Bucket string

const (
	General Bucket = "general"
	Java    Bucket = "java"
	Kotlin  Bucket = "kotlin"
	Python  Bucket = "python"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{General, Java, Kotlin, Python}

// BucketFor selects the scenario bucket for a host language identifier.
func BucketFor(languageID string) Bucket {
	lower := strings.ToLower(languageID)
	switch {
	case lower == "java":
		return Java
	case lower == "kotlin":
		return Kotlin
	case strings.Contains(lower, "python"):
		return Python
	default:
		return General
	}
}

// Config is the scenario configuration of one language bucket.
type Config struct {
	StringLiteral   Target `toml:"string_literal" json:"string_literal" yaml:"string_literal"`
	ConstantLiteral Target `toml:"constant_literal" json:"constant_literal" yaml:"constant_literal"`
	SingleComment   Target `toml:"single_comment" json:"single_comment" yaml:"single_comment"`
	MultiComment    Target `toml:"multi_comment" json:"multi_comment" yaml:"multi_comment"`
	DocComment      Target `toml:"doc_comment" json:"doc_comment" yaml:"doc_comment"`

	// CustomKeywords is a ';'-separated list of substrings. A hit in the
	// line text before the caret forces the native target in code.
	CustomKeywords string `toml:"custom_keywords" json:"custom_keywords" yaml:"custom_keywords"`
}

// DefaultConfig returns the bucket defaults: literals in Latin, comments
// in the native language, no keywords.
func DefaultConfig() Config {
	return Config{
		StringLiteral:   Latin(),
		ConstantLiteral: Latin(),
		SingleComment:   Native(),
		MultiComment:    Native(),
		DocComment:      Native(),
	}
}

// Keywords returns the non-empty trimmed entries of CustomKeywords.
func (c Config) Keywords() []string {
	return ParseKeywords(c.CustomKeywords)
}

// ParseKeywords splits a ';'-separated keyword list, trimming entries and
// skipping empty ones.
func ParseKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if kw := strings.TrimSpace(part); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// MatchKeyword reports whether any keyword occurs in line.
func MatchKeyword(keywords []string, line string) bool {
	for _, kw := range keywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// Resolve maps a context kind to a target. It is pure and independent of
// global settings; symbolic targets are bound to concrete ids later.
func Resolve(kind smartctx.Kind, cfg Config, lineBefore string) Target {
	switch kind {
	case smartctx.Code:
		if MatchKeyword(cfg.Keywords(), lineBefore) {
			return Native()
		}
		return Latin()
	case smartctx.StringLiteral:
		return cfg.StringLiteral
	case smartctx.ConstantLiteral:
		return cfg.ConstantLiteral
	case smartctx.SingleLineComment:
		return cfg.SingleComment
	case smartctx.MultiLineComment:
		return cfg.MultiComment
	case smartctx.DocComment:
		return cfg.DocComment
	case smartctx.ExternalCommitContext, smartctx.CustomKeywordHit:
		return Native()
	default:
		return Latin()
	}
}
