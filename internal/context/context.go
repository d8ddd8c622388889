// Package context classifies the caret position of an editor into the
// semantic context that decides which input method should be active.
// Classification consumes a Snapshot resolved by the host editor; it never
// parses source text itself.
package context

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind is the semantic context at a caret position.
type Kind string

// Exactly one Kind holds per cursor position.
const (
	Code                  Kind = "code"
	CustomKeywordHit      Kind = "custom_keyword"
	StringLiteral         Kind = "string_literal"
	ConstantLiteral       Kind = "constant_literal"
	SingleLineComment     Kind = "single_line_comment"
	MultiLineComment      Kind = "multi_line_comment"
	DocComment            Kind = "doc_comment"
	ExternalCommitContext Kind = "commit_message"
)

// Errors
var (
	ErrInvalidKind = errors.New("invalid context kind")
)

// Snapshot is the read-only view of an editor the classifier needs. It is
// implemented by the host and must only be used inside the host's read
// scope.
type Snapshot interface {
	// IsCommitSurface reports whether the editor is a VCS commit-message
	// surface. Detection belongs to the host.
	IsCommitSurface() bool

	// HasNodeAt reports whether a syntax node exists at offset.
	HasNodeAt(offset int) bool

	// EnclosingComment returns the declared token type of the innermost
	// comment enclosing offset, e.g. "DOC_COMMENT" or "BLOCK_COMMENT".
	EnclosingComment(offset int) (token string, ok bool)

	// EnclosingString returns the raw text of the innermost string or
	// literal node enclosing offset.
	EnclosingString(offset int) (text string, ok bool)

	// LineTextBefore returns the text of the caret's line from line start
	// up to offset.
	LineTextBefore(offset int) string

	// Language returns the document's language identifier.
	Language() string
}

// Classify maps a caret offset to a Kind. It is a pure function of the
// snapshot and offset.
func Classify(snap Snapshot, offset int) Kind {
	if snap == nil {
		return Code
	}
	if snap.IsCommitSurface() {
		return ExternalCommitContext
	}

	// A caret right after a closing token has no node at its own offset.
	at := offset
	if !snap.HasNodeAt(at) {
		if at <= 0 || !snap.HasNodeAt(at-1) {
			return Code
		}
		at--
	}

	if token, ok := snap.EnclosingComment(at); ok {
		return CommentKind(token)
	}

	if text, ok := snap.EnclosingString(at); ok {
		if IsConstantLiteral(text) {
			return ConstantLiteral
		}
		return StringLiteral
	}

	return Code
}

// CommentKind maps a comment token type to one of the comment kinds.
// Documentation wins over block, block wins over line.
func CommentKind(token string) Kind {
	upper := strings.ToUpper(token)
	switch {
	case strings.Contains(upper, "DOC"):
		return DocComment
	case strings.Contains(upper, "BLOCK"), strings.Contains(upper, "MULTI"):
		return MultiLineComment
	default:
		return SingleLineComment
	}
}

var upperCaser = cases.Upper(language.Und)

// IsConstantLiteral reports whether a literal looks like a constant name:
// no lowercase letters, longer than two characters, and at least one
// underscore. This is a syntactic approximation only; it says nothing about
// whether the value is actually immutable.
func IsConstantLiteral(text string) bool {
	if utf8.RuneCountInString(text) <= 2 {
		return false
	}
	if !strings.Contains(text, "_") {
		return false
	}
	return upperCaser.String(text) == text
}

// ParseKind checks if a kind string is valid.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Code:
		return Code, nil
	case CustomKeywordHit:
		return CustomKeywordHit, nil
	case StringLiteral, "string":
		return StringLiteral, nil
	case ConstantLiteral, "constant":
		return ConstantLiteral, nil
	case SingleLineComment, "line_comment":
		return SingleLineComment, nil
	case MultiLineComment, "block_comment":
		return MultiLineComment, nil
	case DocComment:
		return DocComment, nil
	case ExternalCommitContext, "commit":
		return ExternalCommitContext, nil
	default:
		return "", ErrInvalidKind
	}
}

// Description returns a human-readable description of a kind.
func (k Kind) Description() string {
	switch k {
	case Code:
		return "Source code"
	case CustomKeywordHit:
		return "Line matched a custom keyword"
	case StringLiteral:
		return "String literal"
	case ConstantLiteral:
		return "Constant-like literal"
	case SingleLineComment:
		return "Line comment"
	case MultiLineComment:
		return "Block comment"
	case DocComment:
		return "Documentation comment"
	case ExternalCommitContext:
		return "Commit message"
	default:
		return "Unknown"
	}
}

// IsComment reports whether k is one of the comment kinds.
func (k Kind) IsComment() bool {
	return k == SingleLineComment || k == MultiLineComment || k == DocComment
}
