package context

import "strings"

// StaticSnapshot is a Snapshot whose answers were resolved ahead of time by
// an editor plugin for a single caret offset. It is what crosses the IPC
// boundary, so every field is plain data.
type StaticSnapshot struct {
	CommitSurface bool   `json:"commit_surface,omitempty"`
	Offset        int    `json:"offset"`
	NodeAtOffset  bool   `json:"node_at_offset"`
	NodeBefore    bool   `json:"node_before,omitempty"`
	CommentToken  string `json:"comment_token,omitempty"`
	InComment     bool   `json:"in_comment,omitempty"`
	StringText    string `json:"string_text,omitempty"`
	InString      bool   `json:"in_string,omitempty"`
	LineBefore    string `json:"line_before,omitempty"`
	LanguageID    string `json:"language,omitempty"`
}

// IsCommitSurface implements Snapshot.
func (s *StaticSnapshot) IsCommitSurface() bool { return s.CommitSurface }

// HasNodeAt implements Snapshot. Only the resolved offset and the one
// before it are known.
func (s *StaticSnapshot) HasNodeAt(offset int) bool {
	switch offset {
	case s.Offset:
		return s.NodeAtOffset
	case s.Offset - 1:
		return s.NodeBefore
	default:
		return false
	}
}

// EnclosingComment implements Snapshot.
func (s *StaticSnapshot) EnclosingComment(int) (string, bool) {
	return s.CommentToken, s.InComment
}

// EnclosingString implements Snapshot.
func (s *StaticSnapshot) EnclosingString(int) (string, bool) {
	return s.StringText, s.InString
}

// LineTextBefore implements Snapshot.
func (s *StaticSnapshot) LineTextBefore(int) string { return s.LineBefore }

// Language implements Snapshot.
func (s *StaticSnapshot) Language() string { return s.LanguageID }

// Node is one element of a host syntax tree, used by TreeSnapshot.
type Node struct {
	Start, End int
	// Comment is the declared comment token type, empty for non-comments.
	Comment string
	// Literal marks string/literal nodes.
	Literal bool
	Text    string
	Parent  *Node
}

// TreeSnapshot adapts an in-process syntax tree to Snapshot by walking
// ancestors. Hosts written in Go can use it directly instead of resolving a
// StaticSnapshot.
type TreeSnapshot struct {
	Commit bool
	Lang   string
	Source string
	// Leaves are the innermost nodes, ordered by Start.
	Leaves []*Node
}

func (t *TreeSnapshot) leafAt(offset int) *Node {
	for _, n := range t.Leaves {
		if offset >= n.Start && offset < n.End {
			return n
		}
	}
	return nil
}

// IsCommitSurface implements Snapshot.
func (t *TreeSnapshot) IsCommitSurface() bool { return t.Commit }

// HasNodeAt implements Snapshot.
func (t *TreeSnapshot) HasNodeAt(offset int) bool { return t.leafAt(offset) != nil }

// EnclosingComment implements Snapshot.
func (t *TreeSnapshot) EnclosingComment(offset int) (string, bool) {
	for n := t.leafAt(offset); n != nil; n = n.Parent {
		if n.Comment != "" {
			return n.Comment, true
		}
	}
	return "", false
}

// EnclosingString implements Snapshot.
func (t *TreeSnapshot) EnclosingString(offset int) (string, bool) {
	for n := t.leafAt(offset); n != nil; n = n.Parent {
		if n.Literal {
			return n.Text, true
		}
	}
	return "", false
}

// LineTextBefore implements Snapshot.
func (t *TreeSnapshot) LineTextBefore(offset int) string {
	if offset > len(t.Source) {
		offset = len(t.Source)
	}
	if offset < 0 {
		return ""
	}
	head := t.Source[:offset]
	if i := strings.LastIndexByte(head, '\n'); i >= 0 {
		return head[i+1:]
	}
	return head
}

// Language implements Snapshot.
func (t *TreeSnapshot) Language() string { return t.Lang }

var (
	_ Snapshot = (*StaticSnapshot)(nil)
	_ Snapshot = (*TreeSnapshot)(nil)
)
