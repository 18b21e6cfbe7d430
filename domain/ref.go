package domain

import "strings"

// Ref is anything that can name a board: a bare ID, a Board, or a pointer
// to one.
type Ref interface {
	BoardID() string
}

// ID is a bare board identifier.
type ID string

// BoardID implements Ref.
func (id ID) BoardID() string { return string(id) }

// ResolveRef unwraps a board reference into its identifier. It is the only
// place multi-shape references are interpreted.
func ResolveRef(ref Ref) (string, error) {
	if ref == nil {
		return "", InvalidArgument("boardId", "is required")
	}
	if b, ok := ref.(*Board); ok && b == nil {
		return "", InvalidArgument("boardId", "is required")
	}
	id := strings.TrimSpace(ref.BoardID())
	if id == "" {
		return "", InvalidArgument("boardId", "is required")
	}
	return id, nil
}
