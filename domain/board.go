package domain

import (
	"strings"

	"github.com/bytedance/sonic"
)

// RoleKind is the permission level granted to an invited user.
type RoleKind string

const (
	RoleViewer RoleKind = "viewer"
	RoleEditor RoleKind = "editor"
)

// Valid reports whether r is one of the known permission levels.
func (r RoleKind) Valid() bool {
	return r == RoleViewer || r == RoleEditor
}

// Role grants a user access to a board.
type Role struct {
	UserPhoneNumber string   `json:"userPhoneNumber"`
	Role            RoleKind `json:"role"`
}

// Todo is a single item owned by a board.
type Todo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPriority  bool   `json:"isPriority"`
}

type todoWire struct {
	ID          string `json:"id"`
	MongoID     string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPriority  bool   `json:"isPriority"`
}

// UnmarshalJSON accepts the todo id under either "_id" or "id".
func (t *Todo) UnmarshalJSON(data []byte) error {
	var w todoWire
	if err := sonic.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Todo{
		ID:          firstNonEmpty(w.MongoID, w.ID),
		Name:        w.Name,
		Description: w.Description,
		IsPriority:  w.IsPriority,
	}
	return nil
}

// TodoInput is the payload for creating a todo.
type TodoInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPriority  bool   `json:"isPriority"`
}

// TodoPatch carries a partial todo update; nil fields are left untouched.
type TodoPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPriority  *bool   `json:"isPriority,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TodoPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.IsPriority == nil
}

// BoardPatch carries a partial board update.
type BoardPatch struct {
	Name string `json:"name"`
}

// Board is a named collaborative container of todos and role grants.
type Board struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OwnerPhoneNumber string `json:"ownerPhoneNumber"`
	Roles            []Role `json:"roles"`
	Todos            []Todo `json:"todos"`
}

// BoardID implements Ref.
func (b Board) BoardID() string { return b.ID }

type boardWire struct {
	ID               string                 `json:"id"`
	MongoID          string                 `json:"_id"`
	BoardRef         sonic.NoCopyRawMessage `json:"boardId"`
	Name             string                 `json:"name"`
	OwnerPhoneNumber string                 `json:"ownerPhoneNumber"`
	UserPhoneNumber  string                 `json:"userPhoneNumber"`
	Roles            []Role                 `json:"roles"`
	Todos            []Todo                 `json:"todos"`
}

// UnmarshalJSON decodes any of the board shapes the backend returns and
// normalizes the identifier (explicit id, then nested boardId reference).
func (b *Board) UnmarshalJSON(data []byte) error {
	var w boardWire
	if err := sonic.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Board{
		ID:               NormalizeBoardID(firstNonEmpty(w.MongoID, w.ID), nestedRefID(w.BoardRef), ""),
		Name:             w.Name,
		OwnerPhoneNumber: firstNonEmpty(w.OwnerPhoneNumber, w.UserPhoneNumber),
		Roles:            w.Roles,
		Todos:            w.Todos,
	}
	if b.Roles == nil {
		b.Roles = []Role{}
	}
	if b.Todos == nil {
		b.Todos = []Todo{}
	}
	return nil
}

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := b
	out.Roles = append([]Role(nil), b.Roles...)
	out.Todos = append([]Todo(nil), b.Todos...)
	return out
}

// NormalizeBoardID picks the canonical board identifier, falling back
// through the explicit id, the nested reference id and the id the caller
// asked for.
func NormalizeBoardID(explicit, nested, requested string) string {
	return firstNonEmpty(strings.TrimSpace(explicit), strings.TrimSpace(nested), strings.TrimSpace(requested))
}

// nestedRefID extracts an id from a boardId field that may hold a bare
// string or an object carrying "_id" or "id".
func nestedRefID(raw sonic.NoCopyRawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := sonic.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if err := sonic.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return firstNonEmpty(obj.MongoID, obj.ID)
}

// UserBoards is the list-boards response envelope.
type UserBoards struct {
	CreatedBoards []Board `json:"createdBoards"`
	SharedBoards  []Board `json:"sharedBoards"`
}

// Normalize replaces absent lists with empty ones.
func (u *UserBoards) Normalize() {
	if u.CreatedBoards == nil {
		u.CreatedBoards = []Board{}
	}
	if u.SharedBoards == nil {
		u.SharedBoards = []Board{}
	}
}

// User is identified solely by phone number.
type User struct {
	PhoneNumber string `json:"phoneNumber"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
