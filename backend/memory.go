// Package backend is an in-memory implementation of the board/todo REST
// backend. It is used by tests and for local development.
package backend

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"boardsync/domain"
)

var (
	ErrUserNotFound  = errors.New("User not found")
	ErrUserExists    = errors.New("User already exists")
	ErrBoardNotFound = errors.New("Board not found")
	ErrTodoNotFound  = errors.New("Todo not found")
)

type boardRecord struct {
	id    string
	name  string
	owner string
	roles []domain.Role
	todos []domain.Todo
}

func (r *boardRecord) snapshot() domain.Board {
	return domain.Board{
		ID:               r.id,
		Name:             r.name,
		OwnerPhoneNumber: r.owner,
		Roles:            append([]domain.Role{}, r.roles...),
		Todos:            append([]domain.Todo{}, r.todos...),
	}
}

// Memory holds users and boards in process memory.
type Memory struct {
	mu     sync.Mutex
	users  map[string]struct{}
	boards map[string]*boardRecord
	order  []string
	newID  func() string
}

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]struct{}),
		boards: make(map[string]*boardRecord),
		newID:  uuid.NewString,
	}
}

// HasUser reports whether phone has a user record.
func (m *Memory) HasUser(phone string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[phone]
	return ok
}

// CreateUser registers phone.
func (m *Memory) CreateUser(phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[phone]; ok {
		return ErrUserExists
	}
	m.users[phone] = struct{}{}
	return nil
}

// CreateBoard creates a board owned by an existing user.
func (m *Memory) CreateBoard(name, owner string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[owner]; !ok {
		return domain.Board{}, ErrUserNotFound
	}
	rec := &boardRecord{id: m.newID(), name: name, owner: owner}
	m.boards[rec.id] = rec
	m.order = append(m.order, rec.id)
	return rec.snapshot(), nil
}

// Board returns a board by id.
func (m *Memory) Board(id string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrBoardNotFound
	}
	return rec.snapshot(), nil
}

// RenameBoard changes the board's name.
func (m *Memory) RenameBoard(id, name string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrBoardNotFound
	}
	rec.name = name
	return rec.snapshot(), nil
}

// DeleteBoard removes a board and everything it owns.
func (m *Memory) DeleteBoard(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[id]; !ok {
		return ErrBoardNotFound
	}
	delete(m.boards, id)
	for i, bid := range m.order {
		if bid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// UserBoards splits the boards visible to phone into created and shared.
func (m *Memory) UserBoards(phone string) (domain.UserBoards, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[phone]; !ok {
		return domain.UserBoards{}, ErrUserNotFound
	}
	out := domain.UserBoards{CreatedBoards: []domain.Board{}, SharedBoards: []domain.Board{}}
	for _, id := range m.order {
		rec := m.boards[id]
		if rec.owner == phone {
			out.CreatedBoards = append(out.CreatedBoards, rec.snapshot())
			continue
		}
		for _, r := range rec.roles {
			if r.UserPhoneNumber == phone {
				out.SharedBoards = append(out.SharedBoards, rec.snapshot())
				break
			}
		}
	}
	return out, nil
}

// PutRole grants or replaces a role. The invited user is created when
// missing.
func (m *Memory) PutRole(id string, role domain.Role) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrBoardNotFound
	}
	m.users[role.UserPhoneNumber] = struct{}{}
	for i, r := range rec.roles {
		if r.UserPhoneNumber == role.UserPhoneNumber {
			rec.roles[i] = role
			return rec.snapshot(), nil
		}
	}
	rec.roles = append(rec.roles, role)
	return rec.snapshot(), nil
}

// RemoveRole revokes phone's grant. Removing an absent grant succeeds.
func (m *Memory) RemoveRole(id, phone string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrBoardNotFound
	}
	kept := rec.roles[:0]
	for _, r := range rec.roles {
		if r.UserPhoneNumber != phone {
			kept = append(kept, r)
		}
	}
	rec.roles = kept
	return rec.snapshot(), nil
}

// AddTodo appends a todo to the board.
func (m *Memory) AddTodo(id string, in domain.TodoInput) (domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Todo{}, ErrBoardNotFound
	}
	todo := domain.Todo{
		ID:          m.newID(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		IsPriority:  in.IsPriority,
	}
	rec.todos = append(rec.todos, todo)
	return todo, nil
}

// UpdateTodo applies a patch to a todo.
func (m *Memory) UpdateTodo(id, todoID string, patch domain.TodoPatch) (domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Todo{}, ErrBoardNotFound
	}
	for i := range rec.todos {
		if rec.todos[i].ID != todoID {
			continue
		}
		if patch.Name != nil {
			rec.todos[i].Name = *patch.Name
		}
		if patch.Description != nil {
			rec.todos[i].Description = *patch.Description
		}
		if patch.IsPriority != nil {
			rec.todos[i].IsPriority = *patch.IsPriority
		}
		return rec.todos[i], nil
	}
	return domain.Todo{}, ErrTodoNotFound
}

// DeleteTodo removes a todo.
func (m *Memory) DeleteTodo(id, todoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return ErrBoardNotFound
	}
	for i := range rec.todos {
		if rec.todos[i].ID == todoID {
			rec.todos = append(rec.todos[:i], rec.todos[i+1:]...)
			return nil
		}
	}
	return ErrTodoNotFound
}
