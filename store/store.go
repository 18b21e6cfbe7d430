// Package store keeps the authenticated user's boards, the boards shared
// with them and the currently open board in sync with the backend.
//
// The backend is the only source of truth: every mutation is a remote call
// followed by a re-fetch of the affected aggregate, and local state is never
// changed ahead of a confirmed response. Operations are serialized on a
// single worker per Store, so the state observed after an operation is the
// state that operation's re-fetch produced.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// ErrBoardNotFound is recorded when a board lookup returns an empty body.
var ErrBoardNotFound = errors.New("board not found")

const defaultQueueSize = 64

// API is the remote client surface the store drives.
type API interface {
	GetUserBoards(ctx context.Context, phone string) (domain.UserBoards, error)
	CreateBoard(ctx context.Context, name, ownerPhone string) (domain.Board, error)
	EnsureUserExists(ctx context.Context, phone string) error
	GetBoard(ctx context.Context, ref domain.Ref) (domain.Board, error)
	UpdateBoard(ctx context.Context, ref domain.Ref, patch domain.BoardPatch) error
	DeleteBoard(ctx context.Context, ref domain.Ref) error
	AddRole(ctx context.Context, ref domain.Ref, role domain.Role) error
	RemoveRole(ctx context.Context, ref domain.Ref, phone string) error
	AddTodo(ctx context.Context, ref domain.Ref, todo domain.TodoInput) error
	UpdateTodo(ctx context.Context, ref domain.Ref, todoID string, patch domain.TodoPatch) error
	DeleteTodo(ctx context.Context, ref domain.Ref, todoID string) error
}

// Identity exposes the signed-in user's phone number. An empty number means
// nobody is signed in.
type Identity interface {
	PhoneNumber() string
}

// State is a consistent view of the store.
type State struct {
	Boards       []domain.Board `json:"boards"`
	SharedBoards []domain.Board `json:"sharedBoards"`
	CurrentBoard *domain.Board  `json:"currentBoard"`
	Loading      bool           `json:"loading"`
	Error        string         `json:"error,omitempty"`
}

func (st State) clone() State {
	out := State{
		Boards:       cloneBoards(st.Boards),
		SharedBoards: cloneBoards(st.SharedBoards),
		Loading:      st.Loading,
		Error:        st.Error,
	}
	if st.CurrentBoard != nil {
		b := st.CurrentBoard.Clone()
		out.CurrentBoard = &b
	}
	return out
}

func cloneBoards(in []domain.Board) []domain.Board {
	out := make([]domain.Board, 0, len(in))
	for _, b := range in {
		out = append(out, b.Clone())
	}
	return out
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithQueueSize bounds how many operations may wait for the worker.
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Store is the per-session board/todo state.
type Store struct {
	api       API
	identity  Identity
	logger    *log.Logger
	queueSize int

	mu    sync.RWMutex
	state State

	broker *broker

	jobs      chan job
	stopping  chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New creates a Store and starts its worker. Call Close to stop it.
func New(api API, identity Identity, opts ...Option) *Store {
	s := &Store{
		api:       api,
		identity:  identity,
		logger:    log.StandardLogger(),
		queueSize: defaultQueueSize,
		state:     State{Boards: []domain.Board{}, SharedBoards: []domain.Board{}},
		broker:    newBroker(),
		stopping:  make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = make(chan job, s.queueSize)
	go s.worker()
	return s
}

// Close stops the worker. Queued operations fail with ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopping)
	})
	<-s.stopped
}

// Done is closed once the store has stopped.
func (s *Store) Done() <-chan struct{} {
	return s.stopped
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe returns a channel signalled after every state change, and a
// function that cancels the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := s.broker.subscribe()
	return ch, func() { s.broker.unsubscribe(ch) }
}

func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	s.broker.notify()
}

func (s *Store) phone() string {
	if s.identity == nil {
		return ""
	}
	return strings.TrimSpace(s.identity.PhoneNumber())
}

// reject records a validation failure without touching the network.
func (s *Store) reject(op string, err error) error {
	s.logger.WithFields(log.Fields{"op": op, "error": err.Error()}).Warn("store.op.rejected")
	s.update(func(st *State) { st.Error = err.Error() })
	return err
}

// call is the single error/loading wrapper every operation goes through:
// it marks the store busy, clears the previous error, runs the remote call
// and, on success, the continuation. Failures are recorded and returned.
func (s *Store) call(ctx context.Context, op string, remote, onSuccess func(ctx context.Context) error) error {
	s.update(func(st *State) {
		st.Loading = true
		st.Error = ""
	})
	err := remote(ctx)
	if err == nil && onSuccess != nil {
		err = onSuccess(ctx)
	}
	s.update(func(st *State) {
		st.Loading = false
		if err != nil {
			st.Error = err.Error()
		}
	})
	if err != nil {
		s.logger.WithFields(log.Fields{"op": op, "error": err.Error()}).Error("store.op.failed")
		return err
	}
	s.logger.WithField("op", op).Debug("store.op.completed")
	return nil
}

// refreshBoards replaces both board lists from one response, or neither.
func (s *Store) refreshBoards(ctx context.Context, phone string) error {
	resp, err := s.api.GetUserBoards(ctx, phone)
	if err != nil {
		return err
	}
	resp.Normalize()
	s.update(func(st *State) {
		st.Boards = resp.CreatedBoards
		st.SharedBoards = resp.SharedBoards
	})
	return nil
}

// resyncBoards is the list refresh that follows a confirmed board mutation.
// A refresh failure is recorded but does not turn the mutation into a
// failure.
func (s *Store) resyncBoards(ctx context.Context) {
	phone := s.phone()
	if phone == "" {
		return
	}
	if err := s.refreshBoards(ctx, phone); err != nil {
		s.logger.WithFields(log.Fields{"op": "fetch_boards", "error": err.Error()}).Error("store.resync.failed")
		s.update(func(st *State) { st.Error = err.Error() })
	}
}

// loadBoard fetches a board and makes it the current board. A failed or
// empty lookup clears the current board.
func (s *Store) loadBoard(ctx context.Context, id string) (domain.Board, error) {
	b, err := s.api.GetBoard(ctx, domain.ID(id))
	if err == nil && b.ID == "" && b.Name == "" && b.OwnerPhoneNumber == "" {
		err = ErrBoardNotFound
	}
	if err != nil {
		s.update(func(st *State) { st.CurrentBoard = nil })
		return domain.Board{}, err
	}
	b.ID = domain.NormalizeBoardID(b.ID, "", id)
	if b.Roles == nil {
		b.Roles = []domain.Role{}
	}
	if b.Todos == nil {
		b.Todos = []domain.Todo{}
	}
	current := b.Clone()
	s.update(func(st *State) { st.CurrentBoard = &current })
	return b, nil
}

func requireID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", domain.InvalidArgument(field, "is required")
	}
	return v, nil
}

// FetchBoards reloads the owned and shared board lists. It does nothing
// when no user is signed in.
func (s *Store) FetchBoards(ctx context.Context) error {
	return s.submit(ctx, "fetch_boards", func(ctx context.Context) error {
		phone := s.phone()
		if phone == "" {
			return nil
		}
		return s.call(ctx, "fetch_boards", func(ctx context.Context) error {
			return s.refreshBoards(ctx, phone)
		}, nil)
	})
}

// CreateBoard creates a board owned by the signed-in user. When the backend
// does not know the user yet, the user is provisioned and the creation is
// retried exactly once.
func (s *Store) CreateBoard(ctx context.Context, name string) (domain.Board, error) {
	const op = "create_board"
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Board{}, s.reject(op, domain.InvalidArgument("name", "is required"))
	}
	phone := s.phone()
	if phone == "" {
		return domain.Board{}, s.reject(op, domain.ErrNotAuthenticated)
	}

	var created domain.Board
	err := s.submit(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, op, func(ctx context.Context) error {
			b, err := s.api.CreateBoard(ctx, name, phone)
			if domain.HasCode(err, domain.CodeUserNotFound) {
				s.logger.WithFields(log.Fields{"op": op, "phone": phone}).Info("provisioning user before retrying board creation")
				if pErr := s.api.EnsureUserExists(ctx, phone); pErr != nil {
					return pErr
				}
				b, err = s.api.CreateBoard(ctx, name, phone)
			}
			if err != nil {
				return err
			}
			created = b
			return nil
		}, func(ctx context.Context) error {
			s.resyncBoards(ctx)
			return nil
		})
	})
	if err != nil {
		return domain.Board{}, err
	}
	return created, nil
}

// GetBoardDetails fetches a board and makes it the current board.
func (s *Store) GetBoardDetails(ctx context.Context, boardID string) (domain.Board, error) {
	const op = "get_board_details"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return domain.Board{}, s.reject(op, err)
	}
	var board domain.Board
	err = s.submit(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, op, func(ctx context.Context) error {
			b, err := s.loadBoard(ctx, id)
			board = b
			return err
		}, nil)
	})
	if err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// UpdateBoard renames a board, refreshes the board list and patches the
// current board in place when it is the renamed one.
func (s *Store) UpdateBoard(ctx context.Context, boardID, name string) error {
	const op = "update_board"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return s.reject(op, domain.InvalidArgument("name", "is required"))
	}
	return s.submit(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, op, func(ctx context.Context) error {
			return s.api.UpdateBoard(ctx, domain.ID(id), domain.BoardPatch{Name: name})
		}, func(ctx context.Context) error {
			s.resyncBoards(ctx)
			s.update(func(st *State) {
				if st.CurrentBoard != nil && st.CurrentBoard.ID == id {
					st.CurrentBoard.Name = name
				}
			})
			return nil
		})
	})
}

// DeleteBoard removes a board, refreshes the board list and clears the
// current board when it is the deleted one.
func (s *Store) DeleteBoard(ctx context.Context, boardID string) error {
	const op = "delete_board"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	return s.submit(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, op, func(ctx context.Context) error {
			return s.api.DeleteBoard(ctx, domain.ID(id))
		}, func(ctx context.Context) error {
			s.resyncBoards(ctx)
			s.update(func(st *State) {
				if st.CurrentBoard != nil && st.CurrentBoard.ID == id {
					st.CurrentBoard = nil
				}
			})
			return nil
		})
	})
}

// boardMutation runs a remote call against one board and then re-fetches
// that board's details.
func (s *Store) boardMutation(ctx context.Context, op, id string, remote func(ctx context.Context) error) error {
	return s.submit(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, op, remote, func(ctx context.Context) error {
			_, err := s.loadBoard(ctx, id)
			return err
		})
	})
}

// AddTodo creates a todo on a board.
func (s *Store) AddTodo(ctx context.Context, boardID string, todo domain.TodoInput) error {
	const op = "add_todo"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	todo.Name = strings.TrimSpace(todo.Name)
	if todo.Name == "" {
		return s.reject(op, domain.InvalidArgument("name", "is required"))
	}
	return s.boardMutation(ctx, op, id, func(ctx context.Context) error {
		return s.api.AddTodo(ctx, domain.ID(id), todo)
	})
}

// UpdateTodo applies a partial update to a todo.
func (s *Store) UpdateTodo(ctx context.Context, boardID, todoID string, patch domain.TodoPatch) error {
	const op = "update_todo"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	tid, err := requireID("todoId", todoID)
	if err != nil {
		return s.reject(op, err)
	}
	if patch.Empty() {
		return s.reject(op, domain.InvalidArgument("updates", "must change at least one field"))
	}
	return s.boardMutation(ctx, op, id, func(ctx context.Context) error {
		return s.api.UpdateTodo(ctx, domain.ID(id), tid, patch)
	})
}

// DeleteTodo removes a todo from a board.
func (s *Store) DeleteTodo(ctx context.Context, boardID, todoID string) error {
	const op = "delete_todo"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	tid, err := requireID("todoId", todoID)
	if err != nil {
		return s.reject(op, err)
	}
	return s.boardMutation(ctx, op, id, func(ctx context.Context) error {
		return s.api.DeleteTodo(ctx, domain.ID(id), tid)
	})
}

// ShareBoard grants phone the given role on a board.
func (s *Store) ShareBoard(ctx context.Context, boardID, phone string, role domain.RoleKind) error {
	const op = "share_board"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	phone, err = requireID("userPhoneNumber", phone)
	if err != nil {
		return s.reject(op, err)
	}
	if role == "" {
		return s.reject(op, domain.InvalidArgument("role", "is required"))
	}
	if !role.Valid() {
		return s.reject(op, domain.InvalidArgument("role", "must be viewer or editor"))
	}
	return s.boardMutation(ctx, op, id, func(ctx context.Context) error {
		return s.api.AddRole(ctx, domain.ID(id), domain.Role{UserPhoneNumber: phone, Role: role})
	})
}

// RemoveAccess revokes phone's role on a board.
func (s *Store) RemoveAccess(ctx context.Context, boardID, phone string) error {
	const op = "remove_access"
	id, err := requireID("boardId", boardID)
	if err != nil {
		return s.reject(op, err)
	}
	phone, err = requireID("userPhoneNumber", phone)
	if err != nil {
		return s.reject(op, err)
	}
	return s.boardMutation(ctx, op, id, func(ctx context.Context) error {
		return s.api.RemoveRole(ctx, domain.ID(id), phone)
	})
}

// ClearCurrentBoard forgets the current board.
func (s *Store) ClearCurrentBoard() {
	s.update(func(st *State) { st.CurrentBoard = nil })
}
