package store

import (
	"context"
	"sync"

	"boardsync/domain"
)

type staticIdentity string

func (s staticIdentity) PhoneNumber() string { return string(s) }

// fakeAPI is an in-memory API double. Each field named *Err is returned by
// the matching method; createBoardErrs is consumed one error per call.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	boards       domain.UserBoards
	board        domain.Board
	created      domain.Board
	createdBoard []string

	userBoardsErr   error
	createBoardErrs []error
	ensureErr       error
	getBoardErr     error
	mutateErr       error

	// block, when set, is received from before GetUserBoards returns.
	block chan struct{}
	// duringMutation, when set, runs inside every todo/role mutation.
	duringMutation func()
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) GetUserBoards(ctx context.Context, phone string) (domain.UserBoards, error) {
	f.record("GetUserBoards")
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userBoardsErr != nil {
		return domain.UserBoards{}, f.userBoardsErr
	}
	return f.boards, nil
}

func (f *fakeAPI) CreateBoard(ctx context.Context, name, ownerPhone string) (domain.Board, error) {
	f.record("CreateBoard")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBoard = append(f.createdBoard, name)
	if len(f.createBoardErrs) > 0 {
		err := f.createBoardErrs[0]
		f.createBoardErrs = f.createBoardErrs[1:]
		if err != nil {
			return domain.Board{}, err
		}
	}
	return f.created, nil
}

func (f *fakeAPI) EnsureUserExists(ctx context.Context, phone string) error {
	f.record("EnsureUserExists")
	return f.ensureErr
}

func (f *fakeAPI) GetBoard(ctx context.Context, ref domain.Ref) (domain.Board, error) {
	f.record("GetBoard")
	if err := ctx.Err(); err != nil {
		return domain.Board{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getBoardErr != nil {
		return domain.Board{}, f.getBoardErr
	}
	return f.board.Clone(), nil
}

func (f *fakeAPI) UpdateBoard(ctx context.Context, ref domain.Ref, patch domain.BoardPatch) error {
	f.record("UpdateBoard")
	return f.mutateErr
}

func (f *fakeAPI) DeleteBoard(ctx context.Context, ref domain.Ref) error {
	f.record("DeleteBoard")
	return f.mutateErr
}

func (f *fakeAPI) AddRole(ctx context.Context, ref domain.Ref, role domain.Role) error {
	f.record("AddRole")
	return f.mutateErr
}

func (f *fakeAPI) RemoveRole(ctx context.Context, ref domain.Ref, phone string) error {
	f.record("RemoveRole")
	return f.mutateErr
}

func (f *fakeAPI) AddTodo(ctx context.Context, ref domain.Ref, todo domain.TodoInput) error {
	f.record("AddTodo")
	if f.duringMutation != nil {
		f.duringMutation()
	}
	return f.mutateErr
}

func (f *fakeAPI) UpdateTodo(ctx context.Context, ref domain.Ref, todoID string, patch domain.TodoPatch) error {
	f.record("UpdateTodo")
	return f.mutateErr
}

func (f *fakeAPI) DeleteTodo(ctx context.Context, ref domain.Ref, todoID string) error {
	f.record("DeleteTodo")
	return f.mutateErr
}
