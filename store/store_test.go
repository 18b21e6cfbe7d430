package store

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
)

const owner = "+15550001"

func newTestStore(t *testing.T, api API, identity Identity) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := New(api, identity, WithLogger(logger))
	t.Cleanup(s.Close)
	return s
}

func sampleBoard(id string) domain.Board {
	return domain.Board{
		ID:               id,
		Name:             "Board " + id,
		OwnerPhoneNumber: owner,
		Roles:            []domain.Role{},
		Todos:            []domain.Todo{},
	}
}

func TestCreateBoardRejectsBlankNameWithoutCalls(t *testing.T) {
	for _, name := range []string{"", "   "} {
		api := &fakeAPI{}
		s := newTestStore(t, api, staticIdentity(owner))

		_, err := s.CreateBoard(context.Background(), name)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("CreateBoard(%q) error = %v, want invalid argument", name, err)
		}
		if calls := api.Calls(); len(calls) != 0 {
			t.Fatalf("CreateBoard(%q) made calls %v", name, calls)
		}
		if s.Snapshot().Error == "" {
			t.Fatalf("CreateBoard(%q) did not record an error", name)
		}
	}
}

func TestCreateBoardRequiresSignedInUser(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(""))

	_, err := s.CreateBoard(context.Background(), "Trip")
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("error = %v, want ErrNotAuthenticated", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", api.Calls())
	}
}

func TestGetBoardDetailsRequiresID(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))

	_, err := s.GetBoardDetails(context.Background(), "")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("error = %v, want invalid argument", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", api.Calls())
	}
}

func TestGetBoardDetailsNotFoundClearsCurrent(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b0")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if _, err := s.GetBoardDetails(ctx, "b0"); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	api.getBoardErr = domain.NewAPIError(http.StatusNotFound, "", "Board not found")

	_, err := s.GetBoardDetails(ctx, "b1")
	if domain.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("error = %v, want 404", err)
	}
	st := s.Snapshot()
	if st.CurrentBoard != nil {
		t.Fatalf("current board = %+v, want nil", st.CurrentBoard)
	}
	if st.Error == "" {
		t.Fatalf("error field not set")
	}
	if st.Loading {
		t.Fatalf("still loading after failure")
	}
}

func TestGetBoardDetailsEmptyBodyIsNotFound(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))

	_, err := s.GetBoardDetails(context.Background(), "b1")
	if !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("error = %v, want ErrBoardNotFound", err)
	}
	if s.Snapshot().CurrentBoard != nil {
		t.Fatalf("current board set from empty body")
	}
}

func TestGetBoardDetailsFallsBackToRequestedID(t *testing.T) {
	b := sampleBoard("")
	b.Roles = nil
	api := &fakeAPI{board: b}
	s := newTestStore(t, api, staticIdentity(owner))

	got, err := s.GetBoardDetails(context.Background(), "b7")
	if err != nil {
		t.Fatalf("GetBoardDetails: %v", err)
	}
	if got.ID != "b7" {
		t.Fatalf("id = %q, want b7", got.ID)
	}
	st := s.Snapshot()
	if st.CurrentBoard == nil || st.CurrentBoard.ID != "b7" {
		t.Fatalf("current board = %+v", st.CurrentBoard)
	}
	if st.CurrentBoard.Roles == nil {
		t.Fatalf("roles decoded as nil")
	}
}

func TestFetchBoardsWithoutUserIsNoop(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, nil)

	if err := s.FetchBoards(context.Background()); err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", api.Calls())
	}
}

func TestFetchBoardsReplacesBothListsOrNeither(t *testing.T) {
	api := &fakeAPI{boards: domain.UserBoards{
		CreatedBoards: []domain.Board{sampleBoard("b1")},
		SharedBoards:  []domain.Board{sampleBoard("s1")},
	}}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if err := s.FetchBoards(ctx); err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	before := s.Snapshot()
	if len(before.Boards) != 1 || len(before.SharedBoards) != 1 {
		t.Fatalf("state after fetch = %+v", before)
	}

	api.userBoardsErr = &domain.NetworkError{Op: "GET /boards/user", Err: errors.New("connection refused")}
	if err := s.FetchBoards(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	after := s.Snapshot()
	if !reflect.DeepEqual(before.Boards, after.Boards) || !reflect.DeepEqual(before.SharedBoards, after.SharedBoards) {
		t.Fatalf("lists changed on failure: before %+v after %+v", before, after)
	}
	if after.Error == "" {
		t.Fatalf("error field not set")
	}
}

func TestFetchBoardsNormalizesAbsentLists(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))

	if err := s.FetchBoards(context.Background()); err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	st := s.Snapshot()
	if st.Boards == nil || st.SharedBoards == nil {
		t.Fatalf("lists should be empty, not nil: %+v", st)
	}
}

func TestCreateBoardProvisionsUserAndRetriesOnce(t *testing.T) {
	api := &fakeAPI{
		created:         sampleBoard("b1"),
		createBoardErrs: []error{domain.NewAPIError(http.StatusNotFound, domain.CodeUserNotFound, "User not found")},
		boards:          domain.UserBoards{CreatedBoards: []domain.Board{sampleBoard("b1")}},
	}
	s := newTestStore(t, api, staticIdentity(owner))

	b, err := s.CreateBoard(context.Background(), "  Trip ")
	if err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	if b.ID != "b1" {
		t.Fatalf("created = %+v", b)
	}
	want := []string{"CreateBoard", "EnsureUserExists", "CreateBoard", "GetUserBoards"}
	if got := api.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if api.createdBoard[1] != "Trip" {
		t.Fatalf("name sent = %q, want trimmed", api.createdBoard[1])
	}
	if st := s.Snapshot(); len(st.Boards) != 1 || st.Error != "" {
		t.Fatalf("state = %+v", st)
	}
}

func TestCreateBoardDoesNotRetryOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", domain.NewAPIError(http.StatusInternalServerError, "", "")},
		{"generic not found", domain.NewAPIError(http.StatusNotFound, domain.CodeNotFound, "user not found")},
		{"network", &domain.NetworkError{Op: "POST /boards", Err: errors.New("reset")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{createBoardErrs: []error{tc.err}}
			s := newTestStore(t, api, staticIdentity(owner))

			_, err := s.CreateBoard(context.Background(), "Trip")
			if !errors.Is(err, tc.err) {
				t.Fatalf("error = %v, want %v", err, tc.err)
			}
			if got := api.Calls(); !reflect.DeepEqual(got, []string{"CreateBoard"}) {
				t.Fatalf("calls = %v", got)
			}
			if s.Snapshot().Error == "" {
				t.Fatalf("error field not set")
			}
		})
	}
}

func TestCreateBoardRetriesOnlyOnce(t *testing.T) {
	notFound := domain.NewAPIError(http.StatusNotFound, domain.CodeUserNotFound, "User not found")
	api := &fakeAPI{createBoardErrs: []error{notFound, notFound}}
	s := newTestStore(t, api, staticIdentity(owner))

	if _, err := s.CreateBoard(context.Background(), "Trip"); !domain.HasCode(err, domain.CodeUserNotFound) {
		t.Fatalf("error = %v", err)
	}
	want := []string{"CreateBoard", "EnsureUserExists", "CreateBoard"}
	if got := api.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestCreateBoardListRefreshFailureIsRecorded(t *testing.T) {
	api := &fakeAPI{
		created:       sampleBoard("b1"),
		userBoardsErr: domain.NewAPIError(http.StatusInternalServerError, "", "boom"),
	}
	s := newTestStore(t, api, staticIdentity(owner))

	b, err := s.CreateBoard(context.Background(), "Trip")
	if err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	if b.ID != "b1" {
		t.Fatalf("created = %+v", b)
	}
	if got := s.Snapshot().Error; got != "boom" {
		t.Fatalf("error field = %q, want boom", got)
	}
}

func TestUpdateBoardPatchesCurrentInPlace(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if _, err := s.GetBoardDetails(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.UpdateBoard(ctx, "b1", "Renamed"); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if got := s.Snapshot().CurrentBoard.Name; got != "Renamed" {
		t.Fatalf("current name = %q", got)
	}
	want := []string{"GetBoard", "UpdateBoard", "GetUserBoards"}
	if got := api.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestUpdateBoardLeavesOtherCurrentBoard(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if _, err := s.GetBoardDetails(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.UpdateBoard(ctx, "b2", "Other"); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if got := s.Snapshot().CurrentBoard.Name; got != "Board b1" {
		t.Fatalf("current name = %q", got)
	}
}

func TestUpdateBoardValidation(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if err := s.UpdateBoard(ctx, "", "x"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("missing id error = %v", err)
	}
	if err := s.UpdateBoard(ctx, "b1", " "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("blank name error = %v", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", api.Calls())
	}
}

func TestDeleteBoardClearsCurrent(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if _, err := s.GetBoardDetails(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.DeleteBoard(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBoard: %v", err)
	}
	if s.Snapshot().CurrentBoard != nil {
		t.Fatalf("current board not cleared")
	}
}

func TestDeleteBoardFailureKeepsCurrent(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	if _, err := s.GetBoardDetails(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	api.mutateErr = domain.NewAPIError(http.StatusConflict, "", "")
	if err := s.DeleteBoard(ctx, "b1"); err == nil {
		t.Fatalf("expected failure")
	}
	st := s.Snapshot()
	if st.CurrentBoard == nil {
		t.Fatalf("current board cleared on failure")
	}
	if st.Error == "" {
		t.Fatalf("error field not set")
	}
}

func TestBoardMutationsRefetchDetails(t *testing.T) {
	ctx := context.Background()
	name := "Milk"
	tests := []struct {
		name string
		op   func(s *Store) error
		call string
	}{
		{"add todo", func(s *Store) error {
			return s.AddTodo(ctx, "b1", domain.TodoInput{Name: "Milk"})
		}, "AddTodo"},
		{"update todo", func(s *Store) error {
			return s.UpdateTodo(ctx, "b1", "t1", domain.TodoPatch{Name: &name})
		}, "UpdateTodo"},
		{"delete todo", func(s *Store) error {
			return s.DeleteTodo(ctx, "b1", "t1")
		}, "DeleteTodo"},
		{"share board", func(s *Store) error {
			return s.ShareBoard(ctx, "b1", "+1555", domain.RoleEditor)
		}, "AddRole"},
		{"remove access", func(s *Store) error {
			return s.RemoveAccess(ctx, "b1", "+1555")
		}, "RemoveRole"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{board: sampleBoard("b1")}
			s := newTestStore(t, api, staticIdentity(owner))

			if err := tc.op(s); err != nil {
				t.Fatalf("op: %v", err)
			}
			want := []string{tc.call, "GetBoard"}
			if got := api.Calls(); !reflect.DeepEqual(got, want) {
				t.Fatalf("calls = %v, want %v", got, want)
			}
			if cur := s.Snapshot().CurrentBoard; cur == nil || cur.ID != "b1" {
				t.Fatalf("current board = %+v", cur)
			}
		})
	}
}

func TestBoardMutationFailureSkipsRefetch(t *testing.T) {
	api := &fakeAPI{mutateErr: domain.NewAPIError(http.StatusNotFound, "", "Todo not found")}
	s := newTestStore(t, api, staticIdentity(owner))

	err := s.DeleteTodo(context.Background(), "b1", "t1")
	if !domain.HasCode(err, domain.CodeNotFound) {
		t.Fatalf("error = %v", err)
	}
	if got := api.Calls(); !reflect.DeepEqual(got, []string{"DeleteTodo"}) {
		t.Fatalf("calls = %v", got)
	}
	if got := s.Snapshot().Error; got != "Todo not found" {
		t.Fatalf("error field = %q", got)
	}
}

func TestMutationValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		op   func(s *Store) error
	}{
		{"add todo without board", func(s *Store) error { return s.AddTodo(ctx, "", domain.TodoInput{Name: "x"}) }},
		{"add todo without name", func(s *Store) error { return s.AddTodo(ctx, "b1", domain.TodoInput{Name: "  "}) }},
		{"update todo without id", func(s *Store) error { return s.UpdateTodo(ctx, "b1", "", domain.TodoPatch{}) }},
		{"update todo empty patch", func(s *Store) error { return s.UpdateTodo(ctx, "b1", "t1", domain.TodoPatch{}) }},
		{"delete todo without id", func(s *Store) error { return s.DeleteTodo(ctx, "b1", " ") }},
		{"share without phone", func(s *Store) error { return s.ShareBoard(ctx, "b1", "", domain.RoleViewer) }},
		{"share without role", func(s *Store) error { return s.ShareBoard(ctx, "b1", "+1555", "") }},
		{"share unknown role", func(s *Store) error { return s.ShareBoard(ctx, "b1", "+1555", "owner") }},
		{"remove without board", func(s *Store) error { return s.RemoveAccess(ctx, "", "+1555") }},
		{"delete without board", func(s *Store) error { return s.DeleteBoard(ctx, "") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{}
			s := newTestStore(t, api, staticIdentity(owner))

			if err := tc.op(s); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("error = %v, want invalid argument", err)
			}
			if len(api.Calls()) != 0 {
				t.Fatalf("unexpected calls %v", api.Calls())
			}
		})
	}
}

func TestSuccessClearsPreviousError(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	_, _ = s.CreateBoard(ctx, "")
	if s.Snapshot().Error == "" {
		t.Fatalf("error not recorded")
	}
	if err := s.FetchBoards(ctx); err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	if got := s.Snapshot().Error; got != "" {
		t.Fatalf("error field = %q, want cleared", got)
	}
}

func TestClearCurrentBoard(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))

	if _, err := s.GetBoardDetails(context.Background(), "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.ClearCurrentBoard()
	if s.Snapshot().CurrentBoard != nil {
		t.Fatalf("current board not cleared")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	b := sampleBoard("b1")
	b.Todos = []domain.Todo{{ID: "t1", Name: "Milk"}}
	api := &fakeAPI{board: b}
	s := newTestStore(t, api, staticIdentity(owner))

	if _, err := s.GetBoardDetails(context.Background(), "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := s.Snapshot()
	snap.CurrentBoard.Todos[0].Name = "changed"
	snap.CurrentBoard.Name = "changed"

	again := s.Snapshot()
	if again.CurrentBoard.Todos[0].Name != "Milk" || again.CurrentBoard.Name != "Board b1" {
		t.Fatalf("snapshot aliases store state: %+v", again.CurrentBoard)
	}
}

func TestOperationsAreSerialized(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{}), board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))
	ctx := context.Background()

	fetchDone := make(chan error, 1)
	go func() { fetchDone <- s.FetchBoards(ctx) }()
	waitForCalls(t, api, 1)

	detailsDone := make(chan error, 1)
	go func() {
		_, err := s.GetBoardDetails(ctx, "b1")
		detailsDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if got := api.Calls(); !reflect.DeepEqual(got, []string{"GetUserBoards"}) {
		t.Fatalf("second operation ran concurrently: %v", got)
	}

	close(api.block)
	if err := <-fetchDone; err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	if err := <-detailsDone; err != nil {
		t.Fatalf("GetBoardDetails: %v", err)
	}
	if got := api.Calls(); !reflect.DeepEqual(got, []string{"GetUserBoards", "GetBoard"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestCanceledQueuedOperationNeverRuns(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{}), board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))

	fetchDone := make(chan error, 1)
	go func() { fetchDone <- s.FetchBoards(context.Background()) }()
	waitForCalls(t, api, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetBoardDetails(ctx, "b1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	close(api.block)
	if err := <-fetchDone; err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	s.Close()
	for _, c := range api.Calls() {
		if c == "GetBoard" {
			t.Fatalf("canceled operation ran: %v", api.Calls())
		}
	}
}

func TestStartedOperationOutlivesCaller(t *testing.T) {
	api := &fakeAPI{board: sampleBoard("b1")}
	s := newTestStore(t, api, staticIdentity(owner))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.duringMutation = cancel

	if err := s.AddTodo(ctx, "b1", domain.TodoInput{Name: "Milk"}); err != nil {
		t.Fatalf("AddTodo: %v", err)
	}
	if got := api.Calls(); !reflect.DeepEqual(got, []string{"AddTodo", "GetBoard"}) {
		t.Fatalf("calls = %v", got)
	}
	st := s.Snapshot()
	if st.CurrentBoard == nil || st.CurrentBoard.ID != "b1" {
		t.Fatalf("current board = %+v", st.CurrentBoard)
	}
	if st.Error != "" || st.Loading {
		t.Fatalf("state = %+v", st)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	api := &fakeAPI{}
	logger, _ := test.NewNullLogger()
	s := New(api, staticIdentity(owner), WithLogger(logger))
	s.Close()
	s.Close()

	if err := s.FetchBoards(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("unexpected calls %v", api.Calls())
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(t, api, staticIdentity(owner))

	ch, cancel := s.Subscribe()
	if err := s.FetchBoards(context.Background()); err != nil {
		t.Fatalf("FetchBoards: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no notification")
	}

	cancel()
	if n := s.broker.len(); n != 0 {
		t.Fatalf("subscribers = %d after cancel", n)
	}
}

func TestFailuresAreLogged(t *testing.T) {
	api := &fakeAPI{userBoardsErr: errors.New("boom")}
	logger, hook := test.NewNullLogger()
	s := New(api, staticIdentity(owner), WithLogger(logger))
	t.Cleanup(s.Close)

	_ = s.FetchBoards(context.Background())

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "store.op.failed" || entry.Level != log.ErrorLevel {
		t.Fatalf("last entry = %+v", entry)
	}
	if entry.Data["op"] != "fetch_boards" {
		t.Fatalf("op field = %v", entry.Data["op"])
	}
}

func waitForCalls(t *testing.T, api *fakeAPI, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(api.Calls()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %v", n, api.Calls())
}
