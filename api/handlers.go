// Package api is the session gateway: it authenticates callers, keeps one
// board store per signed-in user and exposes the store's operations over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/identity"
	"boardsync/store"
)

const (
	ctxPhone = "boardsync.phone"
	ctxStore = "boardsync.store"
)

// BoardStore is the per-session store surface the gateway drives.
type BoardStore interface {
	FetchBoards(ctx context.Context) error
	CreateBoard(ctx context.Context, name string) (domain.Board, error)
	GetBoardDetails(ctx context.Context, boardID string) (domain.Board, error)
	UpdateBoard(ctx context.Context, boardID, name string) error
	DeleteBoard(ctx context.Context, boardID string) error
	AddTodo(ctx context.Context, boardID string, todo domain.TodoInput) error
	UpdateTodo(ctx context.Context, boardID, todoID string, patch domain.TodoPatch) error
	DeleteTodo(ctx context.Context, boardID, todoID string) error
	ShareBoard(ctx context.Context, boardID, phone string, role domain.RoleKind) error
	RemoveAccess(ctx context.Context, boardID, phone string) error
	ClearCurrentBoard()
	Snapshot() store.State
	Subscribe() (<-chan struct{}, func())
	Done() <-chan struct{}
}

var _ BoardStore = (*store.Store)(nil)

// TokenVerifier resolves an ID token to the caller's phone number.
type TokenVerifier interface {
	PhoneNumber(token string) (string, error)
}

// Options are the gateway's collaborators. Provider may be nil when ID
// tokens are issued by an external provider; the /api/auth/code and
// /api/auth/verify routes are then not served.
type Options struct {
	Registry *Registry
	Verifier TokenVerifier
	Provider identity.Provider
	Deduper  Deduper
	Logger   *log.Logger
}

type handlers struct {
	Options
}

// Register wires up all gateway routes on the provided Echo instance.
func Register(e *echo.Echo, opts Options) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	h := &handlers{Options: opts}

	e.GET("/healthz", h.healthz)

	if opts.Provider != nil {
		e.POST("/api/auth/code", h.sendCode)
		e.POST("/api/auth/verify", h.verifyCode)
	}

	g := e.Group("/api", h.requireSession)
	g.POST("/auth/logout", h.logout)
	g.GET("/state", h.storeOp("get_state", "/api/state", getState))
	g.GET("/stream", h.stream)
	g.POST("/boards/refresh", h.storeOp("fetch_boards", "/api/boards/refresh", fetchBoards))
	g.GET("/boards/:id", h.storeOp("get_board_details", "/api/boards/:id", getBoardDetails))
	g.DELETE("/current", h.storeOp("clear_current_board", "/api/current", clearCurrentBoard))

	idem := idempotent(opts.Deduper)
	g.POST("/boards", h.storeOp("create_board", "/api/boards", createBoard), idem)
	g.PUT("/boards/:id", h.storeOp("update_board", "/api/boards/:id", updateBoard), idem)
	g.DELETE("/boards/:id", h.storeOp("delete_board", "/api/boards/:id", deleteBoard), idem)
	g.POST("/boards/:id/todos", h.storeOp("add_todo", "/api/boards/:id/todos", addTodo), idem)
	g.PUT("/boards/:id/todos/:todoId", h.storeOp("update_todo", "/api/boards/:id/todos/:todoId", updateTodo), idem)
	g.DELETE("/boards/:id/todos/:todoId", h.storeOp("delete_todo", "/api/boards/:id/todos/:todoId", deleteTodo), idem)
	g.POST("/boards/:id/roles", h.storeOp("share_board", "/api/boards/:id/roles", shareBoard), idem)
	g.DELETE("/boards/:id/roles/:phone", h.storeOp("remove_access", "/api/boards/:id/roles/:phone", removeAccess), idem)
}

func (h *handlers) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "sessions": h.Registry.Len()})
}

// requireSession authenticates the caller and attaches their store.
func (h *handlers) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := requestToken(c)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
		}
		phone, err := h.Verifier.PhoneNumber(token)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
		}
		st, err := h.Registry.Acquire(phone, token)
		if err != nil {
			return respondError(c, err)
		}
		c.Set(ctxPhone, phone)
		c.Set(ctxStore, st)
		return next(c)
	}
}

func callerPhone(c echo.Context) string {
	phone, _ := c.Get(ctxPhone).(string)
	return phone
}

func callerStore(c echo.Context) BoardStore {
	st, _ := c.Get(ctxStore).(BoardStore)
	return st
}

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyCodeRequest struct {
	VerificationID string `json:"verificationId"`
	Code           string `json:"code"`
}

func (h *handlers) sendCode(c echo.Context) error {
	var req sendCodeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeBadRequest, "invalid body")
	}
	conf, err := h.Provider.SendCode(c.Request().Context(), req.PhoneNumber)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, conf)
}

func (h *handlers) verifyCode(c echo.Context) error {
	var req verifyCodeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeBadRequest, "invalid body")
	}
	user, err := h.Provider.VerifyCode(c.Request().Context(), req.VerificationID, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.Registry.Acquire(user.PhoneNumber, user.IDToken); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *handlers) logout(c echo.Context) error {
	h.Registry.Drop(callerPhone(c))
	return c.NoContent(http.StatusNoContent)
}

// opFunc runs one store operation and returns the response status and body.
type opFunc func(ctx context.Context, c echo.Context, st BoardStore) (int, any, error)

// storeOp wraps a store operation with tracing, the request log event and
// error mapping.
func (h *handlers) storeOp(op, route string, fn opFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.Logger, op, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			metrics.End(c.Response().Status, opErr)
		}()

		start := time.Now()
		status, body, opErr := fn(ctx, c, callerStore(c))
		metrics.ObserveStore(time.Since(start))
		if opErr != nil {
			switch {
			case errors.Is(opErr, domain.ErrInvalidArgument):
				metrics.SetErrorStage("validation")
			default:
				metrics.SetErrorStage("store")
			}
			return respondError(c, opErr)
		}
		if body == nil {
			return c.NoContent(status)
		}
		err = c.JSON(status, body)
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// Access tells the caller what the UI should offer on a board. It is
// advisory: mutations are forwarded whatever it says.
type Access struct {
	IsOwner bool `json:"isOwner"`
	CanEdit bool `json:"canEdit"`
}

func accessFor(b domain.Board, phone string) Access {
	return Access{IsOwner: b.IsOwner(phone), CanEdit: b.CanEdit(phone)}
}

type boardView struct {
	domain.Board
	Access
}

type stateView struct {
	store.State
	CurrentAccess *Access `json:"currentAccess,omitempty"`
}

func viewState(c echo.Context, st BoardStore) stateView {
	v := stateView{State: st.Snapshot()}
	if v.CurrentBoard != nil {
		a := accessFor(*v.CurrentBoard, callerPhone(c))
		v.CurrentAccess = &a
	}
	return v
}

func pathParam(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func bindBody(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return domain.InvalidArgument("body", "must be valid JSON")
	}
	return nil
}

func getState(_ context.Context, c echo.Context, st BoardStore) (int, any, error) {
	return http.StatusOK, viewState(c, st), nil
}

func fetchBoards(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	if err := st.FetchBoards(ctx); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}

type boardRequest struct {
	Name string `json:"name"`
}

func createBoard(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	var req boardRequest
	if err := bindBody(c, &req); err != nil {
		return 0, nil, err
	}
	b, err := st.CreateBoard(ctx, req.Name)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, b, nil
}

func getBoardDetails(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	b, err := st.GetBoardDetails(ctx, pathParam(c, "id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, boardView{Board: b, Access: accessFor(b, callerPhone(c))}, nil
}

func updateBoard(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	var req boardRequest
	if err := bindBody(c, &req); err != nil {
		return 0, nil, err
	}
	if err := st.UpdateBoard(ctx, pathParam(c, "id"), req.Name); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}

func deleteBoard(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	if err := st.DeleteBoard(ctx, pathParam(c, "id")); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}

func clearCurrentBoard(_ context.Context, _ echo.Context, st BoardStore) (int, any, error) {
	st.ClearCurrentBoard()
	return http.StatusNoContent, nil, nil
}

func addTodo(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	var req domain.TodoInput
	if err := bindBody(c, &req); err != nil {
		return 0, nil, err
	}
	if err := st.AddTodo(ctx, pathParam(c, "id"), req); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, viewState(c, st), nil
}

func updateTodo(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	var req domain.TodoPatch
	if err := bindBody(c, &req); err != nil {
		return 0, nil, err
	}
	if err := st.UpdateTodo(ctx, pathParam(c, "id"), pathParam(c, "todoId"), req); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}

func deleteTodo(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	if err := st.DeleteTodo(ctx, pathParam(c, "id"), pathParam(c, "todoId")); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}

func shareBoard(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	var req domain.Role
	if err := bindBody(c, &req); err != nil {
		return 0, nil, err
	}
	if err := st.ShareBoard(ctx, pathParam(c, "id"), req.UserPhoneNumber, req.Role); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, viewState(c, st), nil
}

func removeAccess(ctx context.Context, c echo.Context, st BoardStore) (int, any, error) {
	if err := st.RemoveAccess(ctx, pathParam(c, "id"), pathParam(c, "phone")); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewState(c, st), nil
}
