package backend

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Wire documents use the "_id" and "userPhoneNumber" field names that the
// production backend emits.
type todoDoc struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPriority  bool   `json:"isPriority"`
}

type boardDoc struct {
	ID              string        `json:"_id"`
	Name            string        `json:"name"`
	UserPhoneNumber string        `json:"userPhoneNumber"`
	Roles           []domain.Role `json:"roles"`
	Todos           []todoDoc     `json:"todos"`
}

type userBoardsDoc struct {
	CreatedBoards []boardDoc `json:"createdBoards"`
	SharedBoards  []boardDoc `json:"sharedBoards"`
}

type errorDoc struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type messageDoc struct {
	Message string `json:"message"`
}

type createBoardBody struct {
	Name            string `json:"name"`
	UserPhoneNumber string `json:"userPhoneNumber"`
}

func toTodoDoc(t domain.Todo) todoDoc {
	return todoDoc{ID: t.ID, Name: t.Name, Description: t.Description, IsPriority: t.IsPriority}
}

func toBoardDoc(b domain.Board) boardDoc {
	doc := boardDoc{
		ID:              b.ID,
		Name:            b.Name,
		UserPhoneNumber: b.OwnerPhoneNumber,
		Roles:           b.Roles,
		Todos:           make([]todoDoc, 0, len(b.Todos)),
	}
	if doc.Roles == nil {
		doc.Roles = []domain.Role{}
	}
	for _, t := range b.Todos {
		doc.Todos = append(doc.Todos, toTodoDoc(t))
	}
	return doc
}

func toBoardDocs(boards []domain.Board) []boardDoc {
	out := make([]boardDoc, 0, len(boards))
	for _, b := range boards {
		out = append(out, toBoardDoc(b))
	}
	return out
}

// Register wires the REST routes onto e.
func Register(e *echo.Echo, m *Memory, logger *log.Logger) {
	g := e.Group("/api")
	g.GET("/users/:phone", getUser(m))
	g.POST("/users", createUser(m))
	g.POST("/boards", createBoard(m))
	g.GET("/boards/user/:phone", userBoards(m))
	g.GET("/boards/:id", getBoard(m))
	g.PUT("/boards/:id", updateBoard(m))
	g.DELETE("/boards/:id", deleteBoard(m))
	g.POST("/boards/:id/roles", addRole(m))
	g.DELETE("/boards/:id/roles/:phone", removeRole(m))
	g.POST("/boards/:id/todos", addTodo(m))
	g.PUT("/boards/:id/todos/:todoId", updateTodo(m))
	g.DELETE("/boards/:id/todos/:todoId", deleteTodo(m))

	if logger != nil {
		logger.Debug("reference backend routes registered")
	}
}

func param(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return c.JSON(http.StatusNotFound, errorDoc{Message: err.Error(), Code: domain.CodeUserNotFound})
	case errors.Is(err, ErrUserExists):
		return c.JSON(http.StatusConflict, errorDoc{Message: err.Error(), Code: domain.CodeUserExists})
	case errors.Is(err, ErrBoardNotFound), errors.Is(err, ErrTodoNotFound):
		return c.JSON(http.StatusNotFound, errorDoc{Message: err.Error(), Code: domain.CodeNotFound})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorDoc{Message: "Internal server error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorDoc{Message: msg, Code: domain.CodeBadRequest})
}

func getUser(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		phone := param(c, "phone")
		if !m.HasUser(phone) {
			return fail(c, ErrUserNotFound)
		}
		return c.JSON(http.StatusOK, domain.User{PhoneNumber: phone})
	}
}

func createUser(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.User
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		phone := strings.TrimSpace(body.PhoneNumber)
		if phone == "" {
			return badRequest(c, "phoneNumber is required")
		}
		if err := m.CreateUser(phone); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, domain.User{PhoneNumber: phone})
	}
}

func createBoard(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body createBoardBody
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		name := strings.TrimSpace(body.Name)
		if name == "" || body.UserPhoneNumber == "" {
			return badRequest(c, "name and userPhoneNumber are required")
		}
		b, err := m.CreateBoard(name, body.UserPhoneNumber)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, toBoardDoc(b))
	}
}

func userBoards(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp, err := m.UserBoards(param(c, "phone"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, userBoardsDoc{
			CreatedBoards: toBoardDocs(resp.CreatedBoards),
			SharedBoards:  toBoardDocs(resp.SharedBoards),
		})
	}
}

func getBoard(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := m.Board(param(c, "id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, toBoardDoc(b))
	}
}

func updateBoard(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.BoardPatch
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		name := strings.TrimSpace(body.Name)
		if name == "" {
			return badRequest(c, "name is required")
		}
		b, err := m.RenameBoard(param(c, "id"), name)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, toBoardDoc(b))
	}
}

func deleteBoard(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.DeleteBoard(param(c, "id")); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, messageDoc{Message: "Board deleted"})
	}
}

func addRole(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.Role
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		if body.UserPhoneNumber == "" || !body.Role.Valid() {
			return badRequest(c, "userPhoneNumber and a valid role are required")
		}
		b, err := m.PutRole(param(c, "id"), body)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, toBoardDoc(b))
	}
}

func removeRole(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := m.RemoveRole(param(c, "id"), param(c, "phone"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, toBoardDoc(b))
	}
}

func addTodo(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.TodoInput
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		if strings.TrimSpace(body.Name) == "" {
			return badRequest(c, "name is required")
		}
		t, err := m.AddTodo(param(c, "id"), body)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, toTodoDoc(t))
	}
}

func updateTodo(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.TodoPatch
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
		t, err := m.UpdateTodo(param(c, "id"), param(c, "todoId"), body)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, toTodoDoc(t))
	}
}

func deleteTodo(m *Memory) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.DeleteTodo(param(c, "id"), param(c, "todoId")); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, messageDoc{Message: "Todo deleted"})
	}
}
