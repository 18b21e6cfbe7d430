package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"boardsync/domain"
)

type createBoardRequest struct {
	Name            string `json:"name"`
	UserPhoneNumber string `json:"userPhoneNumber"`
}

func boardPath(id string) string {
	return "/boards/" + url.PathEscape(id)
}

func requireTodoID(todoID string) (string, error) {
	todoID = strings.TrimSpace(todoID)
	if todoID == "" {
		return "", domain.InvalidArgument("todoId", "is required")
	}
	return todoID, nil
}

// GetUserBoards lists the boards phone created and the boards shared with
// it. A phone with no backend user record is provisioned and the lookup is
// retried exactly once.
func (c *Client) GetUserBoards(ctx context.Context, phone string) (domain.UserBoards, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return domain.UserBoards{}, err
	}
	resp, err := c.listUserBoards(ctx, phone)
	if domain.HasCode(err, domain.CodeUserNotFound) {
		if _, cErr := c.CreateUser(ctx, phone); cErr != nil {
			return domain.UserBoards{}, cErr
		}
		resp, err = c.listUserBoards(ctx, phone)
	}
	if err != nil {
		return domain.UserBoards{}, err
	}
	return resp, nil
}

func (c *Client) listUserBoards(ctx context.Context, phone string) (domain.UserBoards, error) {
	var resp domain.UserBoards
	err := c.do(ctx, request{
		op:           "get_user_boards",
		method:       http.MethodGet,
		route:        "/boards/user/{phone}",
		path:         "/boards/user/" + url.PathEscape(phone),
		notFoundCode: domain.CodeUserNotFound,
	}, &resp)
	if err != nil {
		return domain.UserBoards{}, err
	}
	resp.Normalize()
	return resp, nil
}

// CreateBoard creates a board owned by ownerPhone. It never retries; a
// missing owner is reported with code user_not_found.
func (c *Client) CreateBoard(ctx context.Context, name, ownerPhone string) (domain.Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Board{}, domain.InvalidArgument("name", "is required")
	}
	ownerPhone, err := requirePhone(ownerPhone)
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	err = c.do(ctx, request{
		op:           "create_board",
		method:       http.MethodPost,
		route:        "/boards",
		path:         "/boards",
		body:         createBoardRequest{Name: name, UserPhoneNumber: ownerPhone},
		notFoundCode: domain.CodeUserNotFound,
	}, &b)
	return b, err
}

// GetBoard fetches a single board with its roles and todos.
func (c *Client) GetBoard(ctx context.Context, ref domain.Ref) (domain.Board, error) {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	err = c.do(ctx, request{
		op:     "get_board",
		method: http.MethodGet,
		route:  "/boards/{id}",
		path:   boardPath(id),
	}, &b)
	return b, err
}

// UpdateBoard applies patch to the board.
func (c *Client) UpdateBoard(ctx context.Context, ref domain.Ref, patch domain.BoardPatch) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "update_board",
		method: http.MethodPut,
		route:  "/boards/{id}",
		path:   boardPath(id),
		body:   patch,
	}, nil)
}

// DeleteBoard removes the board.
func (c *Client) DeleteBoard(ctx context.Context, ref domain.Ref) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "delete_board",
		method: http.MethodDelete,
		route:  "/boards/{id}",
		path:   boardPath(id),
	}, nil)
}

// AddRole grants role.UserPhoneNumber access to the board.
func (c *Client) AddRole(ctx context.Context, ref domain.Ref, role domain.Role) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	if role.UserPhoneNumber, err = requirePhone(role.UserPhoneNumber); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "add_role",
		method: http.MethodPost,
		route:  "/boards/{id}/roles",
		path:   boardPath(id) + "/roles",
		body:   role,
	}, nil)
}

// RemoveRole revokes phone's access to the board.
func (c *Client) RemoveRole(ctx context.Context, ref domain.Ref, phone string) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	if phone, err = requirePhone(phone); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "remove_role",
		method: http.MethodDelete,
		route:  "/boards/{id}/roles/{phone}",
		path:   boardPath(id) + "/roles/" + url.PathEscape(phone),
	}, nil)
}

// AddTodo creates a todo on the board.
func (c *Client) AddTodo(ctx context.Context, ref domain.Ref, todo domain.TodoInput) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "add_todo",
		method: http.MethodPost,
		route:  "/boards/{id}/todos",
		path:   boardPath(id) + "/todos",
		body:   todo,
	}, nil)
}

// UpdateTodo applies patch to a todo on the board.
func (c *Client) UpdateTodo(ctx context.Context, ref domain.Ref, todoID string, patch domain.TodoPatch) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	if todoID, err = requireTodoID(todoID); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "update_todo",
		method: http.MethodPut,
		route:  "/boards/{id}/todos/{todoId}",
		path:   boardPath(id) + "/todos/" + url.PathEscape(todoID),
		body:   patch,
	}, nil)
}

// DeleteTodo removes a todo from the board.
func (c *Client) DeleteTodo(ctx context.Context, ref domain.Ref, todoID string) error {
	id, err := domain.ResolveRef(ref)
	if err != nil {
		return err
	}
	if todoID, err = requireTodoID(todoID); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "delete_todo",
		method: http.MethodDelete,
		route:  "/boards/{id}/todos/{todoId}",
		path:   boardPath(id) + "/todos/" + url.PathEscape(todoID),
	}, nil)
}
