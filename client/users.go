package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"boardsync/domain"
)

func requirePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", domain.InvalidArgument("phoneNumber", "is required")
	}
	return phone, nil
}

func (c *Client) fetchUser(ctx context.Context, phone string) (domain.User, error) {
	var u domain.User
	err := c.do(ctx, request{
		op:           "get_user",
		method:       http.MethodGet,
		route:        "/users/{phone}",
		path:         "/users/" + url.PathEscape(phone),
		notFoundCode: domain.CodeUserNotFound,
	}, &u)
	if err != nil {
		return domain.User{}, err
	}
	if u.PhoneNumber == "" {
		u.PhoneNumber = phone
	}
	return u, nil
}

// GetUser returns the user record for phone, creating it when the backend
// has none yet.
func (c *Client) GetUser(ctx context.Context, phone string) (domain.User, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return domain.User{}, err
	}
	u, err := c.fetchUser(ctx, phone)
	if domain.HasCode(err, domain.CodeUserNotFound) {
		return c.CreateUser(ctx, phone)
	}
	return u, err
}

// CreateUser registers phone with the backend. A user that already exists
// is reported as success.
func (c *Client) CreateUser(ctx context.Context, phone string) (domain.User, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return domain.User{}, err
	}
	var u domain.User
	err = c.do(ctx, request{
		op:     "create_user",
		method: http.MethodPost,
		route:  "/users",
		path:   "/users",
		body:   domain.User{PhoneNumber: phone},
	}, &u)
	if domain.HasCode(err, domain.CodeConflict) || domain.HasCode(err, domain.CodeUserExists) {
		return domain.User{PhoneNumber: phone}, nil
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.PhoneNumber == "" {
		u.PhoneNumber = phone
	}
	return u, nil
}

// EnsureUserExists creates the user record for phone if the backend does not
// know it. Any lookup failure other than a missing user is returned.
func (c *Client) EnsureUserExists(ctx context.Context, phone string) error {
	phone, err := requirePhone(phone)
	if err != nil {
		return err
	}
	_, err = c.fetchUser(ctx, phone)
	if domain.HasCode(err, domain.CodeUserNotFound) {
		_, err = c.CreateUser(ctx, phone)
	}
	return err
}
