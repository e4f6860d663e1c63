package apiclient

import (
	"context"
	"fmt"
	"net/url"
)

// NewUser is the create-user form. Role defaults to "user" on the backend.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

const (
	routeUsers    = "/api/v1/users"
	routeUserByID = "/api/v1/users/{username}"
)

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.getJSON(ctx, routeUsers, routeUsers, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	if u.Username == "" || u.Password == "" {
		return nil, fmt.Errorf("create user: username and password are required")
	}
	var out struct {
		User User `json:"user"`
	}
	if err := c.postJSON(ctx, routeUsers, routeUsers, u, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) DeleteUser(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("delete user: username is required")
	}
	return c.deleteJSON(ctx, routeUserByID, routeUsers+"/"+url.PathEscape(username), nil)
}
