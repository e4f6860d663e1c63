package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// User is the identity record the backend returns for a session. Only ID and
// Username are checked; the dates are metadata and decode leniently.
type User struct {
	ID        int        `json:"id" yaml:"id"`
	Username  string     `json:"username" yaml:"username"`
	Email     string     `json:"email,omitempty" yaml:"email,omitempty"`
	Role      string     `json:"role,omitempty" yaml:"role,omitempty"`
	Created   Timestamp  `json:"created" yaml:"created"`
	LastLogin *Timestamp `json:"lastLogin,omitempty" yaml:"lastLogin,omitempty"`
}

// IsAdmin reports whether the backend granted the admin role.
func (u User) IsAdmin() bool { return u.Role == "admin" }

// Credentials are sent once per login and never stored.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// OTP is a current TOTP code for backends that require a second factor.
	OTP string `json:"totp,omitempty"`
}

const userDef = `"user": {
	"type": "object",
	"required": ["id", "username"],
	"properties": {
		"id": {"type": "integer"},
		"username": {"type": "string", "minLength": 1}
	}
}`

var (
	loginSchema = mustSchema(`{
	"type": "object",
	"required": ["token", "user"],
	"properties": {
		"token": {"type": "string", "minLength": 1},
		` + userDef + `
	}
}`)
	verifySchema = mustSchema(`{
	"type": "object",
	"required": ["user"],
	"properties": {
		` + userDef + `
	}
}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("apiclient: bad schema: %v", err))
	}
	return s
}

func validate(s *gojsonschema.Schema, route string, body []byte) error {
	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, route, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, route, strings.Join(msgs, "; "))
	}
	return nil
}

const (
	routeUser   = "/api/v1/user"
	routeLogin  = "/api/v1/auth/login"
	routeLogout = "/api/v1/auth/logout"
)

// Verify asks the backend who token belongs to. Any failure, including a
// malformed body, means the token cannot be used.
func (c *Client) Verify(ctx context.Context, token string) (User, error) {
	b, err := c.sendRaw(ctx, request{method: http.MethodGet, route: routeUser, path: routeUser, auth: authExplicit, token: token})
	if err != nil {
		return User{}, err
	}
	if err := validate(verifySchema, routeUser, b); err != nil {
		return User{}, err
	}
	var out struct {
		User User `json:"user"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return User{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, routeUser, err)
	}
	return out.User, nil
}

// Login exchanges credentials for a bearer token and the identity it belongs to.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, User, error) {
	rd, err := jsonBody(creds)
	if err != nil {
		return "", User{}, err
	}
	b, err := c.sendRaw(ctx, request{
		method: http.MethodPost, route: routeLogin, path: routeLogin,
		body: rd, contentType: "application/json", auth: authNone,
	})
	if err != nil {
		return "", User{}, err
	}
	if err := validate(loginSchema, routeLogin, b); err != nil {
		return "", User{}, err
	}
	var out struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", User{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, routeLogin, err)
	}
	return out.Token, out.User, nil
}

// Logout asks the backend to invalidate token. The body is an empty object.
func (c *Client) Logout(ctx context.Context, token string) error {
	rd, _ := jsonBody(struct{}{})
	return c.send(ctx, request{
		method: http.MethodPost, route: routeLogout, path: routeLogout,
		body: rd, contentType: "application/json", auth: authExplicit, token: token,
	}, nil)
}
