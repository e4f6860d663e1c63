package apiclient

import (
	"context"
	"fmt"
	"net/url"
)

// Share is one Samba share definition.
type Share struct {
	Name       string   `json:"name" yaml:"name"`
	Path       string   `json:"path" yaml:"path"`
	Comment    string   `json:"comment" yaml:"comment"`
	ReadOnly   bool     `json:"readonly" yaml:"readonly"`
	Browseable bool     `json:"browseable" yaml:"browseable"`
	GuestOK    bool     `json:"guest_ok" yaml:"guest_ok"`
	ValidUsers []string `json:"valid_users" yaml:"valid_users"`
}

type SambaConfig struct {
	Workgroup    string  `json:"workgroup" yaml:"workgroup"`
	ServerString string  `json:"server_string" yaml:"server_string"`
	Shares       []Share `json:"shares" yaml:"shares"`
}

type SambaStatus struct {
	Installed bool   `json:"installed" yaml:"installed"`
	Running   bool   `json:"running" yaml:"running"`
	Version   string `json:"version" yaml:"version"`
	Shares    int    `json:"shares" yaml:"shares"`
}

// ServiceAction is the acknowledgement of a start/stop request.
type ServiceAction struct {
	Message string `json:"message" yaml:"message"`
	Status  string `json:"status" yaml:"status"`
}

const (
	routeSambaConfig = "/api/v1/samba/config"
	routeSambaStatus = "/api/v1/samba/status"
	routeSambaStart  = "/api/v1/samba/start"
	routeSambaStop   = "/api/v1/samba/stop"
	routeShares      = "/api/v1/samba/shares"
	routeShare       = "/api/v1/samba/shares/{name}"
)

func (c *Client) SambaConfig(ctx context.Context) (*SambaConfig, error) {
	var out SambaConfig
	if err := c.getJSON(ctx, routeSambaConfig, routeSambaConfig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SambaStatus(ctx context.Context) (*SambaStatus, error) {
	var out SambaStatus
	if err := c.getJSON(ctx, routeSambaStatus, routeSambaStatus, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartSamba(ctx context.Context) (*ServiceAction, error) {
	var out ServiceAction
	if err := c.postJSON(ctx, routeSambaStart, routeSambaStart, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopSamba(ctx context.Context) (*ServiceAction, error) {
	var out ServiceAction
	if err := c.postJSON(ctx, routeSambaStop, routeSambaStop, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateShare adds s. A nil user list is sent as [] like the dashboard did.
func (c *Client) CreateShare(ctx context.Context, s Share) error {
	if s.Name == "" || s.Path == "" {
		return fmt.Errorf("create share: name and path are required")
	}
	if s.ValidUsers == nil {
		s.ValidUsers = []string{}
	}
	return c.postJSON(ctx, routeShares, routeShares, s, nil)
}

func (c *Client) DeleteShare(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("delete share: name is required")
	}
	return c.deleteJSON(ctx, routeShare, routeShares+"/"+url.PathEscape(name), nil)
}
