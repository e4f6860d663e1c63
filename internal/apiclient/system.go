package apiclient

import (
	"context"
	"net/http"
)

type CPUInfo struct {
	Usage float64 `json:"usage" yaml:"usage"`
	Cores int     `json:"cores" yaml:"cores"`
	Model string  `json:"model" yaml:"model"`
}

type MemoryInfo struct {
	Total     uint64  `json:"total" yaml:"total"`
	Used      uint64  `json:"used" yaml:"used"`
	Available uint64  `json:"available" yaml:"available"`
	Percent   float64 `json:"percent" yaml:"percent"`
}

type DiskInfo struct {
	Device     string  `json:"device" yaml:"device"`
	Mountpoint string  `json:"mountpoint" yaml:"mountpoint"`
	Total      uint64  `json:"total" yaml:"total"`
	Used       uint64  `json:"used" yaml:"used"`
	Free       uint64  `json:"free" yaml:"free"`
	Percent    float64 `json:"percent" yaml:"percent"`
}

type HostInfo struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	OS       string `json:"os" yaml:"os"`
	Platform string `json:"platform" yaml:"platform"`
	Arch     string `json:"arch" yaml:"arch"`
}

// SystemInfo is the dashboard snapshot. Uptime is in seconds.
type SystemInfo struct {
	CPU    CPUInfo    `json:"cpu" yaml:"cpu"`
	Memory MemoryInfo `json:"memory" yaml:"memory"`
	Disk   []DiskInfo `json:"disk" yaml:"disk"`
	Host   HostInfo   `json:"host" yaml:"host"`
	Uptime int64      `json:"uptime" yaml:"uptime"`
}

// PrimaryDisk is the volume the dashboard headline reports on, if any.
func (s *SystemInfo) PrimaryDisk() (DiskInfo, bool) {
	if len(s.Disk) == 0 {
		return DiskInfo{}, false
	}
	return s.Disk[0], true
}

type Health struct {
	Status    string `json:"status" yaml:"status"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
	Service   string `json:"service" yaml:"service"`
}

const (
	routeSystem = "/api/v1/system"
	routeHealth = "/api/v1/health"
)

// Health is unauthenticated and works before login.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.send(ctx, request{method: http.MethodGet, route: routeHealth, path: routeHealth, auth: authNone}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var out SystemInfo
	if err := c.getJSON(ctx, routeSystem, routeSystem, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
