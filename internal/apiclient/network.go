package apiclient

import (
	"context"
	"strings"
)

type NetworkInterface struct {
	Name    string `json:"name" yaml:"name"`
	IP      string `json:"ip" yaml:"ip"`
	MAC     string `json:"mac" yaml:"mac"`
	Status  string `json:"status" yaml:"status"`
	Type    string `json:"type" yaml:"type"`
	Speed   string `json:"speed,omitempty" yaml:"speed,omitempty"`
	RxBytes int64  `json:"rx_bytes" yaml:"rx_bytes"`
	TxBytes int64  `json:"tx_bytes" yaml:"tx_bytes"`
}

// Up reports the link state; backends are inconsistent about case.
func (n NetworkInterface) Up() bool { return strings.EqualFold(n.Status, "up") }

type NetworkConfig struct {
	Hostname       string             `json:"hostname" yaml:"hostname"`
	DNSServers     []string           `json:"dns_servers" yaml:"dns_servers"`
	DefaultGateway string             `json:"default_gateway" yaml:"default_gateway"`
	Interfaces     []NetworkInterface `json:"interfaces" yaml:"interfaces"`
}

// ActiveInterfaces counts interfaces that are up.
func (n *NetworkConfig) ActiveInterfaces() int {
	count := 0
	for _, i := range n.Interfaces {
		if i.Up() {
			count++
		}
	}
	return count
}

const routeNetwork = "/api/v1/network"

func (c *Client) NetworkConfig(ctx context.Context) (*NetworkConfig, error) {
	var wire struct {
		NetworkConfig
		// older backends name the field "gateway"
		Gateway string `json:"gateway"`
	}
	if err := c.getJSON(ctx, routeNetwork, routeNetwork, &wire); err != nil {
		return nil, err
	}
	out := wire.NetworkConfig
	if out.DefaultGateway == "" {
		out.DefaultGateway = wire.Gateway
	}
	return &out, nil
}
