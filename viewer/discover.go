package viewer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType   = "_webkvm._tcp"
	ServiceDomain = "local."
)

// Server is a streaming server announced on the local network.
type Server struct {
	Instance string
	Host     string
	Addr     string
	Port     int
	Text     []string
}

// BaseURL is the http address of the server.
func (s Server) BaseURL() string {
	return "http://" + net.JoinHostPort(s.Addr, strconv.Itoa(s.Port))
}

// Discover browses mDNS for servers until timeout elapses.
func Discover(ctx context.Context, timeout time.Duration) ([]Server, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	var servers []Server
	for entry := range entries {
		addr := ""
		if len(entry.AddrIPv4) > 0 {
			addr = entry.AddrIPv4[0].String()
		}
		if addr == "" && len(entry.AddrIPv6) > 0 {
			addr = entry.AddrIPv6[0].String()
		}
		if addr == "" {
			continue
		}
		servers = append(servers, Server{
			Instance: entry.Instance,
			Host:     entry.HostName,
			Addr:     addr,
			Port:     entry.Port,
			Text:     entry.Text,
		})
	}
	return servers, nil
}
