package webservice

import (
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType   = "_webkvm._tcp"
	ServiceDomain = "local."
)

// Advertise announces the server over mDNS so viewers on the LAN can find
// it. The returned func withdraws the announcement.
func (wm *WebMaster) Advertise() (func(), error) {
	port, err := listenPort(wm.cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	mons, err := wm.driver.Monitors()
	if err != nil {
		return nil, err
	}
	txt := []string{
		"version=" + Version,
		"monitors=" + strconv.Itoa(len(mons)),
		"tls=" + strconv.FormatBool(wm.encrypted()),
	}
	server, err := zeroconf.Register(wm.hostname, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	wm.log.Infof("advertising %s.%s%s on port %d", wm.hostname, ServiceType, ServiceDomain, port)
	return server.Shutdown, nil
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: no usable port", addr)
	}
	return port, nil
}
