// Package discovery announces a node on the local network over mDNS so
// clients on the same LAN can find a board without configuration.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

const service = "_collabboard._tcp"

// Announce registers the node's HTTP port under _collabboard._tcp and
// returns a shutdown func.
func Announce(instance string, port int) (func(), error) {
	srv, err := zeroconf.Register(instance, service, "local.", port,
		[]string{"txtv=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return srv.Shutdown, nil
}
