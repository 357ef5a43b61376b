// Package netif resolves the network interface a node binds to.
package netif

import (
	"errors"
	"fmt"
	"net"

	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
)

var ErrNoInterface = errors.New("no usable ethernet interface")

// Lister returns the host's interfaces. Tests swap it out.
var Lister = net.Interfaces

// Usable reports whether ifi can carry our frames: up, not loopback, and
// with a non-zero 6-byte hardware address.
func Usable(ifi net.Interface) bool {
	if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
		return false
	}
	if len(ifi.HardwareAddr) != protocol.AddrSize {
		return false
	}
	for _, b := range ifi.HardwareAddr {
		if b != 0 {
			return true
		}
	}
	return false
}

// Candidates lists the usable interfaces in system order.
func Candidates() ([]net.Interface, error) {
	all, err := Lister()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []net.Interface
	for _, ifi := range all {
		if Usable(ifi) {
			out = append(out, ifi)
		}
	}
	return out, nil
}

// Detect picks the first usable interface.
func Detect() (*net.Interface, error) {
	candidates, err := Candidates()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoInterface
	}
	return &candidates[0], nil
}

// Resolve looks an interface up by name, or detects one when name is empty.
func Resolve(name string) (*net.Interface, error) {
	if name == "" {
		return Detect()
	}

	all, err := Lister()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	for i := range all {
		if all[i].Name != name {
			continue
		}
		if len(all[i].HardwareAddr) != protocol.AddrSize {
			return nil, fmt.Errorf("%w: %s has no ethernet address", ErrNoInterface, name)
		}
		return &all[i], nil
	}
	return nil, fmt.Errorf("%w: %s not found", ErrNoInterface, name)
}
