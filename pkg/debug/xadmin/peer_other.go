//go:build !linux && !darwin && !freebsd

package xadmin

import (
	"errors"
	"net"
)

func peerIdentity(net.Conn) (*PeerIdentity, error) {
	return nil, errors.New("xadmin: peer credentials not supported on this platform")
}
