//go:build !linux && !darwin

package api

import "net"

func peerUID(conn net.Conn) (int, error) {
	return -1, errPeerUnsupported
}
