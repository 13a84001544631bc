package api

import (
	"errors"
	"log/slog"
	"net"
)

// errPeerUnsupported is returned where the platform has no peer credential
// lookup.
var errPeerUnsupported = errors.New("peer credentials not supported on this platform")

// peerListener drops Unix socket connections from other users.
type peerListener struct {
	net.Listener
	uid    int
	logger *slog.Logger
}

func (l *peerListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		uid, err := peerUID(conn)
		if errors.Is(err, errPeerUnsupported) {
			return conn, nil
		}
		if err != nil {
			l.logger.Warn("dropping connection without peer credentials", "error", err)
			conn.Close()
			continue
		}
		if uid != l.uid {
			l.logger.Warn("dropping connection from another user", "uid", uid)
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func rawControl(conn net.Conn, fn func(fd uintptr)) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("not a unix socket connection")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(fn)
}
