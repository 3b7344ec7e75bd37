//go:build darwin || freebsd

package xadmin

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerIdentity 通过 LOCAL_PEERCRED 获取对端身份，该选项不返回 PID
func peerIdentity(conn net.Conn) (*PeerIdentity, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errors.New("xadmin: not a unix connection")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("xadmin: syscall conn: %w", err)
	}
	var (
		cred    *unix.Xucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("xadmin: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("xadmin: LOCAL_PEERCRED: %w", credErr)
	}
	id := &PeerIdentity{UID: cred.Uid}
	if len(cred.Groups) > 0 {
		id.GID = cred.Groups[0]
	}
	return id, nil
}
