//go:build linux

package xadmin

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerIdentity 通过 SO_PEERCRED 获取对端身份。
// 使用 SyscallConn 而非 File()，后者会把连接切换为阻塞模式。
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
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("xadmin: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("xadmin: SO_PEERCRED: %w", credErr)
	}
	return &PeerIdentity{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
