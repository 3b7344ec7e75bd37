package xadmin

import (
	"fmt"
	"os/user"
	"strconv"
)

// PeerIdentity 对端进程身份，仅用于审计
type PeerIdentity struct {
	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`
	PID int32  `json:"pid"`
}

func (p *PeerIdentity) String() string {
	if p == nil {
		return "unknown"
	}
	name := "uid=" + strconv.FormatUint(uint64(p.UID), 10)
	if u, err := user.LookupId(strconv.FormatUint(uint64(p.UID), 10)); err == nil {
		name = u.Username
	}
	return fmt.Sprintf("%s(gid=%d) pid=%d", name, p.GID, p.PID)
}
