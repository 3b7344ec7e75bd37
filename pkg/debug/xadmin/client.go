package xadmin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultClientTimeout 单次调用的默认上限
const DefaultClientTimeout = 30 * time.Second

// Client 管理通道客户端，每次调用建立一条短连接
type Client struct {
	path    string
	timeout time.Duration
}

func NewClient(path string, timeout time.Duration) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{path: path, timeout: timeout}
}

// Do 执行一条命令。命令失败不返回 error，而是 Success=false 的响应。
func (c *Client) Do(ctx context.Context, command string, args ...string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("xadmin: dial %s: %w", c.path, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteMessage(conn, MessageTypeRequest, &Request{Command: command, Args: args}); err != nil {
		return nil, err
	}
	var resp Response
	if err := ReadMessage(conn, MessageTypeResponse, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(err, ctx.Err())
		}
		return nil, err
	}
	return &resp, nil
}
