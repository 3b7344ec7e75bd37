package xadmin

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

const (
	ProtocolMagic   uint16 = 0xAD01
	ProtocolVersion uint8  = 0x01

	// HeaderSize Magic(2) + Version(1) + Type(1) + Length(4)
	HeaderSize = 8

	MaxPayloadSize = 1024 * 1024

	// DefaultMaxOutputSize 为响应 JSON 结构预留空间
	DefaultMaxOutputSize = MaxPayloadSize - 256
)

// MessageType 消息类型
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 0x01
	MessageTypeResponse MessageType = 0x02
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// Request 请求消息
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response 响应消息。Code 为机器可读错误码，仅在命令执行失败时设置。
type Response struct {
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	OriginalSize int    `json:"original_size,omitempty"`
}

func errorResponse(err error, code string) *Response {
	return &Response{Error: err.Error(), Code: code}
}

// truncateOutput 超长输出按 UTF-8 边界截断
func truncateOutput(output string, maxBytes int) *Response {
	if len(output) <= maxBytes {
		return &Response{Success: true, Output: output}
	}
	n := maxBytes
	for n > 0 && !utf8.RuneStart(output[n]) {
		n--
	}
	return &Response{Success: true, Output: output[:n], Truncated: true, OriginalSize: len(output)}
}

// WriteMessage 编码并写入一条消息
func WriteMessage(w io.Writer, msgType MessageType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("xadmin: marshal payload: %w", err)
	}
	if len(body) > MaxPayloadSize || len(body) > math.MaxUint32 {
		return ErrMessageTooLarge
	}
	msg := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(msg[0:2], ProtocolMagic)
	msg[2] = ProtocolVersion
	msg[3] = byte(msgType)
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(body))) //nolint:gosec // 上面已检查范围
	copy(msg[HeaderSize:], body)
	_, err = w.Write(msg)
	return err
}

// ReadMessage 读取一条消息并解码到 target，消息类型必须与 want 一致
func ReadMessage(r io.Reader, want MessageType, target any) error {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return ErrConnectionClosed
		}
		return fmt.Errorf("xadmin: read header: %w", err)
	}
	if binary.BigEndian.Uint16(header[0:2]) != ProtocolMagic {
		return ErrInvalidMessage
	}
	if v := header[2]; v != ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidMessage, v)
	}
	if got := MessageType(header[3]); got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMessage, want, got)
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxPayloadSize {
		return ErrMessageTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("xadmin: read payload: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
