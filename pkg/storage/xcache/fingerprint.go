package xcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// FingerprintInput 参与指纹计算的请求字段
type FingerprintInput struct {
	Prompt string
	Model  string
	Params map[string]any
}

// NormalizePrompt 小写、去首尾空白、折叠连续空白
func NormalizePrompt(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint 计算 64 位十六进制指纹。参数不可 JSON 序列化时返回错误。
func Fingerprint(in FingerprintInput) (string, error) {
	params := []byte("{}")
	if len(in.Params) > 0 {
		// encoding/json 对 map 键排序，嵌套 map 同样有序
		b, err := json.Marshal(in.Params)
		if err != nil {
			return "", fmt.Errorf("xcache: canonical params: %w", err)
		}
		params = b
	}
	h := sha256.New()
	h.Write([]byte("v2"))
	writeField(h, []byte(strings.ToLower(strings.TrimSpace(in.Model))))
	writeField(h, []byte(NormalizePrompt(in.Prompt)))
	writeField(h, params)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField 长度前缀编码，字段内容中的任何字节都不会被当作分隔符
func writeField(h hash.Hash, b []byte) {
	h.Write([]byte(strconv.Itoa(len(b))))
	h.Write([]byte{':'})
	h.Write(b)
}
