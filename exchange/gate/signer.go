package gate

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// Signer Gate.io APIv4 签名器
// 签名串: METHOD\nPATH\nQUERY\nHEX(SHA512(BODY))\nTIMESTAMP，签名为 HEX(HMAC_SHA512(secret, 签名串))
type Signer struct {
	apiKey    string
	secretKey string
	offsetMs  atomic.Int64 // 服务器时间 - 本地时间
}

// NewSigner 创建签名器
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// GetAPIKey 返回 API Key
func (s *Signer) GetAPIKey() string {
	return s.apiKey
}

// SetTimeOffset 设置与服务器的时间偏移
func (s *Signer) SetTimeOffset(offset time.Duration) {
	s.offsetMs.Store(offset.Milliseconds())
}

// TimeOffset 当前时间偏移
func (s *Signer) TimeOffset() time.Duration {
	return time.Duration(s.offsetMs.Load()) * time.Millisecond
}

// HashBody 请求体的 SHA512 十六进制摘要，GET 使用空串
func HashBody(body []byte) string {
	sum := sha512.Sum512(body)
	return hex.EncodeToString(sum[:])
}

// SignREST 计算 REST 签名
func (s *Signer) SignREST(method, urlPath, queryString string, body []byte, timestamp int64) string {
	payload := method + "\n" + urlPath + "\n" + queryString + "\n" + HashBody(body) + "\n" + strconv.FormatInt(timestamp, 10)
	mac := hmac.New(sha512.New, []byte(s.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHeaders 生成 KEY / Timestamp / SIGN 请求头
func (s *Signer) SignHeaders(method, path, query string, body []byte, now time.Time) map[string]string {
	ts := now.Add(s.TimeOffset()).Unix()
	return map[string]string{
		"KEY":       s.apiKey,
		"Timestamp": strconv.FormatInt(ts, 10),
		"SIGN":      s.SignREST(method, path, query, body, ts),
	}
}
