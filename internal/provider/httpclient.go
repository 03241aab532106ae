package provider

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// loggingTransport 记录请求方法、地址、状态码和耗时；不记录请求头和请求体，避免泄露密钥
type loggingTransport struct {
	next http.RoundTripper
	log  *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		t.log.Warn("provider request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.log.Info("provider request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

// NewHTTPClient 带超时和日志的 HTTP 客户端，超时视为失败，不自动重试
func NewHTTPClient(timeout time.Duration, log *zap.Logger) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingTransport{
			next: http.DefaultTransport,
			log:  log,
		},
	}
}
