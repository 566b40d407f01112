package errors

import (
	"context"
	stdErrors "errors"
	"net"
	"strings"
	"syscall"
)

// transientSignatures 是从错误消息中识别瞬时故障的特征集合。
// 这是一个保守的近似：没有命中任何特征的异常一律按不可恢复处理，
// 由降级链兜底，而不是无意义地继续重试。
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"too many requests",
	"rate limit",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"unexpected eof",
	"no such host",
}

// Recoverable 判断错误是否属于可重试的瞬时故障。
// 统一错误类型按其错误码的 Retryable 属性判定；
// 其余错误按网络错误类型与消息特征判定。
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if stdErrors.Is(err, syscall.ECONNRESET) || stdErrors.Is(err, syscall.ECONNREFUSED) || stdErrors.Is(err, syscall.EPIPE) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, signature := range transientSignatures {
		if strings.Contains(message, signature) {
			return true
		}
	}
	return false
}
