package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"syscall"
	"testing"
)

func TestRecoverableByCode(t *testing.T) {
	if !Recoverable(New(CodeUnavailable, "下游不可用")) {
		t.Fatalf("UNAVAILABLE 应可重试")
	}
	if Recoverable(New(CodeInvalidArgument, "参数错误")) {
		t.Fatalf("INVALID_ARGUMENT 不应重试")
	}
	if Recoverable(New(CodeUserDeclined, "用户拒绝")) {
		t.Fatalf("USER_DECLINED 不应重试")
	}
	if !Recoverable(New(CodeInsufficientData, "结果为空")) {
		t.Fatalf("INSUFFICIENT_DATA 是软失败，应可重试")
	}
}

func TestRecoverableByStdlibError(t *testing.T) {
	if !Recoverable(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded 应可重试")
	}
	if !Recoverable(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)) {
		t.Fatalf("connection refused 应可重试")
	}
	if Recoverable(nil) {
		t.Fatalf("nil 不应可重试")
	}
}

func TestRecoverableBySignature(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"upstream returned status 502", true},
		{"request timed out after 3s", true},
		{"rate limit exceeded", true},
		{"invalid address checksum", false},
		{"insufficient funds", false},
	}
	for _, tc := range cases {
		if got := Recoverable(stdErrors.New(tc.message)); got != tc.want {
			t.Fatalf("Recoverable(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestWrapPreservesCodeMatching(t *testing.T) {
	cause := New(CodeTimeout, "rpc 超时")
	wrapped := Wrap(CodeRetriesExhausted, cause, "重试耗尽")
	if CodeOf(wrapped) != CodeRetriesExhausted {
		t.Fatalf("外层错误码应为 RETRIES_EXHAUSTED, got %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("包装后应能追溯到原始错误")
	}
}
