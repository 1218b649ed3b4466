package pdf

import (
	"errors"
	"fmt"
)

// エラーコード。HTTP レスポンスの code にそのまま使います。
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeJobInProgress     = "JOB_IN_PROGRESS"
	CodeUnsupportedPDF    = "UNSUPPORTED_PDF"
	CodeCompressionFailed = "COMPRESSION_FAILED"
	CodeStorageFailed     = "STORAGE_FAILED"
)

// Error はクライアントへ返せるメッセージを持つエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// userMessage はタスクに記録する人間向けのメッセージを返します。
func userMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return fallback
	}
	return fmt.Sprintf("%s: %v", fallback, err)
}
