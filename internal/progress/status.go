// Package progress はジョブ進捗のスナップショットと、その配信用メッセージを定義します。
package progress

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status はジョブ・ファイル・接続で共通の状態です。
type Status string

const (
	StatusConnecting   Status = "Connecting"
	StatusConnected    Status = "Connected"
	StatusInProgress   Status = "InProgress"
	StatusCompleted    Status = "Completed"
	StatusFailed       Status = "Failed"
	StatusDisconnected Status = "Disconnected"
)

// Terminal は以降変化しない状態かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDisconnected:
		return true
	default:
		return false
	}
}

// CompressionLevel は圧縮の強さです。ゼロ値は未指定を表し、JSON では null になります。
type CompressionLevel string

const (
	LevelLow    CompressionLevel = "Low"
	LevelMedium CompressionLevel = "Medium"
	LevelHigh   CompressionLevel = "High"
)

// ParseCompressionLevel はクライアント指定の文字列を解釈します。
// 空文字は Medium、それ以外の未知の値はエラーです。
func ParseCompressionLevel(raw string) (CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return LevelLow, nil
	case "", "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	default:
		return "", fmt.Errorf("unknown compression level: %q", raw)
	}
}

// MarshalJSON は未指定を null として出力します。
func (l CompressionLevel) MarshalJSON() ([]byte, error) {
	if l == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(l))
}

// UnmarshalJSON は null を未指定として読み込みます。
func (l *CompressionLevel) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch CompressionLevel(raw) {
	case LevelLow, LevelMedium, LevelHigh:
		*l = CompressionLevel(raw)
		return nil
	default:
		return fmt.Errorf("unknown compression level: %q", raw)
	}
}
