package progress

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID はサーバー側でジョブIDを生成します。
func NewJobID() string {
	return uuid.NewString()
}

// ParseJobID はクライアント指定のジョブIDを検証し、正規形（小文字のハイフン区切り）に揃えます。
// アップロードと WebSocket で表記が揺れても同じセッションを指すようにするためです。
func ParseJobID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
