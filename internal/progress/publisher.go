package progress

import "go.uber.org/zap"

// Deliverer はジョブIDに紐づく接続へペイロードを渡します。
// 実装はブロックせず、接続が無ければ黙って破棄します。
type Deliverer interface {
	Deliver(id string, payload []byte)
}

// Publisher はスナップショットを配信メッセージに変換して Deliverer へ渡します。
type Publisher struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewPublisher は Publisher を作成します。
func NewPublisher(deliverer Deliverer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{deliverer: deliverer, logger: logger}
}

// Publish はスナップショットを送信します。失敗は呼び出し元に返しません。
func (p *Publisher) Publish(jobID string, snapshot JobSnapshot) {
	if p == nil || p.deliverer == nil {
		return
	}
	payload, err := Encode(jobID, snapshot)
	if err != nil {
		p.logger.Warn("failed to encode snapshot", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	p.deliverer.Deliver(jobID, payload)
}
