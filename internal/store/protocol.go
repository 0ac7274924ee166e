package store

import "encoding/json"

// ゲートウェイとのWebSocketで使う操作名
const (
	OpRead               = "read"
	OpSubscribe          = "subscribe"
	OpUnsubscribe        = "unsubscribe"
	OpSet                = "set"
	OpUpdate             = "update"
	OpRemove             = "remove"
	OpOnDisconnectRemove = "onDisconnectRemove"
)

// メッセージ種別
const (
	MsgReply = "reply"
	MsgEvent = "event"
)

// Request はクライアントからゲートウェイへの要求です
type Request struct {
	ID     string                     `json:"id"`
	Op     string                     `json:"op"`
	Path   string                     `json:"path,omitempty"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Values map[string]json.RawMessage `json:"values,omitempty"`
	Sub    string                     `json:"sub,omitempty"`
}

// Message はゲートウェイからクライアントへの応答またはイベントです
type Message struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Error string          `json:"error,omitempty"`
	Sub   string          `json:"sub,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// DecodeValue は要求の値を汎用表現に戻します
func DecodeValue(raw json.RawMessage) (any, error) {
	return decodeRaw(raw)
}
