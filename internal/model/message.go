package model

// AISender はAI生成メッセージに付与する固定の合成送信者。
var AISender = Sender{ID: "ai", Label: "AI"}

// Message はルーム内で配信されるメッセージ。永続化はしない。
type Message struct {
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

// NewUserMessage は認証済みIdentityを送信者とするメッセージを生成する。
func NewUserMessage(text string, from Identity) Message {
	return Message{Text: text, Sender: from.Sender()}
}

// NewAIMessage は合成送信者を持つAIメッセージを生成する。
func NewAIMessage(text string) Message {
	return Message{Text: text, Sender: AISender}
}
