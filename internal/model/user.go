// Package model はドメインモデルを定義する。
package model

// Identity はトークン検証で得られる参加者の身元を表す。
// 1接続の間だけ保持され、生成後は変更しない。
type Identity struct {
	Subject string // 安定したユーザー識別子
	Label   string // 表示用ラベル（メールアドレス等）
}

// Sender はワイヤ上のメッセージ送信者を表す。
type Sender struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Sender はIdentityをワイヤ形式の送信者に変換する。
func (i Identity) Sender() Sender {
	return Sender{ID: i.Subject, Label: i.Label}
}
