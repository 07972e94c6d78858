package model

import "time"

// Project はコラボレーションルームの裏付けとなるプロジェクト。
// レコードの作成・更新は外部のプロジェクト管理が担う。
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RoomID はプロジェクトに対応する正規のルームIDを返す。
func (p *Project) RoomID() string {
	return p.ID
}
