// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/devsync/internal/model"
)

// ProjectRepository はプロジェクトデータの参照インターフェース。
// プロジェクトの作成・更新は外部のプロジェクト管理が担うため、参照のみを提供する。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)
}
