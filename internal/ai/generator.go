// Package ai はAI生成バックエンドの呼び出しと、ルームへの応答配信を提供する。
package ai

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse はバックエンドが空の応答を返した場合のエラー。
	ErrEmptyResponse = errors.New("generation backend returned an empty response")
	// ErrBackendDisabled はバックエンドが設定されていない場合のエラー。
	ErrBackendDisabled = errors.New("generation backend is not configured")
)

// Generator は外部の生成バックエンドのインターフェース。
// プロンプト文字列を渡し、生成テキストまたはエラーを受け取る。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc は関数をGeneratorとして扱うためのアダプタ。
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate はf(ctx, prompt)を呼び出す。
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// DisabledGenerator は常にErrBackendDisabledを返すGenerator。
// APIキー未設定時に使用し、すべてのAI指示がフォールバック応答になる。
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(context.Context, string) (string, error) {
	return "", ErrBackendDisabled
}
