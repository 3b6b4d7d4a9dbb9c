// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// メッセージは意図的に汎用的な内容にとどめ、詳細はサーバーログにのみ残す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, note, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// リポジトリ層が返す番兵エラー。
var (
	// ErrNoteConflict は同じIDのメモが既に存在する場合に返される。
	ErrNoteConflict = errors.New("note already exists")

	// ErrSessionNotFound は更新対象のセッションが存在しないか期限切れの場合に返される。
	ErrSessionNotFound = errors.New("session not found")
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError はCSRFトークン検証失敗エラーを生成する。
// トークンが存在したかどうかは応答に含めない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "リクエストを処理できません。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewValidationError は入力値エラーを生成する。
// どのフィールドが不正かは返さない。
func NewValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  "入力内容が不正です。",
		Category: "validation",
		Action:   "タイトルは1〜120文字、本文は1〜5000文字で入力してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// 存在しない場合と他ユーザーの所有物である場合を区別しない。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "見つかりません。",
		Category: "note",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewConflictError はID重複エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "メモを保存できませんでした。",
		Category: "note",
		Action:   "もう一度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "時間をおいてから再度お試しください。",
	}
}

// NewLoginStateError はログインコールバックの検証失敗エラーを生成する。
// stateの不一致・期限切れ・使用済みを区別しない。
func NewLoginStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  "ログイン要求が無効です。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewMalformedRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewMalformedRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewMethodNotAllowedError は許可されていないHTTPメソッドのエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeMethodNotAllowed,
		Message:  "このメソッドは使用できません。",
		Category: "system",
		Action:   "リクエスト方法を確認してください。",
	}
}
