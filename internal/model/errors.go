// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, drive, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeOAuthFailed          = "OAUTH_FAILED"
	ErrCodeDriveUnauthenticated = "DRIVE_UNAUTHENTICATED"
	ErrCodeDriveError           = "DRIVE_ERROR"
	ErrCodeFileNotPDF           = "FILE_NOT_PDF"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", reason),
		Category: "validation",
		Action:   "Googleアカウントのメールアドレスを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOAuthFailedError はOAuthフローの失敗エラーを生成する。
// 失敗したステップ名のみを含め、トークン等のシークレットは含めない。
func NewOAuthFailedError(step string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthFailed,
		Message:  fmt.Sprintf("Google認証に失敗しました: %s", step),
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewDriveUnauthenticatedError はDriveがアクセストークンを拒否した場合のエラーを生成する。
// トークンの失効・取り消しを意味し、再ログインで回復できる。
func NewDriveUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeDriveUnauthenticated,
		Message:  "Google Driveへのアクセス権限が失効しています。",
		Category: "drive",
		Action:   "再度ログインしてGoogle Driveへのアクセスを許可してください。",
	}
}

// NewDriveError はDriveとの通信・応答の失敗エラーを生成する。
func NewDriveError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeDriveError,
		Message:  fmt.Sprintf("Google Driveの操作に失敗しました: %s", detail),
		Category: "drive",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewFileNotPDFError はPDF以外のファイルを扱おうとした場合のエラーを生成する。
func NewFileNotPDFError() *APIError {
	return &APIError{
		Code:     ErrCodeFileNotPDF,
		Message:  "指定されたファイルはPDFではありません。",
		Category: "validation",
		Action:   "PDFファイルのみダウンロード・アップロードできます。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式の不備エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
