// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Googleアカウント1つにつきレコードは1件で、emailが紐付けキーとなる。
// AccessTokenはGoogle Driveの委任アクセストークン。ログイン成功のたびに上書きされる。
// シークレットとして扱い、ログ・レスポンス・エラーメッセージに含めないこと。
type User struct {
	ID          string
	Email       string
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInfo はGoogle Drive上のファイルの読み取り専用ビュー。
// ローカルには永続化せず、一覧リクエストごとに構築する。
type FileInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
