// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/driveman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	// emailはユーザーレコードの一意な紐付けキー。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを新規作成する。
	// emailの一意制約に違反した場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はアクセストークンとupdated_atを更新する。
	// idとcreated_atは変更しない。
	Update(ctx context.Context, user *model.User) error
}
