// Package auth はGoogle OAuthフローとユーザー照合、セッショントークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/driveman/internal/model"
	"github.com/hitoshi/driveman/internal/repository"
	"github.com/hitoshi/driveman/internal/token"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数の委任ストレージプロバイダーに対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを委任アクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchEmail はアクセストークンでアカウントのemailを取得する。
	FetchEmail(ctx context.Context, accessToken string) (string, error)
}

// Service は認証に関するビジネスロジックを提供する。
// 1回のコールバック処理は 認可コード交換 → email解決 → ユーザー照合 →
// セッショントークン発行 の順で厳密に逐次実行され、途中で失敗した場合は
// 以降のステップに進まず、ストレージへの部分的な書き込みも発生しない。
// 自動リトライは行わない。失敗時はフローの最初からやり直すこと。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	codec    *token.Codec
	secret   []byte
}

// NewService はServiceを生成する。
// secretはセッショントークン署名用のプロセス共通シークレット。
func NewService(oauth OAuthProvider, userRepo repository.UserRepository, codec *token.Codec, secret []byte) *Service {
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		codec:    codec,
		secret:   secret,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
// 未登録のemailの場合はユーザーレコードを自動作成し、登録済みの場合は
// アクセストークンを今回の値で上書きする（ログインごとのトークンローテーション）。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, error) {
	// 1. 認可コードを委任アクセストークンに交換
	accessToken, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. アクセストークンでアカウントemailを解決
	email, err := s.oauth.FetchEmail(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to resolve account email: %w", err)
	}

	// 3. emailをキーにローカルユーザーへ照合
	user, err := s.Reconcile(ctx, email, accessToken)
	if err != nil {
		return "", err
	}

	// 4. セッショントークンを発行
	sessionToken, err := s.codec.Issue(user.ID, s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}

	return sessionToken, nil
}

// CurrentUser は認証済みユーザーの情報を取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by id: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Reconcile は検証済みemailをローカルユーザーレコードへ対応付ける。
// 見つからない場合は新規作成し、見つかった場合はアクセストークンと
// updated_atのみを更新する（idとcreated_atは不変）。
// emailはレコードの唯一の照合キー。
func (s *Service) Reconcile(ctx context.Context, email, accessToken string) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if existing != nil {
		return s.rotateToken(ctx, existing, accessToken)
	}

	// 新規ユーザー: emailを検証してから作成する
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	now := time.Now()
	newUser := &model.User{
		ID:          uuid.New().String(),
		Email:       email,
		AccessToken: accessToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.userRepo.Create(ctx, newUser); err != nil {
		// 同一emailの初回ログインが競合した場合は、もう一方が作成した
		// レコードに対する更新として再試行する
		if errors.Is(err, repository.ErrDuplicateEmail) {
			winner, findErr := s.userRepo.FindByEmail(ctx, email)
			if findErr != nil {
				return nil, fmt.Errorf("failed to find user after duplicate insert: %w", findErr)
			}
			if winner == nil {
				return nil, fmt.Errorf("user disappeared after duplicate insert: %s", email)
			}
			return s.rotateToken(ctx, winner, accessToken)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
	)

	return newUser, nil
}

// rotateToken は既存ユーザーのアクセストークンを今回の値で上書きする。
func (s *Service) rotateToken(ctx context.Context, user *model.User, accessToken string) (*model.User, error) {
	user.AccessToken = accessToken
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	slog.Info("existing user logged in", slog.String("user_id", user.ID))

	return user, nil
}

// validateEmail はemailの形式を検証する。
func validateEmail(email string) error {
	if email == "" {
		return model.NewInvalidEmailError("空のメールアドレス")
	}
	if !strings.Contains(email, "@") {
		return model.NewInvalidEmailError("@を含んでいません")
	}
	return nil
}
