package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/driveman/internal/model"
	"github.com/hitoshi/driveman/internal/repository"
)

// FileTransfer はDriveとのファイル転送操作。
type FileTransfer interface {
	List(ctx context.Context, accessToken, folderID, pageToken string) ([]model.FileInfo, string, error)
	Download(ctx context.Context, accessToken, fileID string) (string, error)
	Upload(ctx context.Context, accessToken, fileName, localPath string) (string, error)
	Delete(ctx context.Context, accessToken, fileID string) error
}

// Service はユーザーIDを起点にDrive操作を仲介する。
// ユーザーの保存済みアクセストークンを引き、Driveクライアントの失敗を
// APIエラーの分類（未認証・接続エラー・ポリシー違反）にマップする。
type Service struct {
	userRepo repository.UserRepository
	client   FileTransfer
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, client FileTransfer) *Service {
	return &Service{
		userRepo: userRepo,
		client:   client,
	}
}

// ListFiles は指定フォルダ直下のファイル一覧を取得する。
// 続きがある場合は2番目の戻り値に次ページのトークンを返す。
func (s *Service) ListFiles(ctx context.Context, userID, folderID, pageToken string) ([]model.FileInfo, string, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	files, nextPageToken, err := s.client.List(ctx, user.AccessToken, folderID, pageToken)
	if err != nil {
		return nil, "", s.mapDriveError(err, "list")
	}

	return files, nextPageToken, nil
}

// DownloadFile は指定ファイルをローカルの一時ファイルへ取得し、そのパスを返す。
// PDF以外のファイルは本体を取得する前に拒否される。
// 呼び出し側は転送完了後に一時ファイルを削除する責務を持つ。
func (s *Service) DownloadFile(ctx context.Context, userID, fileID string) (string, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return "", err
	}

	path, err := s.client.Download(ctx, user.AccessToken, fileID)
	if err != nil {
		return "", s.mapDriveError(err, "download")
	}

	return path, nil
}

// UploadFile はローカルの一時ファイルをDriveへアップロードする。
// 成功時はDriveのレスポンスボディを返す。
func (s *Service) UploadFile(ctx context.Context, userID, fileName, localPath string) (string, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return "", err
	}

	result, err := s.client.Upload(ctx, user.AccessToken, fileName, localPath)
	if err != nil {
		return "", s.mapDriveError(err, "upload")
	}

	return result, nil
}

// DeleteFile は指定ファイルをDriveから削除する。
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) error {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.client.Delete(ctx, user.AccessToken, fileID); err != nil {
		return s.mapDriveError(err, "delete")
	}

	return nil
}

// lookupUser はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
// ユーザーストアの障害はDriveの失敗ではないため、APIエラーに分類せず
// そのまま返す（ハンドラー側で内部エラーとして扱われる）。
func (s *Service) lookupUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// mapDriveError はDriveクライアントの失敗をAPIエラーにマップする。
// 整形済みのAPIエラー（PDF以外の拒否など）はそのまま通す。
// エラー詳細にアクセストークンが含まれることはない。
func (s *Service) mapDriveError(err error, operation string) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, ErrUnauthenticated) {
		slog.Warn("drive rejected stored access token", "operation", operation)
		return model.NewDriveUnauthenticatedError()
	}

	slog.Error("drive operation failed", "operation", operation, "error", err)
	return model.NewDriveError("Google Driveとの通信に失敗しました")
}
