package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/driveman/internal/metrics"
	"github.com/hitoshi/driveman/internal/middleware"
	"github.com/hitoshi/driveman/internal/model"
)

// defaultFolderID はfolder_id未指定時のDriveルートフォルダのエイリアス。
const defaultFolderID = "root"

// FileServiceInterface はファイルハンドラーが必要とするサービスインターフェース。
type FileServiceInterface interface {
	ListFiles(ctx context.Context, userID, folderID, pageToken string) ([]model.FileInfo, string, error)
	DownloadFile(ctx context.Context, userID, fileID string) (string, error)
	UploadFile(ctx context.Context, userID, fileName, localPath string) (string, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
}

// FileHandlerConfig はファイルハンドラーの設定。
type FileHandlerConfig struct {
	// UploadMaxSize はアップロードリクエストボディの最大バイト数。
	UploadMaxSize int64
	// TmpDir はアップロードのスプール先ディレクトリ。
	TmpDir string
}

// FileHandler はファイル転送のHTTPハンドラー。
type FileHandler struct {
	service   FileServiceInterface
	config    FileHandlerConfig
	collector metrics.MetricsCollector
}

// NewFileHandler はFileHandlerを生成する。
func NewFileHandler(service FileServiceInterface, config FileHandlerConfig, collector metrics.MetricsCollector) *FileHandler {
	return &FileHandler{
		service:   service,
		config:    config,
		collector: collector,
	}
}

// listFilesResponse はファイル一覧のAPIレスポンス。
type listFilesResponse struct {
	Files         []model.FileInfo `json:"files"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

// ListFiles はフォルダ直下のファイル一覧を返す。
// GET /api/files?folder_id=xxx&page_token=yyy
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	folderID := r.URL.Query().Get("folder_id")
	if folderID == "" {
		folderID = defaultFolderID
	}
	pageToken := r.URL.Query().Get("page_token")

	files, nextPageToken, err := h.service.ListFiles(r.Context(), userID, folderID, pageToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listFilesResponse{
		Files:         files,
		NextPageToken: nextPageToken,
	})
}

// DownloadFile はDriveのPDFファイルをストリーム転送する。
// GET /api/files/{id}/download
// 一時ファイル経由で転送し、レスポンス送信後に削除する。
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	fileID := chi.URLParam(r, "id")
	if fileID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルIDがありません"))
		return
	}

	start := time.Now()

	path, err := h.service.DownloadFile(r.Context(), userID, fileID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer os.Remove(path)

	file, err := os.Open(path)
	if err != nil {
		slog.Error("failed to open downloaded file", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		slog.Error("failed to stat downloaded file", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="download.pdf"`)
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))

	written, err := io.Copy(w, file)
	if err != nil {
		// ヘッダー送信後の失敗はクライアント切断が大半。ログのみ。
		slog.Warn("download stream interrupted",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	h.collector.RecordTransferBytes(metrics.DirectionDownload, written)
	h.collector.RecordTransferLatency(metrics.DirectionDownload, time.Since(start))
}

// uploadResponse はアップロード結果のAPIレスポンス。
type uploadResponse struct {
	Result json.RawMessage `json:"result"`
}

// UploadFile はmultipart/form-dataで受け取ったPDFをDriveへ転送する。
// POST /api/files （フォームフィールド名: file）
// 受信ボディは一時ファイルへスプールし、Driveへはサイズ確定後に転送する。
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.UploadMaxSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("fileフィールドがありません"))
		return
	}
	defer file.Close()

	if header.Filename == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイル名がありません"))
		return
	}

	start := time.Now()

	// Content-Lengthを確定させるため、一時ファイルへスプールする
	tmp, err := os.CreateTemp(h.config.TmpDir, "upload-*.pdf")
	if err != nil {
		slog.Error("failed to create spool file", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, file)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		slog.Error("failed to spool upload",
			slog.Any("copy_error", err),
			slog.Any("close_error", closeErr),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("アップロードの受信に失敗しました"))
		return
	}

	result, err := h.service.UploadFile(r.Context(), userID, header.Filename, tmp.Name())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordTransferBytes(metrics.DirectionUpload, written)
	h.collector.RecordTransferLatency(metrics.DirectionUpload, time.Since(start))

	// Driveのレスポンスが不正なJSONでもレスポンス書き込みが途中で
	// 失敗しないよう、そのまま埋め込めるのは妥当なJSONの場合のみとし、
	// それ以外はJSON文字列として引用する
	raw := json.RawMessage(result)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(result)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(uploadResponse{Result: raw})
}

// DeleteFile はDriveのファイルを削除する。
// DELETE /api/files/{id}
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	fileID := chi.URLParam(r, "id")
	if fileID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルIDがありません"))
		return
	}

	if err := h.service.DeleteFile(r.Context(), userID, fileID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
