// Package drive はGoogle Driveとのファイル転送を提供する。
// ユーザーの委任アクセストークンを用いて一覧・ダウンロード・アップロード・削除を行い、
// 大きなペイロードはメモリに載せずストリームで中継する。
package drive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/driveman/internal/model"
)

const (
	defaultAPIURL    = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files"

	// pdfMimeType はこのプロキシが扱う唯一のドキュメント種別。
	pdfMimeType = "application/pdf"

	// listPageSize は一覧取得の1ページあたりの最大件数。
	// 続きはページトークンで呼び出し側が明示的に取得する。
	listPageSize = 100
)

// ErrUnauthenticated はDriveが保存済みアクセストークンを拒否したことを表す。
// トークンの失効・取り消しを意味し、再ログインでのみ回復できる。
// その他の失敗（ネットワーク、不正レスポンス、ポリシー違反）とは区別される。
var ErrUnauthenticated = fmt.Errorf("drive rejected the access token")

// ClientConfig はDriveクライアントの設定。
type ClientConfig struct {
	// テスト用にオーバーライド可能なURL
	APIURL    string
	UploadURL string

	// DownloadDir はダウンロードの一時ファイル置き場。
	DownloadDir string
}

// StatusRecorder はDrive APIのレスポンスステータスを記録する。
// metrics.MetricsCollectorが満たす。
type StatusRecorder interface {
	RecordDriveStatus(statusCode int)
}

// Client はDrive REST API (v3) のクライアント。
type Client struct {
	config  ClientConfig
	client  *http.Client
	metrics StatusRecorder
}

// NewClient はClientを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使用する。
// 本番ではsecurity.EgressGuardが生成したクライアントを渡すこと。
// recorderがnilの場合はステータスを記録しない。
func NewClient(config ClientConfig, httpClient *http.Client, recorder StatusRecorder) *Client {
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if config.UploadURL == "" {
		config.UploadURL = defaultUploadURL
	}
	if config.DownloadDir == "" {
		config.DownloadDir = os.TempDir()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{config: config, client: httpClient, metrics: recorder}
}

// recordStatus はDrive APIのレスポンスステータスをメトリクスに記録する。
func (c *Client) recordStatus(statusCode int) {
	if c.metrics != nil {
		c.metrics.RecordDriveStatus(statusCode)
	}
}

// driveFile はDriveのファイルメタデータのレスポンス。
type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	CreatedTime string `json:"createdTime"`
}

// driveFileList はファイル一覧エンドポイントのレスポンス。
type driveFileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// driveErrorBody はDriveのエラーレスポンス。
type driveErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// List は指定フォルダ直下のファイル一覧を取得する。
// 1回の呼び出しで最大100件を返し、続きがある場合はnextPageTokenを返す。
// pageTokenに前回のnextPageTokenを渡すと続きから取得する。
func (c *Client) List(ctx context.Context, accessToken, folderID, pageToken string) ([]model.FileInfo, string, error) {
	params := url.Values{
		"q":        {fmt.Sprintf("'%s' in parents", folderID)},
		"pageSize": {strconv.Itoa(listPageSize)},
		"fields":   {"nextPageToken,files(id,name,mimeType,createdTime)"},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"/files?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, "", c.classifyError(resp)
	}

	var list driveFileList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", fmt.Errorf("failed to parse list response: %w", err)
	}

	files := make([]model.FileInfo, 0, len(list.Files))
	for _, f := range list.Files {
		files = append(files, toFileInfo(f))
	}

	return files, list.NextPageToken, nil
}

// Download は指定ファイルをダウンロードし、ローカルの一時ファイルパスを返す。
// まずメタデータを取得してPDF以外を拒否し、その後に本体をチャンク単位で
// 一時ファイルへストリーム書き込みする。ファイル全体をメモリに載せることはない。
// 途中で失敗した場合は書きかけの一時ファイルを削除する。
func (c *Client) Download(ctx context.Context, accessToken, fileID string) (string, error) {
	// 1. メタデータでコンテンツ種別を確認（本体の取得前に拒否する）
	meta, err := c.getMetadata(ctx, accessToken, fileID)
	if err != nil {
		return "", err
	}
	if meta.MimeType != pdfMimeType {
		return "", model.NewFileNotPDFError()
	}

	// 2. 本体をストリームで取得
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"/files/"+url.PathEscape(fileID)+"?alt=media", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyError(resp)
	}

	tmp, err := os.CreateTemp(c.config.DownloadDir, "download-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file content: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return tmp.Name(), nil
}

// Upload はローカルファイルをDriveへmultipart/relatedでアップロードする。
// JSONメタデータパートとPDFバイナリパートを明示的なバウンダリで結合し、
// Content-Lengthにはボディの正確なサイズを設定する。
// ファイル本体はディスクからストリームで読み込み、メモリに全量を載せない。
// 成功時はDriveのレスポンスボディをそのまま返す。
func (c *Client) Upload(ctx context.Context, accessToken, fileName, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat upload file: %w", err)
	}

	metadata, err := json.Marshal(map[string]string{
		"name":     fileName,
		"mimeType": pdfMimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	boundary, err := newBoundary()
	if err != nil {
		return "", fmt.Errorf("failed to generate multipart boundary: %w", err)
	}

	// multipart/relatedボディの前後を先に組み立て、ファイル本体は
	// io.MultiReaderで挟んでストリームする
	prefix := fmt.Sprintf(
		"--%s\r\nContent-Type: application/json; charset=UTF-8\r\n\r\n%s\r\n--%s\r\nContent-Type: %s\r\n\r\n",
		boundary, metadata, boundary, pdfMimeType,
	)
	suffix := fmt.Sprintf("\r\n--%s--\r\n", boundary)

	body := io.MultiReader(
		strings.NewReader(prefix),
		file,
		strings.NewReader(suffix),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.UploadURL+"?uploadType=multipart", body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "multipart/related; boundary="+boundary)
	req.ContentLength = int64(len(prefix)) + stat.Size() + int64(len(suffix))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyErrorFromBody(resp.StatusCode, respBody)
	}

	return string(respBody), nil
}

// Delete は指定ファイルをDriveから削除する。
func (c *Client) Delete(ctx context.Context, accessToken, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.APIURL+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.classifyError(resp)
	}

	return nil
}

// getMetadata は指定ファイルのメタデータを取得する。
func (c *Client) getMetadata(ctx context.Context, accessToken, fileID string) (*driveFile, error) {
	params := url.Values{
		"fields": {"id,name,mimeType,createdTime"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"/files/"+url.PathEscape(fileID)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyError(resp)
	}

	meta := &driveFile{}
	if err := json.NewDecoder(resp.Body).Decode(meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata response: %w", err)
	}

	return meta, nil
}

// classifyError はDriveのエラーレスポンスを分類する。
// 401またはUNAUTHENTICATEDステータスはErrUnauthenticatedに、
// それ以外は詳細を含む一般エラーにマップする。
// エラーメッセージにアクセストークンを含めてはならない。
func (c *Client) classifyError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		body = nil
	}
	return c.classifyErrorFromBody(resp.StatusCode, body)
}

func (c *Client) classifyErrorFromBody(statusCode int, body []byte) error {
	if statusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}

	var errBody driveErrorBody
	if err := json.Unmarshal(body, &errBody); err == nil {
		if errBody.Error.Status == "UNAUTHENTICATED" {
			return ErrUnauthenticated
		}
		if errBody.Error.Message != "" {
			return fmt.Errorf("drive returned status %d: %s", statusCode, errBody.Error.Message)
		}
	}

	return fmt.Errorf("drive returned status %d", statusCode)
}

// toFileInfo はDriveのファイルメタデータをドメインモデルに変換する。
// createdTimeが欠落またはパース不能な場合はnilのまま返す。
func toFileInfo(f driveFile) model.FileInfo {
	info := model.FileInfo{
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
	}
	if f.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
			info.CreatedAt = &t
		}
	}
	return info
}

// newBoundary はmultipartバウンダリとして十分にランダムな文字列を生成する。
func newBoundary() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "driveman_" + hex.EncodeToString(b), nil
}
