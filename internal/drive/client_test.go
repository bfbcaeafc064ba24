package drive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/driveman/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		APIURL:      server.URL,
		UploadURL:   server.URL + "/upload",
		DownloadDir: t.TempDir(),
	}, server.Client(), nil)
	return client, server
}

// recordedStatuses はテスト用のStatusRecorder実装。
type recordedStatuses struct {
	codes []int
}

func (r *recordedStatuses) RecordDriveStatus(statusCode int) {
	r.codes = append(r.codes, statusCode)
}

func TestClient_List(t *testing.T) {
	var gotQuery map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer drive-token" {
			t.Errorf("Authorization = %q", got)
		}
		gotQuery = map[string]string{
			"q":         r.URL.Query().Get("q"),
			"pageSize":  r.URL.Query().Get("pageSize"),
			"fields":    r.URL.Query().Get("fields"),
			"pageToken": r.URL.Query().Get("pageToken"),
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"nextPageToken": "next-cursor",
			"files": [
				{"id": "f1", "name": "report.pdf", "mimeType": "application/pdf", "createdTime": "2025-06-01T10:00:00Z"},
				{"id": "f2", "name": "notes.txt", "mimeType": "text/plain"}
			]
		}`)
	}))

	files, nextToken, err := client.List(context.Background(), "drive-token", "folder-123", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if gotQuery["q"] != "'folder-123' in parents" {
		t.Errorf("q = %q", gotQuery["q"])
	}
	if gotQuery["pageSize"] != "100" {
		t.Errorf("pageSize = %q", gotQuery["pageSize"])
	}
	if gotQuery["fields"] != "nextPageToken,files(id,name,mimeType,createdTime)" {
		t.Errorf("fields = %q", gotQuery["fields"])
	}
	if gotQuery["pageToken"] != "" {
		t.Errorf("初回取得でpageTokenが送信されている: %q", gotQuery["pageToken"])
	}

	if nextToken != "next-cursor" {
		t.Errorf("nextPageToken = %q", nextToken)
	}
	if len(files) != 2 {
		t.Fatalf("files length = %d, want 2", len(files))
	}
	if files[0].ID != "f1" || files[0].Name != "report.pdf" || files[0].MimeType != "application/pdf" {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[0].CreatedAt == nil {
		t.Error("files[0].CreatedAt should be parsed")
	}
	if files[1].CreatedAt != nil {
		t.Error("createdTime欠落時はCreatedAtがnilであるべき")
	}
}

func TestClient_List_PageToken(t *testing.T) {
	var gotPageToken string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPageToken = r.URL.Query().Get("pageToken")
		io.WriteString(w, `{"files": []}`)
	}))

	files, nextToken, err := client.List(context.Background(), "tok", "folder", "cursor-2")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if gotPageToken != "cursor-2" {
		t.Errorf("pageToken = %q, want cursor-2", gotPageToken)
	}
	if nextToken != "" {
		t.Errorf("最終ページでnextPageTokenが空でない: %q", nextToken)
	}
	if len(files) != 0 {
		t.Errorf("files length = %d, want 0", len(files))
	}
}

func TestClient_List_Unauthenticated(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
	}{
		{
			name:       "HTTP 401",
			statusCode: http.StatusUnauthorized,
			body:       `{"error": {"code": 401, "message": "Invalid Credentials"}}`,
		},
		{
			name:       "UNAUTHENTICATEDステータス",
			statusCode: http.StatusForbidden,
			body:       `{"error": {"code": 403, "message": "expired", "status": "UNAUTHENTICATED"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				io.WriteString(w, tt.body)
			}))

			_, _, err := client.List(context.Background(), "revoked-token", "folder", "")
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestClient_List_ServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": {"code": 500, "message": "Backend Error"}}`)
	}))

	_, _, err := client.List(context.Background(), "tok", "folder", "")
	if err == nil {
		t.Fatal("expected error for server error response")
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Error("500応答がErrUnauthenticatedに分類されている")
	}
	if !strings.Contains(err.Error(), "Backend Error") {
		t.Errorf("error should include server message: %v", err)
	}
}

func TestClient_Download(t *testing.T) {
	const content = "%PDF-1.7 fake pdf body"
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") == "media" {
			io.WriteString(w, content)
			return
		}
		io.WriteString(w, `{"id": "file-1", "name": "book.pdf", "mimeType": "application/pdf"}`)
	}))

	path, err := client.Download(context.Background(), "tok", "file-1")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q, want %q", got, content)
	}
	if filepath.Ext(path) != ".pdf" {
		t.Errorf("一時ファイルの拡張子が.pdfでない: %s", path)
	}
}

func TestClient_Download_NotPDF(t *testing.T) {
	var mediaRequested bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") == "media" {
			mediaRequested = true
			io.WriteString(w, "binary image data")
			return
		}
		io.WriteString(w, `{"id": "file-2", "name": "photo.png", "mimeType": "image/png"}`)
	}))

	_, err := client.Download(context.Background(), "tok", "file-2")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFileNotPDF {
		t.Fatalf("error = %v, want FILE_NOT_PDF", err)
	}
	if mediaRequested {
		t.Error("PDF以外のファイルで本体が取得されている")
	}
}

func TestClient_Download_MetadataUnauthenticated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Download(context.Background(), "revoked", "file-1")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestClient_Upload(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "upload.pdf")
	const content = "%PDF-1.7 uploaded body"
	if err := os.WriteFile(localPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	var gotBody []byte
	var gotContentLength int64
	var gotContentType string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("uploadType"); got != "multipart" {
			t.Errorf("uploadType = %q", got)
		}
		gotContentLength = r.ContentLength
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"id": "new-file", "name": "report.pdf"}`)
	}))

	result, err := client.Upload(context.Background(), "tok", "report.pdf", localPath)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/related; boundary=") {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotContentLength != int64(len(gotBody)) {
		t.Errorf("Content-Lengthがボディの実サイズと一致しない: header=%d body=%d", gotContentLength, len(gotBody))
	}

	body := string(gotBody)
	if !strings.Contains(body, content) {
		t.Error("body should contain the file content")
	}
	var meta map[string]string
	start := strings.Index(body, "{")
	end := strings.Index(body, "}")
	if start < 0 || end < 0 {
		t.Fatal("metadata part not found in body")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &meta); err != nil {
		t.Fatalf("failed to parse metadata part: %v", err)
	}
	if meta["name"] != "report.pdf" || meta["mimeType"] != "application/pdf" {
		t.Errorf("metadata = %v", meta)
	}

	if !strings.Contains(result, "new-file") {
		t.Errorf("result = %q", result)
	}
}

func TestClient_Upload_Unauthenticated(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "upload.pdf")
	if err := os.WriteFile(localPath, []byte("%PDF-"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Upload(context.Background(), "revoked", "x.pdf", localPath)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestClient_Upload_MissingLocalFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("存在しないローカルファイルでリクエストが送信されている")
	}))

	_, err := client.Upload(context.Background(), "tok", "x.pdf", filepath.Join(t.TempDir(), "missing.pdf"))
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
}

func TestClient_Delete(t *testing.T) {
	var gotMethod, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.Delete(context.Background(), "tok", "file-9"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s", gotMethod)
	}
	if gotPath != "/files/file-9" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestClient_Delete_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"code": 404, "message": "File not found"}}`)
	}))

	err := client.Delete(context.Background(), "tok", "no-such-file")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Drive APIの全リクエストでレスポンスステータスが記録されることを検証する。
func TestClient_RecordsDriveStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("alt") == "media":
			w.Write([]byte("%PDF-1.4"))
		case strings.HasPrefix(r.URL.Path, "/files/"):
			json.NewEncoder(w).Encode(map[string]string{
				"id": "f1", "name": "a.pdf", "mimeType": "application/pdf",
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{"files": []any{}})
		}
	}))
	t.Cleanup(server.Close)

	recorder := &recordedStatuses{}
	client := NewClient(ClientConfig{
		APIURL:      server.URL,
		DownloadDir: t.TempDir(),
	}, server.Client(), recorder)

	if _, _, err := client.List(context.Background(), "tok", "root", ""); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recorder.codes) != 1 || recorder.codes[0] != http.StatusOK {
		t.Errorf("after List codes = %v, want [200]", recorder.codes)
	}

	// ダウンロードはメタデータと本体の2リクエスト分を記録する
	path, err := client.Download(context.Background(), "tok", "f1")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer os.Remove(path)
	if len(recorder.codes) != 3 {
		t.Errorf("after Download codes = %v, want 3 entries", recorder.codes)
	}
}

// エラーレスポンスのステータスも記録されることを検証する。
func TestClient_RecordsDriveStatus_OnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	recorder := &recordedStatuses{}
	client := NewClient(ClientConfig{APIURL: server.URL}, server.Client(), recorder)

	if _, _, err := client.List(context.Background(), "tok", "root", ""); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if len(recorder.codes) != 1 || recorder.codes[0] != http.StatusInternalServerError {
		t.Errorf("codes = %v, want [500]", recorder.codes)
	}
}
