// Package cleanup はダウンロード・アップロードの一時ファイルの自動削除ジョブを提供する。
// 転送完了後のハンドラーが削除し損ねたファイル（クライアント切断・プロセス再起動等）を
// 保持期間超過を条件に定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupJob は保持期間を超過した一時ファイルの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	dir       string
	logger    *slog.Logger
	Retention time.Duration // 一時ファイルの保持期間（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持期間は1時間。
func NewCleanupJob(dir string, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		dir:       dir,
		logger:    logger,
		Retention: 1 * time.Hour,
	}
}

// Run は保持期間を超過した一時ファイルを削除する。
// 更新時刻がRetentionより古い通常ファイルのみを対象とし、
// サブディレクトリには降りない。
// 冪等: 削除対象がない場合やディレクトリが未作成の場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.logger.Error("一時ファイルクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("dir", j.dir),
		)
		return fmt.Errorf("一時ディレクトリの走査に失敗: %w", err)
	}

	cutoff := time.Now().Add(-j.Retention)
	var deletedCount int64

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// 走査中に他の処理が削除した場合は無視する
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			j.logger.Warn("一時ファイルの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.String("path", path),
			)
			continue
		}
		deletedCount++
	}

	duration := time.Since(start)
	j.logger.Info("一時ファイルクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("retention", j.Retention.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返し実行する。
// ctxのキャンセルで停止する。呼び出し側がゴルーチンで起動すること。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("一時ファイルクリーンアップワーカーを開始しました",
		slog.String("dir", j.dir),
		slog.String("interval", interval.String()),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("一時ファイルクリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("一時ファイルクリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
