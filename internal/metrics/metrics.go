// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordDriveStatus(statusCode int)
	RecordTransferBytes(direction string, bytes int64)
	RecordTransferLatency(direction string, duration time.Duration)
}

// 転送方向のラベル値
const (
	DirectionDownload = "download"
	DirectionUpload   = "upload"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFail       *prometheus.CounterVec
	driveStatus     *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	transferLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driveman_login_success_total",
			Help: "Googleログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveman_login_fail_total",
			Help: "Googleログイン失敗の理由別合計数",
		}, []string{"reason"}),
		driveStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveman_drive_api_status_total",
			Help: "Drive APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveman_transfer_bytes_total",
			Help: "転送方向別の転送バイト数",
		}, []string{"direction"}),
		transferLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driveman_transfer_latency_seconds",
			Help:    "転送方向別のファイル転送レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.driveStatus,
		c.transferBytes,
		c.transferLatency,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を理由付きで記録する。
// reasonにはトークンやメールアドレス等の個人情報を含めないこと。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordDriveStatus はDrive APIのHTTPステータスコードを記録する。
func (c *Collector) RecordDriveStatus(statusCode int) {
	c.driveStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTransferBytes は転送バイト数を記録する。
func (c *Collector) RecordTransferBytes(direction string, bytes int64) {
	c.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordTransferLatency はファイル転送のレイテンシを記録する。
func (c *Collector) RecordTransferLatency(direction string, duration time.Duration) {
	c.transferLatency.WithLabelValues(direction).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターが/metricsパスに直接マウントする。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
