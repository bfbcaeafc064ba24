package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// counterValue は指定メトリクスの指定ラベル値を持つカウンタの現在値を返す。
// ラベルなしメトリクスはlabelValueに空文字を渡す。
func counterValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" && len(m.GetLabel()) == 0 {
				return m.GetCounter().GetValue()
			}
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("%s{%s} metric not found", name, labelValue)
	return 0
}

// TestRecordLoginSuccess_IncrementsCounter はログイン成功カウンタが増加することを検証する。
func TestRecordLoginSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginSuccess()
	c.RecordLoginSuccess()

	if val := counterValue(t, reg, "driveman_login_success_total", ""); val != 2 {
		t.Errorf("login_success_total = %v, want 2", val)
	}
}

// TestRecordLoginFailure_LabelsByReason はログイン失敗が理由別に記録されることを検証する。
func TestRecordLoginFailure_LabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginFailure("token_exchange")
	c.RecordLoginFailure("token_exchange")
	c.RecordLoginFailure("userinfo")

	if val := counterValue(t, reg, "driveman_login_fail_total", "token_exchange"); val != 2 {
		t.Errorf("login_fail_total{token_exchange} = %v, want 2", val)
	}
	if val := counterValue(t, reg, "driveman_login_fail_total", "userinfo"); val != 1 {
		t.Errorf("login_fail_total{userinfo} = %v, want 1", val)
	}
}

// TestRecordDriveStatus_LabelsByStatusCode はDrive APIステータスコード別に記録されることを検証する。
func TestRecordDriveStatus_LabelsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDriveStatus(200)
	c.RecordDriveStatus(200)
	c.RecordDriveStatus(401)

	if val := counterValue(t, reg, "driveman_drive_api_status_total", "200"); val != 2 {
		t.Errorf("drive_api_status_total{200} = %v, want 2", val)
	}
	if val := counterValue(t, reg, "driveman_drive_api_status_total", "401"); val != 1 {
		t.Errorf("drive_api_status_total{401} = %v, want 1", val)
	}
}

// TestRecordTransferBytes_AddsPerDirection は転送バイト数が方向別に加算されることを検証する。
func TestRecordTransferBytes_AddsPerDirection(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransferBytes(DirectionDownload, 1024)
	c.RecordTransferBytes(DirectionDownload, 2048)
	c.RecordTransferBytes(DirectionUpload, 512)

	if val := counterValue(t, reg, "driveman_transfer_bytes_total", DirectionDownload); val != 3072 {
		t.Errorf("transfer_bytes_total{download} = %v, want 3072", val)
	}
	if val := counterValue(t, reg, "driveman_transfer_bytes_total", DirectionUpload); val != 512 {
		t.Errorf("transfer_bytes_total{upload} = %v, want 512", val)
	}
}

// TestRecordTransferLatency_RecordsHistogram は転送レイテンシがヒストグラムに記録されることを検証する。
func TestRecordTransferLatency_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransferLatency(DirectionDownload, 150*time.Millisecond)
	c.RecordTransferLatency(DirectionDownload, 300*time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != "driveman_transfer_latency_seconds" {
			continue
		}
		if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
			t.Errorf("sample count = %d, want 2", count)
		}
		return
	}
	t.Fatal("driveman_transfer_latency_seconds metric not found")
}
