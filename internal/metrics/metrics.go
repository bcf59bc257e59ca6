// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	OutcomeReturning = "returning"
	OutcomeFirst     = "first"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
)

// アクセスゲートによるリダイレクト・拒否の種類
const (
	GateLogin     = "login"
	GateLanding   = "landing"
	GateForbidden = "forbidden"
)

// AuthRecorder はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type AuthRecorder interface {
	RecordLogin(outcome string)
	RecordGate(kind string)
	RecordLogout()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	gate           *prometheus.CounterVec
	logouts        prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capstone_auth_logins_total",
			Help: "OAuthコールバックの結果別件数",
		}, []string{"outcome"}),
		gate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capstone_access_gate_total",
			Help: "アクセスゲートによるリダイレクト・拒否の件数",
		}, []string{"kind"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capstone_auth_logouts_total",
			Help: "ログアウトの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capstone_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "capstone_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capstone_sessions_purged_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.gate,
		c.logouts,
		c.httpStatus,
		c.requestLatency,
		c.sessionsPurged,
	)

	return c
}

// RecordLogin はOAuthコールバックの結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordGate はアクセスゲートの判定結果を記録する。
func (c *Collector) RecordGate(kind string) {
	c.gate.WithLabelValues(kind).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないAuthRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string)                 {}
func (Nop) RecordGate(string)                  {}
func (Nop) RecordLogout()                      {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordSessionsPurged(int64)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ AuthRecorder = (*Collector)(nil)
	_ AuthRecorder = Nop{}
)
