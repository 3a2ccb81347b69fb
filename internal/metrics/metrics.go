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
// 認証サービスやプレゼンスハブから利用する。
type MetricsCollector interface {
	RecordSignIn(success bool)
	RecordSignOut()
	RecordProfileEnsure(outcome string)
	RecordAuxWrite(task string, err error)
	RecordAuthEvent(event string)
	RecordProviderLatency(op string, duration time.Duration)
	RecordPresenceChange(op string)
	SetPresenceClients(n int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn          *prometheus.CounterVec
	signOut         prometheus.Counter
	profileEnsure   *prometheus.CounterVec
	auxWrite        *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	presenceChanges *prometheus.CounterVec
	presenceClients prometheus.Gauge
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_sign_in_total",
			Help: "サインイン試行の合計数（結果別）",
		}, []string{"result"}),
		signOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulseboard_sign_out_total",
			Help: "サインアウトの合計数",
		}),
		profileEnsure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_profile_ensure_total",
			Help: "プロフィール存在保証の結果別の合計数",
		}, []string{"outcome"}),
		auxWrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_aux_write_total",
			Help: "サインイン・サインアウト時の補助書き込みの結果別の合計数",
		}, []string{"task", "result"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_auth_events_total",
			Help: "認証イベントの種別ごとの合計数",
		}, []string{"event"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulseboard_provider_latency_seconds",
			Help:    "認証プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		presenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_presence_changes_total",
			Help: "受信したプレゼンス変更通知の合計数",
		}, []string{"op"}),
		presenceClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulseboard_presence_clients",
			Help: "接続中のプレゼンス購読クライアント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signIn,
		c.signOut,
		c.profileEnsure,
		c.auxWrite,
		c.authEvents,
		c.providerLatency,
		c.presenceChanges,
		c.presenceClients,
		c.httpStatus,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(success bool) {
	c.signIn.WithLabelValues(resultLabel(success)).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut() {
	c.signOut.Inc()
}

// RecordProfileEnsure はプロフィール存在保証の結果を記録する。
func (c *Collector) RecordProfileEnsure(outcome string) {
	c.profileEnsure.WithLabelValues(outcome).Inc()
}

// RecordAuxWrite は補助書き込みの結果を記録する。
func (c *Collector) RecordAuxWrite(task string, err error) {
	c.auxWrite.WithLabelValues(task, resultLabel(err == nil)).Inc()
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordProviderLatency は認証プロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(op string, duration time.Duration) {
	c.providerLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPresenceChange はプレゼンス変更通知の受信を記録する。
func (c *Collector) RecordPresenceChange(op string) {
	c.presenceChanges.WithLabelValues(op).Inc()
}

// SetPresenceClients は接続中のプレゼンス購読クライアント数を設定する。
func (c *Collector) SetPresenceClients(n int) {
	c.presenceClients.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSignIn(bool)                          {}
func (Nop) RecordSignOut()                             {}
func (Nop) RecordProfileEnsure(string)                 {}
func (Nop) RecordAuxWrite(string, error)               {}
func (Nop) RecordAuthEvent(string)                     {}
func (Nop) RecordProviderLatency(string, time.Duration) {}
func (Nop) RecordPresenceChange(string)                {}
func (Nop) SetPresenceClients(int)                     {}
func (Nop) RecordHTTPStatus(int)                       {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
