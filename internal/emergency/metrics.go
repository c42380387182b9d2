package emergency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Активации: сколько раз «вскрывали стекло» и чем закончилось
	ActivationsTotal *prometheus.CounterVec // result: activated / rejected / error

	// Привилегированные операции внутри окна
	DecodesTotal  *prometheus.CounterVec // status: success / denied / failed
	MonitorsTotal *prometheus.CounterVec // status: started / denied

	// Состояние окна: 1 — открыто, 0 — закрыто
	WindowActive prometheus.Gauge

	// Остаток окна в секундах (для алертов «окно скоро закроется»)
	WindowRemaining prometheus.Gauge

	// Журнал: записи и синхронные эскалации
	AuditEventsTotal *prometheus.CounterVec // kind
	EscalationsTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ActivationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "emergency_activations_total",
			Help: "Break-glass activation attempts by result.",
		}, []string{"result"}),

		DecodesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "emergency_decodes_total",
			Help: "Subject decode operations by status.",
		}, []string{"status"}),

		MonitorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "emergency_audio_sessions_total",
			Help: "Audio monitoring sessions by status.",
		}, []string{"status"}),

		WindowActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "emergency_window_active",
			Help: "Whether an emergency window is currently open (0/1).",
		}),

		WindowRemaining: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "emergency_window_remaining_seconds",
			Help: "Seconds until the active window auto-expires.",
		}),

		AuditEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "emergency_audit_events_total",
			Help: "Audit ledger events by kind.",
		}, []string{"kind"}),

		EscalationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "emergency_escalations_total",
			Help: "Synchronous security escalations sent to authorities.",
		}),
	}
}
