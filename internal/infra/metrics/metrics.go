package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CodeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_code_requests_total",
		Help: "Запросы кода подтверждения",
	}, []string{"status"})

	SignInsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sign_ins_total",
		Help: "Попытки входа по коду",
	}, []string{"status"})

	ChannelProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_probes_total",
		Help: "Эмпирические проверки записываемости каналов",
	}, []string{"verdict"})

	PostTargetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "post_targets_total",
		Help: "Доставка поста по целям",
	}, []string{"status"})

	CaptionFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "post_caption_fallbacks_total",
		Help: "Повторные отправки текста из-за потерянной подписи",
	})

	DraftsStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drafts_stored_total",
		Help: "Сохранённые черновики",
	})

	DraftsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drafts_published_total",
		Help: "Исходы публикации черновиков планировщиком",
	}, []string{"status"})

	DispatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "post_dispatch_seconds",
		Help:    "Время рассылки поста по всем целям",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CodeRequestsTotal,
		SignInsTotal,
		ChannelProbesTotal,
		PostTargetsTotal,
		CaptionFallbacksTotal,
		DraftsStoredTotal,
		DraftsPublishedTotal,
		DispatchSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
