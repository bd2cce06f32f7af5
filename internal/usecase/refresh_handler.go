package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	pkgkafka "BrentBreaks/pkg/kafka"
	xlogger "BrentBreaks/pkg/logger"
)

// RefreshMessage announces that the price source has new data.
// With Warm set, a run of the default configuration is scheduled right away.
type RefreshMessage struct {
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
	Warm   bool   `json:"warm,omitempty"`
}

// RefreshHandler consumes source-refresh messages. It drops the cached
// dataset so the next query sees the new series under a new fingerprint.
type RefreshHandler struct {
	topic     string
	base      models.AnalysisConfig
	dataset   *DatasetService
	runner    *Runner
	scheduler RunScheduler
	metrics   domrepo.Metrics
	l         *xlogger.Logger
}

func NewRefreshHandler(topic string, base models.AnalysisConfig, dataset *DatasetService, runner *Runner, scheduler RunScheduler, metrics domrepo.Metrics, l *xlogger.Logger) *RefreshHandler {
	if l == nil {
		l = xlogger.Nop()
	}
	return &RefreshHandler{
		topic:     topic,
		base:      base,
		dataset:   dataset,
		runner:    runner,
		scheduler: scheduler,
		metrics:   metrics,
		l:         l,
	}
}

func (h *RefreshHandler) Topic() string { return h.topic }

func (h *RefreshHandler) Handle(ctx context.Context, b []byte) error {
	var m RefreshMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.recordError("refresh_unmarshal")
		return fmt.Errorf("decode refresh message: %w", err)
	}
	h.dataset.Invalidate()
	h.l.Info("price source refreshed",
		xlogger.String("source", m.Source),
		xlogger.String("reason", m.Reason),
		xlogger.Bool("warm", m.Warm))

	if !m.Warm || h.scheduler == nil {
		return nil
	}
	_, fp, err := h.runner.Resolve(ctx, h.base)
	if err != nil {
		h.recordError("refresh_resolve")
		return err
	}
	if _, err := h.scheduler.Schedule(ctx, h.base, fp); err != nil {
		h.recordError("refresh_schedule")
		return err
	}
	return nil
}

func (h *RefreshHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*RefreshHandler)(nil)
