package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hotelhub/roomheating-exporter/internal/heating"
)

// sink receives every refreshed room list.
type sink interface {
	Name() string
	Publish(ctx context.Context, list *heating.RoomList) error
}

type roomSource interface {
	Updates(ctx context.Context, location string, caps heating.Capabilities) (*heating.RoomList, error)
}

// exporter refreshes the rooms of one location at a fixed interval and hands
// the result to every sink. A failing refresh or sink never stops the loop.
type exporter struct {
	location string
	interval time.Duration
	source   roomSource
	sinks    []sink
	metrics  *metrics
	logger   *zap.SugaredLogger
}

func newExporter(location string, interval time.Duration, source roomSource, m *metrics, sinks []sink, logger *zap.SugaredLogger) *exporter {
	return &exporter{
		location: location,
		interval: interval,
		source:   source,
		sinks:    sinks,
		metrics:  m,
		logger:   logger.With("location", location),
	}
}

func (e *exporter) Run(ctx context.Context) {
	e.logger.Infof("Starting room refresh every %s", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.refresh(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping room refresh")
			return
		case <-ticker.C:
		}
	}
}

func (e *exporter) refresh(ctx context.Context) {
	list, err := e.source.Updates(ctx, e.location, heating.Grant(heating.PermissionView))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.logger.Errorw("Room refresh failed", "error", err)
		if e.metrics != nil {
			e.metrics.countRefreshError(e.location)
		}
		return
	}
	e.logger.Debugw("Rooms refreshed", "rooms", len(list.Rooms))

	for _, s := range e.sinks {
		if err := s.Publish(ctx, list); err != nil {
			e.logger.Errorw("Publishing rooms failed", "sink", s.Name(), "error", err)
		}
	}
}
