package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotelhub/roomheating-exporter/internal/hub"
	"github.com/hotelhub/roomheating-exporter/internal/rooms"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 5
	DefaultConcurrency  = 8

	climateDomain     = "climate"
	setTemperatureSvc = "set_temperature"
)

// ErrInvalidParameters rejects a command before anything is sent.
var ErrInvalidParameters = errors.New("invalid parameters")

// Hub is the subset of the hub client the controller needs.
type Hub interface {
	Snapshot(ctx context.Context, useCache bool) (*hub.Snapshot, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

type Outcome string

const (
	// OutcomeConfirmed means the climate entity reports the new target.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomePending means only the command sensor has the new target; the valve is presumed asleep.
	OutcomePending Outcome = "pending"
	// OutcomeUnverified means the command was accepted but neither entity confirmed it.
	OutcomeUnverified Outcome = "unverified"
	// OutcomeFailed means the command was not accepted by the hub.
	OutcomeFailed Outcome = "failed"
)

// Result is the terminal state of a single set temperature command.
type Result struct {
	EntityID string  `json:"entity_id"`
	Outcome  Outcome `json:"outcome"`
	// Target is the confirmed climate target or the pending command target.
	Target   *float64 `json:"target,omitempty"`
	Attempts int      `json:"attempts"`
}

type BatchOutcome string

const (
	BatchAllSucceeded   BatchOutcome = "all_succeeded"
	BatchPartialFailure BatchOutcome = "partial_failure"
	BatchAllFailed      BatchOutcome = "all_failed"
)

// BatchResult summarises a set-all command. Failed counts every failed send, so a
// duplicated id counts once per send; Errors keeps the first error per id.
type BatchResult struct {
	Outcome BatchOutcome     `json:"outcome"`
	Failed  int              `json:"failed"`
	Total   int              `json:"total"`
	Errors  map[string]error `json:"-"`
}

// Options tune the verification loop.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	Concurrency  int
}

// Controller sends set temperature commands and verifies that they took effect.
type Controller struct {
	hub          Hub
	logger       *zap.Logger
	pollInterval time.Duration
	maxAttempts  int
	concurrency  int
}

func NewController(h Hub, opts Options, logger *zap.Logger) *Controller {
	c := &Controller{
		hub:          h,
		logger:       logger,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		concurrency:  opts.Concurrency,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	return c
}

func validate(entityID string, temperature float64) error {
	if err := validateEntity(entityID); err != nil {
		return err
	}
	return validateTemperature(temperature)
}

func validateEntity(entityID string) error {
	if entityID == "" || !strings.HasPrefix(entityID, "climate.") {
		return fmt.Errorf("%w: entity %q is not a climate entity", ErrInvalidParameters, entityID)
	}
	return nil
}

func validateTemperature(temperature float64) error {
	if temperature <= 0 || math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return fmt.Errorf("%w: temperature %v", ErrInvalidParameters, temperature)
	}
	return nil
}

func (c *Controller) send(ctx context.Context, entityID string, temperature float64) error {
	return c.hub.CallService(ctx, climateDomain, setTemperatureSvc, map[string]any{
		"entity_id":   entityID,
		"temperature": temperature,
	})
}

// SetTemperature sends the command and polls live state until the climate entity
// reports the new target or the attempts run out. A send failure is returned as error;
// a verification that runs out is not an error.
func (c *Controller) SetTemperature(ctx context.Context, entityID string, temperature float64) (Result, error) {
	if err := validate(entityID, temperature); err != nil {
		return Result{EntityID: entityID, Outcome: OutcomeFailed}, err
	}

	logger := c.logger.With(
		zap.String("command_id", uuid.NewString()),
		zap.String("entity_id", entityID),
		zap.Float64("temperature", temperature),
	)

	if err := c.send(ctx, entityID, temperature); err != nil {
		logger.Error("Set temperature command failed", zap.Error(err))
		return Result{EntityID: entityID, Outcome: OutcomeFailed}, fmt.Errorf("set temperature on %s: %w", entityID, err)
	}
	logger.Info("Set temperature command accepted, verifying")

	return c.verify(ctx, logger, entityID, temperature)
}

func (c *Controller) verify(ctx context.Context, logger *zap.Logger, entityID string, expected float64) (Result, error) {
	companions := rooms.CompanionIDs(entityID)
	res := Result{EntityID: entityID}

	var commandTarget *float64
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := wait(ctx, c.pollInterval); err != nil {
			logger.Warn("Verification cancelled", zap.Int("attempt", attempt), zap.Error(err))
			res.Outcome = OutcomeUnverified
			return res, err
		}
		res.Attempts = attempt

		snap, err := c.hub.Snapshot(ctx, false)
		if err != nil {
			logger.Warn("Verification poll failed", zap.Int("attempt", attempt), zap.Error(err))
			commandTarget = nil
			continue
		}

		if climate, ok := rooms.FindEntity(snap, entityID); ok {
			if target, ok := climate.Attributes.Float("temperature"); ok && withinEpsilon(target, expected) {
				logger.Info("Temperature confirmed by device", zap.Int("attempt", attempt))
				res.Outcome = OutcomeConfirmed
				res.Target = &target
				return res, nil
			}
		}

		commandTarget = nil
		if sensor, ok := rooms.FindEntity(snap, companions.TargetTemp); ok {
			if v, ok := sensor.NumericState(); ok {
				commandTarget = &v
			}
		}
	}

	if commandTarget != nil && withinEpsilon(*commandTarget, expected) {
		logger.Info("Temperature pending, valve presumed asleep", zap.Float64("command_target", *commandTarget))
		res.Outcome = OutcomePending
		res.Target = commandTarget
		return res, nil
	}

	logger.Warn("Temperature command sent but not verified", zap.Int("attempts", res.Attempts))
	res.Outcome = OutcomeUnverified
	return res, nil
}

// SetAll sends one command per entity concurrently. Verification is not performed;
// the outcome counts failed sends, including rejected entity ids. A failing send
// never aborts the others. Only an empty list or an invalid temperature rejects the batch.
func (c *Controller) SetAll(ctx context.Context, entityIDs []string, temperature float64) (BatchResult, error) {
	if len(entityIDs) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no entities", ErrInvalidParameters)
	}
	if err := validateTemperature(temperature); err != nil {
		return BatchResult{}, err
	}

	errs := sendAll(ctx, entityIDs, c.concurrency, func(ctx context.Context, id string) error {
		if err := validateEntity(id); err != nil {
			return err
		}
		return c.send(ctx, id, temperature)
	})

	res := BatchResult{Total: len(entityIDs), Errors: make(map[string]error)}
	for i, err := range errs {
		if err == nil {
			continue
		}
		res.Failed++
		if _, seen := res.Errors[entityIDs[i]]; !seen {
			res.Errors[entityIDs[i]] = err
		}
	}
	switch {
	case res.Failed == 0:
		res.Outcome = BatchAllSucceeded
	case res.Failed < res.Total:
		res.Outcome = BatchPartialFailure
	default:
		res.Outcome = BatchAllFailed
	}

	c.logger.Info("Set all temperatures finished",
		zap.Float64("temperature", temperature),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("failed", res.Failed),
		zap.Int("total", res.Total),
	)
	for id, err := range res.Errors {
		c.logger.Warn("Set temperature failed", zap.String("entity_id", id), zap.Error(err))
	}
	return res, nil
}

func withinEpsilon(a, b float64) bool {
	return math.Abs(a-b) <= rooms.TargetEpsilon
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
