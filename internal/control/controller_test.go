package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hotelhub/roomheating-exporter/internal/hub"
)

const bedroom = "climate.room_101_bedroom"

// fakeHub serves a scripted sequence of snapshots, one per live poll.
type fakeHub struct {
	mu        sync.Mutex
	polls     int
	frames    []frame
	callErr   map[string]error
	calls     []map[string]any
	pollErr   error
	cachedUse int
}

type frame struct {
	climateTarget *float64
	commandTarget string
	err           error
}

func f64(v float64) *float64 { return &v }

func (f *fakeHub) Snapshot(ctx context.Context, useCache bool) (*hub.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if useCache {
		f.cachedUse++
	}
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	fr := f.frames[len(f.frames)-1]
	if f.polls <= len(f.frames) {
		fr = f.frames[f.polls-1]
	}
	if fr.err != nil {
		return nil, fr.err
	}

	climate := hub.Entity{ID: bedroom, State: "heat", Attributes: hub.Attributes{}}
	if fr.climateTarget != nil {
		raw, _ := json.Marshal(*fr.climateTarget)
		climate.Attributes["temperature"] = raw
	}
	entities := []hub.Entity{climate}
	if fr.commandTarget != "" {
		entities = append(entities, hub.Entity{ID: "sensor.room_101_bedroom_trv_target_temperature", State: fr.commandTarget})
	}
	return hub.NewSnapshot(entities, time.Now()), nil
}

func (f *fakeHub) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, data)
	if err, ok := f.callErr[data["entity_id"].(string)]; ok {
		return err
	}
	return nil
}

func newTestController(h Hub) *Controller {
	return NewController(h, Options{PollInterval: time.Millisecond}, zap.NewNop())
}

func TestSetTemperature_ConfirmedOnThirdAttempt(t *testing.T) {
	h := &fakeHub{frames: []frame{
		{climateTarget: f64(19.0)},
		{climateTarget: f64(19.0)},
		{climateTarget: f64(21.0)},
		{climateTarget: f64(21.0)},
	}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.Target)
	assert.Equal(t, 21.0, *res.Target)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, h.polls, "no polls after confirmation")
	assert.Equal(t, 0, h.cachedUse, "verification must read live state")

	require.Len(t, h.calls, 1)
	assert.Equal(t, bedroom, h.calls[0]["entity_id"])
	assert.Equal(t, 21.0, h.calls[0]["temperature"])
}

func TestSetTemperature_ConfirmedWithinEpsilon(t *testing.T) {
	h := &fakeHub{frames: []frame{{climateTarget: f64(21.05)}}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 21.05, *res.Target)
	assert.Equal(t, 1, res.Attempts)
}

func TestSetTemperature_PendingWhenValveAsleep(t *testing.T) {
	h := &fakeHub{frames: []frame{
		{climateTarget: f64(19.0), commandTarget: "19.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.05"},
	}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	require.NotNil(t, res.Target)
	assert.Equal(t, 21.05, *res.Target)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, h.polls)
}

func TestSetTemperature_PendingUsesFinalAttemptOnly(t *testing.T) {
	h := &fakeHub{frames: []frame{
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "21.0"},
		{climateTarget: f64(19.0), commandTarget: "18.0"},
	}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnverified, res.Outcome)
	assert.Nil(t, res.Target)
}

func TestSetTemperature_UnverifiedWhenNothingConfirms(t *testing.T) {
	h := &fakeHub{frames: []frame{{climateTarget: f64(19.0)}}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnverified, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
}

func TestSetTemperature_PollErrorsConsumeAttempts(t *testing.T) {
	h := &fakeHub{frames: []frame{
		{err: &hub.TransportError{Endpoint: "/api/states", Err: errors.New("reset")}},
		{climateTarget: f64(21.0)},
	}}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)

	h = &fakeHub{frames: []frame{{climateTarget: f64(19.0)}}, pollErr: errors.New("down")}
	res, err = newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnverified, res.Outcome)
}

func TestSetTemperature_SendFailure(t *testing.T) {
	sendErr := &hub.HTTPError{Endpoint: "/api/services/climate/set_temperature", Status: 500}
	h := &fakeHub{
		frames:  []frame{{climateTarget: f64(21.0)}},
		callErr: map[string]error{bedroom: sendErr},
	}

	res, err := newTestController(h).SetTemperature(context.Background(), bedroom, 21.0)
	require.Error(t, err)
	var httpErr *hub.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, h.polls)
}

func TestSetTemperature_InvalidParameters(t *testing.T) {
	h := &fakeHub{frames: []frame{{}}}
	c := newTestController(h)

	_, err := c.SetTemperature(context.Background(), "", 21.0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = c.SetTemperature(context.Background(), "sensor.room_101_bedroom_trv_battery", 21.0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = c.SetTemperature(context.Background(), bedroom, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.Empty(t, h.calls)
}

func TestSetTemperature_CancelStopsPolling(t *testing.T) {
	h := &fakeHub{frames: []frame{{climateTarget: f64(19.0)}}}
	c := NewController(h, Options{PollInterval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		res, err = c.SetTemperature(ctx, bedroom, 21.0)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not stop after cancel")
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeUnverified, res.Outcome)
	assert.Equal(t, 0, h.polls)
}

func TestSetAll_PartialFailure(t *testing.T) {
	ids := []string{"climate.room_101_a", "climate.room_101_b", "climate.room_101_c"}
	h := &fakeHub{
		frames:  []frame{{}},
		callErr: map[string]error{"climate.room_101_b": fmt.Errorf("boom")},
	}

	res, err := newTestController(h).SetAll(context.Background(), ids, 20.5)
	require.NoError(t, err)
	assert.Equal(t, BatchPartialFailure, res.Outcome)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Total)
	assert.Contains(t, res.Errors, "climate.room_101_b")
	assert.Len(t, h.calls, 3, "a failing send must not stop the others")
	assert.Equal(t, 0, h.polls, "set-all does not verify")
}

func TestSetAll_AllSucceededAndAllFailed(t *testing.T) {
	ids := []string{"climate.room_101_a", "climate.room_101_b"}

	res, err := newTestController(&fakeHub{frames: []frame{{}}}).SetAll(context.Background(), ids, 20.5)
	require.NoError(t, err)
	assert.Equal(t, BatchAllSucceeded, res.Outcome)
	assert.Equal(t, 0, res.Failed)

	h := &fakeHub{frames: []frame{{}}, callErr: map[string]error{
		"climate.room_101_a": errors.New("x"),
		"climate.room_101_b": errors.New("y"),
	}}
	res, err = newTestController(h).SetAll(context.Background(), ids, 20.5)
	require.NoError(t, err)
	assert.Equal(t, BatchAllFailed, res.Outcome)
	assert.Equal(t, 2, res.Failed)
}

func TestSetAll_InvalidParameters(t *testing.T) {
	c := newTestController(&fakeHub{frames: []frame{{}}})
	_, err := c.SetAll(context.Background(), nil, 20)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = c.SetAll(context.Background(), []string{"climate.room_1_a"}, -3)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestSetAll_InvalidEntityCountsAsOneFailure(t *testing.T) {
	h := &fakeHub{frames: []frame{{}}}
	ids := []string{"climate.room_101_a", "", "climate.room_101_c"}

	res, err := newTestController(h).SetAll(context.Background(), ids, 20)
	require.NoError(t, err)
	assert.Equal(t, BatchPartialFailure, res.Outcome)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Total)
	assert.ErrorIs(t, res.Errors[""], ErrInvalidParameters)
	assert.Len(t, h.calls, 2, "valid entities are still sent")

	res, err = newTestController(h).SetAll(context.Background(), []string{"sensor.room_101_a"}, 20)
	require.NoError(t, err)
	assert.Equal(t, BatchAllFailed, res.Outcome)
	assert.Len(t, h.calls, 2)
}

func TestSetAll_DuplicateIDsCountEverySend(t *testing.T) {
	h := &fakeHub{
		frames:  []frame{{}},
		callErr: map[string]error{"climate.room_101_a": errors.New("boom")},
	}
	ids := []string{"climate.room_101_a", "climate.room_101_a", "climate.room_101_b"}

	res, err := newTestController(h).SetAll(context.Background(), ids, 20)
	require.NoError(t, err)
	assert.Equal(t, BatchPartialFailure, res.Outcome)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Errors, 1)
	assert.Len(t, h.calls, 3)
}
