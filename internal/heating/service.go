package heating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/hotelhub/roomheating-exporter/internal/cache"
	"github.com/hotelhub/roomheating-exporter/internal/config"
	"github.com/hotelhub/roomheating-exporter/internal/control"
	"github.com/hotelhub/roomheating-exporter/internal/hub"
	"github.com/hotelhub/roomheating-exporter/internal/rooms"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrLocationDisabled = errors.New("heating is disabled for this location")
)

// Settings returns the validated settings of a location.
type Settings interface {
	Location(id string) (config.LocationSettings, error)
}

// WriteObserver is told about every command a location hub accepted.
type WriteObserver func(location, domain, service string)

// RoomList is the aggregated state of every included room of a location.
type RoomList struct {
	Location   string           `json:"location"`
	FetchedAt  time.Time        `json:"fetched_at"`
	CanControl bool             `json:"can_control"`
	Rooms      []rooms.RoomView `json:"rooms"`
}

type site struct {
	settings   config.LocationSettings
	hub        *hub.Client
	controller *control.Controller
}

// Service is the entry point for callers. It checks capabilities, resolves the
// location and delegates to the hub client, the aggregator and the controller.
type Service struct {
	settings Settings
	catalog  rooms.Catalog
	kv       cache.KVStore
	control  control.Options
	logger   *zap.Logger

	mu        sync.Mutex
	sites     map[string]*site
	observers []WriteObserver
}

func NewService(settings Settings, catalog rooms.Catalog, kv cache.KVStore, opts control.Options, logger *zap.Logger) *Service {
	return &Service{
		settings: settings,
		catalog:  catalog,
		kv:       kv,
		control:  opts,
		logger:   logger,
		sites:    map[string]*site{},
	}
}

// OnWrite registers an observer for accepted commands. Only hubs created after
// the call are observed, so register before serving requests.
func (s *Service) OnWrite(observer WriteObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, observer)
	s.mu.Unlock()
}

func (s *Service) site(location string) (*site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.sites[location]; ok {
		return st, nil
	}
	settings, err := s.settings.Location(location)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("location", location))
	client := hub.NewClient(hub.Options{
		BaseURL:  settings.HAURL,
		Token:    settings.HAToken,
		Location: location,
		CacheTTL: settings.RefreshDuration(),
	}, s.kv, logger)
	for _, observer := range s.observers {
		observer := observer
		client.OnWrite(func(ctx context.Context, domain, service string) {
			observer(location, domain, service)
		})
	}

	st := &site{
		settings:   settings,
		hub:        client,
		controller: control.NewController(client, s.control, logger),
	}
	s.sites[location] = st
	return st, nil
}

func (s *Service) enabledSite(location string) (*site, error) {
	st, err := s.site(location)
	if err != nil {
		return nil, err
	}
	if !st.settings.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrLocationDisabled, location)
	}
	return st, nil
}

// Rooms serves the room list from the snapshot cache when it is fresh.
func (s *Service) Rooms(ctx context.Context, location string, caps Capabilities) (*RoomList, error) {
	return s.roomList(ctx, location, caps, true)
}

// Updates is the live variant of Rooms used for periodic refreshes.
func (s *Service) Updates(ctx context.Context, location string, caps Capabilities) (*RoomList, error) {
	return s.roomList(ctx, location, caps, false)
}

func (s *Service) roomList(ctx context.Context, location string, caps Capabilities, useCache bool) (*RoomList, error) {
	if !caps.Can(PermissionView) {
		return nil, ErrPermissionDenied
	}
	st, err := s.enabledSite(location)
	if err != nil {
		return nil, err
	}

	categories, err := s.catalog.Categories(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to load room catalog: %w", err)
	}
	snap, err := st.hub.Snapshot(ctx, useCache)
	if err != nil {
		return nil, fmt.Errorf("failed to load hub states: %w", err)
	}

	th := st.settings.Thresholds()
	placed := rooms.Included(categories)
	views := make([]rooms.RoomView, 0, len(placed))
	for _, p := range placed {
		views = append(views, rooms.Aggregate(p.Site, p.Category, snap, th))
	}
	slices.SortStableFunc(views, func(a, b rooms.RoomView) bool {
		if a.CategoryOrder != b.CategoryOrder {
			return a.CategoryOrder < b.CategoryOrder
		}
		return a.SiteOrder < b.SiteOrder
	})

	return &RoomList{
		Location:   location,
		FetchedAt:  snap.FetchedAt,
		CanControl: caps.Can(PermissionControl),
		Rooms:      views,
	}, nil
}

// RoomDetail aggregates one room from live state.
func (s *Service) RoomDetail(ctx context.Context, location, roomID string, caps Capabilities) (*rooms.RoomDetail, error) {
	if !caps.Can(PermissionView) {
		return nil, ErrPermissionDenied
	}
	st, err := s.enabledSite(location)
	if err != nil {
		return nil, err
	}

	categories, err := s.catalog.Categories(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to load room catalog: %w", err)
	}
	p, err := rooms.FindSite(categories, roomID)
	if err != nil {
		return nil, err
	}
	snap, err := st.hub.Snapshot(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load hub states: %w", err)
	}

	detail := rooms.Detail(p.Site, p.Category, snap, st.settings.Thresholds(), st.settings.ShowBookingInfo)
	detail.CanControl = caps.Can(PermissionControl)
	return &detail, nil
}

// SetTemperature sets and verifies the target of one thermostat.
func (s *Service) SetTemperature(ctx context.Context, location, entityID string, temperature float64, caps Capabilities) (control.Result, error) {
	if !caps.Can(PermissionControl) {
		return control.Result{EntityID: entityID, Outcome: control.OutcomeFailed}, ErrPermissionDenied
	}
	st, err := s.enabledSite(location)
	if err != nil {
		return control.Result{EntityID: entityID, Outcome: control.OutcomeFailed}, err
	}
	return st.controller.SetTemperature(ctx, entityID, temperature)
}

// SetAllTemperatures sends the same target to every listed thermostat without verification.
func (s *Service) SetAllTemperatures(ctx context.Context, location string, entityIDs []string, temperature float64, caps Capabilities) (control.BatchResult, error) {
	if !caps.Can(PermissionControl) {
		return control.BatchResult{}, ErrPermissionDenied
	}
	st, err := s.enabledSite(location)
	if err != nil {
		return control.BatchResult{}, err
	}
	return st.controller.SetAll(ctx, entityIDs, temperature)
}

// TestConnection probes the hub of a location. Disabled locations can be probed.
func (s *Service) TestConnection(ctx context.Context, location string) (hub.ConnectionResult, error) {
	st, err := s.site(location)
	if err != nil {
		return hub.ConnectionResult{}, err
	}
	return st.hub.TestConnection(ctx), nil
}
