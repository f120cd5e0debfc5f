package rooms

import (
	"math"
	"time"

	"github.com/hotelhub/roomheating-exporter/internal/hub"
)

// TargetEpsilon is the tolerance for comparing target temperatures.
const TargetEpsilon = 0.1

// ValveCalibrationFailed is the valve position a TRV reports when calibration failed.
const ValveCalibrationFailed = -1

type HeatingStatus string

const (
	HeatingStatusHeating HeatingStatus = "heating"
	HeatingStatusIdle    HeatingStatus = "idle"
	HeatingStatusError   HeatingStatus = "error"
)

type BatteryStatus string

const (
	BatteryStatusOK       BatteryStatus = "ok"
	BatteryStatusWarning  BatteryStatus = "warning"
	BatteryStatusCritical BatteryStatus = "critical"
)

// Thresholds are the per location limits used when rating a room.
type Thresholds struct {
	BatteryWarning   int
	BatteryCritical  int
	AlertTemperature float64
}

// TRVView is the state of one thermostatic radiator valve.
type TRVView struct {
	EntityID         string    `json:"entity_id"`
	Location         string    `json:"location"`
	HVACMode         string    `json:"hvac_mode"`
	CurrentTemp      *float64  `json:"current_temp"`
	TargetTemp       *float64  `json:"target_temp"`
	CommandTarget    *float64  `json:"command_target_temp"`
	HasPendingTarget bool      `json:"has_pending_target"`
	Battery          *int      `json:"battery"`
	WiFiSignal       *int      `json:"wifi_signal"`
	ValvePosition    *int      `json:"valve_position"`
	LastUpdated      time.Time `json:"last_updated"`
}

// ValveCalibrationFailed reports the -1 valve position sentinel.
func (t TRVView) ValveCalibrationFailed() bool {
	return t.ValvePosition != nil && *t.ValvePosition == ValveCalibrationFailed
}

// WiFiQuality rates the signal: good, fair below -70 dBm, poor below -80 dBm. Empty without data.
func (t TRVView) WiFiQuality() string {
	if t.WiFiSignal == nil {
		return ""
	}
	switch s := *t.WiFiSignal; {
	case s < -80:
		return "poor"
	case s < -70:
		return "fair"
	default:
		return "good"
	}
}

// RoomView is the aggregated heating state of one room.
type RoomView struct {
	RoomID           string        `json:"room_id"`
	RoomName         string        `json:"room_name"`
	Category         string        `json:"category"`
	CategoryID       string        `json:"category_id"`
	CategoryOrder    int           `json:"category_order"`
	SiteOrder        int           `json:"site_order"`
	HeatingStatus    HeatingStatus `json:"heating_status"`
	RoomState        *string       `json:"room_state"`
	HeatingStart     *string       `json:"heating_start"`
	CoolingStart     *string       `json:"cooling_start"`
	AvgTemperature   *float64      `json:"avg_temperature"`
	TemperatureAlert bool          `json:"temperature_alert"`
	MinBattery       *int          `json:"min_battery"`
	BatteryStatus    BatteryStatus `json:"battery_status"`
	TRVs             []TRVView     `json:"trvs"`
}

// Booking is the guest information published by the booking integration.
type Booking struct {
	GuestName    *string `json:"guest_name"`
	Arrival      *string `json:"arrival"`
	Departure    *string `json:"departure"`
	HeatingStart *string `json:"heating_start"`
	CoolingStart *string `json:"cooling_start"`
}

// RoomDetail is the full view of a single room.
type RoomDetail struct {
	RoomView
	ShouldHeat bool     `json:"should_heat"`
	CanControl bool     `json:"can_control"`
	Booking    *Booking `json:"booking,omitempty"`
}

// Aggregate builds the view of one room from a snapshot. Input must already be
// filtered for excluded categories and sites.
func Aggregate(site Site, category Category, snap *hub.Snapshot, th Thresholds) RoomView {
	number := ExtractRoomNumber(site.Name)
	normalized := NormalizeName(site.Name)

	view := RoomView{
		RoomID:        site.ID,
		RoomName:      site.Name,
		Category:      category.Name,
		CategoryID:    category.ID,
		CategoryOrder: category.Order,
		SiteOrder:     site.Order,
		RoomState:     sensorState(snap, RoomSensorID(normalized, SensorRoomState)),
		HeatingStart:  sensorState(snap, RoomSensorID(normalized, SensorHeatingStart)),
		CoolingStart:  sensorState(snap, RoomSensorID(normalized, SensorCoolingStart)),
		TRVs:          []TRVView{},
	}

	climates := FindEntitiesByRoom(snap, number)
	if len(climates) == 0 {
		view.HeatingStatus = HeatingStatusError
	} else if shouldHeat(snap, normalized) {
		view.HeatingStatus = HeatingStatusHeating
	} else {
		view.HeatingStatus = HeatingStatusIdle
	}

	minBattery := 100
	sawBattery := false
	for _, climate := range climates {
		trv := buildTRV(climate, snap)
		if trv.Battery != nil {
			sawBattery = true
			if *trv.Battery < minBattery {
				minBattery = *trv.Battery
			}
		}
		view.TRVs = append(view.TRVs, trv)
	}

	view.AvgTemperature = averageTemperature(view.TRVs)
	if view.AvgTemperature != nil && th.AlertTemperature > 0 && *view.AvgTemperature < th.AlertTemperature {
		view.TemperatureAlert = true
	}

	if sawBattery {
		view.MinBattery = &minBattery
	}
	view.BatteryStatus = RateBattery(minBattery, th)
	return view
}

// Detail extends Aggregate with the should_heat flag and, optionally, booking information.
func Detail(site Site, category Category, snap *hub.Snapshot, th Thresholds, withBooking bool) RoomDetail {
	detail := RoomDetail{
		RoomView:   Aggregate(site, category, snap, th),
		ShouldHeat: shouldHeat(snap, NormalizeName(site.Name)),
	}
	if withBooking {
		normalized := NormalizeName(site.Name)
		detail.Booking = &Booking{
			GuestName:    sensorState(snap, RoomSensorID(normalized, SensorGuestName)),
			Arrival:      sensorState(snap, RoomSensorID(normalized, SensorArrival)),
			Departure:    sensorState(snap, RoomSensorID(normalized, SensorDeparture)),
			HeatingStart: detail.HeatingStart,
			CoolingStart: detail.CoolingStart,
		}
	}
	return detail
}

// RateBattery checks critical before warning, both inclusive.
func RateBattery(level int, th Thresholds) BatteryStatus {
	switch {
	case level <= th.BatteryCritical:
		return BatteryStatusCritical
	case level <= th.BatteryWarning:
		return BatteryStatusWarning
	default:
		return BatteryStatusOK
	}
}

// HasPendingTarget is true only when both values are known and differ by more than TargetEpsilon.
func HasPendingTarget(climateTarget, commandTarget *float64) bool {
	if climateTarget == nil || commandTarget == nil {
		return false
	}
	return math.Abs(*commandTarget-*climateTarget) > TargetEpsilon
}

func buildTRV(climate hub.Entity, snap *hub.Snapshot) TRVView {
	ids := CompanionIDs(climate.ID)
	trv := TRVView{
		EntityID:      climate.ID,
		Location:      LocationLabel(climate.ID),
		HVACMode:      climate.State,
		CurrentTemp:   floatAttr(climate, "current_temperature"),
		TargetTemp:    floatAttr(climate, "temperature"),
		CommandTarget: sensorFloat(snap, ids.TargetTemp),
		Battery:       sensorInt(snap, ids.Battery),
		WiFiSignal:    sensorInt(snap, ids.WiFiSignal),
		ValvePosition: sensorInt(snap, ids.ValvePosition),
		LastUpdated:   climate.LastUpdated,
	}
	if trv.HVACMode == "" {
		trv.HVACMode = "unknown"
	}
	trv.HasPendingTarget = HasPendingTarget(trv.TargetTemp, trv.CommandTarget)
	return trv
}

func shouldHeat(snap *hub.Snapshot, normalized string) bool {
	e, ok := FindEntity(snap, RoomSensorID(normalized, SensorShouldHeat))
	return ok && e.State == "on"
}

// averageTemperature ignores zero and negative readings and rounds to one decimal.
func averageTemperature(trvs []TRVView) *float64 {
	var sum float64
	var n int
	for _, t := range trvs {
		if t.CurrentTemp != nil && *t.CurrentTemp > 0 {
			sum += *t.CurrentTemp
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*10) / 10
	return &avg
}

func floatAttr(e hub.Entity, name string) *float64 {
	v, ok := e.Attributes.Float(name)
	if !ok {
		return nil
	}
	return &v
}

func sensorState(snap *hub.Snapshot, id string) *string {
	e, ok := FindEntity(snap, id)
	if !ok {
		return nil
	}
	s := e.State
	return &s
}

func sensorFloat(snap *hub.Snapshot, id string) *float64 {
	e, ok := FindEntity(snap, id)
	if !ok {
		return nil
	}
	v, ok := e.NumericState()
	if !ok {
		return nil
	}
	return &v
}

func sensorInt(snap *hub.Snapshot, id string) *int {
	v := sensorFloat(snap, id)
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
