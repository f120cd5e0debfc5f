package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hotelhub/roomheating-exporter/internal/heating"
	"github.com/hotelhub/roomheating-exporter/internal/rooms"
)

type metrics struct {
	roomTemperature  *prometheus.GaugeVec
	roomAlert        *prometheus.GaugeVec
	roomHeating      *prometheus.GaugeVec
	roomMinBattery   *prometheus.GaugeVec
	roomBatteryLevel *prometheus.GaugeVec
	trvTemperature   *prometheus.GaugeVec
	trvTarget        *prometheus.GaugeVec
	trvCommandTarget *prometheus.GaugeVec
	trvBattery       *prometheus.GaugeVec
	trvWiFiSignal    *prometheus.GaugeVec
	trvValvePosition *prometheus.GaugeVec
	refreshErrors    *prometheus.CounterVec
	commands         *prometheus.CounterVec
}

var (
	roomLabels = []string{"location", "room_id", "room", "category"}
	trvLabels  = []string{"location", "room_id", "entity_id", "trv_location"}
)

func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		roomTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_room_temperature",
				Help: "Average room temperature in degree celsius over all valid TRV readings.",
			},
			roomLabels),
		roomAlert: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_room_temperature_alert",
				Help: "1 if the average room temperature is below the alert threshold.",
			},
			roomLabels,
		),
		roomHeating: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_room_heating_status",
				Help: "Heating status of a room, one series per status set to 1 for the current one.",
			},
			append(roomLabels, "status"),
		),
		roomMinBattery: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_room_min_battery_percent",
				Help: "Lowest TRV battery level of a room.",
			},
			roomLabels,
		),
		roomBatteryLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_room_battery_status",
				Help: "Battery rating of a room, one series per rating set to 1 for the current one.",
			},
			append(roomLabels, "status"),
		),
		trvTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_temperature",
				Help: "Current temperature measured by a TRV.",
			},
			trvLabels,
		),
		trvTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_target_temperature",
				Help: "Target temperature reported by a TRV.",
			},
			trvLabels,
		),
		trvCommandTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_command_target_temperature",
				Help: "Last commanded target temperature, applied when the TRV wakes up.",
			},
			trvLabels,
		),
		trvBattery: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_battery_percent",
				Help: "Battery level of a TRV.",
			},
			trvLabels,
		),
		trvWiFiSignal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_wifi_signal_dbm",
				Help: "WiFi signal strength of a TRV.",
			},
			trvLabels,
		),
		trvValvePosition: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomheating_trv_valve_position_percent",
				Help: "Valve opening of a TRV, -1 if calibration failed.",
			},
			trvLabels,
		),
		refreshErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomheating_refresh_errors_total",
				Help: "Failed room refreshes per location.",
			},
			[]string{"location"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomheating_commands_total",
				Help: "Commands accepted by the hub.",
			},
			[]string{"location", "domain", "service"},
		),
	}
	reg.MustRegister(m.roomTemperature)
	reg.MustRegister(m.roomAlert)
	reg.MustRegister(m.roomHeating)
	reg.MustRegister(m.roomMinBattery)
	reg.MustRegister(m.roomBatteryLevel)
	reg.MustRegister(m.trvTemperature)
	reg.MustRegister(m.trvTarget)
	reg.MustRegister(m.trvCommandTarget)
	reg.MustRegister(m.trvBattery)
	reg.MustRegister(m.trvWiFiSignal)
	reg.MustRegister(m.trvValvePosition)
	reg.MustRegister(m.refreshErrors)
	reg.MustRegister(m.commands)
	return m
}

func (m *metrics) Name() string {
	return "prometheus"
}

// Publish replaces every series of the location with the values of the list.
// Rooms or TRVs that disappeared stop being exported.
func (m *metrics) Publish(ctx context.Context, list *heating.RoomList) error {
	m.reset(list.Location)

	for _, room := range list.Rooms {
		labels := prometheus.Labels{
			"location": list.Location,
			"room_id":  room.RoomID,
			"room":     room.RoomName,
			"category": room.Category,
		}
		if room.AvgTemperature != nil {
			m.roomTemperature.With(labels).Set(*room.AvgTemperature)
		}
		m.roomAlert.With(labels).Set(boolToFloat(room.TemperatureAlert))
		if room.MinBattery != nil {
			m.roomMinBattery.With(labels).Set(float64(*room.MinBattery))
		}
		for _, status := range []rooms.HeatingStatus{rooms.HeatingStatusHeating, rooms.HeatingStatusIdle, rooms.HeatingStatusError} {
			m.roomHeating.With(withLabel(labels, "status", string(status))).Set(boolToFloat(room.HeatingStatus == status))
		}
		for _, status := range []rooms.BatteryStatus{rooms.BatteryStatusOK, rooms.BatteryStatusWarning, rooms.BatteryStatusCritical} {
			m.roomBatteryLevel.With(withLabel(labels, "status", string(status))).Set(boolToFloat(room.BatteryStatus == status))
		}

		for _, trv := range room.TRVs {
			trvLabels := prometheus.Labels{
				"location":     list.Location,
				"room_id":      room.RoomID,
				"entity_id":    trv.EntityID,
				"trv_location": trv.Location,
			}
			setIfKnown(m.trvTemperature, trvLabels, trv.CurrentTemp)
			setIfKnown(m.trvTarget, trvLabels, trv.TargetTemp)
			setIfKnown(m.trvCommandTarget, trvLabels, trv.CommandTarget)
			setIntIfKnown(m.trvBattery, trvLabels, trv.Battery)
			setIntIfKnown(m.trvWiFiSignal, trvLabels, trv.WiFiSignal)
			setIntIfKnown(m.trvValvePosition, trvLabels, trv.ValvePosition)
		}
	}
	return nil
}

func (m *metrics) reset(location string) {
	match := prometheus.Labels{"location": location}
	for _, vec := range []*prometheus.GaugeVec{
		m.roomTemperature, m.roomAlert, m.roomHeating, m.roomMinBattery, m.roomBatteryLevel,
		m.trvTemperature, m.trvTarget, m.trvCommandTarget, m.trvBattery, m.trvWiFiSignal, m.trvValvePosition,
	} {
		vec.DeletePartialMatch(match)
	}
}

func (m *metrics) countRefreshError(location string) {
	m.refreshErrors.WithLabelValues(location).Inc()
}

func (m *metrics) countCommand(location, domain, service string) {
	m.commands.WithLabelValues(location, domain, service).Inc()
}

func withLabel(labels prometheus.Labels, name, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[name] = value
	return out
}

func setIfKnown(vec *prometheus.GaugeVec, labels prometheus.Labels, v *float64) {
	if v != nil {
		vec.With(labels).Set(*v)
	}
}

func setIntIfKnown(vec *prometheus.GaugeVec, labels prometheus.Labels, v *int) {
	if v != nil {
		vec.With(labels).Set(float64(*v))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
