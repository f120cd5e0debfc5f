package main

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api/write"

	"github.com/hotelhub/roomheating-exporter/internal/heating"
)

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type influxExporter struct {
	writer pointWriter
	close  func()
}

func newInfluxExporter(host, token, org, bucket string) *influxExporter {
	// Create a new client using an InfluxDB server base URL and an authentication token
	client := influxdb2.NewClient(host, token)
	return &influxExporter{
		writer: client.WriteAPIBlocking(org, bucket),
		close:  client.Close,
	}
}

func (e *influxExporter) Name() string {
	return "influxdb"
}

func (e *influxExporter) Publish(ctx context.Context, list *heating.RoomList) error {
	points := roomPoints(list)
	if len(points) == 0 {
		return nil
	}
	if err := e.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points: %w", len(points), err)
	}
	return nil
}

func (e *influxExporter) Close() {
	if e.close != nil {
		e.close()
	}
}

// roomPoints maps a room list to one roomheating_room point per room and one
// roomheating_trv point per TRV. Unknown readings are left out of the fields.
func roomPoints(list *heating.RoomList) []*write.Point {
	var points []*write.Point
	for _, room := range list.Rooms {
		fields := map[string]interface{}{
			"heating_status":    string(room.HeatingStatus),
			"battery_status":    string(room.BatteryStatus),
			"temperature_alert": room.TemperatureAlert,
			"trv_count":         len(room.TRVs),
		}
		if room.AvgTemperature != nil {
			fields["avg_temperature"] = *room.AvgTemperature
		}
		if room.MinBattery != nil {
			fields["min_battery"] = *room.MinBattery
		}
		points = append(points, write.NewPoint("roomheating_room",
			map[string]string{
				"location": list.Location,
				"room_id":  room.RoomID,
				"room":     room.RoomName,
				"category": room.Category,
			},
			fields, list.FetchedAt))

		for _, trv := range room.TRVs {
			trvFields := map[string]interface{}{
				"hvac_mode":          trv.HVACMode,
				"has_pending_target": trv.HasPendingTarget,
			}
			putFloat(trvFields, "current_temperature", trv.CurrentTemp)
			putFloat(trvFields, "target_temperature", trv.TargetTemp)
			putFloat(trvFields, "command_target_temperature", trv.CommandTarget)
			putInt(trvFields, "battery", trv.Battery)
			putInt(trvFields, "wifi_signal", trv.WiFiSignal)
			putInt(trvFields, "valve_position", trv.ValvePosition)

			points = append(points, write.NewPoint("roomheating_trv",
				map[string]string{
					"location":     list.Location,
					"room_id":      room.RoomID,
					"entity_id":    trv.EntityID,
					"trv_location": trv.Location,
				},
				trvFields, list.FetchedAt))
		}
	}
	return points
}

func putFloat(fields map[string]interface{}, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}

func putInt(fields map[string]interface{}, name string, v *int) {
	if v != nil {
		fields[name] = *v
	}
}
