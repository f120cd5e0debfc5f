package main

import (
	"context"
	"errors"
	"testing"

	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotelhub/roomheating-exporter/internal/heating"
)

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	w.points = append(w.points, point...)
	return w.err
}

func pointTags(p *write.Point) map[string]string {
	tags := map[string]string{}
	for _, t := range p.TagList() {
		tags[t.Key] = t.Value
	}
	return tags
}

func pointFields(p *write.Point) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func TestInfluxExporter_Publish(t *testing.T) {
	w := &recordingWriter{}
	e := &influxExporter{writer: w}
	list := sampleRoomList()

	require.NoError(t, e.Publish(context.Background(), list))
	require.Len(t, w.points, 3)

	room := w.points[0]
	assert.Equal(t, "roomheating_room", room.Name())
	assert.Equal(t, list.FetchedAt, room.Time())
	assert.Equal(t, map[string]string{
		"location": "seaside",
		"room_id":  "s-101",
		"room":     "Room 101",
		"category": "Standard",
	}, pointTags(room))
	fields := pointFields(room)
	assert.Equal(t, 20.5, fields["avg_temperature"])
	assert.Equal(t, "heating", fields["heating_status"])
	assert.Contains(t, fields, "min_battery")

	trv := w.points[1]
	assert.Equal(t, "roomheating_trv", trv.Name())
	assert.Equal(t, "climate.room_101_bedroom", pointTags(trv)["entity_id"])
	trvFields := pointFields(trv)
	assert.Equal(t, 22.0, trvFields["command_target_temperature"])
	assert.NotContains(t, trvFields, "wifi_signal")

	empty := pointFields(w.points[2])
	assert.NotContains(t, empty, "avg_temperature")
	assert.NotContains(t, empty, "min_battery")
	assert.Equal(t, "error", empty["heating_status"])
}

func TestInfluxExporter_WriteError(t *testing.T) {
	e := &influxExporter{writer: &recordingWriter{err: errors.New("bucket not found")}}
	err := e.Publish(context.Background(), sampleRoomList())
	assert.ErrorContains(t, err, "bucket not found")

	assert.NoError(t, e.Publish(context.Background(), &heating.RoomList{Location: "alpine"}))
}
