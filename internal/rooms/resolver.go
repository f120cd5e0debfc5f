package rooms

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hotelhub/roomheating-exporter/internal/hub"
)

// Entity naming grammar
//
//	climate.room_<digits>_<location>[_trv]              thermostat (TRV)
//	sensor.<base>_trv_battery                           companion sensors, <base> is the
//	sensor.<base>_trv_wifi_signal                       climate id without "climate." and
//	sensor.<base>_trv_valve_position                    without a trailing "_trv"
//	sensor.<base>_trv_target_temperature
//	binary_sensor.<normalized name>_should_heat         per room status, keyed by the
//	sensor.<normalized name>_<kind>                     normalized display name
//
// TRVs join on the room number, room status sensors join on the full normalized
// name. The two are provisioned by different parties and must stay separate.

const climatePrefix = "climate."

var (
	digitsPattern   = regexp.MustCompile(`\d+`)
	nonSlugPattern  = regexp.MustCompile(`[^a-z0-9_]`)
	locationPattern = regexp.MustCompile(`^climate\.room_\d+_(.+?)(?:_trv)?$`)
)

// RoomSensor names a per room status sensor.
type RoomSensor string

const (
	SensorShouldHeat   RoomSensor = "should_heat"
	SensorRoomState    RoomSensor = "room_state"
	SensorGuestName    RoomSensor = "guest_name"
	SensorArrival      RoomSensor = "arrival"
	SensorDeparture    RoomSensor = "departure"
	SensorHeatingStart RoomSensor = "heating_start_time"
	SensorCoolingStart RoomSensor = "cooling_start_time"
)

// Companions holds the derived sensor ids that belong to one climate entity.
type Companions struct {
	Battery       string
	WiFiSignal    string
	ValvePosition string
	TargetTemp    string
}

// ExtractRoomNumber returns the first run of digits in a room name, or "".
// "Room 101B" gives "101".
func ExtractRoomNumber(name string) string {
	return digitsPattern.FindString(name)
}

// NormalizeName lowercases, turns spaces into underscores and drops everything outside [a-z0-9_].
func NormalizeName(name string) string {
	n := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	return nonSlugPattern.ReplaceAllString(n, "")
}

// FindEntitiesByRoom returns the climate entities whose id starts with climate.room_<number>_.
// The trailing underscore keeps room 1 from matching room_10_*.
func FindEntitiesByRoom(snap *hub.Snapshot, roomNumber string) []hub.Entity {
	if snap == nil || roomNumber == "" {
		return nil
	}
	prefix := climatePrefix + "room_" + roomNumber + "_"

	var found []hub.Entity
	for _, e := range snap.Entities {
		if strings.HasPrefix(e.ID, prefix) {
			found = append(found, e)
		}
	}
	return found
}

// FindEntity looks an entity up by exact id.
func FindEntity(snap *hub.Snapshot, id string) (hub.Entity, bool) {
	return snap.Lookup(id)
}

// CompanionIDs derives the companion sensor ids of a climate entity.
func CompanionIDs(climateID string) Companions {
	base := strings.TrimPrefix(climateID, climatePrefix)
	base = strings.TrimSuffix(base, "_trv")
	stem := "sensor." + base + "_trv_"
	return Companions{
		Battery:       stem + "battery",
		WiFiSignal:    stem + "wifi_signal",
		ValvePosition: stem + "valve_position",
		TargetTemp:    stem + "target_temperature",
	}
}

// RoomSensorID builds the id of a per room status sensor from a normalized room name.
func RoomSensorID(normalized string, kind RoomSensor) string {
	if kind == SensorShouldHeat {
		return "binary_sensor." + normalized + "_" + string(kind)
	}
	return "sensor." + normalized + "_" + string(kind)
}

// LocationLabel turns climate.room_101_living_room into "Living room".
// Ids outside the grammar give "Unknown".
func LocationLabel(climateID string) string {
	m := locationPattern.FindStringSubmatch(climateID)
	if m == nil {
		return "Unknown"
	}
	label := strings.ReplaceAll(m[1], "_", " ")
	first, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(first)) + label[size:]
}
