package dm

import "math"

// Field type discriminators used by Digital Matter trackers.
const (
	FTypeGPS           = 0
	FTypeDigitalInputs = 2
	FTypeAnalogue      = 6
	FTypeTripData      = 9
	FTypeCounters      = 27
)

// Event is a normalized telemetry event: a sparse mapping from semantic
// field name to value. Only keys with source data present are populated.
type Event map[string]interface{}

// Decode normalizes one record. It is a pure function over its input: it
// applies the fixed unit conversions and the reason-code translation, emits
// raw converted odometer/run-hour values (offsets are the caller's concern)
// and silently skips unknown field types.
func Decode(record Record) Event {
	event := Event{
		"uplink_reason":      UplinkReason(record.Reason),
		"uplink_reason_code": record.Reason,
	}
	if record.DateUTC != "" {
		event["device_time_utc"] = record.DateUTC
	}
	if record.SeqNo != nil {
		event["sequence_number"] = *record.SeqNo
	}

	for _, f := range record.Fields {
		switch f.FType {
		case FTypeGPS:
			if f.Lat != 0 && f.Long != 0 {
				event["position"] = map[string]interface{}{
					"lat":  f.Lat,
					"long": f.Long,
					"alt":  f.Alt,
				}
				// speed on the wire is cm/s
				event["speed_kmh"] = f.Spd * 0.036
				event["heading"] = f.Head
				accuracy := 99.0
				if f.PosAcc != nil {
					accuracy = *f.PosAcc
				}
				event["gps_accuracy_m"] = accuracy
				if f.PDOP != nil {
					event["pdop"] = *f.PDOP
				}
			} else {
				// no fix
				event["gps_accuracy_m"] = 99.0
			}

		case FTypeDigitalInputs:
			event["ignition_on"] = f.DIn&0b001 != 0
			event["digital_input_2"] = f.DIn&0b010 != 0
			event["digital_input_3"] = f.DIn&0b100 != 0

		case FTypeAnalogue:
			// 1: internal battery (mV), 2: system voltage (cV),
			// 3: device temperature (cC), 4: signal quality (0-31)
			if v, ok := f.AnalogueData["1"]; ok {
				event["battery_voltage"] = v / 1000
			}
			if v, ok := f.AnalogueData["2"]; ok {
				event["system_voltage"] = v / 100
			}
			if v, ok := f.AnalogueData["3"]; ok {
				event["device_temp_c"] = v / 100
			}
			if v, ok := f.AnalogueData["4"]; ok {
				event["signal_strength_percent"] = math.Round(v * (100.0 / 31.0))
			}

		case FTypeCounters:
			if f.Odo != nil {
				// odometer is in cm
				event["odometer_km"] = *f.Odo / 100000
			}
			if f.RH != nil {
				// run hours are in seconds
				event["run_hours"] = *f.RH / 3600
			}

		case FTypeTripData:
			if f.Dist != nil {
				event["trip_distance_m"] = *f.Dist
			}
			if f.IdleTime != nil {
				event["trip_idle_time_s"] = *f.IdleTime
			}
		}
	}

	return event
}

// Float returns the named value as a float64, with ok reporting whether
// the key is present and numeric.
func (e Event) Float(name string) (float64, bool) {
	v, ok := e[name].(float64)
	return v, ok
}

// Bool returns the named value as a bool, with ok reporting whether the
// key is present and boolean.
func (e Event) Bool(name string) (bool, bool) {
	v, ok := e[name].(bool)
	return v, ok
}

// String returns the named value as a string, with ok reporting whether
// the key is present.
func (e Event) String(name string) (string, bool) {
	v, ok := e[name].(string)
	return v, ok
}
