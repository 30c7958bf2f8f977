package dm

import "fmt"

// uplinkReasons is the fixed Digital Matter reason-code table.
var uplinkReasons = map[int]string{
	0:  "Reserved",
	1:  "Start of trip",
	2:  "End of trip",
	3:  "Elapsed time",
	4:  "Speed change",
	5:  "Heading change",
	6:  "Distance travelled",
	7:  "Maximum Speed",
	8:  "Stationary",
	9:  "Ignition Changed",
	10: "Output Changed",
	11: "Heartbeat",
	12: "Harsh Brake",
	13: "Harsh Acceleration",
	14: "Harsh Cornering",
	15: "External Power Change",
	16: "System Power Monitoring",
	17: "Driver ID Tag Read",
	18: "Over speed",
	19: "Fuel sensor record",
	20: "Towing Alert",
	21: "Debug",
	22: "SDI-12 sensor data",
	23: "Accident",
	24: "Accident Data",
	25: "Sensor value elapsed time",
	26: "Sensor value change",
	27: "Sensor alarm",
	28: "Rain Gauge Tipped",
	29: "Tamper Alert",
	30: "BLOB notification",
	31: "Time and Attendance",
	32: "Trip Restart",
	33: "Tag Gained",
	34: "Tag Update",
	35: "Tag Lost",
	36: "Recovery Mode On",
	37: "Recovery Mode Off",
	38: "Immobiliser On",
	39: "Immobiliser Off",
	40: "Garmin FMI Stop Response",
	41: "Lone Worker Alarm",
	42: "Device Counters",
	43: "Connected Device Data",
	44: "Entered Geo-Fence",
	45: "Exited Geo-Fence",
	46: "High-G Event",
	47: "Third party data record",
	48: "Duress",
	49: "Cell Tower Connection",
	50: "Bluetooth Tag Data",
}

// UplinkReason translates an uplink reason code to its human readable label.
// Codes outside the table keep the original code for diagnostics.
func UplinkReason(code int) string {
	if reason, ok := uplinkReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("Unknown (%d)", code)
}
