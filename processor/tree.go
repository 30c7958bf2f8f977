package processor

import (
	"fmt"

	"github.com/getdoover/digital-matter/ui"
)

// trackerUI is the declarative UI of one tracked machine. It keeps direct
// references to the variables that uplinks update.
type trackerUI struct {
	runHours       *ui.Variable
	odometer       *ui.Variable
	nextServiceEst *ui.Variable
	serviceAlerts  *ui.AlertStream
	aveHoursPerDay *ui.Variable
	aveKmsPerDay   *ui.Variable
	ignitionOn     *ui.Variable
	location       *ui.Variable
	speed          *ui.Variable

	sysVoltage     *ui.Variable
	battVoltage    *ui.Variable
	gpsAccuracy    *ui.Variable
	signalStrength *ui.Variable
	deviceTemp     *ui.Variable
	uplinkReason   *ui.Variable
	deviceTimeUTC  *ui.Variable
}

func newTrackerUI(smsAlertDays float64) *trackerUI {
	t := &trackerUI{
		runHours:       ui.NewVariable("deviceRunHours", "Machine Hours (hrs)", ui.VarFloat).WithPrecision(2),
		odometer:       ui.NewVariable("deviceOdometer", "Odometer (km)", ui.VarFloat).WithPrecision(1),
		nextServiceEst: ui.NewVariable("nextServiceEst", "Next Service Estimate", ui.VarText),
		serviceAlerts:  ui.NewAlertStream("significantEvent", smsAlertDisplay(smsAlertDays)),
		aveHoursPerDay: ui.NewVariable("aveHoursPerDay", "Ave Hours Per Day", ui.VarFloat).WithPrecision(1),
		aveKmsPerDay:   ui.NewVariable("aveKmsPerDay", "Ave Kms Per Day", ui.VarFloat).WithPrecision(1),
		ignitionOn:     ui.NewVariable("ignitionOn", "Ignition On", ui.VarBool),
		location:       ui.NewVariable("location", "Location", ui.VarLocation).WithHidden(),
		speed: ui.NewVariable("speed", "Speed (km/h)", ui.VarFloat).WithPrecision(1).
			WithForm("radialGauge").
			WithRanges(
				ui.Range{Label: "Low", Min: 0, Max: 20, Colour: "blue", ShowOnGraph: true},
				ui.Range{Min: 20, Max: 80, Colour: "green", ShowOnGraph: true},
				ui.Range{Label: "Fast", Min: 80, Max: 120, Colour: "yellow", ShowOnGraph: true},
			),
		sysVoltage: ui.NewVariable("sysVoltage", "System Voltage (V)", ui.VarFloat).WithPrecision(1).
			WithRanges(
				ui.Range{Label: "Low", Min: 9, Max: 11.5, Colour: "yellow", ShowOnGraph: true},
				ui.Range{Min: 11.5, Max: 13.0, Colour: "blue", ShowOnGraph: true},
				ui.Range{Label: "Charging", Min: 13.0, Max: 14.2, Colour: "green", ShowOnGraph: true},
				ui.Range{Label: "Over Voltage", Min: 14.2, Max: 15.0, Colour: "yellow", ShowOnGraph: true},
			),
		battVoltage: ui.NewVariable("battVoltage", "Tracker Battery (V)", ui.VarFloat).WithPrecision(1).
			WithRanges(
				ui.Range{Label: "Low", Min: 3.0, Max: 3.5, Colour: "yellow", ShowOnGraph: true},
				ui.Range{Min: 3.5, Max: 3.8, Colour: "blue", ShowOnGraph: true},
				ui.Range{Label: "Good", Min: 3.8, Max: 4.2, Colour: "green", ShowOnGraph: true},
				ui.Range{Label: "Over Voltage", Min: 4.2, Max: 4.5, Colour: "yellow", ShowOnGraph: true},
			),
		gpsAccuracy: ui.NewVariable("gpsAccuracy", "GPS accuracy (m)", ui.VarFloat).WithPrecision(0).
			WithRanges(
				ui.Range{Label: "Good", Min: 0, Max: 15, Colour: "green", ShowOnGraph: true},
				ui.Range{Label: "Ok", Min: 15, Max: 30, Colour: "blue", ShowOnGraph: true},
				ui.Range{Label: "Bad", Min: 30, Max: 80, Colour: "yellow", ShowOnGraph: true},
				ui.Range{Label: "Lost", Min: 80, Max: 100, Colour: "red", ShowOnGraph: true},
			),
		signalStrength: ui.NewVariable("dataSignalStrength", "Cellular Signal (%)", ui.VarFloat).WithPrecision(0).
			WithRanges(
				ui.Range{Label: "Low", Min: 0, Max: 30, Colour: "yellow", ShowOnGraph: true},
				ui.Range{Label: "Ok", Min: 30, Max: 60, Colour: "blue", ShowOnGraph: true},
				ui.Range{Label: "Strong", Min: 60, Max: 100, Colour: "green", ShowOnGraph: true},
			),
		deviceTemp: ui.NewVariable("deviceTemp", "Device Temperature (C)", ui.VarFloat).WithPrecision(0).
			WithRanges(
				ui.Range{Label: "Low", Min: 0, Max: 20, Colour: "blue", ShowOnGraph: true},
				ui.Range{Min: 20, Max: 35, Colour: "green", ShowOnGraph: true},
				ui.Range{Label: "Warm", Min: 35, Max: 50, Colour: "yellow", ShowOnGraph: true},
			),
		uplinkReason:  ui.NewVariable("lastUplinkReason", "Reason for uplink", ui.VarText),
		deviceTimeUTC: ui.NewVariable("deviceTimeUtc", "Device Time (UTC)", ui.VarDatetime),
	}
	return t
}

// elements returns the full tree in display order.
func (t *trackerUI) elements() []ui.Element {
	return []ui.Element{
		t.runHours,
		t.odometer,
		t.nextServiceEst,
		t.serviceAlerts,
		t.aveHoursPerDay,
		t.aveKmsPerDay,
		t.ignitionOn,
		t.location,
		t.speed,
		ui.NewSubmodule("maintenance_submodule", "Maintenance",
			ui.NewDatetimeParam("lastServiceDate", "Last service done"),
			ui.NewFloatParam("lastServiceHours", "At hours (hrs)"),
			ui.NewFloatParam("lastServiceOdo", "And at Odometer (kms)"),
			ui.NewDatetimeParam("nextServiceDue", "Next Service due"),
			ui.NewFloatParam("nextServiceHours", "At hours (hrs)"),
			ui.NewFloatParam("nextServiceOdo", "And at Odometer (kms)"),
		),
		ui.NewSubmodule("config_submodule", "Config",
			ui.NewFloatParam("setHours", "Set Machine Hours (hrs)"),
			ui.NewFloatParam("setKms", "Set Odometer (km)"),
			ui.NewFloatParam("warningSmsPeriod", "SMS Alert Period (days)"),
			ui.NewFloatParam("aveCalcDays", "Ave Use Calculation (days)"),
		),
		ui.NewSubmodule("details_submodule", "Tracker Details",
			t.sysVoltage,
			t.battVoltage,
			t.gpsAccuracy,
			t.signalStrength,
			t.deviceTemp,
			t.uplinkReason,
			t.deviceTimeUTC,
		),
		ui.NewConnectionInfo("node_connection_info", "periodic").WithPeriod(600, 600),
	}
}

func smsAlertDisplay(days float64) string {
	return fmt.Sprintf("Text me %g days before next service", days)
}
