package ui

import (
	"reflect"
	"testing"
)

func TestVariableSerialize(t *testing.T) {
	v := NewVariable("speed", "Speed (km/h)", VarFloat).WithPrecision(1).WithForm("radialGauge").
		WithRanges(
			Range{Label: "Low", Min: 0, Max: 20, Colour: "blue", ShowOnGraph: true},
			Range{Min: 20, Max: 80, Colour: "green", ShowOnGraph: true},
		)
	v.SetValue(42.34)

	got := v.Serialize()
	want := map[string]interface{}{
		"type":          "uiVariable",
		"name":          "speed",
		"displayString": "Speed (km/h)",
		"varType":       "float",
		"currentValue":  42.3,
		"decPrecision":  1,
		"form":          "radialGauge",
		"ranges": []interface{}{
			map[string]interface{}{"label": "Low", "min": 0.0, "max": 20.0, "colour": "blue", "showOnGraph": true},
			map[string]interface{}{"min": 20.0, "max": 80.0, "colour": "green", "showOnGraph": true},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatal("unexpected serialization:", got)
	}
}

func TestVariableWithoutValue(t *testing.T) {
	v := NewVariable("ignitionOn", "Ignition On", VarBool)
	got := v.Serialize()
	if _, ok := got["currentValue"]; ok {
		t.Fatal("unset value must be omitted")
	}
	if _, ok := got["decPrecision"]; ok {
		t.Fatal("unset precision must be omitted")
	}
}

func TestHiddenVariable(t *testing.T) {
	v := NewVariable("location", "Location", VarLocation).WithHidden()
	if got := v.Serialize()["hide"]; got != true {
		t.Fatal("hidden variable must serialize hide flag")
	}
}

// children are keyed by name, so a duplicate name silently overwrites
func TestContainerChildren(t *testing.T) {
	first := NewVariable("value", "First", VarFloat)
	second := NewVariable("value", "Second", VarFloat)
	c := NewContainer("", "", first, second)

	children := c.Serialize()["children"].(map[string]interface{})
	if len(children) != 1 {
		t.Fatal("duplicate names must collapse:", children)
	}
	child := children["value"].(map[string]interface{})
	if child["displayString"] != "Second" {
		t.Fatal("later child must win:", child)
	}
}

func TestSubmoduleSerialize(t *testing.T) {
	s := NewSubmodule("details", "Tracker Details")
	s.SetStatusString("ok")
	got := s.Serialize()
	if got["type"] != "uiSubmodule" {
		t.Fatal("unexpected type:", got["type"])
	}
	if got["statusString"] != "ok" {
		t.Fatal("unexpected status string:", got["statusString"])
	}
}

func TestFloatParamLimits(t *testing.T) {
	unbounded := NewFloatParam("setHours", "Set Machine Hours (hrs)").Serialize()
	if v, ok := unbounded["min"]; !ok || v != nil {
		t.Fatal("min must be present and null when unbounded")
	}
	if v, ok := unbounded["max"]; !ok || v != nil {
		t.Fatal("max must be present and null when unbounded")
	}

	bounded := NewFloatParam("setHours", "Set Machine Hours (hrs)").WithLimits(0, 10).Serialize()
	if bounded["min"] != 0.0 || bounded["max"] != 10.0 {
		t.Fatal("unexpected limits:", bounded)
	}
}

func TestHiddenValueSerialize(t *testing.T) {
	got := NewHiddenValue("internalState").Serialize()
	want := map[string]interface{}{"type": "uiHiddenValue", "name": "internalState"}
	if !reflect.DeepEqual(got, want) {
		t.Fatal("unexpected serialization:", got)
	}
}

func TestConnectionInfoSerialize(t *testing.T) {
	got := NewConnectionInfo("node_connection_info", "periodic").WithPeriod(600, 600).Serialize()
	want := map[string]interface{}{
		"type":             "uiConnectionInfo",
		"name":             "node_connection_info",
		"connectionType":   "periodic",
		"connectionPeriod": 600,
		"nextConnection":   600,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatal("unexpected serialization:", got)
	}
}

func TestInteractionNames(t *testing.T) {
	root := NewContainer("", "",
		NewVariable("speed", "Speed", VarFloat),
		NewSubmodule("config", "Config",
			NewFloatParam("setHours", "Set Hours"),
			NewStateCommand("mode", "Mode"),
		),
		NewAction("reset", "Reset"),
		NewHiddenValue("shadow"),
		NewWarningIndicator("lowBattery", "Low Battery"),
	)

	names := InteractionNames(root)
	want := []string{"setHours", "mode", "reset", "shadow", "lowBattery"}
	if !reflect.DeepEqual(names, want) {
		t.Fatal("unexpected interaction names:", names)
	}
}
