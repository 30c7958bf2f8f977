package ui

import (
	"reflect"
	"testing"

	"github.com/getdoover/digital-matter/channel"
)

func doc(m map[string]interface{}) map[string]interface{} { return m }

func TestJSONUpdateNestedChange(t *testing.T) {
	current := doc(map[string]interface{}{
		"state": map[string]interface{}{
			"displayString": "Idle",
			"children": map[string]interface{}{
				"speed": map[string]interface{}{
					"type":         "uiVariable",
					"currentValue": 3.0,
				},
				"ignitionOn": map[string]interface{}{
					"type":         "uiVariable",
					"currentValue": true,
				},
			},
		},
	})
	desired := doc(map[string]interface{}{
		"state": map[string]interface{}{
			"displayString": "Running",
			"children": map[string]interface{}{
				"speed": map[string]interface{}{
					"type":         "uiVariable",
					"currentValue": 42.5,
				},
				"ignitionOn": map[string]interface{}{
					"type":         "uiVariable",
					"currentValue": true,
				},
			},
		},
	})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	want := map[string]interface{}{
		"state": map[string]interface{}{
			"displayString": "Running",
			"children": map[string]interface{}{
				"speed": map[string]interface{}{
					"currentValue": 42.5,
				},
			},
		},
	}
	if !reflect.DeepEqual(patch, want) {
		t.Fatal("unexpected patch:", patch)
	}
}

func TestJSONUpdateDeleteSignal(t *testing.T) {
	current := doc(map[string]interface{}{"a": 1.0, "b": 2.0})
	desired := doc(map[string]interface{}{"a": 1.0})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	value, ok := patch["b"]
	if !ok || value != nil {
		t.Fatal("removed key must patch to null:", patch)
	}
	if _, ok := patch["a"]; ok {
		t.Fatal("unchanged key must be omitted")
	}
}

func TestJSONUpdateFreshKeys(t *testing.T) {
	current := doc(map[string]interface{}{})
	desired := doc(map[string]interface{}{"a": 1.0, "b": nil})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	if !reflect.DeepEqual(patch, map[string]interface{}{"a": 1.0}) {
		t.Fatal("fresh null must be dropped:", patch)
	}
}

func TestJSONUpdateEqual(t *testing.T) {
	current := doc(map[string]interface{}{"a": map[string]interface{}{"b": 1.0}})
	desired := doc(map[string]interface{}{"a": map[string]interface{}{"b": 1.0}})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	if len(patch) != 0 {
		t.Fatal("equal documents must produce an empty patch:", patch)
	}
}

func TestJSONUpdateNonMapValues(t *testing.T) {
	if patch := JSONUpdate(5.0, 5.0).(map[string]interface{}); len(patch) != 0 {
		t.Fatal("equal scalars must produce the empty-map sentinel:", patch)
	}
	if got := JSONUpdate(5.0, 7.0); got != 7.0 {
		t.Fatal("differing scalars must return the desired value:", got)
	}
}

func TestJSONUpdateTypeChange(t *testing.T) {
	current := doc(map[string]interface{}{"a": map[string]interface{}{"b": 1.0}})
	desired := doc(map[string]interface{}{"a": "gone"})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	if !reflect.DeepEqual(patch, map[string]interface{}{"a": "gone"}) {
		t.Fatal("type change must replace:", patch)
	}
}

// merging the patch into the current document must reproduce the desired
// document, and patching again must be a no-op
func TestJSONUpdateMergeRoundTrip(t *testing.T) {
	current := doc(map[string]interface{}{
		"keep":   "same",
		"stale":  true,
		"nested": map[string]interface{}{"x": 1.0, "y": 2.0, "gone": 3.0},
	})
	desired := doc(map[string]interface{}{
		"keep":   "same",
		"fresh":  "new",
		"nested": map[string]interface{}{"x": 1.0, "y": 9.0},
	})

	patch := JSONUpdate(current, desired).(map[string]interface{})
	merged := channel.MergeAggregate(current, patch)
	if !reflect.DeepEqual(merged, desired) {
		t.Fatal("merge must reproduce desired:", merged)
	}

	again := JSONUpdate(merged, desired).(map[string]interface{})
	if len(again) != 0 {
		t.Fatal("second patch must be empty:", again)
	}
}
