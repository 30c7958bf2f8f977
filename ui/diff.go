package ui

import "reflect"

// JSONUpdate computes the minimal patch that, merged into current, yields
// desired. For two maps the patch contains: a null for every key of current
// missing from desired (the delete signal), the desired value for keys new
// in desired, the recursive patch for keys whose values are both maps
// (omitted when empty), and the desired value for keys whose values differ.
// For non-map inputs an empty map is returned when the values are equal,
// otherwise desired itself. An empty map therefore always means "no change".
//
// Applying the same patch twice is a no-op, and merging the patch into
// current with the null-deletes-key rule reproduces desired exactly.
func JSONUpdate(current, desired interface{}) interface{} {
	currentMap, currentIsMap := current.(map[string]interface{})
	desiredMap, desiredIsMap := desired.(map[string]interface{})
	if !currentIsMap || !desiredIsMap {
		if reflect.DeepEqual(current, desired) {
			return map[string]interface{}{}
		}
		return desired
	}

	patch := map[string]interface{}{}
	for key := range currentMap {
		if _, ok := desiredMap[key]; !ok {
			patch[key] = nil
		}
	}
	for key, desiredValue := range desiredMap {
		currentValue, ok := currentMap[key]
		if !ok {
			// a fresh null carries no information, the key is absent anyway
			if desiredValue != nil {
				patch[key] = desiredValue
			}
			continue
		}
		currentChild, currentChildIsMap := currentValue.(map[string]interface{})
		desiredChild, desiredChildIsMap := desiredValue.(map[string]interface{})
		if currentChildIsMap && desiredChildIsMap {
			child := JSONUpdate(currentChild, desiredChild).(map[string]interface{})
			if len(child) > 0 {
				patch[key] = child
			}
			continue
		}
		if !reflect.DeepEqual(currentValue, desiredValue) {
			patch[key] = desiredValue
		}
	}
	return patch
}
