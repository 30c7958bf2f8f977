/*Package ui maintains a declarative tree of UI elements and reconciles it
against the remotely stored UI state.

Elements are a closed set of kinds. Each element serializes to a JSON
document; containers serialize their children as a map keyed by child name,
so duplicate names silently overwrite.
*/
package ui

import "math"

// Variable value types.
const (
	VarFloat    = "float"
	VarText     = "text"
	VarBool     = "bool"
	VarDatetime = "datetime"
	VarLocation = "location"
)

// Element is one node of the UI tree.
type Element interface {
	Name() string
	Serialize() map[string]interface{}
}

// Interactive marks elements whose name participates in command
// reconciliation: interactions plus hidden values and warning indicators.
type Interactive interface {
	Element
	interactive()
}

type container interface {
	Element
	Children() []Element
}

// Range is one coloured band of a gauge or graph.
type Range struct {
	Label       string
	Min         float64
	Max         float64
	Colour      string
	ShowOnGraph bool
}

func (r Range) serialize() map[string]interface{} {
	result := map[string]interface{}{
		"min":         r.Min,
		"max":         r.Max,
		"colour":      r.Colour,
		"showOnGraph": r.ShowOnGraph,
	}
	if r.Label != "" {
		result["label"] = r.Label
	}
	return result
}

// elementBase carries the attributes shared by all element kinds.
type elementBase struct {
	name         string
	displayStr   string
	isAvailable  *bool
	helpStr      string
	verboseStr   string
	showActivity bool
	form         string
	graphic      string
	layout       string
	hidden       bool
}

func newElementBase(name, displayStr string) elementBase {
	return elementBase{name: name, displayStr: displayStr, showActivity: true}
}

// Name returns the element name, unique within its parent's children.
func (e *elementBase) Name() string { return e.name }

// DisplayString returns the current display string.
func (e *elementBase) DisplayString() string { return e.displayStr }

// SetDisplayString updates the display string.
func (e *elementBase) SetDisplayString(displayStr string) { e.displayStr = displayStr }

// SetIsAvailable sets whether the element is shown as available.
func (e *elementBase) SetIsAvailable(available bool) { e.isAvailable = &available }

// SetHelpString sets the help text.
func (e *elementBase) SetHelpString(helpStr string) { e.helpStr = helpStr }

// SetForm sets the presentation form, e.g. "radialGauge".
func (e *elementBase) SetForm(form string) { e.form = form }

// SetHidden hides the element from the rendered UI while keeping its value
// in the state document.
func (e *elementBase) SetHidden(hidden bool) { e.hidden = hidden }

func (e *elementBase) serialize(elementType string) map[string]interface{} {
	result := map[string]interface{}{
		"type":          elementType,
		"name":          e.name,
		"displayString": e.displayStr,
	}
	if e.isAvailable != nil {
		result["isAvailable"] = *e.isAvailable
	}
	if e.helpStr != "" {
		result["helpString"] = e.helpStr
	}
	if e.verboseStr != "" {
		result["verboseString"] = e.verboseStr
	}
	if !e.showActivity {
		result["showActivity"] = false
	}
	if e.form != "" {
		result["form"] = e.form
	}
	if e.graphic != "" {
		result["graphic"] = e.graphic
	}
	if e.layout != "" {
		result["layout"] = e.layout
	}
	if e.hidden {
		result["hide"] = true
	}
	return result
}

// Variable is a read-only displayed value.
type Variable struct {
	elementBase
	varType   string
	value     interface{}
	precision *int
	ranges    []Range
}

// NewVariable returns a variable of the given value type.
func NewVariable(name, displayStr, varType string) *Variable {
	return &Variable{elementBase: newElementBase(name, displayStr), varType: varType}
}

// WithPrecision sets the decimal precision used when serializing the value.
func (v *Variable) WithPrecision(precision int) *Variable {
	v.precision = &precision
	return v
}

// WithRanges sets the coloured value ranges.
func (v *Variable) WithRanges(ranges ...Range) *Variable {
	v.ranges = ranges
	return v
}

// WithForm sets the presentation form.
func (v *Variable) WithForm(form string) *Variable {
	v.form = form
	return v
}

// WithHidden keeps the variable out of the rendered UI.
func (v *Variable) WithHidden() *Variable {
	v.hidden = true
	return v
}

// SetValue updates the current value. A nil value clears it.
func (v *Variable) SetValue(value interface{}) { v.value = value }

// Value returns the current value, rounded to the configured precision
// for numeric values.
func (v *Variable) Value() interface{} {
	f, isFloat := v.value.(float64)
	if v.precision == nil || !isFloat {
		return v.value
	}
	factor := math.Pow(10, float64(*v.precision))
	return math.Round(f*factor) / factor
}

// Serialize implements Element.
func (v *Variable) Serialize() map[string]interface{} {
	result := v.serialize("uiVariable")
	result["varType"] = v.varType
	if value := v.Value(); value != nil {
		result["currentValue"] = value
	}
	if v.precision != nil {
		result["decPrecision"] = *v.precision
	}
	if v.ranges != nil {
		ranges := make([]interface{}, 0, len(v.ranges))
		for _, r := range v.ranges {
			ranges = append(ranges, r.serialize())
		}
		result["ranges"] = ranges
	}
	return result
}

// Action is a one-shot command button.
type Action struct {
	elementBase
	colour          string
	requiresConfirm bool
}

// NewAction returns an action button.
func NewAction(name, displayStr string) *Action {
	return &Action{elementBase: newElementBase(name, displayStr), colour: "blue", requiresConfirm: true}
}

// WithColour sets the button colour.
func (a *Action) WithColour(colour string) *Action {
	a.colour = colour
	return a
}

// WithRequiresConfirm sets whether the action asks for confirmation.
func (a *Action) WithRequiresConfirm(requiresConfirm bool) *Action {
	a.requiresConfirm = requiresConfirm
	return a
}

func (a *Action) interactive() {}

// Serialize implements Element.
func (a *Action) Serialize() map[string]interface{} {
	result := a.serialize("uiAction")
	result["colour"] = a.colour
	result["requiresConfirm"] = a.requiresConfirm
	return result
}

// StateCommand is a multi-option command selector.
type StateCommand struct {
	elementBase
	userOptions []Element
}

// NewStateCommand returns a state command with the given options.
func NewStateCommand(name, displayStr string, userOptions ...Element) *StateCommand {
	return &StateCommand{elementBase: newElementBase(name, displayStr), userOptions: userOptions}
}

// AddUserOption appends an option.
func (s *StateCommand) AddUserOption(option Element) *StateCommand {
	s.userOptions = append(s.userOptions, option)
	return s
}

func (s *StateCommand) interactive() {}

// Serialize implements Element.
func (s *StateCommand) Serialize() map[string]interface{} {
	result := s.serialize("uiStateCommand")
	userOptions := map[string]interface{}{}
	for _, o := range s.userOptions {
		userOptions[o.Name()] = o.Serialize()
	}
	result["userOptions"] = userOptions
	return result
}

// FloatParam is a user-settable numeric parameter.
type FloatParam struct {
	elementBase
	min *float64
	max *float64
}

// NewFloatParam returns a numeric parameter.
func NewFloatParam(name, displayStr string) *FloatParam {
	return &FloatParam{elementBase: newElementBase(name, displayStr)}
}

// WithLimits sets the allowed value range.
func (f *FloatParam) WithLimits(min, max float64) *FloatParam {
	f.min, f.max = &min, &max
	return f
}

func (f *FloatParam) interactive() {}

// Serialize implements Element. The min and max keys are always present,
// null when unbounded.
func (f *FloatParam) Serialize() map[string]interface{} {
	result := f.serialize("uiFloatParam")
	var min, max interface{}
	if f.min != nil {
		min = *f.min
	}
	if f.max != nil {
		max = *f.max
	}
	result["min"] = min
	result["max"] = max
	return result
}

// TextParam is a user-settable text parameter.
type TextParam struct {
	elementBase
	isTextArea bool
}

// NewTextParam returns a text parameter.
func NewTextParam(name, displayStr string) *TextParam {
	return &TextParam{elementBase: newElementBase(name, displayStr)}
}

// WithTextArea renders the parameter as a multi-line text area.
func (t *TextParam) WithTextArea() *TextParam {
	t.isTextArea = true
	return t
}

func (t *TextParam) interactive() {}

// Serialize implements Element.
func (t *TextParam) Serialize() map[string]interface{} {
	result := t.serialize("uiTextParam")
	result["isTextArea"] = t.isTextArea
	return result
}

// DatetimeParam is a user-settable point in time, stored as epoch seconds UTC.
type DatetimeParam struct {
	elementBase
	includeTime bool
}

// NewDatetimeParam returns a datetime parameter.
func NewDatetimeParam(name, displayStr string) *DatetimeParam {
	return &DatetimeParam{elementBase: newElementBase(name, displayStr)}
}

// WithTime includes the time of day in the picker.
func (d *DatetimeParam) WithTime() *DatetimeParam {
	d.includeTime = true
	return d
}

func (d *DatetimeParam) interactive() {}

// Serialize implements Element.
func (d *DatetimeParam) Serialize() map[string]interface{} {
	result := d.serialize("uiDatetimeParam")
	result["includeTime"] = d.includeTime
	return result
}

// HiddenValue is a named value carried in the state without presentation.
type HiddenValue struct {
	name string
}

// NewHiddenValue returns a hidden value.
func NewHiddenValue(name string) *HiddenValue {
	return &HiddenValue{name: name}
}

// Name implements Element.
func (h *HiddenValue) Name() string { return h.name }

func (h *HiddenValue) interactive() {}

// Serialize implements Element.
func (h *HiddenValue) Serialize() map[string]interface{} {
	return map[string]interface{}{
		"type": "uiHiddenValue",
		"name": h.name,
	}
}

// WarningIndicator is a cancellable warning shown to the user.
type WarningIndicator struct {
	elementBase
	canCancel bool
}

// NewWarningIndicator returns a warning indicator.
func NewWarningIndicator(name, displayStr string) *WarningIndicator {
	w := &WarningIndicator{elementBase: newElementBase(name, displayStr), canCancel: true}
	w.showActivity = false
	return w
}

func (w *WarningIndicator) interactive() {}

// Serialize implements Element.
func (w *WarningIndicator) Serialize() map[string]interface{} {
	result := w.serialize("uiWarningIndicator")
	result["canCancel"] = w.canCancel
	return result
}

// ConnectionInfo describes the expected connection behaviour of the device.
type ConnectionInfo struct {
	name             string
	connectionType   string
	connectionPeriod *int
	nextConnection   *int
	offlineAfter     *int
}

// NewConnectionInfo returns connection info of type "constant" or "periodic".
func NewConnectionInfo(name, connectionType string) *ConnectionInfo {
	return &ConnectionInfo{name: name, connectionType: connectionType}
}

// WithPeriod sets the expected seconds between connection events and the
// expected time of the next connection.
func (c *ConnectionInfo) WithPeriod(connectionPeriod, nextConnection int) *ConnectionInfo {
	c.connectionPeriod = &connectionPeriod
	c.nextConnection = &nextConnection
	return c
}

// WithOfflineAfter shows the device as offline when disconnected for more
// than the given seconds.
func (c *ConnectionInfo) WithOfflineAfter(offlineAfter int) *ConnectionInfo {
	c.offlineAfter = &offlineAfter
	return c
}

// Name implements Element.
func (c *ConnectionInfo) Name() string { return c.name }

// Serialize implements Element.
func (c *ConnectionInfo) Serialize() map[string]interface{} {
	result := map[string]interface{}{
		"type":           "uiConnectionInfo",
		"name":           c.name,
		"connectionType": c.connectionType,
	}
	if c.connectionPeriod != nil {
		result["connectionPeriod"] = *c.connectionPeriod
	}
	if c.nextConnection != nil {
		result["nextConnection"] = *c.nextConnection
	}
	if c.offlineAfter != nil {
		result["offlineAfter"] = *c.offlineAfter
	}
	return result
}

// Camera references a camera stream by URI.
type Camera struct {
	elementBase
	uri string
}

// NewCamera returns a camera element.
func NewCamera(name, displayStr, uri string) *Camera {
	return &Camera{elementBase: newElementBase(name, displayStr), uri: uri}
}

// URI returns the camera stream URI.
func (c *Camera) URI() string { return c.uri }

// Serialize implements Element.
func (c *Camera) Serialize() map[string]interface{} {
	return c.serialize("uiCamera")
}

// AlertStream subscribes the user to a stream of alert messages.
type AlertStream struct {
	elementBase
}

// NewAlertStream returns an alert stream.
func NewAlertStream(name, displayStr string) *AlertStream {
	return &AlertStream{elementBase: newElementBase(name, displayStr)}
}

// Serialize implements Element.
func (a *AlertStream) Serialize() map[string]interface{} {
	return a.serialize("uiAlertStream")
}

// Multiplot plots several state series in one graph.
type Multiplot struct {
	elementBase
	series       []string
	colours      []string
	activeSeries []string
}

// NewMultiplot returns a multiplot over the given series.
func NewMultiplot(name, displayStr string, series, colours, activeSeries []string) *Multiplot {
	return &Multiplot{
		elementBase:  newElementBase(name, displayStr),
		series:       series,
		colours:      colours,
		activeSeries: activeSeries,
	}
}

// Serialize implements Element.
func (m *Multiplot) Serialize() map[string]interface{} {
	result := m.serialize("uiMultiPlot")
	result["series"] = m.series
	result["colours"] = m.colours
	result["activeSeries"] = m.activeSeries
	return result
}

// Container groups child elements. It exclusively owns its children.
type Container struct {
	elementBase
	statusIcon string
	children   []Element
}

// NewContainer returns a container with the given children.
func NewContainer(name, displayStr string, children ...Element) *Container {
	return &Container{elementBase: newElementBase(name, displayStr), children: children}
}

// Children returns the owned children.
func (c *Container) Children() []Element { return c.children }

// SetChildren replaces the children.
func (c *Container) SetChildren(children []Element) { c.children = children }

// AddChild appends a child.
func (c *Container) AddChild(child Element) *Container {
	c.children = append(c.children, child)
	return c
}

// SetStatusIcon sets the status icon, "" clears it.
func (c *Container) SetStatusIcon(statusIcon string) { c.statusIcon = statusIcon }

// Serialize implements Element.
func (c *Container) Serialize() map[string]interface{} {
	result := c.serialize("uiContainer")
	if c.statusIcon != "" {
		result["statusIcon"] = c.statusIcon
	}
	children := map[string]interface{}{}
	for _, child := range c.children {
		children[child.Name()] = child.Serialize()
	}
	result["children"] = children
	return result
}

// Submodule is a collapsible container.
type Submodule struct {
	Container
	statusStr string
}

// NewSubmodule returns a submodule with the given children.
func NewSubmodule(name, displayStr string, children ...Element) *Submodule {
	return &Submodule{Container: *NewContainer(name, displayStr, children...)}
}

// SetStatusString sets the status summary shown next to the submodule title.
func (s *Submodule) SetStatusString(statusStr string) { s.statusStr = statusStr }

// Serialize implements Element.
func (s *Submodule) Serialize() map[string]interface{} {
	result := s.Container.Serialize()
	result["type"] = "uiSubmodule"
	if s.statusStr != "" {
		result["statusString"] = s.statusStr
	}
	return result
}

// InteractionNames walks the tree below root and collects the names of all
// interactive elements, depth first.
func InteractionNames(root Element) []string {
	var names []string
	var walk func(e Element)
	walk = func(e Element) {
		if c, ok := e.(container); ok {
			for _, child := range c.Children() {
				walk(child)
			}
		}
		if _, ok := e.(Interactive); ok {
			names = append(names, e.Name())
		}
	}
	walk(root)
	return names
}
