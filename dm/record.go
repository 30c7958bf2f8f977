/*Package dm decodes Digital Matter telemetry payloads.

The OEM server delivers JSON payloads containing a device serial number and
one or more records. Each record carries an array of tagged fields whose
FType discriminator determines which payload keys are valid.
*/
package dm

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedPayload is returned when an ingestion payload cannot be
// decoded. Callers log and abort processing of that message; no partial
// state is written.
var ErrMalformedPayload = errors.New("dm: malformed payload")

// Field is one tagged telemetry field. Pointer members model key absence
// on the wire; an absent key means the metric is omitted entirely, not zero.
type Field struct {
	FType        int                `json:"FType"`
	Lat          float64            `json:"Lat"`
	Long         float64            `json:"Long"`
	Alt          float64            `json:"Alt"`
	Spd          float64            `json:"Spd"`
	Head         float64            `json:"Head"`
	PosAcc       *float64           `json:"PosAcc"`
	PDOP         *float64           `json:"PDOP"`
	DIn          int                `json:"DIn"`
	AnalogueData map[string]float64 `json:"AnalogueData"`
	Odo          *float64           `json:"Odo"`
	RH           *float64           `json:"RH"`
	Dist         *float64           `json:"Dist"`
	IdleTime     *float64           `json:"IdleTime"`
}

// Record is one uplink report. A nil Fields slice means the "Fields" key
// was missing from the wire record.
type Record struct {
	Reason  int     `json:"Reason"`
	DateUTC string  `json:"DateUTC"`
	SeqNo   *int    `json:"SeqNo"`
	Fields  []Field `json:"Fields"`
}

// Payload is one delivery from the OEM server.
type Payload struct {
	SerNo   interface{} `json:"SerNo"`
	Records []Record    `json:"Records"`
}

// SerialNumber returns the device serial number as a string, or "" when
// the payload carries none.
func (p *Payload) SerialNumber() string {
	switch v := p.SerNo.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

const payloadSchema = `{
	"type": "object",
	"properties": {
		"SerNo": {"type": ["string", "number"]},
		"Records": {
			"type": "array",
			"items": {"type": "object"}
		}
	},
	"required": ["SerNo", "Records"]
}`

var payloadSchemaLoader = gojsonschema.NewStringLoader(payloadSchema)

// ParsePayload decodes an ingestion payload: base64 then JSON, falling back
// to raw JSON for deliveries that skip the base64 envelope. The decoded
// document is validated against the payload schema.
func ParsePayload(raw []byte) (*Payload, error) {
	data := bytes.TrimSpace(raw)
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil && json.Valid(decoded) {
		data = decoded
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: neither base64 nor JSON", ErrMalformedPayload)
	}

	result, err := gojsonschema.Validate(payloadSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(reasons, "; "))
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	return &payload, nil
}
