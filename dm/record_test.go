package dm

import (
	"encoding/base64"
	"errors"
	"testing"
)

const samplePayload = `{
	"SerNo": 812981,
	"Records": [
		{
			"Reason": 11,
			"DateUTC": "2025-01-05 03:04:05",
			"SeqNo": 7,
			"Fields": [
				{"FType": 0, "Lat": -27.5, "Long": 153.0, "Alt": 30, "Spd": 0, "Head": 0, "PosAcc": 6},
				{"FType": 27, "Odo": 500000, "RH": 7200}
			]
		}
	]
}`

func TestParsePayloadRawJSON(t *testing.T) {
	payload, err := ParsePayload([]byte(samplePayload))
	if err != nil {
		t.Fatal(err)
	}
	if payload.SerialNumber() != "812981" {
		t.Fatal("unexpected serial:", payload.SerialNumber())
	}
	if len(payload.Records) != 1 {
		t.Fatal("unexpected record count")
	}
	record := payload.Records[0]
	if record.Reason != 11 || record.SeqNo == nil || *record.SeqNo != 7 {
		t.Fatal("unexpected record:", record)
	}
	if len(record.Fields) != 2 {
		t.Fatal("unexpected field count")
	}
	if record.Fields[0].PosAcc == nil || *record.Fields[0].PosAcc != 6 {
		t.Fatal("unexpected pos accuracy")
	}
}

func TestParsePayloadBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(samplePayload))
	payload, err := ParsePayload([]byte(" " + encoded + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if payload.SerialNumber() != "812981" {
		t.Fatal("unexpected serial:", payload.SerialNumber())
	}
}

func TestParsePayloadStringSerial(t *testing.T) {
	payload, err := ParsePayload([]byte(`{"SerNo": "ABC123", "Records": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if payload.SerialNumber() != "ABC123" {
		t.Fatal("unexpected serial:", payload.SerialNumber())
	}
}

func TestParsePayloadMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("not json at all"),
		[]byte(`{"Records": []}`),             // serial missing
		[]byte(`{"SerNo": 1}`),                // records missing
		[]byte(`{"SerNo": 1, "Records": {}}`), // records not an array
	}
	for _, raw := range cases {
		if _, err := ParsePayload(raw); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("payload %q must be rejected, got %v", raw, err)
		}
	}
}

// a record without the fields key keeps a nil slice so callers can tell
// "missing" from "empty"
func TestParsePayloadMissingFields(t *testing.T) {
	payload, err := ParsePayload([]byte(`{"SerNo": 1, "Records": [{"Reason": 2}, {"Reason": 3, "Fields": []}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if payload.Records[0].Fields != nil {
		t.Fatal("missing fields must stay nil")
	}
	if payload.Records[1].Fields == nil {
		t.Fatal("empty fields must not be nil")
	}
}
