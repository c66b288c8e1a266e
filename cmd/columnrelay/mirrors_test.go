package main

import "testing"

func TestNumericFields(t *testing.T) {
	frame := []byte(`{
		"type": "telemetry",
		"boiler_temp_c": 78.4,
		"head_temp_c": 64.2,
		"heater_on": true,
		"valve_open": false,
		"note": "stable"
	}`)

	fields := numericFields(frame)

	want := map[string]float64{
		"boiler_temp_c": 78.4,
		"head_temp_c":   64.2,
		"heater_on":     1,
		"valve_open":    0,
	}

	if len(fields) != len(want) {
		t.Fatalf("numericFields() returned %d fields, want %d: %v", len(fields), len(want), fields)
	}
	for name, value := range want {
		if fields[name] != value {
			t.Errorf("numericFields()[%q] = %v, want %v", name, fields[name], value)
		}
	}
}

func TestNumericFields_NotAnObject(t *testing.T) {
	cases := [][]byte{
		[]byte(`"status ok"`),
		[]byte(`[1, 2, 3]`),
		[]byte(`not json at all`),
		nil,
	}

	for _, frame := range cases {
		if fields := numericFields(frame); len(fields) != 0 {
			t.Errorf("numericFields(%q) = %v, want empty", frame, fields)
		}
	}
}
