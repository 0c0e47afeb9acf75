package imu

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/murtazakamran18/count-steps/internal/steps"
)

func TestClassifyPayload(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{"1755700000123,0.12,9.81,0.33", PayloadTypeSampleCSV},
		{"  1755700000123, 0.12, 9.81, 0.33 ", PayloadTypeSampleCSV},
		{`{"timestamp_ms":1755700000123,"x":0.12,"y":9.81,"z":0.33}`, PayloadTypeSampleJSON},
		{`{"timestamp_ns":1755700000123000000,"accel_x":0.1,"accel_y":9.8,"accel_z":0.3}`, PayloadTypeSampleJSON},
		{`{"status":"ok","rate_hz":50}`, PayloadTypeStatus},
		{`{"mode":"imu","range_g":4}`, PayloadTypeStatus},
		{"OK", PayloadTypeUnknown},
		{"1,2", PayloadTypeUnknown},
		{"", PayloadTypeUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyPayload(tc.payload); got != tc.want {
			t.Errorf("ClassifyPayload(%q) = %q, want %q", tc.payload, got, tc.want)
		}
	}
}

func TestParseSample(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    steps.Sample
	}{
		{
			name:    "csv line",
			payload: "1755700000123,0.12,9.81,0.33",
			want:    steps.Sample{Timestamp: 1755700000123, X: 0.12, Y: 9.81, Z: 0.33},
		},
		{
			name:    "csv with spaces",
			payload: " 42, -1.5, 2.25, -0.75\n",
			want:    steps.Sample{Timestamp: 42, X: -1.5, Y: 2.25, Z: -0.75},
		},
		{
			name:    "bridge json",
			payload: `{"timestamp_ms":1000,"x":0,"y":10,"z":9.9}`,
			want:    steps.Sample{Timestamp: 1000, X: 0, Y: 10, Z: 9.9},
		},
		{
			name:    "logger json nanoseconds",
			payload: `{"timestamp_ns":1755700000123456789,"accel_x":0.5,"accel_y":7.25,"accel_z":6.5}`,
			want:    steps.Sample{Timestamp: 1755700000123, X: 0.5, Y: 7.25, Z: 6.5},
		},
		{
			name:    "prefers millisecond timestamp",
			payload: `{"timestamp_ms":500,"timestamp_ns":999000000,"x":1,"y":2,"z":3}`,
			want:    steps.Sample{Timestamp: 500, X: 1, Y: 2, Z: 3},
		},
		{
			name:    "zero components are present",
			payload: `{"timestamp_ms":7,"x":0,"y":0,"z":0}`,
			want:    steps.Sample{Timestamp: 7},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSample(tc.payload)
			if err != nil {
				t.Fatalf("ParseSample: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("sample mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSampleErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"csv too few fields", "1000,1.0,2.0"},
		{"csv too many fields", "1000,1,2,3,4"},
		{"csv bad timestamp", "abc,1,2,3"},
		{"csv bad component", "1000,1,two,3"},
		{"malformed json", `{"timestamp_ms":1000,`},
		{"json missing timestamp", `{"x":1,"y":2,"z":3}`},
		{"json partial trio", `{"timestamp_ms":1000,"x":1,"y":2}`},
		{"json partial accel trio", `{"timestamp_ns":1,"accel_x":1}`},
		{"status echo", `{"status":"ok","rate_hz":50}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSample(tc.payload); err == nil {
				t.Errorf("ParseSample(%q) succeeded, want error", tc.payload)
			}
		})
	}
}

func TestParseSampleNotSample(t *testing.T) {
	_, err := ParseSample(`{"status":"ok"}`)
	if !errors.Is(err, ErrNotSample) {
		t.Errorf("status echo error = %v, want ErrNotSample", err)
	}
}
