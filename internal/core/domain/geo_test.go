package domain

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		tolKm    float64
	}{
		{
			name:     "same point",
			a:        Point{Lat: 12.9716, Lng: 77.5946},
			b:        Point{Lat: 12.9716, Lng: 77.5946},
			expected: 0,
			tolKm:    0.001,
		},
		{
			name:     "bangalore to chennai",
			a:        Point{Lat: 12.9716, Lng: 77.5946},
			b:        Point{Lat: 13.0827, Lng: 80.2707},
			expected: 290,
			tolKm:    5,
		},
		{
			name:     "one degree of latitude",
			a:        Point{Lat: 0, Lng: 0},
			b:        Point{Lat: 1, Lng: 0},
			expected: 111.19,
			tolKm:    0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.tolKm {
				t.Errorf("HaversineKm() = %v, want %v ± %v", got, tt.expected, tt.tolKm)
			}
		})
	}
}

func TestHaversineKmSymmetric(t *testing.T) {
	a := Point{Lat: 12.90, Lng: 77.50}
	b := Point{Lat: 12.95, Lng: 77.60}
	if HaversineKm(a, b) != HaversineKm(b, a) {
		t.Error("distance must be symmetric")
	}
}

func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		wantErr  bool
	}{
		{"valid", 12.97, 77.59, false},
		{"boundary north pole", 90, 0, false},
		{"boundary date line", 0, -180, false},
		{"latitude too high", 90.1, 0, true},
		{"latitude too low", -90.1, 0, true},
		{"longitude too high", 0, 180.5, true},
		{"longitude too low", 0, -181, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinate(tt.lat, tt.lng)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCoordinate(%v, %v) error = %v, wantErr %v", tt.lat, tt.lng, err, tt.wantErr)
			}
		})
	}
}
