package geo

import "testing"

func TestHaversineMetersZero(t *testing.T) {
	p := Point{Lat: 34.0164, Lng: -118.4951}
	if d := HaversineMeters(p, p); d != 0 {
		t.Fatalf("expected 0 distance for identical points, got %f", d)
	}
}

func TestWithinRadiusKnownCase(t *testing.T) {
	center := Point{Lat: 34.0164, Lng: -118.4951}
	near := Point{Lat: 34.01641, Lng: -118.49509}
	if !WithinRadius(center, near, 100) {
		t.Fatalf("expected point ~1m away to be within 100m radius")
	}

	far := Point{Lat: 34.1164, Lng: -118.4951}
	if WithinRadius(center, far, 100) {
		t.Fatalf("expected point ~11km away to be outside 100m radius")
	}
}

func TestPointInPolygonSquare(t *testing.T) {
	square := []Point{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 10, Lng: 10},
		{Lat: 10, Lng: 0},
	}
	if !PointInPolygon(Point{Lat: 5, Lng: 5}, square) {
		t.Fatalf("expected center point to be inside square")
	}
	if PointInPolygon(Point{Lat: 20, Lng: 20}, square) {
		t.Fatalf("expected far point to be outside square")
	}
}
