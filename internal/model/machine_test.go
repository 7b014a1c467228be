package model

import (
	"math"
	"slices"
	"testing"
)

func TestSortMachines_ExtremeDisplayOrder(t *testing.T) {
	machines := []Machine{
		{Slug: "max", DisplayOrder: math.MaxInt},
		{Slug: "min", DisplayOrder: math.MinInt},
		{Slug: "zero-b", DisplayOrder: 0},
		{Slug: "zero-a", DisplayOrder: 0},
		{Slug: "one", DisplayOrder: 1},
	}

	SortMachines(machines)

	got := make([]string, len(machines))
	for i, m := range machines {
		got[i] = m.Slug
	}
	want := []string{"min", "zero-a", "zero-b", "one", "max"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSortImages_ExtremeDisplayOrder(t *testing.T) {
	m := &Machine{Images: []MachineImage{
		{URL: "https://cdn.example.com/max.jpg", DisplayOrder: math.MaxInt},
		{URL: "https://cdn.example.com/min.jpg", DisplayOrder: math.MinInt},
		{URL: "https://cdn.example.com/b.jpg", DisplayOrder: 1},
		{URL: "https://cdn.example.com/a.jpg", DisplayOrder: 1},
	}}

	m.SortImages()

	got := make([]string, len(m.Images))
	for i, img := range m.Images {
		got[i] = img.URL
	}
	want := []string{
		"https://cdn.example.com/min.jpg",
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.jpg",
		"https://cdn.example.com/max.jpg",
	}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
