package model

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Category は自販機カテゴリを表す。
type Category string

const (
	CategoryRefrigerated    Category = "refrigerated"
	CategoryNonRefrigerated Category = "non-refrigerated"
)

// Valid はカテゴリが定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	return c == CategoryRefrigerated || c == CategoryNonRefrigerated
}

// MachineImage は機種画像1枚を表す。DisplayOrderの昇順で表示する。
type MachineImage struct {
	URL          string `json:"url"`
	Alt          string `json:"alt"`
	DisplayOrder int    `json:"display_order"`
}

// SpecItem は仕様表の1行。
type SpecItem struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SpecGroup は見出し付きの仕様表。
type SpecGroup struct {
	Title string     `json:"title"`
	Items []SpecItem `json:"items"`
}

// Feature は機種の特長1件。
type Feature struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Machine はカタログに掲載する自販機1機種を表す。
type Machine struct {
	ID               string         `json:"id"`
	Slug             string         `json:"slug"`
	Name             string         `json:"name"`
	Category         Category       `json:"category"`
	ShortDescription string         `json:"short_description"`
	Description      string         `json:"description"`
	Images           []MachineImage `json:"images"`
	Specifications   []SpecGroup    `json:"specifications"`
	Features         []Feature      `json:"features"`
	BestFor          []string       `json:"best_for"`
	RelatedSlugs     []string       `json:"related_slugs"`
	IsActive         bool           `json:"is_active"`
	DisplayOrder     int            `json:"display_order"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SortImages は画像をDisplayOrder順（同順位はURL順）に並べ替える。
func (m *Machine) SortImages() {
	slices.SortStableFunc(m.Images, func(a, b MachineImage) int {
		if c := cmp.Compare(a.DisplayOrder, b.DisplayOrder); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})
}

// Clone はスライスを共有しない複製を返す。
func (m *Machine) Clone() *Machine {
	c := *m
	c.Images = slices.Clone(m.Images)
	c.Features = slices.Clone(m.Features)
	c.BestFor = slices.Clone(m.BestFor)
	c.RelatedSlugs = slices.Clone(m.RelatedSlugs)
	if m.Specifications != nil {
		c.Specifications = make([]SpecGroup, len(m.Specifications))
		for i, g := range m.Specifications {
			c.Specifications[i] = SpecGroup{Title: g.Title, Items: slices.Clone(g.Items)}
		}
	}
	return &c
}

// SortMachines はカタログの表示順（DisplayOrder、同順位はSlug順）に並べ替える。
func SortMachines(machines []Machine) {
	slices.SortStableFunc(machines, func(a, b Machine) int {
		if c := cmp.Compare(a.DisplayOrder, b.DisplayOrder); c != 0 {
			return c
		}
		return strings.Compare(a.Slug, b.Slug)
	})
}
