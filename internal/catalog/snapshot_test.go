package catalog

import (
	"strings"
	"testing"

	"github.com/hitoshi/vendsite/internal/model"
	"github.com/hitoshi/vendsite/internal/security"
)

func TestLoadSnapshot_EmbeddedDataIsValid(t *testing.T) {
	s, err := LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.Len() == 0 {
		t.Fatal("embedded snapshot is empty")
	}

	for _, c := range []model.Category{model.CategoryRefrigerated, model.CategoryNonRefrigerated} {
		if len(s.ByCategory(c)) == 0 {
			t.Errorf("no snapshot entries for category %s", c)
		}
	}

	all := s.All()
	for i, m := range all {
		if m.ID == "" || m.Name == "" {
			t.Errorf("entry %d (%s) missing id or name", i, m.Slug)
		}
		for _, img := range m.Images {
			if err := security.ValidateImageURL(img.URL); err != nil {
				t.Errorf("%s: image %q rejected: %v", m.Slug, img.URL, err)
			}
		}
		for _, rel := range m.RelatedSlugs {
			if s.BySlug(rel) == nil {
				t.Errorf("%s: related slug %q not in snapshot", m.Slug, rel)
			}
		}
		if i > 0 {
			prev := all[i-1]
			if prev.DisplayOrder > m.DisplayOrder ||
				(prev.DisplayOrder == m.DisplayOrder && strings.Compare(prev.Slug, m.Slug) > 0) {
				t.Errorf("snapshot not ordered at %d: %s before %s", i, prev.Slug, m.Slug)
			}
		}
	}
}

func TestNewSnapshot_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		machines []model.Machine
	}{
		{"empty slug", []model.Machine{{Category: model.CategoryRefrigerated}}},
		{"invalid category", []model.Machine{{Slug: "x", Category: "frozen"}}},
		{"duplicate slug", []model.Machine{
			{Slug: "x", Category: model.CategoryRefrigerated},
			{Slug: "x", Category: model.CategoryNonRefrigerated},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSnapshot(tt.machines); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewSnapshot_CopiesInput(t *testing.T) {
	in := []model.Machine{{Slug: "x", Name: "元の名前", Category: model.CategoryRefrigerated, IsActive: true,
		BestFor: []string{"オフィス"}}}
	s, err := NewSnapshot(in)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	in[0].Name = "変更"
	in[0].BestFor[0] = "変更"

	m := s.BySlug("x")
	if m.Name != "元の名前" || m.BestFor[0] != "オフィス" {
		t.Errorf("snapshot shares input memory: %+v", m)
	}
}
