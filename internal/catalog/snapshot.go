package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/vendsite/internal/model"
)

//go:embed snapshot.json
var snapshotJSON []byte

// Snapshot はビルド時に埋め込まれた読み取り専用のカタログ。
// ストアが使えない場合のフォールバック元として使う。
type Snapshot struct {
	machines []model.Machine
	bySlug   map[string]int
}

// LoadSnapshot は埋め込みのsnapshot.jsonを読み込む。
func LoadSnapshot() (*Snapshot, error) {
	var machines []model.Machine
	if err := json.Unmarshal(snapshotJSON, &machines); err != nil {
		return nil, fmt.Errorf("failed to decode catalog snapshot: %w", err)
	}
	return NewSnapshot(machines)
}

// MustLoadSnapshot はLoadSnapshotの失敗時にpanicする。
// 埋め込みデータの破損はビルド不良なので起動時に落とす。
func MustLoadSnapshot() *Snapshot {
	s, err := LoadSnapshot()
	if err != nil {
		panic(err)
	}
	return s
}

// NewSnapshot は機種一覧からSnapshotを生成する。
// 入力は複製して保持するため、呼び出し側で変更しても影響しない。
func NewSnapshot(machines []model.Machine) (*Snapshot, error) {
	s := &Snapshot{
		machines: make([]model.Machine, 0, len(machines)),
		bySlug:   make(map[string]int, len(machines)),
	}
	for i := range machines {
		m := machines[i].Clone()
		if m.Slug == "" {
			return nil, fmt.Errorf("snapshot entry %d has empty slug", i)
		}
		if !m.Category.Valid() {
			return nil, fmt.Errorf("snapshot entry %q has invalid category %q", m.Slug, m.Category)
		}
		if _, dup := s.bySlug[m.Slug]; dup {
			return nil, fmt.Errorf("snapshot has duplicate slug %q", m.Slug)
		}
		m.SortImages()
		s.bySlug[m.Slug] = len(s.machines)
		s.machines = append(s.machines, *m)
	}
	model.SortMachines(s.machines)
	for i, m := range s.machines {
		s.bySlug[m.Slug] = i
	}
	return s, nil
}

// All は公開中の全機種の複製を表示順で返す。
func (s *Snapshot) All() []model.Machine {
	return s.filter(func(*model.Machine) bool { return true })
}

// BySlug は公開中の機種の複製を返す。見つからない場合はnilを返す。
func (s *Snapshot) BySlug(slug string) *model.Machine {
	i, ok := s.bySlug[slug]
	if !ok || !s.machines[i].IsActive {
		return nil
	}
	return s.machines[i].Clone()
}

// ByCategory は指定カテゴリの公開中機種の複製を表示順で返す。
func (s *Snapshot) ByCategory(category model.Category) []model.Machine {
	return s.filter(func(m *model.Machine) bool { return m.Category == category })
}

func (s *Snapshot) filter(keep func(*model.Machine) bool) []model.Machine {
	out := []model.Machine{}
	for i := range s.machines {
		m := &s.machines[i]
		if m.IsActive && keep(m) {
			out = append(out, *m.Clone())
		}
	}
	return out
}

// Len はスナップショットの件数を返す。
func (s *Snapshot) Len() int {
	return len(s.machines)
}
