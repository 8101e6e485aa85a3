package batch

import (
	"strconv"
	"strings"
)

// EmptyName replaces blank item names.
const EmptyName = "empty"

var separatorReplacer = strings.NewReplacer("/", "_", "\\", "_")

// NameSet hands out batch-unique names. The first occurrence of a name is
// returned unchanged, later ones get "_1", "_2", ... in order of claiming.
// A NameSet is not safe for concurrent use.
type NameSet struct {
	counts map[string]int
	used   map[string]struct{}
}

func NewNameSet() *NameSet {
	return &NameSet{
		counts: make(map[string]int),
		used:   make(map[string]struct{}),
	}
}

// Claim returns the unique name for the next item called name.
func (s *NameSet) Claim(name string) string {
	base := separatorReplacer.Replace(name)
	if strings.TrimSpace(base) == "" {
		base = EmptyName
	}

	n := s.counts[base]
	candidate := base
	if n > 0 {
		candidate = base + "_" + strconv.Itoa(n)
	}
	// 跳过已被字面名称占用的后缀
	for s.taken(candidate) {
		n++
		candidate = base + "_" + strconv.Itoa(n)
	}

	s.counts[base] = n + 1
	s.used[candidate] = struct{}{}
	return candidate
}

func (s *NameSet) taken(name string) bool {
	_, ok := s.used[name]
	return ok
}
