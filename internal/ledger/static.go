package ledger

import (
	"sort"
	"sync"
)

// StaticDirectory is an in-memory Directory. It backs tests and runs
// without a gateway connection.
type StaticDirectory struct {
	mu       sync.RWMutex
	children map[string]map[string]struct{}
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{children: make(map[string]map[string]struct{})}
}

// AddCategory registers an empty category.
func (d *StaticDirectory) AddCategory(categoryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.children[categoryID] == nil {
		d.children[categoryID] = make(map[string]struct{})
	}
}

// AddVoice places a voice channel under a category, creating the category.
func (d *StaticDirectory) AddVoice(categoryID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.children[categoryID] == nil {
		d.children[categoryID] = make(map[string]struct{})
	}
	d.children[categoryID][channelID] = struct{}{}
}

// Remove deletes a channel or category from the directory.
func (d *StaticDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.children, id)
	for _, set := range d.children {
		delete(set, id)
	}
}

func (d *StaticDirectory) IsCategory(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.children[id]
	return ok
}

func (d *StaticDirectory) VoiceChildren(categoryID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.children[categoryID]))
	for id := range d.children[categoryID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *StaticDirectory) ParentOf(channelID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cat, set := range d.children {
		if _, ok := set[channelID]; ok {
			return cat
		}
	}
	return ""
}
