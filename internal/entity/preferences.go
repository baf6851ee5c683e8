package entity

import (
	"maps"
	"slices"
)

// Preferences holds string settings of a user. Preferences without an owner
// are the system defaults.
type Preferences struct {
	Base
	entries map[string]string
}

// NewPreferences creates writable preferences owned by user. The zero ID
// creates the system defaults.
func NewPreferences(id ID, user ID) *Preferences {
	mustType(id, TypePreferences)
	p := &Preferences{Base: newBase(id), entries: make(map[string]string)}
	p.refs.Set(RefOwner, user)
	return p
}

func (p *Preferences) Entry(key string) (string, bool) {
	v, ok := p.entries[key]
	return v, ok
}

func (p *Preferences) SetEntry(key, value string) error {
	if err := p.checkWritable(); err != nil {
		return err
	}
	if p.entries == nil {
		p.entries = make(map[string]string)
	}
	p.entries[key] = value
	return nil
}

func (p *Preferences) RemoveEntry(key string) error {
	if err := p.checkWritable(); err != nil {
		return err
	}
	delete(p.entries, key)
	return nil
}

// Keys returns the entry keys in sorted order.
func (p *Preferences) Keys() []string { return slices.Sorted(maps.Keys(p.entries)) }

func (p *Preferences) Entries() map[string]string { return maps.Clone(p.entries) }

func (p *Preferences) SetReadOnly(readOnly bool) { p.readOnly = readOnly }

func (p *Preferences) SubEntities() []Entity { return nil }

func (p *Preferences) Snapshot() *Preferences {
	return &Preferences{Base: copyBase(&p.Base), entries: maps.Clone(p.entries)}
}

func (p *Preferences) applyFrom(src *Preferences) error {
	p.applyBase(&src.Base)
	p.entries = maps.Clone(src.entries)
	return nil
}
