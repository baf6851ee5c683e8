package entity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// SuperCategoryKey is the key of the root category.
const SuperCategoryKey = "supercategory"

// SuperCategoryID is the reserved id of the root category.
var SuperCategoryID = ID{Type: TypeCategory, Key: 0}

// ErrDuplicateCategory indicates two children with the same key.
var ErrDuplicateCategory = errors.New("entity: duplicate category key")

// Category is a node of the category tree. Children are owned.
type Category struct {
	Base
	key      string
	name     string
	children []*Category
}

// NewCategory creates a writable category.
func NewCategory(id ID, key string) *Category {
	mustType(id, TypeCategory)
	return &Category{Base: newBase(id), key: key}
}

// NewSuperCategory creates the root category at its reserved id.
func NewSuperCategory() *Category {
	return NewCategory(SuperCategoryID, SuperCategoryKey)
}

func (c *Category) Key() string { return c.key }

func (c *Category) SetKey(key string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.key = key
	return nil
}

func (c *Category) Name() string {
	if c.name == "" {
		return c.key
	}
	return c.name
}

func (c *Category) SetName(name string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.name = name
	return nil
}

// Parent returns the parent category, or the zero ID for the root.
func (c *Category) Parent() ID {
	id, _ := c.refs.Get(RefParent)
	return id
}

func (c *Category) Children() []*Category { return slices.Clone(c.children) }

// Child returns the direct child with the given key.
func (c *Category) Child(key string) (*Category, bool) {
	for _, child := range c.children {
		if child.key == key {
			return child, true
		}
	}
	return nil, false
}

// AddCategory appends child and makes c its parent.
func (c *Category) AddCategory(child *Category) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if existing, ok := c.Child(child.key); ok && existing.id != child.id {
		return fmt.Errorf("%w: %q", ErrDuplicateCategory, child.key)
	}
	if err := child.checkWritable(); err != nil {
		return err
	}
	child.refs.Set(RefParent, c.id)
	for i, existing := range c.children {
		if existing.id == child.id {
			c.children[i] = child
			return nil
		}
	}
	c.children = append(c.children, child)
	return nil
}

// RemoveCategory drops the direct child with the given id.
func (c *Category) RemoveCategory(id ID) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.children = slices.DeleteFunc(c.children, func(child *Category) bool { return child.id == id })
	return nil
}

// Find returns the descendant with the given id, c included.
func (c *Category) Find(id ID) (*Category, bool) {
	if c.id == id {
		return c, true
	}
	for _, child := range c.children {
		if found, ok := child.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

// IsAncestorOf reports whether id lies strictly below c.
func (c *Category) IsAncestorOf(id ID) bool {
	if c.id == id {
		return false
	}
	_, ok := c.Find(id)
	return ok
}

// PathFor returns the slash separated keys from c down to the descendant id.
func (c *Category) PathFor(id ID) (string, bool) {
	var path []string
	var walk func(n *Category) bool
	walk = func(n *Category) bool {
		if n.id == id {
			return true
		}
		for _, child := range n.children {
			path = append(path, child.key)
			if walk(child) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if !walk(c) {
		return "", false
	}
	return strings.Join(path, "/"), true
}

// ByPath resolves a path produced by PathFor.
func (c *Category) ByPath(path string) (*Category, bool) {
	node := c
	if path == "" {
		return node, true
	}
	for _, key := range strings.Split(path, "/") {
		child, ok := node.Child(key)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

func (c *Category) SetReadOnly(readOnly bool) {
	c.readOnly = readOnly
	for _, child := range c.children {
		child.SetReadOnly(readOnly)
	}
}

func (c *Category) SubEntities() []Entity {
	out := make([]Entity, 0, len(c.children))
	for _, child := range c.children {
		out = append(out, child)
	}
	return out
}

// Snapshot returns a writable copy sharing the children.
func (c *Category) Snapshot() *Category {
	return &Category{
		Base:     copyBase(&c.Base),
		key:      c.key,
		name:     c.name,
		children: slices.Clone(c.children),
	}
}

// DeepSnapshot returns a writable copy of the whole subtree.
func (c *Category) DeepSnapshot() *Category {
	out := c.Snapshot()
	for i, child := range out.children {
		out.children[i] = child.DeepSnapshot()
	}
	return out
}

func (c *Category) applyFrom(src *Category) error {
	c.applyBase(&src.Base)
	c.key = src.key
	c.name = src.name
	c.children = make([]*Category, len(src.children))
	for i, child := range src.children {
		c.children[i] = child.DeepSnapshot()
	}
	return nil
}
