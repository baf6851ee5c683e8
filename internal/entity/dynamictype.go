package entity

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Annotation keys understood on dynamic types.
const (
	AnnotationClassificationType = "classification-type"
	AnnotationNameFormat         = "name-format"
)

// Classification types a dynamic type can describe.
const (
	ClassificationReservation = "reservation"
	ClassificationResource    = "resource"
	ClassificationPerson      = "person"
)

// AttributeEmail is the attribute read when resolving allocatables by email.
const AttributeEmail = "email"

// AttributeType is the value type of an attribute.
type AttributeType string

const (
	AttributeString   AttributeType = "string"
	AttributeInt      AttributeType = "int"
	AttributeBoolean  AttributeType = "boolean"
	AttributeDate     AttributeType = "date"
	AttributeCategory AttributeType = "category"
)

var (
	// ErrUnknownAttribute indicates a value for an attribute the type does not declare.
	ErrUnknownAttribute = errors.New("entity: unknown attribute")
	// ErrAttributeValue indicates a value that does not match the attribute type.
	ErrAttributeValue = errors.New("entity: invalid attribute value")
	// ErrDuplicateAttribute indicates two attributes with the same key.
	ErrDuplicateAttribute = errors.New("entity: duplicate attribute key")
)

// Attribute declares one typed value of a classification.
type Attribute struct {
	Key      string
	Name     string
	Type     AttributeType
	Optional bool
	// RootCategory constrains category values to descendants of this category.
	RootCategory ID
	Default      any
}

// DynamicType describes the attributes that classifications of reservations
// and allocatables carry.
type DynamicType struct {
	Base
	elementKey  string
	name        string
	annotations map[string]string
	attributes  []Attribute
}

// NewDynamicType creates a writable dynamic type.
func NewDynamicType(id ID, elementKey, classificationType string) *DynamicType {
	mustType(id, TypeDynamicType)
	return &DynamicType{
		Base:        newBase(id),
		elementKey:  elementKey,
		annotations: map[string]string{AnnotationClassificationType: classificationType},
	}
}

func (t *DynamicType) ElementKey() string { return t.elementKey }

func (t *DynamicType) SetElementKey(key string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.elementKey = key
	return nil
}

func (t *DynamicType) Name() string {
	if t.name == "" {
		return t.elementKey
	}
	return t.name
}

func (t *DynamicType) SetName(name string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.name = name
	return nil
}

func (t *DynamicType) Annotation(key string) string { return t.annotations[key] }

func (t *DynamicType) Annotations() map[string]string { return maps.Clone(t.annotations) }

func (t *DynamicType) SetAnnotation(key, value string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if t.annotations == nil {
		t.annotations = make(map[string]string)
	}
	if value == "" {
		delete(t.annotations, key)
		return nil
	}
	t.annotations[key] = value
	return nil
}

// ClassificationType returns the classification-type annotation.
func (t *DynamicType) ClassificationType() string {
	return t.annotations[AnnotationClassificationType]
}

func (t *DynamicType) Attributes() []Attribute { return slices.Clone(t.attributes) }

// Attribute looks up an attribute by key.
func (t *DynamicType) Attribute(key string) (Attribute, bool) {
	for _, a := range t.attributes {
		if a.Key == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// AddAttribute appends an attribute. Keys are unique within a type.
func (t *DynamicType) AddAttribute(a Attribute) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, exists := t.Attribute(a.Key); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAttribute, a.Key)
	}
	t.attributes = append(t.attributes, a)
	return nil
}

// ReplaceAttribute swaps the attribute with the same key.
func (t *DynamicType) ReplaceAttribute(a Attribute) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	for i := range t.attributes {
		if t.attributes[i].Key == a.Key {
			t.attributes[i] = a
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownAttribute, a.Key)
}

func (t *DynamicType) RemoveAttribute(key string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.attributes = slices.DeleteFunc(t.attributes, func(a Attribute) bool { return a.Key == key })
	return nil
}

// NewClassification returns an empty writable classification of this type.
func (t *DynamicType) NewClassification() *Classification {
	c := &Classification{values: make(map[string]any)}
	c.bind(t)
	for _, a := range t.attributes {
		if a.Default == nil {
			continue
		}
		if v, err := normalizeValue(a, a.Default); err == nil {
			c.values[a.Key] = v
		}
	}
	return c
}

func (t *DynamicType) SetReadOnly(readOnly bool) { t.readOnly = readOnly }

func (t *DynamicType) SubEntities() []Entity { return nil }

func (t *DynamicType) References() *References {
	refs := t.refs.Clone()
	for _, a := range t.attributes {
		if !a.RootCategory.IsZero() {
			refs.Add("constraints", a.RootCategory)
		}
	}
	return refs
}

func (t *DynamicType) Snapshot() *DynamicType {
	return &DynamicType{
		Base:        copyBase(&t.Base),
		elementKey:  t.elementKey,
		name:        t.name,
		annotations: maps.Clone(t.annotations),
		attributes:  slices.Clone(t.attributes),
	}
}

func (t *DynamicType) applyFrom(src *DynamicType) error {
	t.applyBase(&src.Base)
	t.elementKey = src.elementKey
	t.name = src.name
	t.annotations = maps.Clone(src.annotations)
	t.attributes = slices.Clone(src.attributes)
	return nil
}

// Classification is a typed value bag bound to a dynamic type. It is owned
// by a reservation or allocatable and follows its read-only state.
type Classification struct {
	typeID     ID
	kind       string
	nameFormat string
	attributes []Attribute
	values     map[string]any
	readOnly   bool
	owner      ID
}

func (c *Classification) bind(t *DynamicType) {
	c.typeID = t.id
	c.kind = t.ClassificationType()
	c.nameFormat = t.Annotation(AnnotationNameFormat)
	c.attributes = slices.Clone(t.attributes)
}

func (c *Classification) checkWritable() error {
	if c.readOnly {
		return &ReadOnlyError{ID: c.owner}
	}
	return nil
}

// Type returns the id of the dynamic type.
func (c *Classification) Type() ID { return c.typeID }

// Kind returns the classification type of the bound dynamic type.
func (c *Classification) Kind() string { return c.kind }

func (c *Classification) attribute(key string) (Attribute, bool) {
	for _, a := range c.attributes {
		if a.Key == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// Value returns the value stored for key, or nil.
func (c *Classification) Value(key string) any {
	if c == nil {
		return nil
	}
	return c.values[key]
}

// StringValue returns the value for key when it is a string.
func (c *Classification) StringValue(key string) string {
	s, _ := c.Value(key).(string)
	return s
}

// Values returns a copy of all stored values.
func (c *Classification) Values() map[string]any { return maps.Clone(c.values) }

// SetValue stores a value after checking it against the attribute type. A
// nil value clears the attribute.
func (c *Classification) SetValue(key string, value any) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	attr, ok := c.attribute(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	if value == nil {
		delete(c.values, key)
		return nil
	}
	normalized, err := normalizeValue(attr, value)
	if err != nil {
		return err
	}
	c.values[key] = normalized
	return nil
}

func normalizeValue(attr Attribute, value any) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: %q expects %s, got %T", ErrAttributeValue, attr.Key, attr.Type, value)
	}
	switch attr.Type {
	case AttributeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case AttributeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
	case AttributeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case AttributeDate:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, nil
			}
		}
	case AttributeCategory:
		switch v := value.(type) {
		case ID:
			if v.Type == TypeCategory {
				return v, nil
			}
		case string:
			if id, err := ParseIDOfType(TypeCategory, v); err == nil {
				return id, nil
			}
		}
	}
	return bad()
}

// Name renders the name-format annotation, replacing {key} with values. Without
// a format the "name" attribute is used.
func (c *Classification) Name() string {
	if c == nil {
		return ""
	}
	if c.nameFormat == "" {
		return fmt.Sprint(valueOrEmpty(c.values["name"]))
	}
	var b strings.Builder
	format := c.nameFormat
	for {
		open := strings.IndexByte(format, '{')
		if open < 0 {
			b.WriteString(format)
			break
		}
		closing := strings.IndexByte(format[open:], '}')
		if closing < 0 {
			b.WriteString(format)
			break
		}
		b.WriteString(format[:open])
		b.WriteString(fmt.Sprint(valueOrEmpty(c.values[format[open+1:open+closing]])))
		format = format[open+closing+1:]
	}
	return b.String()
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	if id, ok := v.(ID); ok {
		return id.String()
	}
	return v
}

// CategoryIDs returns every category referenced by the values.
func (c *Classification) CategoryIDs() []ID {
	if c == nil {
		return nil
	}
	var ids []ID
	for _, a := range c.attributes {
		if id, ok := c.values[a.Key].(ID); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Normalize rebinds the classification to a changed dynamic type. Values of
// removed attributes, values of the wrong type and category values outside a
// changed root category are dropped. It reports the dropped keys.
func (c *Classification) Normalize(t *DynamicType, r Resolver) ([]string, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	c.bind(t)
	var dropped []string
	for _, key := range slices.Sorted(maps.Keys(c.values)) {
		attr, ok := c.attribute(key)
		if !ok {
			dropped = append(dropped, key)
			delete(c.values, key)
			continue
		}
		value, err := normalizeValue(attr, c.values[key])
		if err != nil {
			dropped = append(dropped, key)
			delete(c.values, key)
			continue
		}
		if id, isCategory := value.(ID); isCategory && !attr.RootCategory.IsZero() && r != nil {
			if !descendsFrom(r, id, attr.RootCategory) {
				dropped = append(dropped, key)
				delete(c.values, key)
				continue
			}
		}
		c.values[key] = value
	}
	return dropped, nil
}

func descendsFrom(r Resolver, id, root ID) bool {
	for seen := 0; !id.IsZero() && seen < 1024; seen++ {
		if id == root {
			return true
		}
		e, err := r.Resolve(id)
		if err != nil {
			return false
		}
		cat, ok := e.(*Category)
		if !ok {
			return false
		}
		id = cat.Parent()
	}
	return false
}

// Clone returns a writable copy with its own values.
func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	return &Classification{
		typeID:     c.typeID,
		kind:       c.kind,
		nameFormat: c.nameFormat,
		attributes: slices.Clone(c.attributes),
		values:     maps.Clone(c.values),
		owner:      c.owner,
	}
}

// NameFormat returns the name-format annotation captured from the type.
func (c *Classification) NameFormat() string { return c.nameFormat }

// RestoreClassification rebuilds a stored classification before its dynamic
// type is available. Values are not validated until Bind and Normalize run.
func RestoreClassification(typeID ID, kind, nameFormat string, values map[string]any) *Classification {
	c := &Classification{typeID: typeID, kind: kind, nameFormat: nameFormat, values: maps.Clone(values)}
	if c.values == nil {
		c.values = make(map[string]any)
	}
	return c
}

// Bind attaches the attribute definitions of t. It is meant for loading and
// does not check the read-only state.
func (c *Classification) Bind(t *DynamicType) {
	c.bind(t)
}
