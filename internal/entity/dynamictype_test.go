package entity

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestClassificationSetValue(t *testing.T) {
	t.Parallel()

	typ := NewDynamicType(NewID(TypeDynamicType, 1), "room", ClassificationResource)
	attrs := []Attribute{
		{Key: "name", Type: AttributeString},
		{Key: "seats", Type: AttributeInt},
		{Key: "bookable", Type: AttributeBoolean},
		{Key: "opened", Type: AttributeDate},
		{Key: "area", Type: AttributeCategory},
	}
	for _, a := range attrs {
		if err := typ.AddAttribute(a); err != nil {
			t.Fatalf("AddAttribute(%s): %v", a.Key, err)
		}
	}
	if err := typ.AddAttribute(Attribute{Key: "name", Type: AttributeString}); !errors.Is(err, ErrDuplicateAttribute) {
		t.Fatalf("expected ErrDuplicateAttribute, got %v", err)
	}

	c := typ.NewClassification()
	if c.Type() != typ.ID() || c.Kind() != ClassificationResource {
		t.Fatalf("classification not bound to its type")
	}

	valid := map[string]any{
		"name":     "Room 1",
		"seats":    float64(12),
		"bookable": true,
		"opened":   "2024-01-02T15:04:05Z",
		"area":     "category_4",
	}
	for key, value := range valid {
		if err := c.SetValue(key, value); err != nil {
			t.Fatalf("SetValue(%s): %v", key, err)
		}
	}
	if got := c.Value("seats"); got != int64(12) {
		t.Fatalf("seats = %#v", got)
	}
	if got, ok := c.Value("opened").(time.Time); !ok || got.Year() != 2024 {
		t.Fatalf("opened = %#v", c.Value("opened"))
	}
	if got := c.CategoryIDs(); !slices.Equal(got, []ID{NewID(TypeCategory, 4)}) {
		t.Fatalf("CategoryIDs() = %v", got)
	}

	invalid := map[string]any{
		"seats":    "twelve",
		"bookable": 1,
		"opened":   "yesterday",
		"area":     "user_4",
	}
	for key, value := range invalid {
		if err := c.SetValue(key, value); !errors.Is(err, ErrAttributeValue) {
			t.Fatalf("SetValue(%s, %v): expected ErrAttributeValue, got %v", key, value, err)
		}
	}
	if err := c.SetValue("colour", "red"); !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("expected ErrUnknownAttribute, got %v", err)
	}
	if err := c.SetValue("name", nil); err != nil || c.Value("name") != nil {
		t.Fatalf("nil should clear the value: %v", err)
	}
}

func TestClassificationName(t *testing.T) {
	t.Parallel()

	typ := NewDynamicType(NewID(TypeDynamicType, 1), "person", ClassificationPerson)
	for _, key := range []string{"first", "last"} {
		if err := typ.AddAttribute(Attribute{Key: key, Type: AttributeString}); err != nil {
			t.Fatalf("AddAttribute: %v", err)
		}
	}
	if err := typ.SetAnnotation(AnnotationNameFormat, "{last}, {first}"); err != nil {
		t.Fatalf("SetAnnotation: %v", err)
	}
	c := typ.NewClassification()
	_ = c.SetValue("first", "Ada")
	_ = c.SetValue("last", "Lovelace")
	if got := c.Name(); got != "Lovelace, Ada" {
		t.Fatalf("Name() = %q", got)
	}
	a := NewAllocatable(NewID(TypeAllocatable, 3), c)
	if !a.IsPerson() || a.Name() != "Lovelace, Ada" {
		t.Fatalf("allocatable name %q person %v", a.Name(), a.IsPerson())
	}
}

func TestClassificationNormalize(t *testing.T) {
	t.Parallel()

	root := NewSuperCategory()
	areas := NewCategory(NewID(TypeCategory, 1), "areas")
	north := NewCategory(NewID(TypeCategory, 2), "north")
	colours := NewCategory(NewID(TypeCategory, 3), "colours")
	if err := areas.AddCategory(north); err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	for _, c := range []*Category{areas, colours} {
		if err := root.AddCategory(c); err != nil {
			t.Fatalf("AddCategory: %v", err)
		}
	}
	resolver := mapResolver{}
	Walk(root, func(e Entity) { resolver[e.ID()] = e })

	typ := NewDynamicType(NewID(TypeDynamicType, 1), "room", ClassificationResource)
	for _, a := range []Attribute{
		{Key: "name", Type: AttributeString},
		{Key: "seats", Type: AttributeString},
		{Key: "area", Type: AttributeCategory},
		{Key: "floor", Type: AttributeInt},
	} {
		if err := typ.AddAttribute(a); err != nil {
			t.Fatalf("AddAttribute: %v", err)
		}
	}
	c := typ.NewClassification()
	for key, value := range map[string]any{"name": "Room", "seats": "12", "area": north.ID(), "floor": 3} {
		if err := c.SetValue(key, value); err != nil {
			t.Fatalf("SetValue(%s): %v", key, err)
		}
	}

	changed := typ.Snapshot()
	if err := changed.RemoveAttribute("floor"); err != nil {
		t.Fatalf("RemoveAttribute: %v", err)
	}
	if err := changed.ReplaceAttribute(Attribute{Key: "seats", Type: AttributeInt}); err != nil {
		t.Fatalf("ReplaceAttribute: %v", err)
	}
	if err := changed.ReplaceAttribute(Attribute{Key: "area", Type: AttributeCategory, RootCategory: colours.ID()}); err != nil {
		t.Fatalf("ReplaceAttribute: %v", err)
	}

	dropped, err := c.Normalize(changed, resolver)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !slices.Equal(dropped, []string{"area", "floor", "seats"}) {
		t.Fatalf("dropped = %v", dropped)
	}
	if c.StringValue("name") != "Room" || len(c.Values()) != 1 {
		t.Fatalf("unexpected values %v", c.Values())
	}

	keep := typ.NewClassification()
	_ = keep.SetValue("area", north.ID())
	withAreas := typ.Snapshot()
	if err := withAreas.ReplaceAttribute(Attribute{Key: "area", Type: AttributeCategory, RootCategory: areas.ID()}); err != nil {
		t.Fatalf("ReplaceAttribute: %v", err)
	}
	if dropped, err := keep.Normalize(withAreas, resolver); err != nil || len(dropped) != 0 {
		t.Fatalf("descendant category should be kept, dropped %v err %v", dropped, err)
	}
}

func TestDynamicTypeReferencesConstraints(t *testing.T) {
	t.Parallel()

	typ := NewDynamicType(NewID(TypeDynamicType, 1), "room", ClassificationResource)
	if err := typ.AddAttribute(Attribute{Key: "area", Type: AttributeCategory, RootCategory: NewID(TypeCategory, 7)}); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if !typ.References().IsReferring(NewID(TypeCategory, 7)) {
		t.Fatalf("root category constraint should be a reference")
	}
	if typ.ClassificationType() != ClassificationResource || typ.Name() != "room" {
		t.Fatalf("unexpected type metadata")
	}
}
