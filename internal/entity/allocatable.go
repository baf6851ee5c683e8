package entity

// Allocatable is a bookable resource or person.
type Allocatable struct {
	Base
	classification    *Classification
	holdBackConflicts bool
}

// NewAllocatable creates a writable allocatable with the given classification.
func NewAllocatable(id ID, classification *Classification) *Allocatable {
	mustType(id, TypeAllocatable)
	a := &Allocatable{Base: newBase(id)}
	a.setClassification(classification)
	return a
}

func (a *Allocatable) setClassification(c *Classification) {
	if c != nil {
		c.owner = a.id
		c.readOnly = a.readOnly
	}
	a.classification = c
}

func (a *Allocatable) Classification() *Classification { return a.classification }

func (a *Allocatable) SetClassification(c *Classification) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.setClassification(c)
	return nil
}

// IsPerson reports whether the allocatable is classified as a person.
func (a *Allocatable) IsPerson() bool {
	return a.classification != nil && a.classification.Kind() == ClassificationPerson
}

// Email returns the email attribute of the classification.
func (a *Allocatable) Email() string {
	return a.classification.StringValue(AttributeEmail)
}

func (a *Allocatable) Name() string {
	if name := a.classification.Name(); name != "" {
		return name
	}
	return a.id.String()
}

// HoldBackConflicts reports whether conflicts on this allocatable are ignored.
func (a *Allocatable) HoldBackConflicts() bool { return a.holdBackConflicts }

func (a *Allocatable) SetHoldBackConflicts(hold bool) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.holdBackConflicts = hold
	return nil
}

func (a *Allocatable) SetReadOnly(readOnly bool) {
	a.readOnly = readOnly
	if a.classification != nil {
		a.classification.readOnly = readOnly
	}
}

func (a *Allocatable) SubEntities() []Entity { return nil }

func (a *Allocatable) References() *References {
	return withClassification(a.refs, a.classification)
}

func withClassification(refs *References, c *Classification) *References {
	if c == nil {
		return refs
	}
	out := refs.Clone()
	out.Add("classification", c.Type())
	for _, id := range c.CategoryIDs() {
		out.Add("classification", id)
	}
	return out
}

func (a *Allocatable) Snapshot() *Allocatable {
	out := &Allocatable{Base: copyBase(&a.Base), holdBackConflicts: a.holdBackConflicts}
	out.setClassification(a.classification.Clone())
	return out
}

func (a *Allocatable) applyFrom(src *Allocatable) error {
	a.applyBase(&src.Base)
	a.holdBackConflicts = src.holdBackConflicts
	a.setClassification(src.classification.Clone())
	return nil
}
