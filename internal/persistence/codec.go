package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/storage"
)

// Codec converts entities to records and back. Decoded times are moved into
// the codec's location so that recurrence arithmetic keeps its wall clock.
type Codec struct {
	location *time.Location
}

// NewCodec returns a codec for loc. A nil loc uses time.Local.
func NewCodec(loc *time.Location) *Codec {
	if loc == nil {
		loc = time.Local
	}
	return &Codec{location: loc}
}

type basePayload struct {
	References  map[string][]entity.ID `json:"references,omitempty"`
	Created     time.Time              `json:"created"`
	LastChanged time.Time              `json:"last_changed"`
}

type classificationPayload struct {
	Type       entity.ID      `json:"type"`
	Kind       string         `json:"kind,omitempty"`
	NameFormat string         `json:"name_format,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
}

type repeatingPayload struct {
	Type       string      `json:"type"`
	Interval   int         `json:"interval"`
	Number     int         `json:"number,omitempty"`
	End        *time.Time  `json:"end,omitempty"`
	Exceptions []time.Time `json:"exceptions,omitempty"`
}

type appointmentPayload struct {
	basePayload
	ID        entity.ID         `json:"id"`
	Version   int64             `json:"version"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	WholeDays bool              `json:"whole_days,omitempty"`
	Repeating *repeatingPayload `json:"repeating,omitempty"`
}

type reservationPayload struct {
	basePayload
	Classification *classificationPayload    `json:"classification,omitempty"`
	Appointments   []appointmentPayload      `json:"appointments,omitempty"`
	Restrictions   map[entity.ID][]entity.ID `json:"restrictions,omitempty"`
}

type allocatablePayload struct {
	basePayload
	Classification    *classificationPayload `json:"classification,omitempty"`
	HoldBackConflicts bool                   `json:"hold_back_conflicts,omitempty"`
}

type userPayload struct {
	basePayload
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

type categoryPayload struct {
	basePayload
	ID       entity.ID         `json:"id"`
	Version  int64             `json:"version"`
	Key      string            `json:"key"`
	Name     string            `json:"name,omitempty"`
	Children []categoryPayload `json:"children,omitempty"`
}

type attributePayload struct {
	Key          string    `json:"key"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type"`
	Optional     bool      `json:"optional,omitempty"`
	RootCategory entity.ID `json:"root_category"`
	Default      any       `json:"default,omitempty"`
}

type dynamicTypePayload struct {
	basePayload
	ElementKey  string             `json:"element_key"`
	Name        string             `json:"name,omitempty"`
	Annotations map[string]string  `json:"annotations,omitempty"`
	Attributes  []attributePayload `json:"attributes,omitempty"`
}

type preferencesPayload struct {
	basePayload
	Entries map[string]string `json:"entries,omitempty"`
}

// IsTopLevel reports whether e is stored as its own record. Appointments of
// a reservation and categories below another category travel inside their
// owner.
func IsTopLevel(e entity.Entity) bool {
	switch v := e.(type) {
	case *entity.Appointment:
		return v.Reservation().IsZero()
	case *entity.Category:
		return v.Parent().IsZero()
	default:
		return true
	}
}

// EncodeEntity serialises e and everything it owns.
func (c *Codec) EncodeEntity(e entity.Entity) (Record, error) {
	var payload any
	switch v := e.(type) {
	case *entity.Reservation:
		payload = encodeReservation(v)
	case *entity.Appointment:
		payload = encodeAppointment(v)
	case *entity.Allocatable:
		payload = allocatablePayload{
			basePayload:       encodeBase(v),
			Classification:    encodeClassification(v.Classification()),
			HoldBackConflicts: v.HoldBackConflicts(),
		}
	case *entity.User:
		payload = userPayload{
			basePayload: encodeBase(v),
			Username:    v.Username(),
			Name:        v.Name(),
			Email:       v.Email(),
			Admin:       v.IsAdmin(),
		}
	case *entity.Category:
		payload = encodeCategory(v)
	case *entity.DynamicType:
		payload = encodeDynamicType(v)
	case *entity.Preferences:
		payload = preferencesPayload{basePayload: encodeBase(v), Entries: v.Entries()}
	default:
		return Record{}, fmt.Errorf("persistence: cannot encode %T", e)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("persistence: encode %s: %w", e.ID(), err)
	}
	return Record{ID: e.ID(), Type: e.ID().Type.String(), Version: e.Version(), Payload: raw}, nil
}

type baseEntity interface {
	entity.Entity
	CreateDate() time.Time
	LastChanged() time.Time
}

func encodeBase(e baseEntity) basePayload {
	refs := entity.StoredReferences(e).Map()
	if len(refs) == 0 {
		refs = nil
	}
	return basePayload{References: refs, Created: e.CreateDate(), LastChanged: e.LastChanged()}
}

func encodeClassification(c *entity.Classification) *classificationPayload {
	if c == nil {
		return nil
	}
	return &classificationPayload{Type: c.Type(), Kind: c.Kind(), NameFormat: c.NameFormat(), Values: c.Values()}
}

func encodeAppointment(a *entity.Appointment) appointmentPayload {
	p := appointmentPayload{
		basePayload: encodeBase(a),
		ID:          a.ID(),
		Version:     a.Version(),
		Start:       a.Start(),
		End:         a.End(),
		WholeDays:   a.IsWholeDaysSet(),
	}
	if rep := a.Repeating(); rep != nil {
		rule := rep.Rule()
		p.Repeating = &repeatingPayload{
			Type:       rule.Type.String(),
			Interval:   rep.Interval(),
			Number:     rule.Count,
			End:        rule.Until,
			Exceptions: rule.Exceptions,
		}
	}
	return p
}

func encodeReservation(r *entity.Reservation) reservationPayload {
	p := reservationPayload{
		basePayload:    encodeBase(r),
		Classification: encodeClassification(r.Classification()),
	}
	for _, a := range r.Appointments() {
		p.Appointments = append(p.Appointments, encodeAppointment(a))
	}
	if restrictions := r.Restrictions(); len(restrictions) > 0 {
		p.Restrictions = restrictions
	}
	return p
}

func encodeCategory(c *entity.Category) categoryPayload {
	p := categoryPayload{
		basePayload: encodeBase(c),
		ID:          c.ID(),
		Version:     c.Version(),
		Key:         c.Key(),
	}
	if c.Name() != c.Key() {
		p.Name = c.Name()
	}
	for _, child := range c.Children() {
		p.Children = append(p.Children, encodeCategory(child))
	}
	return p
}

func encodeDynamicType(t *entity.DynamicType) dynamicTypePayload {
	p := dynamicTypePayload{
		basePayload: encodeBase(t),
		ElementKey:  t.ElementKey(),
		Annotations: t.Annotations(),
	}
	if t.Name() != t.ElementKey() {
		p.Name = t.Name()
	}
	for _, a := range t.Attributes() {
		p.Attributes = append(p.Attributes, attributePayload{
			Key:          a.Key,
			Name:         a.Name,
			Type:         string(a.Type),
			Optional:     a.Optional,
			RootCategory: a.RootCategory,
			Default:      a.Default,
		})
	}
	return p
}

// DecodeEntity rebuilds a writable entity from r. Classifications are not
// bound to their dynamic types yet; Load does that once every record is
// available.
func (c *Codec) DecodeEntity(r Record) (entity.Entity, error) {
	e, err := c.decode(r)
	if err != nil {
		return nil, &DecodeError{ID: r.ID, Err: err}
	}
	return e, nil
}

func (c *Codec) decode(r Record) (entity.Entity, error) {
	if !r.ID.Type.Valid() {
		return nil, fmt.Errorf("unknown type %q", r.Type)
	}
	switch r.ID.Type {
	case entity.TypeReservation:
		var p reservationPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		return c.decodeReservation(r, p)
	case entity.TypeAppointment:
		var p appointmentPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		p.ID, p.Version = r.ID, r.Version
		return c.decodeAppointment(p)
	case entity.TypeAllocatable:
		var p allocatablePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		a := entity.NewAllocatable(r.ID, decodeClassification(p.Classification))
		if err := a.SetHoldBackConflicts(p.HoldBackConflicts); err != nil {
			return nil, err
		}
		return a, c.restoreBase(a, r.Version, p.basePayload)
	case entity.TypeUser:
		var p userPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		u := entity.NewUser(r.ID, p.Username)
		if err := errors.Join(u.SetName(p.Name), u.SetEmail(p.Email), u.SetAdmin(p.Admin)); err != nil {
			return nil, err
		}
		return u, c.restoreBase(u, r.Version, p.basePayload)
	case entity.TypeCategory:
		var p categoryPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		p.ID, p.Version = r.ID, r.Version
		return c.decodeCategory(p)
	case entity.TypeDynamicType:
		var p dynamicTypePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		return c.decodeDynamicType(r, p)
	case entity.TypePreferences:
		var p preferencesPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, err
		}
		prefs := entity.NewPreferences(r.ID, entity.ID{})
		for key, value := range p.Entries {
			if err := prefs.SetEntry(key, value); err != nil {
				return nil, err
			}
		}
		return prefs, c.restoreBase(prefs, r.Version, p.basePayload)
	}
	return nil, fmt.Errorf("unhandled type %s", r.ID.Type)
}

type restorable interface {
	entity.Entity
	SetVersion(int64) error
	SetTimestamps(created, lastChanged time.Time) error
}

func (c *Codec) restoreBase(e restorable, version int64, p basePayload) error {
	if err := entity.RestoreReferences(e, entity.ReferencesFromMap(p.References, referenceOrder)); err != nil {
		return err
	}
	if err := e.SetVersion(version); err != nil {
		return err
	}
	return e.SetTimestamps(c.in(p.Created), c.in(p.LastChanged))
}

var referenceOrder = []string{
	entity.RefOwner,
	entity.RefLastChangedBy,
	entity.RefParent,
	entity.RefPerson,
	entity.RefGroups,
	entity.RefResources,
}

func (c *Codec) in(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(c.location)
}

func decodeClassification(p *classificationPayload) *entity.Classification {
	if p == nil {
		return nil
	}
	return entity.RestoreClassification(p.Type, p.Kind, p.NameFormat, p.Values)
}

func (c *Codec) decodeAppointment(p appointmentPayload) (*entity.Appointment, error) {
	if p.End.Before(p.Start) {
		return nil, entity.ErrInvalidPeriod
	}
	a := entity.NewAppointment(p.ID, c.in(p.Start), c.in(p.End))
	if err := a.SetWholeDays(p.WholeDays); err != nil {
		return nil, err
	}
	if p.Repeating != nil {
		typ, err := recurrence.ParseType(p.Repeating.Type)
		if err != nil {
			return nil, err
		}
		rep, err := a.SetRepeatingType(typ)
		if err != nil {
			return nil, err
		}
		if err := rep.SetInterval(p.Repeating.Interval); err != nil {
			return nil, err
		}
		switch {
		case p.Repeating.Number > 0:
			err = rep.SetNumber(p.Repeating.Number)
		case p.Repeating.End != nil:
			end := c.in(*p.Repeating.End)
			err = rep.SetEnd(&end)
		}
		if err != nil {
			return nil, err
		}
		for _, d := range p.Repeating.Exceptions {
			if err := rep.AddException(c.in(d)); err != nil {
				return nil, err
			}
		}
	}
	return a, c.restoreBase(a, p.Version, p.basePayload)
}

func (c *Codec) decodeReservation(r Record, p reservationPayload) (*entity.Reservation, error) {
	res := entity.NewReservation(r.ID, decodeClassification(p.Classification))
	if err := c.restoreBase(res, r.Version, p.basePayload); err != nil {
		return nil, err
	}
	for _, ap := range p.Appointments {
		if ap.ID.Type != entity.TypeAppointment {
			return nil, fmt.Errorf("appointment with id %q", ap.ID)
		}
		a, err := c.decodeAppointment(ap)
		if err != nil {
			return nil, err
		}
		if err := res.AddAppointment(a); err != nil {
			return nil, err
		}
	}
	for alloc, apps := range p.Restrictions {
		if err := res.SetRestriction(alloc, apps); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Codec) decodeCategory(p categoryPayload) (*entity.Category, error) {
	if p.ID.Type != entity.TypeCategory {
		return nil, fmt.Errorf("category with id %q", p.ID)
	}
	cat := entity.NewCategory(p.ID, p.Key)
	if err := cat.SetName(p.Name); err != nil {
		return nil, err
	}
	if err := c.restoreBase(cat, p.Version, p.basePayload); err != nil {
		return nil, err
	}
	for _, cp := range p.Children {
		child, err := c.decodeCategory(cp)
		if err != nil {
			return nil, err
		}
		if err := cat.AddCategory(child); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

func (c *Codec) decodeDynamicType(r Record, p dynamicTypePayload) (*entity.DynamicType, error) {
	t := entity.NewDynamicType(r.ID, p.ElementKey, p.Annotations[entity.AnnotationClassificationType])
	if err := t.SetName(p.Name); err != nil {
		return nil, err
	}
	for key, value := range p.Annotations {
		if err := t.SetAnnotation(key, value); err != nil {
			return nil, err
		}
	}
	for _, a := range p.Attributes {
		attr := entity.Attribute{
			Key:          a.Key,
			Name:         a.Name,
			Type:         entity.AttributeType(a.Type),
			Optional:     a.Optional,
			RootCategory: a.RootCategory,
			Default:      a.Default,
		}
		if err := t.AddAttribute(attr); err != nil {
			return nil, err
		}
	}
	return t, c.restoreBase(t, r.Version, p.basePayload)
}

// Encode captures the top-level entities and passwords of cache.
func (c *Codec) Encode(cache *storage.LocalCache, version int64, now time.Time) (Snapshot, error) {
	s := Snapshot{RepositoryVersion: version, SavedAt: now, Passwords: cache.Passwords()}
	for _, e := range cache.All() {
		if !IsTopLevel(e) {
			continue
		}
		r, err := c.EncodeEntity(e)
		if err != nil {
			return Snapshot{}, err
		}
		s.Entities = append(s.Entities, r)
	}
	return s, nil
}

// LoadReport lists what Load had to adjust.
type LoadReport struct {
	Entities int
	// Dropped lists classification values that no longer match their
	// dynamic type, per owning entity.
	Dropped map[entity.ID][]string
	// Dangling lists references that point at entities missing from the
	// snapshot.
	Dangling map[entity.ID][]entity.ID
}

// Load replaces the contents of cache with s. Every record is decoded before
// the cache is touched. Classifications are bound to their dynamic types and
// all entities end up read-only.
func (c *Codec) Load(s Snapshot, cache *storage.LocalCache) (LoadReport, error) {
	decoded := make([]entity.Entity, 0, len(s.Entities))
	for _, r := range s.Entities {
		e, err := c.DecodeEntity(r)
		if err != nil {
			return LoadReport{}, err
		}
		decoded = append(decoded, e)
	}
	types := make(map[entity.ID]*entity.DynamicType)
	for _, e := range decoded {
		if t, ok := e.(*entity.DynamicType); ok {
			types[t.ID()] = t
		}
	}
	for _, e := range decoded {
		if cls := classificationOf(e); cls != nil {
			if _, ok := types[cls.Type()]; !ok {
				return LoadReport{}, &DecodeError{ID: e.ID(), Err: &entity.NotFoundError{ID: cls.Type()}}
			}
		}
	}

	cache.ClearAll()
	cache.PutAll(decoded)
	for user, hash := range s.Passwords {
		cache.PutPassword(user, hash)
	}

	report := LoadReport{Dropped: make(map[entity.ID][]string), Dangling: ResolveAll(cache)}
	for _, e := range decoded {
		cls := classificationOf(e)
		if cls == nil {
			continue
		}
		dropped, err := cls.Normalize(types[cls.Type()], cache)
		if err != nil {
			return LoadReport{}, &DecodeError{ID: e.ID(), Err: err}
		}
		if len(dropped) > 0 {
			report.Dropped[e.ID()] = dropped
		}
	}
	for _, e := range cache.All() {
		e.SetReadOnly(true)
	}
	report.Entities = len(cache.All())
	return report, nil
}

// ResolveAll checks every reference held in cache and returns the ids that
// cannot be resolved, per referring entity.
func ResolveAll(cache *storage.LocalCache) map[entity.ID][]entity.ID {
	dangling := make(map[entity.ID][]entity.ID)
	for _, e := range cache.All() {
		for _, id := range e.References().IDs() {
			if id.IsZero() {
				continue
			}
			if _, ok := cache.Get(id); !ok {
				dangling[e.ID()] = append(dangling[e.ID()], id)
			}
		}
	}
	return dangling
}

func classificationOf(e entity.Entity) *entity.Classification {
	switch v := e.(type) {
	case *entity.Reservation:
		return v.Classification()
	case *entity.Allocatable:
		return v.Classification()
	default:
		return nil
	}
}
