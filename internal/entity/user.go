package entity

import "errors"

// User is an account that owns reservations and preferences.
type User struct {
	Base
	username string
	name     string
	email    string
	admin    bool
}

// NewUser creates a writable user.
func NewUser(id ID, username string) *User {
	mustType(id, TypeUser)
	return &User{Base: newBase(id), username: username}
}

func (u *User) Username() string { return u.username }

func (u *User) SetUsername(username string) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	u.username = username
	return nil
}

// Name returns the stored name, falling back to the username.
func (u *User) Name() string {
	if u.name == "" {
		return u.username
	}
	return u.name
}

func (u *User) SetName(name string) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	u.name = name
	return nil
}

// Email returns the stored email, ignoring a linked person.
func (u *User) Email() string { return u.email }

func (u *User) SetEmail(email string) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	u.email = email
	return nil
}

func (u *User) IsAdmin() bool { return u.admin }

func (u *User) SetAdmin(admin bool) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	u.admin = admin
	return nil
}

// Groups returns the category ids the user belongs to.
func (u *User) Groups() []ID { return u.refs.List(RefGroups) }

func (u *User) AddGroup(category ID) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	mustType(category, TypeCategory)
	u.refs.Add(RefGroups, category)
	return nil
}

func (u *User) RemoveGroup(category ID) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	u.refs.RemoveID(RefGroups, category)
	return nil
}

// BelongsTo reports whether the user is a member of the category.
func (u *User) BelongsTo(category ID) bool { return u.refs.Contains(RefGroups, category) }

// Person returns the linked person allocatable, or the zero ID.
func (u *User) Person() ID {
	id, _ := u.refs.Get(RefPerson)
	return id
}

// SetPerson links the user to a person allocatable. The zero ID unlinks.
func (u *User) SetPerson(person ID) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	if !person.IsZero() {
		mustType(person, TypeAllocatable)
	}
	u.refs.Set(RefPerson, person)
	return nil
}

func (u *User) person(r Resolver) *Allocatable {
	id := u.Person()
	if id.IsZero() || r == nil {
		return nil
	}
	e, err := r.Resolve(id)
	if err != nil {
		return nil
	}
	a, _ := e.(*Allocatable)
	return a
}

// DisplayEmail prefers the email of the linked person.
func (u *User) DisplayEmail(r Resolver) string {
	if p := u.person(r); p != nil {
		if email := p.Email(); email != "" {
			return email
		}
	}
	return u.email
}

// DisplayName prefers the name of the linked person.
func (u *User) DisplayName(r Resolver) string {
	if p := u.person(r); p != nil {
		if name := p.classification.Name(); name != "" {
			return name
		}
	}
	return u.Name()
}

// LinkPersonByEmail links the person allocatable carrying the user's email.
// An unknown email leaves the user unlinked.
func (u *User) LinkPersonByEmail(r EmailResolver) error {
	if err := u.checkWritable(); err != nil {
		return err
	}
	if u.email == "" || !u.Person().IsZero() {
		return nil
	}
	e, err := r.ResolveEmail(u.email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if a, ok := e.(*Allocatable); ok && a.IsPerson() {
		u.refs.Set(RefPerson, a.id)
	}
	return nil
}

func (u *User) SetReadOnly(readOnly bool) { u.readOnly = readOnly }

func (u *User) SubEntities() []Entity { return nil }

func (u *User) Snapshot() *User {
	return &User{
		Base:     copyBase(&u.Base),
		username: u.username,
		name:     u.name,
		email:    u.email,
		admin:    u.admin,
	}
}

func (u *User) applyFrom(src *User) error {
	u.applyBase(&src.Base)
	u.username = src.username
	u.name = src.name
	u.email = src.email
	u.admin = src.admin
	return nil
}
