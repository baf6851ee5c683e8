package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type identifies the kind of an entity.
type Type int

const (
	// TypeUnknown is the zero Type; IDs carrying it are absent.
	TypeUnknown Type = iota
	TypeReservation
	TypeAppointment
	TypeAllocatable
	TypeUser
	TypeCategory
	TypeDynamicType
	TypePreferences
)

var typeNames = [...]string{
	TypeUnknown:     "unknown",
	TypeReservation: "reservation",
	TypeAppointment: "appointment",
	TypeAllocatable: "allocatable",
	TypeUser:        "user",
	TypeCategory:    "category",
	TypeDynamicType: "dynamictype",
	TypePreferences: "preferences",
}

// Types lists every known entity type in declaration order.
func Types() []Type {
	return []Type{TypeReservation, TypeAppointment, TypeAllocatable, TypeUser, TypeCategory, TypeDynamicType, TypePreferences}
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return typeNames[TypeUnknown]
}

// Valid reports whether t is one of the known entity types.
func (t Type) Valid() bool {
	return t > TypeUnknown && int(t) < len(typeNames)
}

// ErrUnknownType indicates a type name that does not match any entity type.
var ErrUnknownType = errors.New("entity: unknown type")

// ParseType maps a type name to its Type.
func ParseType(name string) (Type, error) {
	for _, t := range Types() {
		if typeNames[t] == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// ID identifies an entity. It is comparable and used as a map key.
type ID struct {
	Type Type
	Key  int64
}

// NewID builds an ID for the given type and key.
func NewID(t Type, key int64) ID {
	return ID{Type: t, Key: key}
}

// IsZero reports whether the ID is absent.
func (id ID) IsZero() bool {
	return id.Type == TypeUnknown
}

// String renders the ID as "<type>_<key>".
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Type.String() + "_" + strconv.FormatInt(id.Key, 10)
}

// Compare orders IDs by key, breaking ties by type.
func (id ID) Compare(other ID) int {
	switch {
	case id.Key < other.Key:
		return -1
	case id.Key > other.Key:
		return 1
	case id.Type < other.Type:
		return -1
	case id.Type > other.Type:
		return 1
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler. The zero ID encodes as
// empty text.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty text yields the zero ID.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ErrMalformedID indicates identifier text that cannot be decoded.
var ErrMalformedID = errors.New("entity: malformed identifier")

// ParseError reports malformed identifier text and the offset of the
// offending character.
type ParseError struct {
	Input  string
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("entity: cannot parse id %q at offset %d: %v", e.Input, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedID
}

// ParseID decodes "<type>_<key>". The key follows the last underscore.
func ParseID(s string) (ID, error) {
	return parseID(TypeUnknown, s)
}

// ParseIDOfType decodes "<type>_<key>" or a bare "<key>" for an ID whose type
// is already known. A type prefix must name t.
func ParseIDOfType(t Type, s string) (ID, error) {
	if !t.Valid() {
		return ID{}, &ParseError{Input: s, Offset: 0, Err: ErrUnknownType}
	}
	return parseID(t, s)
}

func parseID(known Type, s string) (ID, error) {
	sep := strings.LastIndexByte(s, '_')
	t := known
	if sep >= 0 {
		parsed, err := ParseType(s[:sep])
		if err != nil {
			return ID{}, &ParseError{Input: s, Offset: 0, Err: err}
		}
		if known != TypeUnknown && parsed != known {
			return ID{}, &ParseError{Input: s, Offset: 0, Err: fmt.Errorf("expected type %s, got %s", known, parsed)}
		}
		t = parsed
	} else if known == TypeUnknown {
		return ID{}, &ParseError{Input: s, Offset: 0, Err: errors.New("missing type prefix")}
	}

	digits := s[sep+1:]
	offset := sep + 1
	if digits == "" {
		return ID{}, &ParseError{Input: s, Offset: offset, Err: errors.New("missing key")}
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return ID{}, &ParseError{Input: s, Offset: offset + i, Err: fmt.Errorf("unexpected character %q", digits[i])}
		}
	}
	key, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return ID{}, &ParseError{Input: s, Offset: offset, Err: err}
	}
	return ID{Type: t, Key: key}, nil
}
