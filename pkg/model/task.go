package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidType = errors.New("type must be 'courier' or 'point'")
	ErrInvalidLeg  = errors.New("leg must be 'transfer' or 'return'")
	ErrInvalidRole = errors.New("role must be 'client' or 'staff'")
	ErrInvalidKey  = errors.New("key must look like type:subject::period::index")
)

// Type selects the queue a task belongs to.
type Type string

const (
	Courier Type = "courier"
	Point   Type = "point"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Courier, Point:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Leg is one of the two signable phases of a document.
type Leg string

const (
	Transfer Leg = "transfer"
	Return   Leg = "return"
)

func ParseLeg(s string) (Leg, error) {
	switch l := Leg(strings.ToLower(strings.TrimSpace(s))); l {
	case Transfer, Return:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLeg, s)
}

// Role is the party putting a signature on a leg.
type Role string

const (
	Client Role = "client"
	Staff  Role = "staff"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case Client, Staff:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

type Tool struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LegSignatures holds signature references (public paths or URLs) for one
// leg. An empty string means the role has not signed.
type LegSignatures struct {
	Client string `json:"client,omitempty"`
	Staff  string `json:"staff,omitempty"`
}

type Signatures struct {
	Transfer *LegSignatures `json:"transfer,omitempty"`
	Return   *LegSignatures `json:"return,omitempty"`
}

// Pending mirrors the queue membership flags owned by the records
// collaborator. The queue never flips them locally.
type Pending struct {
	PointPending   bool `json:"pointPending"`
	CourierPending bool `json:"courierPending"`
	PlannedDate    Date `json:"plannedDate"`
}

// Task is the canonical pending-signature unit. It is rebuilt on every load.
type Task struct {
	Type         Type       `json:"type"`
	SubjectID    string     `json:"subjectId"`
	SubjectName  string     `json:"subjectName,omitempty"`
	Period       Period     `json:"period"`
	Index        int        `json:"index"`
	TransferDate Date       `json:"transferDate"`
	ReturnDate   Date       `json:"returnDate"`
	Tools        []Tool     `json:"tools"`
	PackageCount int        `json:"packageCount"`
	DeliveryMode string     `json:"deliveryMode,omitempty"`
	ShippingFlag bool       `json:"shippingFlag"`
	Comment      string     `json:"comment"`
	Signatures   Signatures `json:"signatures"`
	Pending      Pending    `json:"pending"`
	// Source names the tier the task was loaded from.
	Source string `json:"source,omitempty"`
}

// Key identifies a task within a type's queue.
type Key struct {
	Type      Type   `json:"type" validate:"required,oneof=courier point"`
	SubjectID string `json:"subjectId" validate:"required"`
	Period    Period `json:"period" validate:"required,period"`
	Index     int    `json:"index" validate:"gte=0"`
}

func (t Task) Key() Key {
	return Key{Type: t.Type, SubjectID: t.SubjectID, Period: t.Period, Index: t.Index}
}

// ID is the type-less record id used by the stores ("subject::period::index").
func (k Key) ID() string {
	return fmt.Sprintf("%s::%s::%d", k.SubjectID, k.Period, k.Index)
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.ID()
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	parts := strings.Split(id, "::")
	if len(parts) != 3 || parts[0] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Key{}, err
	}
	p, err := ParsePeriod(parts[1])
	if err != nil {
		return Key{}, err
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{Type: t, SubjectID: parts[0], Period: p, Index: idx}, nil
}

// For reports whether the flags put an entry in typ's queue.
func (p Pending) For(typ Type) bool {
	switch typ {
	case Courier:
		return p.CourierPending
	case Point:
		return p.PointPending
	}
	return false
}

// PendingFor reports whether the collaborator lists the task in typ's queue.
func (t Task) PendingFor(typ Type) bool {
	return t.Pending.For(typ)
}

// DateFor returns the date field that belongs to leg.
func (t Task) DateFor(leg Leg) Date {
	if leg == Return {
		return t.ReturnDate
	}
	return t.TransferDate
}

// DisplayName is the name shown and sorted on, falling back to the id.
func (t Task) DisplayName() string {
	if t.SubjectName != "" {
		return t.SubjectName
	}
	return t.SubjectID
}
