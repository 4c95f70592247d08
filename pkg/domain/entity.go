package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

// EntityType is the kind of account entity a request is made by or about.
type EntityType string

const (
	EntityOrganization EntityType = "org"
	EntityDirectory    EntityType = "dir"
	EntityService      EntityType = "svc"
)

func (t EntityType) valid() bool {
	switch t {
	case EntityOrganization, EntityDirectory, EntityService:
		return true
	}
	return false
}

// EntityIdentifier identifies an organization, directory or service. Its
// string form, e.g. "svc:4b5a5b8e-2d2b-11e7-93ae-92361f002671", is used as the
// issuer and subject of signed tokens.
type EntityIdentifier struct {
	Type EntityType
	ID   uuid.UUID
}

// NewEntityIdentifier returns an identifier for the given entity.
func NewEntityIdentifier(t EntityType, id uuid.UUID) EntityIdentifier {
	return EntityIdentifier{Type: t, ID: id}
}

// ServiceEntity returns the identifier of a service.
func ServiceEntity(id uuid.UUID) EntityIdentifier {
	return EntityIdentifier{Type: EntityService, ID: id}
}

// DirectoryEntity returns the identifier of a directory.
func DirectoryEntity(id uuid.UUID) EntityIdentifier {
	return EntityIdentifier{Type: EntityDirectory, ID: id}
}

// OrganizationEntity returns the identifier of an organization.
func OrganizationEntity(id uuid.UUID) EntityIdentifier {
	return EntityIdentifier{Type: EntityOrganization, ID: id}
}

func (e EntityIdentifier) String() string {
	return string(e.Type) + ":" + e.ID.String()
}

// IsZero reports whether e is the zero identifier.
func (e EntityIdentifier) IsZero() bool {
	return e.Type == "" && e.ID == uuid.Nil
}

// ParseEntityIdentifier parses the "<type>:<uuid>" form. An unknown type or a
// malformed ID yields an lkerror.UnknownEntity error.
func ParseEntityIdentifier(s string) (EntityIdentifier, error) {
	prefix, id, ok := strings.Cut(s, ":")
	if !ok {
		return EntityIdentifier{}, lkerror.Newf(lkerror.UnknownEntity, nil, "entity identifier %q has no type", s)
	}

	t := EntityType(prefix)
	if !t.valid() {
		return EntityIdentifier{}, lkerror.Newf(lkerror.UnknownEntity, nil, "unknown entity type %q", prefix)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return EntityIdentifier{}, lkerror.Newf(lkerror.UnknownEntity, err, "invalid entity ID %q", id)
	}

	return EntityIdentifier{Type: t, ID: parsed}, nil
}

func (e EntityIdentifier) MarshalText() ([]byte, error) {
	if !e.Type.valid() {
		return nil, fmt.Errorf("cannot marshal entity identifier with type %q", e.Type)
	}
	return []byte(e.String()), nil
}

func (e *EntityIdentifier) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityIdentifier(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
