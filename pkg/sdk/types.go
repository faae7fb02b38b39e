// Package sdk describes the collaborators the bridge forwards to: the vendor
// SDK, the OS push services and the token persistence layer.
package sdk

import "maps"

// Profile carries identity attributes. Nil fields are left untouched by the
// adapter; setting a field never clears the others.
type Profile struct {
	Email        *string        `json:"email,omitempty"`
	PhoneNumber  *string        `json:"phoneNumber,omitempty"`
	ExternalID   *string        `json:"externalId,omitempty"`
	FirstName    *string        `json:"firstName,omitempty"`
	LastName     *string        `json:"lastName,omitempty"`
	Organization *string        `json:"organization,omitempty"`
	Title        *string        `json:"title,omitempty"`
	Image        *string        `json:"image,omitempty"`
	Location     *Location      `json:"location,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// HasIdentity reports whether the profile sets any identifier.
func (p Profile) HasIdentity() bool {
	return p.Email != nil || p.PhoneNumber != nil || p.ExternalID != nil
}

// Merge returns p with the non-nil fields of update applied. Location and
// properties are merged key by key; neither input is aliased.
func (p Profile) Merge(update Profile) Profile {
	out := p
	setIf(&out.Email, update.Email)
	setIf(&out.PhoneNumber, update.PhoneNumber)
	setIf(&out.ExternalID, update.ExternalID)
	setIf(&out.FirstName, update.FirstName)
	setIf(&out.LastName, update.LastName)
	setIf(&out.Organization, update.Organization)
	setIf(&out.Title, update.Title)
	setIf(&out.Image, update.Image)

	if update.Location != nil {
		loc := Location{}
		if p.Location != nil {
			loc = *p.Location
		}
		u := update.Location
		setIf(&loc.Address1, u.Address1)
		setIf(&loc.Address2, u.Address2)
		setIf(&loc.City, u.City)
		setIf(&loc.Country, u.Country)
		setIf(&loc.Latitude, u.Latitude)
		setIf(&loc.Longitude, u.Longitude)
		setIf(&loc.Region, u.Region)
		setIf(&loc.Zip, u.Zip)
		setIf(&loc.Timezone, u.Timezone)
		out.Location = &loc
	}

	if len(update.Properties) > 0 {
		props := maps.Clone(p.Properties)
		if props == nil {
			props = make(map[string]any, len(update.Properties))
		}
		maps.Copy(props, update.Properties)
		out.Properties = props
	}
	return out
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

type Location struct {
	Address1  *string  `json:"address1,omitempty"`
	Address2  *string  `json:"address2,omitempty"`
	City      *string  `json:"city,omitempty"`
	Country   *string  `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Region    *string  `json:"region,omitempty"`
	Zip       *string  `json:"zip,omitempty"`
	Timezone  *string  `json:"timezone,omitempty"`
}

// Event is a custom analytics event.
type Event struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	UniqueID   string         `json:"uniqueId,omitempty"`
}

// PermissionStatus is the OS notification authorization state.
type PermissionStatus string

const (
	PermissionNotDetermined        PermissionStatus = "not_determined"
	PermissionDenied               PermissionStatus = "denied"
	PermissionAuthorized           PermissionStatus = "authorized"
	PermissionProvisional          PermissionStatus = "provisional"
	PermissionEphemeral            PermissionStatus = "ephemeral"
	PermissionUnavailableSimulator PermissionStatus = "unavailable_simulator"
	PermissionUnknown              PermissionStatus = "unknown"
)

// ParsePermissionStatus maps a platform string onto the closed set. Hosts
// that only know a boolean report "authorized" or "denied".
func ParsePermissionStatus(s string) PermissionStatus {
	switch PermissionStatus(s) {
	case PermissionNotDetermined, PermissionDenied, PermissionAuthorized,
		PermissionProvisional, PermissionEphemeral, PermissionUnavailableSimulator:
		return PermissionStatus(s)
	}
	switch s {
	case "true", "enabled", "granted":
		return PermissionAuthorized
	case "false", "disabled":
		return PermissionDenied
	}
	return PermissionUnknown
}

// StringPtr is a small helper for building Profiles.
func StringPtr(s string) *string { return &s }
