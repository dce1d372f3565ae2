package domain

import "strings"

// ShippingType groups shipping modes by transport.
type ShippingType string

const (
	ShippingTypeSea  ShippingType = "sea"
	ShippingTypeAir  ShippingType = "air"
	ShippingTypeLand ShippingType = "land"
)

// CompanyType distinguishes forwarding agents from shippers.
type CompanyType string

const (
	CompanyTypeAgent  CompanyType = "agent"
	CompanyTypeClient CompanyType = "client"
)

// Role is a capability a user holds inside their company.
type Role string

const (
	RoleMaster  Role = "master"
	RoleAgent   Role = "agent"
	RoleBilling Role = "billing"
	RoleClient  Role = "client"
)

// Company owns tariffs, users and bookings.
type Company struct {
	ID    string
	Type  CompanyType
	Name  string
	TaxID string
	Phone string
}

// User is a member of exactly one company.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	CompanyID    string
	Roles        []Role
	Language     string
	NoticeDays   int
	DeviceTokens []string
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FullName joins first and last name, falling back to the email.
func (u User) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Email
	}
	return name
}

// Country is a catalog country; exactly one is main.
type Country struct {
	Code   string
	Name   string
	IsMain bool
}

// Currency is a catalog currency; exactly one is main.
type Currency struct {
	Code   string
	IsMain bool
}

// Port is an origin or destination location identified by a 5-char code.
type Port struct {
	ID         string
	Code       string
	Name       string
	Latitude   float64
	Longitude  float64
	HasSeaport bool
	HasAirport bool
}

// ShippingMode describes how cargo is priced for a shipping type.
type ShippingMode struct {
	ID                     string
	Title                  string
	ShippingType           ShippingType
	HasFreightContainers   bool
	HasSurchargeContainers bool
	IsNeedVolume           bool
}

// ContainerType is a priced container (20DV, 40HC, ...).
type ContainerType struct {
	ID             string
	Code           string
	Description    string
	ShippingModeID string
	IsFrozen       bool
	CanBeDangerous bool
}

// PackagingType is a loose-cargo packaging unit.
type PackagingType struct {
	ID             string
	Code           string
	Description    string
	ShippingModeID string
}

// ReleaseType describes how the bill of lading is released.
type ReleaseType struct {
	ID             string
	Title          string
	Code           string
	ShippingModeID string
}

// Carrier operates vessels or flights.
type Carrier struct {
	ID           string
	Title        string
	ShippingType ShippingType
	SCAC         string
	Code         string
}

// Trackable reports whether the carrier is known to the tracking providers.
func (c Carrier) Trackable() bool {
	return strings.TrimSpace(c.SCAC) != "" || strings.TrimSpace(c.Code) != ""
}

// TrackingCode returns the identifier sent to tracking providers.
func (c Carrier) TrackingCode() string {
	if scac := strings.TrimSpace(c.SCAC); scac != "" {
		return scac
	}
	return strings.TrimSpace(c.Code)
}

// AdditionalSurcharge defines a named charge type referenced by Charge rows.
type AdditionalSurcharge struct {
	ID              string
	Title           string
	ShippingModeIDs []string
	IsDocument      bool
	IsHandling      bool
	IsOther         bool
	IsDangerous     bool
	IsCold          bool
}

// SlotKey is the key the charge occupies on a priced cargo line.
func (a AdditionalSurcharge) SlotKey() string {
	fields := strings.Fields(a.Title)
	if len(fields) == 0 {
		return strings.ToLower(a.ID)
	}
	return strings.ToLower(fields[0])
}
