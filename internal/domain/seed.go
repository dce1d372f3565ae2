package domain

// CatalogSeed is the reference data loaded at start-up.
type CatalogSeed struct {
	Countries            []Country
	Currencies           []Currency
	ShippingModes        []ShippingMode
	ContainerTypes       []ContainerType
	PackagingTypes       []PackagingType
	ReleaseTypes         []ReleaseType
	Carriers             []Carrier
	Ports                []Port
	AdditionalSurcharges []AdditionalSurcharge
	TrackStatuses        []TrackStatus
	Companies            []Company
	Users                []User
}

// Size returns the number of records in the seed.
func (s CatalogSeed) Size() int {
	return len(s.Countries) + len(s.Currencies) + len(s.ShippingModes) + len(s.ContainerTypes) +
		len(s.PackagingTypes) + len(s.ReleaseTypes) + len(s.Carriers) + len(s.Ports) +
		len(s.AdditionalSurcharges) + len(s.TrackStatuses) + len(s.Companies) + len(s.Users)
}
