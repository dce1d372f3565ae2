// Package catalog loads reference data from a YAML seed file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/validation"
)

// Store persists a parsed seed.
type Store interface {
	UpsertSeed(ctx context.Context, seed domain.CatalogSeed) error
}

type seedFile struct {
	Countries []struct {
		Code string `yaml:"code"`
		Name string `yaml:"name"`
		Main bool   `yaml:"main"`
	} `yaml:"countries"`
	Currencies []struct {
		Code string `yaml:"code"`
		Main bool   `yaml:"main"`
	} `yaml:"currencies"`
	ShippingModes []struct {
		ID                     string `yaml:"id"`
		Title                  string `yaml:"title"`
		ShippingType           string `yaml:"shipping_type"`
		HasFreightContainers   bool   `yaml:"has_freight_containers"`
		HasSurchargeContainers bool   `yaml:"has_surcharge_containers"`
		IsNeedVolume           bool   `yaml:"is_need_volume"`
	} `yaml:"shipping_modes"`
	ContainerTypes []struct {
		ID             string `yaml:"id"`
		Code           string `yaml:"code"`
		Description    string `yaml:"description"`
		ShippingMode   string `yaml:"shipping_mode"`
		IsFrozen       bool   `yaml:"is_frozen"`
		CanBeDangerous bool   `yaml:"can_be_dangerous"`
	} `yaml:"container_types"`
	PackagingTypes []struct {
		ID           string `yaml:"id"`
		Code         string `yaml:"code"`
		Description  string `yaml:"description"`
		ShippingMode string `yaml:"shipping_mode"`
	} `yaml:"packaging_types"`
	ReleaseTypes []struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		Code         string `yaml:"code"`
		ShippingMode string `yaml:"shipping_mode"`
	} `yaml:"release_types"`
	Carriers []struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		ShippingType string `yaml:"shipping_type"`
		SCAC         string `yaml:"scac"`
		Code         string `yaml:"code"`
	} `yaml:"carriers"`
	Ports []struct {
		ID         string  `yaml:"id"`
		Code       string  `yaml:"code"`
		Name       string  `yaml:"name"`
		Latitude   float64 `yaml:"latitude"`
		Longitude  float64 `yaml:"longitude"`
		HasSeaport bool    `yaml:"has_seaport"`
		HasAirport bool    `yaml:"has_airport"`
	} `yaml:"ports"`
	AdditionalSurcharges []struct {
		ID            string   `yaml:"id"`
		Title         string   `yaml:"title"`
		ShippingModes []string `yaml:"shipping_modes"`
		IsDocument    bool     `yaml:"is_document"`
		IsHandling    bool     `yaml:"is_handling"`
		IsOther       bool     `yaml:"is_other"`
		IsDangerous   bool     `yaml:"is_dangerous"`
		IsCold        bool     `yaml:"is_cold"`
	} `yaml:"additional_surcharges"`
	TrackStatuses []struct {
		ID                              string `yaml:"id"`
		Title                           string `yaml:"title"`
		ShippingMode                    string `yaml:"shipping_mode"`
		MustUpdateActualDateOfDeparture bool   `yaml:"must_update_actual_date_of_departure"`
		AutoAddOnActualDateOfDeparture  bool   `yaml:"auto_add_on_actual_date_of_departure"`
		AutoAddOnActualDateOfArrival    bool   `yaml:"auto_add_on_actual_date_of_arrival"`
		AutoAddOnShipmentDetailsChange  bool   `yaml:"auto_add_on_shipment_details_change"`
		ShowAfterDeparture              bool   `yaml:"show_after_departure"`
	} `yaml:"track_statuses"`
	Companies []struct {
		ID    string `yaml:"id"`
		Type  string `yaml:"type"`
		Name  string `yaml:"name"`
		TaxID string `yaml:"tax_id"`
		Phone string `yaml:"phone"`
	} `yaml:"companies"`
	Users []struct {
		ID         string   `yaml:"id"`
		Email      string   `yaml:"email"`
		FirstName  string   `yaml:"first_name"`
		LastName   string   `yaml:"last_name"`
		Company    string   `yaml:"company"`
		Roles      []string `yaml:"roles"`
		Language   string   `yaml:"language"`
		NoticeDays int      `yaml:"notice_days"`
	} `yaml:"users"`
}

// LoadSeed reads and validates the seed file at path.
func LoadSeed(path string) (domain.CatalogSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CatalogSeed{}, fmt.Errorf("catalog: read seed: %w", err)
	}
	return ParseSeed(data)
}

// Apply loads the seed at path and writes it to store. It returns the number of records written.
func Apply(ctx context.Context, store Store, path string) (int, error) {
	if store == nil {
		return 0, errors.New("catalog: store is required")
	}
	seed, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := store.UpsertSeed(ctx, seed); err != nil {
		return 0, fmt.Errorf("catalog: upsert seed: %w", err)
	}
	return seed.Size(), nil
}

// ParseSeed decodes YAML into catalog records.
func ParseSeed(data []byte) (domain.CatalogSeed, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.CatalogSeed{}, fmt.Errorf("catalog: parse seed: %w", err)
	}

	var seed domain.CatalogSeed
	mainCountries, mainCurrencies := 0, 0
	for _, c := range file.Countries {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if len(code) != 2 {
			return domain.CatalogSeed{}, fmt.Errorf("catalog: country code %q must have 2 letters", c.Code)
		}
		if c.Main {
			mainCountries++
		}
		seed.Countries = append(seed.Countries, domain.Country{Code: code, Name: c.Name, IsMain: c.Main})
	}
	for _, c := range file.Currencies {
		if c.Main {
			mainCurrencies++
		}
		seed.Currencies = append(seed.Currencies, domain.Currency{Code: strings.ToUpper(strings.TrimSpace(c.Code)), IsMain: c.Main})
	}
	if mainCountries > 1 {
		return domain.CatalogSeed{}, errors.New("catalog: more than one main country")
	}
	if mainCurrencies > 1 {
		return domain.CatalogSeed{}, errors.New("catalog: more than one main currency")
	}

	modes := make(map[string]struct{}, len(file.ShippingModes))
	for _, m := range file.ShippingModes {
		if strings.TrimSpace(m.ID) == "" {
			return domain.CatalogSeed{}, fmt.Errorf("catalog: shipping mode %q has no id", m.Title)
		}
		shippingType, err := parseShippingType(m.ShippingType)
		if err != nil {
			return domain.CatalogSeed{}, err
		}
		modes[m.ID] = struct{}{}
		seed.ShippingModes = append(seed.ShippingModes, domain.ShippingMode{
			ID:                     m.ID,
			Title:                  m.Title,
			ShippingType:           shippingType,
			HasFreightContainers:   m.HasFreightContainers,
			HasSurchargeContainers: m.HasSurchargeContainers,
			IsNeedVolume:           m.IsNeedVolume,
		})
	}
	checkMode := func(kind, id, mode string) error {
		if _, ok := modes[mode]; !ok {
			return fmt.Errorf("catalog: %s %q references unknown shipping mode %q", kind, id, mode)
		}
		return nil
	}

	for _, c := range file.ContainerTypes {
		if err := checkMode("container type", c.ID, c.ShippingMode); err != nil {
			return domain.CatalogSeed{}, err
		}
		seed.ContainerTypes = append(seed.ContainerTypes, domain.ContainerType{
			ID: c.ID, Code: c.Code, Description: c.Description, ShippingModeID: c.ShippingMode,
			IsFrozen: c.IsFrozen, CanBeDangerous: c.CanBeDangerous,
		})
	}
	for _, p := range file.PackagingTypes {
		if err := checkMode("packaging type", p.ID, p.ShippingMode); err != nil {
			return domain.CatalogSeed{}, err
		}
		seed.PackagingTypes = append(seed.PackagingTypes, domain.PackagingType{
			ID: p.ID, Code: p.Code, Description: p.Description, ShippingModeID: p.ShippingMode,
		})
	}
	for _, r := range file.ReleaseTypes {
		if err := checkMode("release type", r.ID, r.ShippingMode); err != nil {
			return domain.CatalogSeed{}, err
		}
		seed.ReleaseTypes = append(seed.ReleaseTypes, domain.ReleaseType{
			ID: r.ID, Title: r.Title, Code: r.Code, ShippingModeID: r.ShippingMode,
		})
	}
	for _, c := range file.Carriers {
		shippingType, err := parseShippingType(c.ShippingType)
		if err != nil {
			return domain.CatalogSeed{}, err
		}
		seed.Carriers = append(seed.Carriers, domain.Carrier{
			ID: c.ID, Title: c.Title, ShippingType: shippingType,
			SCAC: strings.TrimSpace(c.SCAC), Code: strings.TrimSpace(c.Code),
		})
	}
	for _, p := range file.Ports {
		code := strings.ToUpper(strings.TrimSpace(p.Code))
		if !validation.PortCode(code) {
			return domain.CatalogSeed{}, fmt.Errorf("catalog: port %q has invalid code %q", p.ID, p.Code)
		}
		seed.Ports = append(seed.Ports, domain.Port{
			ID: p.ID, Code: code, Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude,
			HasSeaport: p.HasSeaport, HasAirport: p.HasAirport,
		})
	}
	for _, a := range file.AdditionalSurcharges {
		for _, mode := range a.ShippingModes {
			if err := checkMode("additional surcharge", a.ID, mode); err != nil {
				return domain.CatalogSeed{}, err
			}
		}
		seed.AdditionalSurcharges = append(seed.AdditionalSurcharges, domain.AdditionalSurcharge{
			ID: a.ID, Title: a.Title, ShippingModeIDs: a.ShippingModes,
			IsDocument: a.IsDocument, IsHandling: a.IsHandling, IsOther: a.IsOther,
			IsDangerous: a.IsDangerous, IsCold: a.IsCold,
		})
	}
	for _, s := range file.TrackStatuses {
		if err := checkMode("track status", s.ID, s.ShippingMode); err != nil {
			return domain.CatalogSeed{}, err
		}
		seed.TrackStatuses = append(seed.TrackStatuses, domain.TrackStatus{
			ID:                              s.ID,
			Title:                           s.Title,
			ShippingModeID:                  s.ShippingMode,
			MustUpdateActualDateOfDeparture: s.MustUpdateActualDateOfDeparture,
			AutoAddOnActualDateOfDeparture:  s.AutoAddOnActualDateOfDeparture,
			AutoAddOnActualDateOfArrival:    s.AutoAddOnActualDateOfArrival,
			AutoAddOnShipmentDetailsChange:  s.AutoAddOnShipmentDetailsChange,
			ShowAfterDeparture:              s.ShowAfterDeparture,
		})
	}
	for _, c := range file.Companies {
		companyType := domain.CompanyType(strings.ToLower(strings.TrimSpace(c.Type)))
		if companyType != domain.CompanyTypeAgent && companyType != domain.CompanyTypeClient {
			return domain.CatalogSeed{}, fmt.Errorf("catalog: company %q has unknown type %q", c.ID, c.Type)
		}
		seed.Companies = append(seed.Companies, domain.Company{ID: c.ID, Type: companyType, Name: c.Name, TaxID: c.TaxID, Phone: c.Phone})
	}
	for _, u := range file.Users {
		roles := make([]domain.Role, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, domain.Role(strings.ToLower(strings.TrimSpace(r))))
		}
		seed.Users = append(seed.Users, domain.User{
			ID: u.ID, Email: strings.ToLower(strings.TrimSpace(u.Email)), FirstName: u.FirstName, LastName: u.LastName,
			CompanyID: u.Company, Roles: roles, Language: u.Language, NoticeDays: u.NoticeDays,
		})
	}
	return seed, nil
}

func parseShippingType(value string) (domain.ShippingType, error) {
	switch t := domain.ShippingType(strings.ToLower(strings.TrimSpace(value))); t {
	case domain.ShippingTypeSea, domain.ShippingTypeAir, domain.ShippingTypeLand:
		return t, nil
	default:
		return "", fmt.Errorf("catalog: unknown shipping type %q", value)
	}
}
