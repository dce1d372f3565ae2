package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	companiesCollection = "companies"
	usersCollection     = "users"
)

// UserRepository resolves companies and their members.
type UserRepository struct {
	companies *pfirestore.Collection[companyDocument]
	users     *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		companies: pfirestore.NewCollection[companyDocument](provider, companiesCollection),
		users:     pfirestore.NewCollection[userDocument](provider, usersCollection),
	}, nil
}

func (r *UserRepository) Company(ctx context.Context, id string) (domain.Company, error) {
	doc, err := r.companies.Get(ctx, id)
	if err != nil {
		return domain.Company{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *UserRepository) Get(ctx context.Context, id string) (domain.User, error) {
	doc, err := r.users.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetMany returns the users that exist, in request order.
func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]domain.User, error) {
	docs, err := r.users.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

// ListByCompany returns company members holding any of roles, or all members when roles is empty.
func (r *UserRepository) ListByCompany(ctx context.Context, companyID string, roles ...domain.Role) ([]domain.User, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, errors.New("user repository: company id is required")
	}
	docs, err := r.users.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("companyId", "==", companyID)
		if len(roles) > 0 {
			values := make([]string, 0, len(roles))
			for _, role := range roles {
				values = append(values, string(role))
			}
			q = q.Where("roles", "array-contains-any", values)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type companyDocument struct {
	Type  string `firestore:"type"`
	Name  string `firestore:"name"`
	TaxID string `firestore:"taxId,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

func newCompanyDocument(c domain.Company) companyDocument {
	return companyDocument{Type: string(c.Type), Name: c.Name, TaxID: c.TaxID, Phone: c.Phone}
}

func (d companyDocument) toDomain(id string) domain.Company {
	return domain.Company{ID: id, Type: domain.CompanyType(d.Type), Name: d.Name, TaxID: d.TaxID, Phone: d.Phone}
}

type userDocument struct {
	Email        string   `firestore:"email"`
	FirstName    string   `firestore:"firstName"`
	LastName     string   `firestore:"lastName"`
	CompanyID    string   `firestore:"companyId"`
	Roles        []string `firestore:"roles"`
	Language     string   `firestore:"language,omitempty"`
	NoticeDays   int      `firestore:"noticeDays"`
	DeviceTokens []string `firestore:"deviceTokens,omitempty"`
}

func newUserDocument(u domain.User) userDocument {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, string(role))
	}
	return userDocument{
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		CompanyID:    u.CompanyID,
		Roles:        roles,
		Language:     u.Language,
		NoticeDays:   u.NoticeDays,
		DeviceTokens: u.DeviceTokens,
	}
}

func (d userDocument) toDomain(id string) domain.User {
	roles := make([]domain.Role, 0, len(d.Roles))
	for _, role := range d.Roles {
		roles = append(roles, domain.Role(role))
	}
	return domain.User{
		ID:           id,
		Email:        d.Email,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		CompanyID:    d.CompanyID,
		Roles:        roles,
		Language:     d.Language,
		NoticeDays:   d.NoticeDays,
		DeviceTokens: d.DeviceTokens,
	}
}
