package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const maxTaxonNameLength = 60

var (
	// ErrTaxonInvalidInput indicates the caller supplied an invalid name or identifier.
	ErrTaxonInvalidInput = errors.New("taxonomy service: invalid input")
	// ErrTaxonNotFound indicates the entry does not exist.
	ErrTaxonNotFound = errors.New("taxonomy service: not found")
	// ErrTaxonConflict indicates another entry already uses the name.
	ErrTaxonConflict = errors.New("taxonomy service: name already exists")
	// ErrTaxonUnavailable indicates a backend failure.
	ErrTaxonUnavailable = errors.New("taxonomy service: unavailable")
)

var taxonRepoErrors = repoErrors{notFound: ErrTaxonNotFound, conflict: ErrTaxonConflict, unavailable: ErrTaxonUnavailable}

// TaxonomyServiceDeps wires one keyed list. Kind names the list in logs, e.g. "category".
type TaxonomyServiceDeps struct {
	Taxa        repositories.TaxonRepository
	Kind        string
	IDPrefix    string
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type taxonomyService struct {
	taxa     repositories.TaxonRepository
	kind     string
	idPrefix string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	newID    func() string
}

var _ TaxonomyService = (*taxonomyService)(nil)

// NewTaxonomyService constructs a TaxonomyService for one keyed list.
func NewTaxonomyService(deps TaxonomyServiceDeps) (TaxonomyService, error) {
	if deps.Taxa == nil {
		return nil, errors.New("taxonomy service: repository is required")
	}
	kind := strings.TrimSpace(deps.Kind)
	if kind == "" {
		return nil, errors.New("taxonomy service: kind is required")
	}
	prefix := deps.IDPrefix
	if prefix == "" {
		return nil, errors.New("taxonomy service: id prefix is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return domain.NewID(prefix) }
	}
	return &taxonomyService{
		taxa:     deps.Taxa,
		kind:     kind,
		idPrefix: prefix,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newID:    idGen,
	}, nil
}

func (s *taxonomyService) List(ctx context.Context) ([]Taxon, error) {
	taxa, err := s.taxa.List(ctx)
	if err != nil {
		return nil, taxonRepoErrors.translate(err)
	}
	if taxa == nil {
		taxa = []Taxon{}
	}
	return taxa, nil
}

func (s *taxonomyService) Get(ctx context.Context, taxonID string) (Taxon, error) {
	taxonID = strings.TrimSpace(taxonID)
	if !domain.ValidID(s.idPrefix, taxonID) {
		return Taxon{}, invalidField(ErrTaxonInvalidInput, "id", "invalid "+s.kind+" id")
	}
	taxon, err := s.taxa.FindByID(ctx, taxonID)
	if err != nil {
		return Taxon{}, taxonRepoErrors.translate(err)
	}
	return taxon, nil
}

func (s *taxonomyService) Create(ctx context.Context, caller Principal, name string) (Taxon, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return Taxon{}, err
	}
	name, err := normaliseTaxonName(name)
	if err != nil {
		return Taxon{}, err
	}
	now := s.now()
	taxon := Taxon{ID: s.newID(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.taxa.Create(ctx, taxon); err != nil {
		return Taxon{}, taxonRepoErrors.translate(err)
	}
	s.logger(ctx, s.kind+".created", map[string]any{"id": taxon.ID, "actorID": caller.ID})
	return taxon, nil
}

func (s *taxonomyService) Update(ctx context.Context, caller Principal, taxonID, name string) (Taxon, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return Taxon{}, err
	}
	name, err := normaliseTaxonName(name)
	if err != nil {
		return Taxon{}, err
	}
	taxon, err := s.Get(ctx, taxonID)
	if err != nil {
		return Taxon{}, err
	}
	previous := taxon.Name
	taxon.Name = name
	taxon.UpdatedAt = s.now()
	if err := s.taxa.Update(ctx, taxon, previous); err != nil {
		return Taxon{}, taxonRepoErrors.translate(err)
	}
	s.logger(ctx, s.kind+".updated", map[string]any{"id": taxon.ID, "actorID": caller.ID})
	return taxon, nil
}

func (s *taxonomyService) Delete(ctx context.Context, caller Principal, taxonID string) error {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return err
	}
	taxon, err := s.Get(ctx, taxonID)
	if err != nil {
		return err
	}
	if err := s.taxa.Delete(ctx, taxon.ID); err != nil {
		return taxonRepoErrors.translate(err)
	}
	s.logger(ctx, s.kind+".deleted", map[string]any{"id": taxon.ID, "actorID": caller.ID})
	return nil
}

func normaliseTaxonName(name string) (string, error) {
	name = textutil.PlainText(name)
	switch {
	case name == "":
		return "", invalidField(ErrTaxonInvalidInput, "name", "name is required")
	case utf8.RuneCountInString(name) > maxTaxonNameLength:
		return "", invalidField(ErrTaxonInvalidInput, "name", "name must be at most 60 characters")
	}
	return name, nil
}
