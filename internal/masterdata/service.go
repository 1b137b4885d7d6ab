package masterdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sitebill/sitebill/internal/shared"
)

// Service applies validation on top of the master data repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a new master data service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

func checkID(entity string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid %s ID", shared.ErrValidation, entity)
	}
	return nil
}

// Area operations

func (s *Service) ListAreas(ctx context.Context, params shared.ListParams) ([]Area, int, error) {
	return s.repo.ListAreas(ctx, params)
}

func (s *Service) GetArea(ctx context.Context, id int64) (Area, error) {
	if err := checkID("area", id); err != nil {
		return Area{}, err
	}
	return s.repo.GetArea(ctx, id)
}

func (s *Service) CreateArea(ctx context.Context, in AreaInput) (Area, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Area{}, err
	}
	return s.repo.CreateArea(ctx, in)
}

func (s *Service) UpdateArea(ctx context.Context, id int64, in AreaInput) (Area, error) {
	if err := checkID("area", id); err != nil {
		return Area{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Area{}, err
	}
	return s.repo.UpdateArea(ctx, id, in)
}

func (s *Service) DeleteArea(ctx context.Context, id int64) error {
	if err := checkID("area", id); err != nil {
		return err
	}
	return s.repo.DeleteArea(ctx, id)
}

// Company operations

func (s *Service) ListCompanies(ctx context.Context, params shared.ListParams) ([]Company, int, error) {
	return s.repo.ListCompanies(ctx, params)
}

func (s *Service) GetCompany(ctx context.Context, id int64) (Company, error) {
	if err := checkID("company", id); err != nil {
		return Company{}, err
	}
	return s.repo.GetCompany(ctx, id)
}

func (s *Service) CreateCompany(ctx context.Context, in CompanyInput) (Company, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Company{}, err
	}
	return s.repo.CreateCompany(ctx, in)
}

func (s *Service) UpdateCompany(ctx context.Context, id int64, in CompanyInput) (Company, error) {
	if err := checkID("company", id); err != nil {
		return Company{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Company{}, err
	}
	return s.repo.UpdateCompany(ctx, id, in)
}

func (s *Service) DeleteCompany(ctx context.Context, id int64) error {
	if err := checkID("company", id); err != nil {
		return err
	}
	return s.repo.DeleteCompany(ctx, id)
}

// Project operations

func (s *Service) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown project status %q", shared.ErrValidation, filter.Status)
	}
	return s.repo.ListProjects(ctx, filter)
}

func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	if err := checkID("project", id); err != nil {
		return Project{}, err
	}
	return s.repo.GetProject(ctx, id)
}

func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	in, err := s.prepareProject(ctx, in)
	if err != nil {
		return Project{}, err
	}
	return s.repo.CreateProject(ctx, in)
}

func (s *Service) UpdateProject(ctx context.Context, id int64, in ProjectInput) (Project, error) {
	if err := checkID("project", id); err != nil {
		return Project{}, err
	}
	in, err := s.prepareProject(ctx, in)
	if err != nil {
		return Project{}, err
	}
	return s.repo.UpdateProject(ctx, id, in)
}

func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	if err := checkID("project", id); err != nil {
		return err
	}
	return s.repo.DeleteProject(ctx, id)
}

// prepareProject normalises input and checks the referenced company and area exist.
func (s *Service) prepareProject(ctx context.Context, in ProjectInput) (ProjectInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Status == "" {
		in.Status = ProjectActive
	}
	if err := s.validate.Struct(in); err != nil {
		return in, err
	}
	if _, err := s.repo.GetCompany(ctx, in.CompanyID); err != nil {
		return in, err
	}
	if in.AreaID != nil {
		if _, err := s.repo.GetArea(ctx, *in.AreaID); err != nil {
			return in, err
		}
	}
	return in, nil
}

// Building operations

func (s *Service) ListBuildings(ctx context.Context, projectID int64) ([]Building, error) {
	if err := checkID("project", projectID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListBuildings(ctx, projectID)
}

func (s *Service) GetBuilding(ctx context.Context, id int64) (Building, error) {
	if err := checkID("building", id); err != nil {
		return Building{}, err
	}
	return s.repo.GetBuilding(ctx, id)
}

func (s *Service) CreateBuilding(ctx context.Context, projectID int64, in BuildingInput) (Building, error) {
	if err := checkID("project", projectID); err != nil {
		return Building{}, err
	}
	in.BuildingCode = strings.TrimSpace(in.BuildingCode)
	if err := s.validate.Struct(in); err != nil {
		return Building{}, err
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return Building{}, err
	}
	return s.repo.CreateBuilding(ctx, projectID, in)
}

func (s *Service) UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error) {
	if err := checkID("building", id); err != nil {
		return Building{}, err
	}
	in.BuildingCode = strings.TrimSpace(in.BuildingCode)
	if err := s.validate.Struct(in); err != nil {
		return Building{}, err
	}
	return s.repo.UpdateBuilding(ctx, id, in)
}

func (s *Service) DeleteBuilding(ctx context.Context, id int64) error {
	if err := checkID("building", id); err != nil {
		return err
	}
	return s.repo.DeleteBuilding(ctx, id)
}
