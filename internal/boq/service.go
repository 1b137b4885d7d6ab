package boq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sitebill/sitebill/internal/earnedvalue"
	"github.com/sitebill/sitebill/internal/shared"
)

// maxProgressAttempts bounds retries of a progress batch that lost a
// serialization race with another writer on the same building.
const maxProgressAttempts = 3

// AuditPort records progress changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages service lines and completion tracking.
type Service struct {
	repo     Repository
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs the BOQ service. audit may be nil.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

func checkID(entity string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid %s ID", shared.ErrValidation, entity)
	}
	return nil
}

func (s *Service) prepare(in *ServiceInput) error {
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	if in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit_price must not be negative", shared.ErrValidation)
	}
	if in.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity must not be negative", shared.ErrValidation)
	}
	return nil
}

// ListServices returns the service lines of a building ordered by id.
func (s *Service) ListServices(ctx context.Context, buildingID int64) ([]ServiceLine, error) {
	if err := checkID("building", buildingID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetBuilding(ctx, buildingID); err != nil {
		return nil, err
	}
	return s.repo.ListServices(ctx, buildingID)
}

// GetService fetches a single service line.
func (s *Service) GetService(ctx context.Context, id int64) (ServiceLine, error) {
	if err := checkID("service", id); err != nil {
		return ServiceLine{}, err
	}
	return s.repo.GetService(ctx, id)
}

// CreateService adds a line at 0% progress and refreshes the building aggregate.
func (s *Service) CreateService(ctx context.Context, buildingID int64, in ServiceInput) (ServiceLine, error) {
	if err := checkID("building", buildingID); err != nil {
		return ServiceLine{}, err
	}
	if err := s.prepare(&in); err != nil {
		return ServiceLine{}, err
	}
	var created ServiceLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockBuilding(ctx, buildingID); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertService(ctx, buildingID, in)
		if err != nil {
			return err
		}
		return recompute(ctx, tx, buildingID)
	})
	return created, err
}

// UpdateService changes description and pricing. Progress is untouched.
func (s *Service) UpdateService(ctx context.Context, id int64, in ServiceInput) (ServiceLine, error) {
	if err := checkID("service", id); err != nil {
		return ServiceLine{}, err
	}
	if err := s.prepare(&in); err != nil {
		return ServiceLine{}, err
	}
	var updated ServiceLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetServiceForUpdate(ctx, id); err != nil {
			return err
		}
		var err error
		updated, err = tx.UpdateServiceDetails(ctx, id, in)
		return err
	})
	return updated, err
}

// DeleteService removes a line and refreshes the building aggregate.
func (s *Service) DeleteService(ctx context.Context, id int64) error {
	if err := checkID("service", id); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetServiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.LockBuilding(ctx, line.BuildingID); err != nil {
			return err
		}
		if err := tx.DeleteService(ctx, id); err != nil {
			return err
		}
		return recompute(ctx, tx, line.BuildingID)
	})
}

// UpdateProgress applies a batch of progress updates atomically. Values are
// clamped into [0,100]; a value below the service's billing watermark is
// rejected. Every affected building's total progress is recomputed inside
// the same transaction.
func (s *Service) UpdateProgress(ctx context.Context, updates []ProgressUpdate) ([]ServiceLine, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no progress updates", shared.ErrValidation)
	}
	batch := make([]ProgressUpdate, len(updates))
	seen := make(map[int64]struct{}, len(updates))
	for i, u := range updates {
		if err := s.validate.Struct(u); err != nil {
			return nil, err
		}
		if _, dup := seen[u.ServiceID]; dup {
			return nil, fmt.Errorf("%w: service %d appears twice", shared.ErrValidation, u.ServiceID)
		}
		seen[u.ServiceID] = struct{}{}
		u.Progress = earnedvalue.ClampProgress(u.Progress)
		batch[i] = u
	}
	// Stable lock order: services by id, then buildings by id.
	sort.Slice(batch, func(i, j int) bool { return batch[i].ServiceID < batch[j].ServiceID })

	var (
		result   []ServiceLine
		previous map[int64]float64
		err      error
	)
	for attempt := 1; attempt <= maxProgressAttempts; attempt++ {
		result, previous, err = s.applyProgress(ctx, batch)
		if err == nil || !errors.Is(err, shared.ErrConflict) {
			break
		}
		s.logger.Warn("progress update conflicted, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	if err != nil {
		return nil, err
	}

	s.recordProgress(ctx, result, previous)
	return result, nil
}

func (s *Service) applyProgress(ctx context.Context, batch []ProgressUpdate) ([]ServiceLine, map[int64]float64, error) {
	var (
		result   []ServiceLine
		previous = make(map[int64]float64, len(batch))
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = result[:0]
		buildings := make(map[int64]struct{})
		for _, u := range batch {
			line, err := tx.GetServiceForUpdate(ctx, u.ServiceID)
			if err != nil {
				return err
			}
			if u.Progress < line.LastInvoicedProgress {
				return fmt.Errorf("%w: service %d progress %.2f is below invoiced progress %.2f",
					shared.ErrValidation, line.ID, u.Progress, line.LastInvoicedProgress)
			}
			if err := tx.SetCurrentProgress(ctx, line.ID, u.Progress); err != nil {
				return err
			}
			previous[line.ID] = line.CurrentProgress
			line.CurrentProgress = u.Progress
			result = append(result, line)
			buildings[line.BuildingID] = struct{}{}
		}

		ids := make([]int64, 0, len(buildings))
		for id := range buildings {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if err := tx.LockBuilding(ctx, id); err != nil {
				return err
			}
			if err := recompute(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return result, previous, err
}

func (s *Service) recordProgress(ctx context.Context, lines []ServiceLine, previous map[int64]float64) {
	if s.audit == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	for _, line := range lines {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   "service.progress",
			Entity:   "service",
			EntityID: strconv.FormatInt(line.ID, 10),
			Meta: map[string]any{
				"building_id": line.BuildingID,
				"from":        previous[line.ID],
				"to":          line.CurrentProgress,
			},
		})
		if err != nil {
			s.logger.Warn("audit progress update failed", slog.Int64("service_id", line.ID), slog.Any("error", err))
		}
	}
}

// BuildingBOQ returns the priced view of a building with per-line and total values.
func (s *Service) BuildingBOQ(ctx context.Context, buildingID int64) (BuildingBOQ, error) {
	if err := checkID("building", buildingID); err != nil {
		return BuildingBOQ{}, err
	}
	building, err := s.repo.GetBuilding(ctx, buildingID)
	if err != nil {
		return BuildingBOQ{}, err
	}
	services, err := s.repo.ListServices(ctx, buildingID)
	if err != nil {
		return BuildingBOQ{}, err
	}

	view := BuildingBOQ{Building: building, Lines: make([]Line, 0, len(services))}
	for _, svc := range services {
		line, err := priceLine(svc)
		if err != nil {
			return BuildingBOQ{}, fmt.Errorf("service %d: %w", svc.ID, err)
		}
		view.Lines = append(view.Lines, line)
		view.ContractValue = view.ContractValue.Add(line.ContractValue)
		view.EarnedToDate = view.EarnedToDate.Add(line.EarnedToDate)
		view.Unbilled = view.Unbilled.Add(line.Unbilled)
	}
	return view, nil
}

func priceLine(svc ServiceLine) (Line, error) {
	earned, err := earnedvalue.CurrentPayableAmount(svc.UnitPrice, svc.Quantity, earnedvalue.ClampProgress(svc.CurrentProgress))
	if err != nil {
		return Line{}, err
	}
	unbilled, err := earnedvalue.UnbilledAmount(svc.UnitPrice, svc.Quantity,
		earnedvalue.ClampProgress(svc.CurrentProgress), earnedvalue.ClampProgress(svc.LastInvoicedProgress))
	if err != nil {
		return Line{}, err
	}
	return Line{
		ServiceLine:   svc,
		ContractValue: earnedvalue.RoundCurrency(svc.UnitPrice.Mul(svc.Quantity)),
		EarnedToDate:  earnedvalue.RoundCurrency(earned),
		Unbilled:      earnedvalue.RoundCurrency(unbilled),
	}, nil
}

func recompute(ctx context.Context, tx TxRepository, buildingID int64) error {
	current, err := tx.ListCurrentProgress(ctx, buildingID)
	if err != nil {
		return err
	}
	return tx.SetBuildingProgress(ctx, buildingID, earnedvalue.BuildingProgress(current))
}
