package boq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebill/sitebill/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	buildings map[int64]BuildingRef
	services  map[int64]ServiceLine
	nextID    int64
	// failNextTx makes the next transaction return this error after fn ran.
	failNextTx error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		buildings: map[int64]BuildingRef{},
		services:  map[int64]ServiceLine{},
		nextID:    100,
	}
}

func (m *memoryRepo) addBuilding(id, projectID int64) {
	m.buildings[id] = BuildingRef{ID: id, ProjectID: projectID, BuildingCode: fmt.Sprintf("B-%d", id)}
}

func (m *memoryRepo) addService(buildingID int64, price, qty string, current, invoiced float64) ServiceLine {
	m.nextID++
	s := ServiceLine{
		ID:                   m.nextID,
		BuildingID:           buildingID,
		Description:          "work",
		UnitPrice:            decimal.RequireFromString(price),
		Quantity:             decimal.RequireFromString(qty),
		CurrentProgress:      current,
		LastInvoicedProgress: invoiced,
	}
	m.services[s.ID] = s
	return s
}

func (m *memoryRepo) GetBuilding(ctx context.Context, id int64) (BuildingRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buildings[id]
	if !ok {
		return BuildingRef{}, fmt.Errorf("building %d: %w", id, shared.ErrNotFound)
	}
	return b, nil
}

func (m *memoryRepo) GetService(ctx context.Context, id int64) (ServiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return ServiceLine{}, fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

func (m *memoryRepo) ListServices(ctx context.Context, buildingID int64) ([]ServiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ServiceLine
	for _, s := range m.services {
		if s.BuildingID == buildingID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WithTx runs fn against a copy of the state and swaps it in on success.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		buildings: make(map[int64]BuildingRef, len(m.buildings)),
		services:  make(map[int64]ServiceLine, len(m.services)),
		nextID:    m.nextID,
	}
	for k, v := range m.buildings {
		tx.buildings[k] = v
	}
	for k, v := range m.services {
		tx.services[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := m.failNextTx; err != nil {
		m.failNextTx = nil
		return err
	}
	m.buildings, m.services, m.nextID = tx.buildings, tx.services, tx.nextID
	return nil
}

type memoryTx struct {
	buildings map[int64]BuildingRef
	services  map[int64]ServiceLine
	nextID    int64
}

func (t *memoryTx) LockBuilding(ctx context.Context, id int64) error {
	if _, ok := t.buildings[id]; !ok {
		return fmt.Errorf("building %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *memoryTx) GetServiceForUpdate(ctx context.Context, id int64) (ServiceLine, error) {
	s, ok := t.services[id]
	if !ok {
		return ServiceLine{}, fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

func (t *memoryTx) InsertService(ctx context.Context, buildingID int64, in ServiceInput) (ServiceLine, error) {
	t.nextID++
	s := ServiceLine{ID: t.nextID, BuildingID: buildingID, Description: in.Description, UnitPrice: in.UnitPrice, Quantity: in.Quantity}
	t.services[s.ID] = s
	return s, nil
}

func (t *memoryTx) UpdateServiceDetails(ctx context.Context, id int64, in ServiceInput) (ServiceLine, error) {
	s, ok := t.services[id]
	if !ok {
		return ServiceLine{}, fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	s.Description, s.UnitPrice, s.Quantity = in.Description, in.UnitPrice, in.Quantity
	t.services[id] = s
	return s, nil
}

func (t *memoryTx) DeleteService(ctx context.Context, id int64) error {
	if _, ok := t.services[id]; !ok {
		return fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	delete(t.services, id)
	return nil
}

func (t *memoryTx) SetCurrentProgress(ctx context.Context, id int64, progress float64) error {
	s, ok := t.services[id]
	if !ok {
		return fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	s.CurrentProgress = progress
	t.services[id] = s
	return nil
}

func (t *memoryTx) ListCurrentProgress(ctx context.Context, buildingID int64) ([]float64, error) {
	var out []float64
	for _, s := range t.services {
		if s.BuildingID == buildingID {
			out = append(out, s.CurrentProgress)
		}
	}
	return out, nil
}

func (t *memoryTx) SetBuildingProgress(ctx context.Context, buildingID int64, progress float64) error {
	b := t.buildings[buildingID]
	b.TotalProgress = progress
	t.buildings[buildingID] = b
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestUpdateProgressRecomputesBuilding(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	a := repo.addService(1, "100", "1", 0, 0)
	b := repo.addService(1, "100", "1", 0, 0)
	c := repo.addService(1, "100", "1", 0, 0)
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)

	lines, err := svc.UpdateProgress(context.Background(), []ProgressUpdate{
		{ServiceID: c.ID, Progress: 100},
		{ServiceID: b.ID, Progress: 50},
		{ServiceID: a.ID, Progress: 0},
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, a.ID, lines[0].ID)

	building, err := repo.GetBuilding(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 50.0, building.TotalProgress)
	require.Len(t, audit.logs, 3)
	require.Equal(t, "service.progress", audit.logs[0].Action)
}

func TestUpdateProgressClampsOutOfRange(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	a := repo.addService(1, "10", "1", 20, 0)
	b := repo.addService(1, "10", "1", 20, 0)
	svc := NewService(repo, nil, nil)

	lines, err := svc.UpdateProgress(context.Background(), []ProgressUpdate{
		{ServiceID: a.ID, Progress: 140},
		{ServiceID: b.ID, Progress: -5},
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, lines[0].CurrentProgress)
	require.Equal(t, 0.0, lines[1].CurrentProgress)
}

func TestUpdateProgressBelowWatermarkRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	ok := repo.addService(1, "10", "1", 20, 0)
	billed := repo.addService(1, "10", "1", 60, 60)
	svc := NewService(repo, nil, nil)

	_, err := svc.UpdateProgress(context.Background(), []ProgressUpdate{
		{ServiceID: ok.ID, Progress: 80},
		{ServiceID: billed.ID, Progress: 40},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	unchanged, err := repo.GetService(context.Background(), ok.ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, unchanged.CurrentProgress)
}

func TestUpdateProgressAtWatermarkAllowed(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	billed := repo.addService(1, "10", "1", 70, 60)
	svc := NewService(repo, nil, nil)

	lines, err := svc.UpdateProgress(context.Background(), []ProgressUpdate{{ServiceID: billed.ID, Progress: 60}})
	require.NoError(t, err)
	require.Equal(t, 60.0, lines[0].CurrentProgress)
	require.Equal(t, 60.0, lines[0].LastInvoicedProgress)
}

func TestUpdateProgressRejectsBadBatches(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	a := repo.addService(1, "10", "1", 0, 0)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.UpdateProgress(ctx, nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateProgress(ctx, []ProgressUpdate{{ServiceID: a.ID, Progress: 10}, {ServiceID: a.ID, Progress: 20}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateProgress(ctx, []ProgressUpdate{{ServiceID: 9999, Progress: 10}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateProgressRetriesConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	a := repo.addService(1, "10", "1", 0, 0)
	repo.failNextTx = fmt.Errorf("serialization: %w", shared.ErrConflict)
	svc := NewService(repo, nil, nil)

	lines, err := svc.UpdateProgress(context.Background(), []ProgressUpdate{{ServiceID: a.ID, Progress: 30}})
	require.NoError(t, err)
	require.Equal(t, 30.0, lines[0].CurrentProgress)
}

func TestServiceLifecycleKeepsAggregateFresh(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	repo.addService(1, "10", "1", 100, 0)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateService(ctx, 1, ServiceInput{Description: " Plaster ", UnitPrice: decimal.NewFromInt(5), Quantity: decimal.NewFromInt(4)})
	require.NoError(t, err)
	require.Equal(t, "Plaster", created.Description)
	require.Zero(t, created.CurrentProgress)

	building, _ := repo.GetBuilding(ctx, 1)
	require.Equal(t, 50.0, building.TotalProgress)

	require.NoError(t, svc.DeleteService(ctx, created.ID))
	building, _ = repo.GetBuilding(ctx, 1)
	require.Equal(t, 100.0, building.TotalProgress)

	_, err = svc.CreateService(ctx, 1, ServiceInput{Description: "Bad", UnitPrice: decimal.NewFromInt(-1), Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateService(ctx, 404, ServiceInput{Description: "Lost", UnitPrice: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateServiceKeepsProgress(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	line := repo.addService(1, "10", "1", 40, 20)
	svc := NewService(repo, nil, nil)

	updated, err := svc.UpdateService(context.Background(), line.ID, ServiceInput{Description: "Tiles", UnitPrice: decimal.NewFromInt(12), Quantity: decimal.NewFromInt(3)})
	require.NoError(t, err)
	require.Equal(t, 40.0, updated.CurrentProgress)
	require.Equal(t, 20.0, updated.LastInvoicedProgress)
	require.True(t, decimal.NewFromInt(12).Equal(updated.UnitPrice))
}

func TestBuildingBOQTotals(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBuilding(1, 10)
	repo.addService(1, "1000", "1", 50, 20)
	repo.addService(1, "500", "2", 100, 100)
	svc := NewService(repo, nil, nil)

	view, err := svc.BuildingBOQ(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	require.Equal(t, "2000", view.ContractValue.String())
	require.Equal(t, "1500", view.EarnedToDate.String())
	require.Equal(t, "300", view.Unbilled.String())
	require.Equal(t, "300", view.Lines[0].Unbilled.String())
	require.True(t, view.Lines[1].Unbilled.IsZero())

	_, err = svc.BuildingBOQ(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
