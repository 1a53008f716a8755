// Package reception runs a supplier delivery spreadsheet through parsing,
// catalog resolution, pricing and validation, and commits accepted lines to
// stock and purchasing.
package reception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	"github.com/odyssey-erp/odyssey-reception/internal/inventory"
	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
	"github.com/odyssey-erp/odyssey-reception/internal/procurement"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/columns"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/rules"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/sheet"
	"github.com/odyssey-erp/odyssey-reception/internal/shared"
	"github.com/odyssey-erp/odyssey-reception/internal/tenant"
)

// Catalog resolves spreadsheet codes to local products.
type Catalog interface {
	Resolve(ctx context.Context, tenantID int64, codes []string) (catalog.Resolution, error)
}

// CategoryStore loads pricing categories in one batch.
type CategoryStore interface {
	CategoriesByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]pricing.Category, error)
}

// Onboarding creates local products for unresolved codes.
type Onboarding interface {
	Onboard(ctx context.Context, tenantID int64, candidates []catalog.Candidate) ([]catalog.OnboardResult, error)
}

// MappingStore holds supplier column mappings.
type MappingStore interface {
	Get(ctx context.Context, tenantID, supplierID int64) (columns.Mapping, error)
	Save(ctx context.Context, tenantID int64, m columns.Mapping) error
}

// SettingsProvider returns the tenant configuration.
type SettingsProvider interface {
	Settings(ctx context.Context, tenantID int64) (tenant.Settings, error)
}

// Orders attaches receptions to purchase orders.
type Orders interface {
	Reconcile(ctx context.Context, input procurement.ReconcileInput) (procurement.Reconciliation, error)
	MarkReceived(ctx context.Context, tenantID, orderID int64) error
}

// Stock posts inbound movements.
type Stock interface {
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error)
}

// FollowUpQueue schedules the order-status retry of a committed reception.
type FollowUpQueue interface {
	EnqueueOrderStatus(ctx context.Context, tenantID, documentID int64) error
}

// Observer receives pipeline outcomes for metrics.
type Observer interface {
	ObserveImport(outcome string, rows int)
	ObserveCommit(outcome string)
}

// Dependencies groups the ports of the service. Queue and Observer are optional.
type Dependencies struct {
	Repository  Repository
	Settings    SettingsProvider
	Mappings    MappingStore
	Catalog     Catalog
	Categories  CategoryStore
	Onboarding  Onboarding
	Orders      Orders
	Stock       Stock
	Idempotency shared.IdempotencyPort
	Queue       FollowUpQueue
	Observer    Observer
	Parser      *sheet.Parser
	Logger      *slog.Logger
}

// Service coordinates the reception workflow.
type Service struct {
	repo        Repository
	settings    SettingsProvider
	mappings    MappingStore
	catalog     Catalog
	categories  CategoryStore
	onboarding  Onboarding
	orders      Orders
	stock       Stock
	idempotency shared.IdempotencyPort
	queue       FollowUpQueue
	observer    Observer
	parser      *sheet.Parser
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the reception service.
func NewService(deps Dependencies) *Service {
	parser := deps.Parser
	if parser == nil {
		parser = sheet.NewParser(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repository,
		settings:    deps.Settings,
		mappings:    deps.Mappings,
		catalog:     deps.Catalog,
		categories:  deps.Categories,
		onboarding:  deps.Onboarding,
		orders:      deps.Orders,
		stock:       deps.Stock,
		idempotency: deps.Idempotency,
		queue:       deps.Queue,
		observer:    deps.Observer,
		parser:      parser,
		logger:      logger,
		now:         time.Now,
	}
}

// Draft is the operator view of a reception.
type Draft struct {
	Document domain.Document `json:"document"`
	Assessment
	Commit *CommitResult `json:"commit,omitempty"`
}

// ImportInput describes an uploaded delivery spreadsheet.
type ImportInput struct {
	TenantID   int64
	SupplierID int64
	OrderID    int64
	Source     domain.Source
	Upload     sheet.Upload
}

// Import parses, prices and validates an upload and stores it as a draft.
// Nothing is written when the file, the mapping or the context fails.
func (s *Service) Import(ctx context.Context, input ImportInput) (Draft, error) {
	if input.SupplierID == 0 {
		return Draft{}, fmt.Errorf("%w: supplier id required", ErrInvalidInput)
	}
	source := input.Source
	if source == "" {
		source = domain.SourceSupplier
	}
	settings, err := s.settings.Settings(ctx, input.TenantID)
	if err != nil {
		return Draft{}, fmt.Errorf("load tenant settings: %w", err)
	}

	var mapping *columns.Mapping
	if source != domain.SourceCatalog {
		m, err := s.mappings.Get(ctx, input.TenantID, input.SupplierID)
		if err != nil {
			s.observeImport("rejected", 0)
			return Draft{}, err
		}
		mapping = &m
	}

	parsed, err := s.parser.Parse(ctx, input.Upload, mapping)
	if err != nil {
		s.observeImport("rejected", 0)
		return Draft{}, err
	}

	now := s.now().UTC()
	doc := domain.Document{
		TenantID:         input.TenantID,
		SupplierID:       input.SupplierID,
		OrderID:          input.OrderID,
		WarehouseID:      settings.DefaultWarehouseID,
		Number:           newNumber("REC", now),
		DeliveryNoteRef:  parsed.DeliveryNoteRef,
		Source:           source,
		FileName:         input.Upload.Name,
		FileDigest:       parsed.Digest,
		Lines:            parsed.Lines,
		ParseDiagnostics: parsed.Diagnostics(),
		Status:           domain.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	assessment, err := s.assess(ctx, &doc, settings)
	if err != nil {
		return Draft{}, err
	}
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}

	rec := Record{Document: doc}
	id, err := s.repo.Create(ctx, rec)
	if err != nil {
		return Draft{}, fmt.Errorf("store reception: %w", err)
	}
	rec.ID = id
	s.observeImport("imported", parsed.Rows)
	s.logger.Info("reception imported",
		slog.Int64("tenant_id", rec.TenantID),
		slog.Int64("reception_id", rec.ID),
		slog.String("file", rec.FileName),
		slog.Int("lines", len(rec.Lines)),
		slog.Int("unresolved", len(assessment.Unresolved)))
	return draftOf(rec, assessment), nil
}

// Get loads a reception with its current assessment.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Draft, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Draft{}, err
	}
	settings, err := s.settings.Settings(ctx, tenantID)
	if err != nil {
		return Draft{}, fmt.Errorf("load tenant settings: %w", err)
	}
	assessment, err := s.assess(ctx, &rec.Document, settings)
	if err != nil {
		return Draft{}, err
	}
	return draftOf(rec, assessment), nil
}

// LinePatch is an operator correction of one line. Nil fields are kept.
type LinePatch struct {
	ReceivedQty *decimal.Decimal   `json:"received_qty"`
	AcceptedQty *decimal.Decimal   `json:"accepted_qty"`
	UnitPrice   *decimal.Decimal   `json:"unit_price"`
	LotNumber   *string            `json:"lot_number" validate:"omitempty,max=64"`
	ExpiryDate  *time.Time         `json:"expiry_date"`
	Location    *string            `json:"location" validate:"omitempty,max=64"`
	Status      *domain.LineStatus `json:"status" validate:"omitempty,oneof=conforme non_conforme partial"`
	Comment     *string            `json:"comment" validate:"omitempty,max=512"`
	ProductID   *int64             `json:"product_id" validate:"omitempty,gte=0"`
	CategoryID  *int64             `json:"category_id" validate:"omitempty,gte=0"`
}

func (p LinePatch) apply(line *domain.Line) {
	if p.ReceivedQty != nil {
		line.ReceivedQty = *p.ReceivedQty
	}
	if p.AcceptedQty != nil {
		line.AcceptedQty = *p.AcceptedQty
	}
	if p.UnitPrice != nil {
		line.UnitPrice = *p.UnitPrice
	}
	if p.LotNumber != nil {
		line.LotNumber = *p.LotNumber
	}
	if p.ExpiryDate != nil {
		expiry := p.ExpiryDate.UTC()
		line.ExpiryDate = &expiry
	}
	if p.Location != nil {
		line.Location = *p.Location
	}
	if p.Status != nil {
		line.Status = *p.Status
	}
	if p.Comment != nil {
		line.Comment = *p.Comment
	}
	if p.ProductID != nil {
		line.ProductID = *p.ProductID
	}
	if p.CategoryID != nil {
		line.CategoryID = *p.CategoryID
	}
}

// UpdateLine applies a line correction and re-assesses the draft.
func (s *Service) UpdateLine(ctx context.Context, tenantID, id int64, row int, patch LinePatch) (Draft, error) {
	return s.edit(ctx, tenantID, id, func(doc *domain.Document) error {
		line, ok := doc.Line(row)
		if !ok {
			return fmt.Errorf("%w: row %d", domain.ErrLineNotFound, row)
		}
		patch.apply(line)
		return nil
	})
}

// DiscardRow drops a spreadsheet row from the draft, together with the parse
// diagnostics reported for it. It is how an operator gives up on a row the
// parser could not turn into a line.
func (s *Service) DiscardRow(ctx context.Context, tenantID, id int64, row int) (Draft, error) {
	if row <= 0 {
		return Draft{}, fmt.Errorf("%w: row must be positive", ErrInvalidInput)
	}
	return s.edit(ctx, tenantID, id, func(doc *domain.Document) error {
		if !doc.DiscardRow(row) {
			return fmt.Errorf("%w: row %d", domain.ErrLineNotFound, row)
		}
		s.logger.Info("reception row discarded",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("reception_id", id),
			slog.Int("row", row))
		return nil
	})
}

// HeaderPatch edits document-level fields. Nil fields are kept.
type HeaderPatch struct {
	Carrier     *string                `json:"carrier" validate:"omitempty,max=128"`
	Notes       *string                `json:"notes" validate:"omitempty,max=2000"`
	QC          *domain.QualityControl `json:"quality_control"`
	Overrides   *domain.TaxOverrides   `json:"tax_overrides"`
	OrderID     *int64                 `json:"order_id" validate:"omitempty,gte=0"`
	WarehouseID *int64                 `json:"warehouse_id" validate:"omitempty,gte=0"`
	DeliveryRef *string                `json:"delivery_note_ref" validate:"omitempty,max=128"`
}

// UpdateHeader applies header edits and re-assesses the draft.
func (s *Service) UpdateHeader(ctx context.Context, tenantID, id int64, patch HeaderPatch) (Draft, error) {
	return s.edit(ctx, tenantID, id, func(doc *domain.Document) error {
		if patch.Carrier != nil {
			doc.Carrier = *patch.Carrier
		}
		if patch.Notes != nil {
			doc.Notes = *patch.Notes
		}
		if patch.QC != nil {
			doc.QC = *patch.QC
		}
		if patch.Overrides != nil {
			doc.Overrides = *patch.Overrides
		}
		if patch.OrderID != nil {
			doc.OrderID = *patch.OrderID
		}
		if patch.WarehouseID != nil {
			doc.WarehouseID = *patch.WarehouseID
		}
		if patch.DeliveryRef != nil {
			doc.DeliveryNoteRef = *patch.DeliveryRef
		}
		return nil
	})
}

// edit mutates a draft, drops its acknowledgments and moves it back to DRAFT.
func (s *Service) edit(ctx context.Context, tenantID, id int64, mutate func(*domain.Document) error) (Draft, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Draft{}, err
	}
	if !rec.Mutable() {
		return Draft{}, domain.ErrImmutable
	}
	if err := mutate(&rec.Document); err != nil {
		return Draft{}, err
	}
	rec.Acknowledged = nil
	rec.Status = domain.StatusDraft
	return s.reassessAndStore(ctx, rec)
}

// Validate acknowledges warnings and runs the two-phase transition: blocking
// errors keep the draft, unacknowledged warnings hold it pending, otherwise it
// becomes VALIDATED. Acknowledgments for keys that are not current warnings
// are ignored.
func (s *Service) Validate(ctx context.Context, tenantID, id int64, acks []string) (Draft, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Draft{}, err
	}
	if !rec.Mutable() {
		return Draft{}, domain.ErrImmutable
	}
	settings, err := s.settings.Settings(ctx, tenantID)
	if err != nil {
		return Draft{}, fmt.Errorf("load tenant settings: %w", err)
	}
	assessment, err := s.assess(ctx, &rec.Document, settings)
	if err != nil {
		return Draft{}, err
	}

	current := map[string]struct{}{}
	for _, w := range assessment.report.Warnings() {
		current[w.Key()] = struct{}{}
	}
	merged := map[string]struct{}{}
	for _, k := range append(rec.Acknowledged, acks...) {
		if _, ok := current[k]; ok {
			merged[k] = struct{}{}
		}
	}
	rec.Acknowledged = sortedKeys(merged)
	rec.Status = rules.Transition(assessment.report, rec.Acknowledged)
	assessment.Pending = assessment.report.Pending(rec.Acknowledged)
	assessment.Outcome = rec.Status
	rec.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, rec); err != nil {
		return Draft{}, fmt.Errorf("store reception: %w", err)
	}
	return draftOf(rec, assessment), nil
}

// OnboardOutcome reports onboarded codes and the refreshed draft.
type OnboardOutcome struct {
	Results []catalog.OnboardResult `json:"results"`
	Draft   Draft                   `json:"draft"`
}

// Onboard creates local products for the selected unresolved codes and
// re-assesses the draft. An empty selection onboards every unresolved code.
func (s *Service) Onboard(ctx context.Context, tenantID, id int64, codes []string) (OnboardOutcome, error) {
	if s.onboarding == nil {
		return OnboardOutcome{}, catalog.ErrNoGlobalCatalog
	}
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return OnboardOutcome{}, err
	}
	if !rec.Mutable() {
		return OnboardOutcome{}, domain.ErrImmutable
	}
	if len(codes) == 0 {
		settings, err := s.settings.Settings(ctx, tenantID)
		if err != nil {
			return OnboardOutcome{}, fmt.Errorf("load tenant settings: %w", err)
		}
		assessment, err := s.assess(ctx, &rec.Document, settings)
		if err != nil {
			return OnboardOutcome{}, err
		}
		codes = assessment.Unresolved
	}

	selected := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		selected[c] = struct{}{}
	}
	var candidates []catalog.Candidate
	for _, line := range rec.Lines {
		if _, ok := selected[line.Code]; !ok {
			continue
		}
		delete(selected, line.Code)
		candidates = append(candidates, catalog.Candidate{
			Code:       line.Code,
			Label:      line.Label,
			UnitPrice:  line.UnitPrice,
			CategoryID: line.CategoryID,
		})
	}
	if len(candidates) == 0 {
		return OnboardOutcome{}, fmt.Errorf("%w: no reception line carries the selected codes", ErrInvalidInput)
	}

	results, err := s.onboarding.Onboard(ctx, tenantID, candidates)
	if err != nil {
		return OnboardOutcome{}, err
	}
	rec.Acknowledged = nil
	rec.Status = domain.StatusDraft
	draft, err := s.reassessAndStore(ctx, rec)
	if err != nil {
		return OnboardOutcome{}, err
	}
	return OnboardOutcome{Results: results, Draft: draft}, nil
}

// Mapping returns the column mapping of a supplier.
func (s *Service) Mapping(ctx context.Context, tenantID, supplierID int64) (columns.Mapping, error) {
	return s.mappings.Get(ctx, tenantID, supplierID)
}

// SaveMapping validates and stores a supplier column mapping.
func (s *Service) SaveMapping(ctx context.Context, tenantID int64, m columns.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.mappings.Save(ctx, tenantID, m)
}

func (s *Service) reassessAndStore(ctx context.Context, rec Record) (Draft, error) {
	settings, err := s.settings.Settings(ctx, rec.TenantID)
	if err != nil {
		return Draft{}, fmt.Errorf("load tenant settings: %w", err)
	}
	assessment, err := s.assess(ctx, &rec.Document, settings)
	if err != nil {
		return Draft{}, err
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, rec); err != nil {
		return Draft{}, fmt.Errorf("store reception: %w", err)
	}
	return draftOf(rec, assessment), nil
}

// assess loads what Assess needs: one resolution pass and one category batch.
func (s *Service) assess(ctx context.Context, doc *domain.Document, settings tenant.Settings) (Assessment, error) {
	res, err := s.catalog.Resolve(ctx, doc.TenantID, resolutionCodes(doc))
	if err != nil {
		return Assessment{}, fmt.Errorf("resolve catalog: %w", err)
	}
	categories := map[int64]pricing.Category{}
	if ids := categoryIDs(doc, res); len(ids) > 0 {
		categories, err = s.categories.CategoriesByIDs(ctx, doc.TenantID, ids)
		if err != nil {
			return Assessment{}, fmt.Errorf("load categories: %w", err)
		}
	}
	return Assess(doc, res, categories, settings, s.now())
}

func (s *Service) observeImport(outcome string, rows int) {
	if s.observer != nil {
		s.observer.ObserveImport(outcome, rows)
	}
}

func (s *Service) observeCommit(outcome string) {
	if s.observer != nil {
		s.observer.ObserveCommit(outcome)
	}
}

func draftOf(rec Record, a Assessment) Draft {
	return Draft{Document: rec.Document, Assessment: a, Commit: rec.Commit}
}

// newNumber builds a document number such as REC-20260115-9F1C2A7B04D3.
func newNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}

var (
	// ErrNotFound indicates a missing reception.
	ErrNotFound = errors.New("reception: not found")
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("reception: invalid input")
	// ErrNotValidated is returned when committing a document that is not VALIDATED.
	ErrNotValidated = errors.New("reception: document is not validated")
	// ErrNotCommitted is returned when a post-commit step runs on an uncommitted document.
	ErrNotCommitted = errors.New("reception: document is not committed")
	// ErrCommitInProgress is returned when another commit holds the delivery note key.
	ErrCommitInProgress = errors.New("reception: commit already in progress for this delivery note")
	// ErrCommitRefTaken is returned by repositories when another reception
	// already holds the delivery reference.
	ErrCommitRefTaken = errors.New("reception: delivery reference held by another reception")
	// ErrWarehouseRequired is returned when committing without a destination warehouse.
	ErrWarehouseRequired = errors.New("reception: destination warehouse required")
)
