package reception

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

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

const (
	testTenant   = int64(1)
	testSupplier = int64(9)
)

type memoryReceptions struct {
	records map[int64]Record
	nextID  int64
}

func newMemoryReceptions() *memoryReceptions {
	return &memoryReceptions{records: map[int64]Record{}}
}

func (m *memoryReceptions) Create(ctx context.Context, rec Record) (int64, error) {
	m.nextID++
	rec.ID = m.nextID
	m.records[rec.ID] = clone(rec)
	return rec.ID, nil
}

func (m *memoryReceptions) Get(ctx context.Context, tenantID, id int64) (Record, error) {
	rec, ok := m.records[id]
	if !ok || rec.TenantID != tenantID {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *memoryReceptions) Update(ctx context.Context, rec Record) error {
	if _, ok := m.records[rec.ID]; !ok {
		return ErrNotFound
	}
	if rec.CommitRef != "" {
		if other, err := m.FindByCommitRef(ctx, rec.TenantID, rec.SupplierID, rec.CommitRef); err == nil && other.ID != rec.ID {
			return ErrCommitRefTaken
		}
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *memoryReceptions) FindByCommitRef(ctx context.Context, tenantID, supplierID int64, ref string) (Record, error) {
	if ref == "" {
		return Record{}, ErrNotFound
	}
	for _, rec := range m.records {
		if rec.TenantID == tenantID && rec.SupplierID == supplierID && rec.CommitRef == ref {
			return clone(rec), nil
		}
	}
	return Record{}, ErrNotFound
}

func clone(rec Record) Record {
	rec.Lines = append([]domain.Line(nil), rec.Lines...)
	rec.ParseDiagnostics = append([]domain.Diagnostic(nil), rec.ParseDiagnostics...)
	rec.Acknowledged = append([]string(nil), rec.Acknowledged...)
	if rec.Commit != nil {
		c := *rec.Commit
		rec.Commit = &c
	}
	return rec
}

type staticSettings struct {
	settings tenant.Settings
}

func (s staticSettings) Settings(ctx context.Context, tenantID int64) (tenant.Settings, error) {
	out := s.settings
	out.TenantID = tenantID
	return out, nil
}

type memoryMappings struct {
	mappings map[int64]columns.Mapping
}

func (m *memoryMappings) Get(ctx context.Context, tenantID, supplierID int64) (columns.Mapping, error) {
	mapping, ok := m.mappings[supplierID]
	if !ok {
		return columns.Mapping{}, columns.ErrNoMapping
	}
	return mapping, nil
}

func (m *memoryMappings) Save(ctx context.Context, tenantID int64, mapping columns.Mapping) error {
	m.mappings[mapping.SupplierID] = mapping
	return nil
}

type memoryCatalog struct {
	products   map[string]catalog.ResolvedProduct
	categories map[int64]pricing.Category
	nextID     int64
}

func (c *memoryCatalog) Resolve(ctx context.Context, tenantID int64, codes []string) (catalog.Resolution, error) {
	res := catalog.Resolution{Resolved: map[string]catalog.ResolvedProduct{}}
	seen := map[string]struct{}{}
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if p, ok := c.products[code]; ok {
			res.Resolved[code] = p
		} else {
			res.Unresolved = append(res.Unresolved, code)
		}
	}
	sort.Strings(res.Unresolved)
	return res, nil
}

func (c *memoryCatalog) CategoriesByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]pricing.Category, error) {
	out := map[int64]pricing.Category{}
	for _, id := range ids {
		if cat, ok := c.categories[id]; ok {
			out[id] = cat
		}
	}
	return out, nil
}

func (c *memoryCatalog) Onboard(ctx context.Context, tenantID int64, candidates []catalog.Candidate) ([]catalog.OnboardResult, error) {
	var results []catalog.OnboardResult
	for _, cand := range candidates {
		if p, ok := c.products[cand.Code]; ok {
			results = append(results, catalog.OnboardResult{Code: cand.Code, ProductID: p.ProductID, Outcome: catalog.OutcomeExists})
			continue
		}
		c.nextID++
		c.products[cand.Code] = catalog.ResolvedProduct{Code: cand.Code, ProductID: c.nextID, CategoryID: 1, Label: cand.Label, Source: catalog.MatchPrimary}
		results = append(results, catalog.OnboardResult{Code: cand.Code, ProductID: c.nextID, Outcome: catalog.OutcomeMinimal})
	}
	return results, nil
}

type memoryOrders struct {
	orders        map[int64]procurement.PurchaseOrder
	nextID        int64
	synthesized   int
	failMark      error
	failReconcile error
}

func (o *memoryOrders) Reconcile(ctx context.Context, input procurement.ReconcileInput) (procurement.Reconciliation, error) {
	if o.failReconcile != nil {
		return procurement.Reconciliation{}, o.failReconcile
	}
	if input.OrderID != 0 {
		po, ok := o.orders[input.OrderID]
		if !ok {
			return procurement.Reconciliation{}, procurement.ErrNotFound
		}
		return procurement.Reconciliation{Order: po}, nil
	}
	o.nextID++
	o.synthesized++
	po := procurement.PurchaseOrder{ID: o.nextID, Number: fmt.Sprintf("PO-%d", o.nextID), SupplierID: input.SupplierID, Status: procurement.POStatusApproved, Synthesized: true}
	o.orders[po.ID] = po
	return procurement.Reconciliation{Order: po, Synthesized: true}, nil
}

func (o *memoryOrders) MarkReceived(ctx context.Context, tenantID, orderID int64) error {
	if o.failMark != nil {
		return o.failMark
	}
	po := o.orders[orderID]
	po.Status = procurement.POStatusReceived
	o.orders[orderID] = po
	return nil
}

type memoryStock struct {
	posted  map[string]inventory.InboundInput
	failOn  string
	postErr error
}

func (s *memoryStock) PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error) {
	if s.failOn != "" && strings.HasSuffix(input.Code, s.failOn) {
		return inventory.StockCardEntry{}, s.postErr
	}
	if _, ok := s.posted[input.Code]; ok {
		return inventory.StockCardEntry{}, inventory.ErrAlreadyPosted
	}
	s.posted[input.Code] = input
	return inventory.StockCardEntry{TxCode: input.Code, QtyIn: input.Qty}, nil
}

// keys maps a claimed key to its owner.
type memoryIdempotency struct {
	keys map[string]string
}

func (m *memoryIdempotency) Claim(ctx context.Context, key, module, owner string) error {
	if held, ok := m.keys[key]; ok && held != owner {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = owner
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type recordingQueue struct {
	documents []int64
}

func (q *recordingQueue) EnqueueOrderStatus(ctx context.Context, tenantID, documentID int64) error {
	q.documents = append(q.documents, documentID)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memoryReceptions
	catalog  *memoryCatalog
	orders   *memoryOrders
	stock    *memoryStock
	idem     *memoryIdempotency
	queue    *recordingQueue
	mappings *memoryMappings
}

func newFixture() *fixture {
	f := &fixture{
		repo: newMemoryReceptions(),
		catalog: &memoryCatalog{
			nextID: 100,
			products: map[string]catalog.ResolvedProduct{
				"A100": {Code: "A100", ProductID: 11, CategoryID: 1, Source: catalog.MatchPrimary},
				"A200": {Code: "A200", ProductID: 12, CategoryID: 1, Source: catalog.MatchPrimary},
				"Z900": {Code: "Z900", ProductID: 13, CategoryID: 2, Source: catalog.MatchPrimary},
			},
			categories: map[int64]pricing.Category{
				1: {ID: 1, Code: "MED", Coefficient: dec("1.3"), VATRate: dec("19"), DutyRate: dec("10")},
				2: {ID: 2, Code: "EXO", Coefficient: dec("1.2"), VATRate: dec("0"), DutyRate: dec("0")},
			},
		},
		orders: &memoryOrders{orders: map[int64]procurement.PurchaseOrder{
			500: {ID: 500, Number: "PO-500", SupplierID: testSupplier, Status: procurement.POStatusApproved},
		}, nextID: 900},
		stock:    &memoryStock{posted: map[string]inventory.InboundInput{}},
		idem:     &memoryIdempotency{keys: map[string]string{}},
		queue:    &recordingQueue{},
		mappings: &memoryMappings{mappings: map[int64]columns.Mapping{testSupplier: supplierMapping()}},
	}
	f.svc = NewService(Dependencies{
		Repository: f.repo,
		Settings: staticSettings{settings: tenant.Settings{
			Currency:           "DZD",
			CurrencyDecimals:   2,
			RoundingMode:       "none",
			DefaultWarehouseID: 3,
		}},
		Mappings:    f.mappings,
		Catalog:     f.catalog,
		Categories:  f.catalog,
		Onboarding:  f.catalog,
		Orders:      f.orders,
		Stock:       f.stock,
		Idempotency: f.idem,
		Queue:       f.queue,
		Parser:      sheet.NewParser(0),
	})
	return f
}

func supplierMapping() columns.Mapping {
	return columns.Mapping{SupplierID: testSupplier, HeaderRow: 1, Columns: map[columns.Field]string{
		columns.FieldCode:         "Code",
		columns.FieldLabel:        "Désignation",
		columns.FieldReceivedQty:  "Qté",
		columns.FieldAcceptedQty:  "Acceptée",
		columns.FieldUnitPrice:    "Prix",
		columns.FieldLotNumber:    "Lot",
		columns.FieldDeliveryNote: "BL",
	}}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func delivery(rows ...string) sheet.Upload {
	body := "Code;Désignation;Qté;Acceptée;Prix;Lot;BL\n" + strings.Join(rows, "\n") + "\n"
	return sheet.Upload{Name: "bl.csv", Data: []byte(body)}
}

var standardDelivery = []string{
	"A100;Doliprane;10;10;100;L1;BL-1",
	"A200;Efferalgan;5;5;200;L2;BL-1",
}

func (f *fixture) importDraft(t *testing.T, rows ...string) Draft {
	t.Helper()
	draft, err := f.svc.Import(context.Background(), ImportInput{TenantID: testTenant, SupplierID: testSupplier, Upload: delivery(rows...)})
	require.NoError(t, err)
	return draft
}

func (f *fixture) validated(t *testing.T, rows ...string) Draft {
	t.Helper()
	draft := f.importDraft(t, rows...)
	draft, err := f.svc.Validate(context.Background(), testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusValidated, draft.Document.Status)
	return draft
}

func TestImportBuildsPricedDraft(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, standardDelivery...)

	require.Equal(t, domain.StatusDraft, draft.Document.Status)
	require.Equal(t, domain.StatusValidated, draft.Outcome)
	require.Equal(t, "BL-1", draft.Document.DeliveryNoteRef)
	require.Equal(t, int64(3), draft.Document.WarehouseID)
	require.True(t, strings.HasPrefix(draft.Document.Number, "REC-"))
	require.Len(t, draft.Lines, 2)
	require.Empty(t, draft.Unresolved)
	for _, line := range draft.Lines {
		require.NotNil(t, line.Pricing)
	}
	require.True(t, dec("130").Equal(draft.Lines[0].Pricing.HT))
	require.True(t, dec("2000").Equal(draft.Totals.SubtotalHT), draft.Totals.SubtotalHT.String())
	require.Len(t, f.repo.records, 1)
}

func TestImportWithoutMappingIsRefused(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Import(context.Background(), ImportInput{TenantID: testTenant, SupplierID: 77, Upload: delivery(standardDelivery...)})
	require.ErrorIs(t, err, columns.ErrNoMapping)
	require.Empty(t, f.repo.records)
}

func TestImportCatalogSourceUsesFixedLayout(t *testing.T) {
	f := newFixture()
	upload := sheet.Upload{Name: "catalog.csv", Data: []byte("code,label,qty,price\nA100,Doliprane,4,100\n")}
	draft, err := f.svc.Import(context.Background(), ImportInput{TenantID: testTenant, SupplierID: 77, Source: domain.SourceCatalog, Upload: upload})
	require.NoError(t, err)
	require.Len(t, draft.Lines, 1)
	require.Equal(t, domain.SourceCatalog, draft.Document.Source)
}

func TestImportAbandonedBeforeAnyWrite(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Import(ctx, ImportInput{TenantID: testTenant, SupplierID: testSupplier, Upload: delivery(standardDelivery...)})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.repo.records)
}

func TestImportReportsUnresolvedCodes(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, "A100;Doliprane;10;10;100;L1;BL-1", "X999;Inconnu;1;1;50;L9;BL-1")

	require.Equal(t, []string{"X999"}, draft.Unresolved)
	require.Equal(t, domain.StatusDraft, draft.Outcome)
	require.Nil(t, draft.Lines[1].Pricing)
	require.True(t, dec("1000").Equal(draft.Totals.SubtotalHT), "unresolved row is excluded from totals")
}

func TestValidateRequiresWarningAcknowledgment(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, "Z900;Exonéré;2;2;100;L1;BL-2")
	ctx := context.Background()

	draft, err := f.svc.Validate(ctx, testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWarningsPending, draft.Document.Status)
	require.Len(t, draft.Pending, 1)
	key := draft.Pending[0].Key()
	require.Equal(t, "zero_tax:0:totals", key)

	draft, err = f.svc.Validate(ctx, testTenant, draft.Document.ID, []string{key, "stale:9:code"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusValidated, draft.Document.Status)
	require.Equal(t, []string{key}, draft.Document.Acknowledged)
	require.Empty(t, draft.Pending)
}

func TestValidateKeepsDraftOnErrors(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, "A100;Doliprane;10;12;100;L1;BL-3")

	draft, err := f.svc.Validate(context.Background(), testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, draft.Document.Status)
	require.Equal(t, rules.CodeAcceptedExceedsReceived, draft.Diagnostics[0].Code)
}

func TestEditsResetToDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	draft := f.importDraft(t, "Z900;Exonéré;2;2;100;L1;BL-2")
	draft, err := f.svc.Validate(ctx, testTenant, draft.Document.ID, []string{"zero_tax:0:totals"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusValidated, draft.Document.Status)
	require.NotEmpty(t, f.repo.records[draft.Document.ID].Acknowledged)

	qty := dec("1")
	draft, err = f.svc.UpdateLine(ctx, testTenant, draft.Document.ID, 2, LinePatch{AcceptedQty: &qty})
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, draft.Document.Status)
	require.Empty(t, draft.Document.Acknowledged)
	require.True(t, qty.Equal(draft.Lines[0].AcceptedQty))

	_, err = f.svc.UpdateLine(ctx, testTenant, draft.Document.ID, 42, LinePatch{AcceptedQty: &qty})
	require.ErrorIs(t, err, domain.ErrLineNotFound)

	vat := dec("15")
	carrier := "Transports Atlas"
	draft, err = f.svc.UpdateHeader(ctx, testTenant, draft.Document.ID, HeaderPatch{Carrier: &carrier, Overrides: &domain.TaxOverrides{VAT: &vat}})
	require.NoError(t, err)
	require.Equal(t, carrier, draft.Document.Carrier)
	require.True(t, vat.Equal(draft.Totals.VAT))
}

func TestDiscardRowUnblocksValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	draft := f.importDraft(t, "A100;Doliprane;10;10;100;L1;BL-5", "A200;Efferalgan;5;5;;L2;BL-5")
	require.Len(t, draft.Document.Lines, 1)

	draft, err := f.svc.Validate(ctx, testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, draft.Document.Status)
	qty := dec("5")
	_, err = f.svc.UpdateLine(ctx, testTenant, draft.Document.ID, 3, LinePatch{AcceptedQty: &qty})
	require.ErrorIs(t, err, domain.ErrLineNotFound)

	draft, err = f.svc.DiscardRow(ctx, testTenant, draft.Document.ID, 3)
	require.NoError(t, err)
	require.Empty(t, f.repo.records[draft.Document.ID].ParseDiagnostics)
	require.Len(t, draft.Document.Lines, 1)

	draft, err = f.svc.Validate(ctx, testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusValidated, draft.Document.Status)

	_, err = f.svc.DiscardRow(ctx, testTenant, draft.Document.ID, 3)
	require.ErrorIs(t, err, domain.ErrLineNotFound)
	_, err = f.svc.DiscardRow(ctx, testTenant, draft.Document.ID, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiscardRowDropsParsedLine(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, standardDelivery...)

	draft, err := f.svc.DiscardRow(context.Background(), testTenant, draft.Document.ID, 3)
	require.NoError(t, err)
	require.Len(t, draft.Document.Lines, 1)
	require.Equal(t, "A100", draft.Document.Lines[0].Code)
}

func TestImportNumbersUseServiceClock(t *testing.T) {
	f := newFixture()
	f.svc.now = func() time.Time { return time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC) }

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		draft := f.importDraft(t, standardDelivery...)
		number := draft.Document.Number
		require.Regexp(t, `^REC-20260115-[0-9A-F]{12}$`, number)
		require.NotContains(t, seen, number)
		seen[number] = struct{}{}
	}
}

func TestCommitPostsStockAndReplays(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	ctx := context.Background()

	result, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.Equal(t, CommitStateDone, result.State)
	require.Equal(t, 2, result.Posted)
	require.True(t, result.Synthesized)
	require.False(t, result.Replayed)
	require.Equal(t, procurement.POStatusReceived, f.orders.orders[result.OrderID].Status)
	require.Len(t, f.stock.posted, 2)

	posted := f.stock.posted[fmt.Sprintf("REC-%d-2", draft.Document.ID)]
	require.Equal(t, int64(11), posted.ProductID)
	require.Equal(t, int64(3), posted.WarehouseID)
	require.Equal(t, "L1", posted.LotNumber)
	require.Equal(t, RefModule, posted.RefModule)
	require.Equal(t, lineRef(draft.Document.ID, 2), posted.RefID)

	stored := f.repo.records[draft.Document.ID]
	require.Equal(t, domain.StatusCommitted, stored.Status)
	require.Equal(t, result.OrderID, stored.OrderID)

	again, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, result.OrderID, again.OrderID)
	require.Len(t, f.stock.posted, 2)
	require.Equal(t, 1, f.orders.synthesized)

	_, err = f.svc.UpdateHeader(ctx, testTenant, draft.Document.ID, HeaderPatch{})
	require.ErrorIs(t, err, domain.ErrImmutable)
}

func TestCommitAgainstExistingOrder(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, standardDelivery...)
	ctx := context.Background()
	orderID := int64(500)
	_, err := f.svc.UpdateHeader(ctx, testTenant, draft.Document.ID, HeaderPatch{OrderID: &orderID})
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, testTenant, draft.Document.ID, nil)
	require.NoError(t, err)

	result, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.False(t, result.Synthesized)
	require.Equal(t, orderID, result.OrderID)
	require.Equal(t, 0, f.orders.synthesized)
}

func TestCommitSameDeliveryNoteTwiceReplaysFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.validated(t, standardDelivery...)
	second := f.validated(t, standardDelivery...)

	result, err := f.svc.Commit(ctx, testTenant, first.Document.ID)
	require.NoError(t, err)

	replayed, err := f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, result.DocumentID, replayed.DocumentID)
	require.Len(t, f.stock.posted, 2)
}

func TestCommitInProgressIsRejected(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	f.idem.keys[shared.ReceptionCommitKey(testTenant, testSupplier, "BL-1")] = "999"

	_, err := f.svc.Commit(context.Background(), testTenant, draft.Document.ID)
	require.ErrorIs(t, err, ErrCommitInProgress)
	require.Empty(t, f.stock.posted)
}

func TestCommitRequiresValidatedDocument(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, standardDelivery...)

	_, err := f.svc.Commit(context.Background(), testTenant, draft.Document.ID)
	require.ErrorIs(t, err, ErrNotValidated)
	require.Empty(t, f.idem.keys)
}

func TestCommitStockFailureKeepsClaimAndRetries(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	ctx := context.Background()
	f.stock.failOn = "-3"
	f.stock.postErr = errors.New("lot table locked")
	key := shared.ReceptionCommitKey(testTenant, testSupplier, "BL-1")

	_, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	require.Equal(t, StageStock, persistErr.Stage)
	require.Equal(t, strconv.FormatInt(draft.Document.ID, 10), f.idem.keys[key])
	stored := f.repo.records[draft.Document.ID]
	require.Equal(t, domain.StatusValidated, stored.Status)
	require.Equal(t, "BL-1", stored.CommitRef)
	require.Len(t, f.stock.posted, 1)

	qty := dec("1")
	_, err = f.svc.UpdateLine(ctx, testTenant, draft.Document.ID, 2, LinePatch{AcceptedQty: &qty})
	require.ErrorIs(t, err, domain.ErrImmutable)

	f.stock.failOn = ""
	result, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Posted)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, f.orders.synthesized)
}

func TestCommitOrderFailureReleasesClaim(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	ctx := context.Background()
	f.orders.failReconcile = errors.New("orders table locked")

	_, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	require.Equal(t, StageOrder, persistErr.Stage)
	require.Empty(t, f.idem.keys)
	require.Empty(t, f.repo.records[draft.Document.ID].CommitRef)
	require.Empty(t, f.stock.posted)

	// Nothing was posted, so another upload of the same delivery may commit.
	f.orders.failReconcile = nil
	other := f.validated(t, standardDelivery...)
	result, err := f.svc.Commit(ctx, testTenant, other.Document.ID)
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, 2, result.Posted)
}

func TestCommitReplaysAfterKeyCleanup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.validated(t, standardDelivery...)
	result, err := f.svc.Commit(ctx, testTenant, first.Document.ID)
	require.NoError(t, err)

	f.idem.keys = map[string]string{}
	second := f.validated(t, standardDelivery...)
	replayed, err := f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, result.DocumentID, replayed.DocumentID)
	require.Len(t, f.stock.posted, 2)
	require.Equal(t, 1, f.orders.synthesized)
}

func TestCommitPartiallyPostedDeliveryBlocksOtherDocuments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.validated(t, standardDelivery...)
	f.stock.failOn = "-3"
	f.stock.postErr = errors.New("lot table locked")
	_, err := f.svc.Commit(ctx, testTenant, first.Document.ID)
	require.Error(t, err)
	require.Len(t, f.stock.posted, 1)

	f.stock.failOn = ""
	second := f.validated(t, standardDelivery...)
	_, err = f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.ErrorIs(t, err, ErrCommitInProgress)

	f.idem.keys = map[string]string{}
	_, err = f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.ErrorIs(t, err, ErrCommitInProgress)
	require.Len(t, f.stock.posted, 1)
	require.Empty(t, f.repo.records[second.Document.ID].CommitRef)

	result, err := f.svc.Commit(ctx, testTenant, first.Document.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Posted)
	require.Equal(t, 1, result.Skipped)

	replayed, err := f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, first.Document.ID, replayed.DocumentID)
	require.Len(t, f.stock.posted, 2)
}

func TestCommitResumesOwnStaleClaim(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	key := shared.ReceptionCommitKey(testTenant, testSupplier, "BL-1")
	f.idem.keys[key] = strconv.FormatInt(draft.Document.ID, 10)

	result, err := f.svc.Commit(context.Background(), testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, 2, result.Posted)
}

func TestCommitWithoutDeliveryNoteDedupesByFile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rows := []string{"A100;Doliprane;10;10;100;L1;", "A200;Efferalgan;5;5;200;L2;"}
	first := f.validated(t, rows...)
	second := f.validated(t, rows...)
	require.Empty(t, first.Document.DeliveryNoteRef)
	require.NotEqual(t, first.Document.Number, second.Document.Number)

	result, err := f.svc.Commit(ctx, testTenant, first.Document.ID)
	require.NoError(t, err)
	ref := "file:" + first.Document.FileDigest
	require.Equal(t, ref, f.repo.records[first.Document.ID].CommitRef)
	require.Contains(t, f.idem.keys, shared.ReceptionCommitKey(testTenant, testSupplier, ref))

	replayed, err := f.svc.Commit(ctx, testTenant, second.Document.ID)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, result.DocumentID, replayed.DocumentID)
	require.Len(t, f.stock.posted, 2)
}

func TestCommitOrderStatusFailureNeedsFollowUp(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	ctx := context.Background()
	f.orders.failMark = errors.New("order locked")

	result, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.Equal(t, CommitStateFollowUp, result.State)
	require.Equal(t, []int64{draft.Document.ID}, f.queue.documents)
	stored := f.repo.records[draft.Document.ID]
	require.True(t, stored.FollowUp)
	require.Equal(t, domain.StatusCommitted, stored.Status)
	require.Len(t, f.stock.posted, 2)

	_, err = f.svc.RetryOrderStatus(ctx, testTenant, draft.Document.ID)
	require.Error(t, err)

	f.orders.failMark = nil
	result, err = f.svc.RetryOrderStatus(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.Equal(t, CommitStateDone, result.State)
	require.False(t, f.repo.records[draft.Document.ID].FollowUp)
	require.Equal(t, procurement.POStatusReceived, f.orders.orders[result.OrderID].Status)
}

func TestCommitSurvivesCallerCancellation(t *testing.T) {
	f := newFixture()
	draft := f.validated(t, standardDelivery...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.Commit(ctx, testTenant, draft.Document.ID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Posted)
}

func TestOnboardResolvesSelectedCodes(t *testing.T) {
	f := newFixture()
	draft := f.importDraft(t, "A100;Doliprane;10;10;100;L1;BL-4", "N001;Nouveau;3;3;80;L7;BL-4")
	require.Equal(t, []string{"N001"}, draft.Unresolved)

	outcome, err := f.svc.Onboard(context.Background(), testTenant, draft.Document.ID, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	require.Equal(t, catalog.OutcomeMinimal, outcome.Results[0].Outcome)
	require.Empty(t, outcome.Draft.Unresolved)
	require.Equal(t, domain.StatusValidated, outcome.Draft.Outcome)
	require.NotNil(t, outcome.Draft.Lines[1].Pricing)
}

func TestSaveMappingValidatesRequiredColumns(t *testing.T) {
	f := newFixture()
	err := f.svc.SaveMapping(context.Background(), testTenant, columns.Mapping{SupplierID: 5, HeaderRow: 1, Columns: map[columns.Field]string{columns.FieldCode: "A"}})
	var mappingErr *columns.MappingError
	require.ErrorAs(t, err, &mappingErr)
	require.ElementsMatch(t, []columns.Field{columns.FieldReceivedQty, columns.FieldUnitPrice}, mappingErr.Missing)
}
