package reception

import (
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/rules"
	"github.com/odyssey-erp/odyssey-reception/internal/tenant"
)

// LineView is a line with its catalog match and computed sale price.
type LineView struct {
	domain.Line
	Product *catalog.ResolvedProduct `json:"product,omitempty"`
	Pricing *pricing.LinePricing     `json:"pricing,omitempty"`
}

// EffectiveProductID is the operator override or the catalog match.
func (v LineView) EffectiveProductID() int64 {
	if v.ProductID != 0 {
		return v.ProductID
	}
	if v.Product != nil {
		return v.Product.ProductID
	}
	return 0
}

// Assessment is the priced and validated state of a document. Outcome is the
// status Validate would move the document to with its current acknowledgments.
type Assessment struct {
	Lines       []LineView          `json:"lines"`
	Totals      pricing.Totals      `json:"totals"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
	Pending     []domain.Diagnostic `json:"pending"`
	Unresolved  []string            `json:"unresolved"`
	Outcome     domain.Status       `json:"outcome"`

	report rules.Report
}

// Assess prices every line and runs the validation rules. Lines carrying a
// blocking error are left out of the totals. It performs no I/O.
func Assess(doc *domain.Document, res catalog.Resolution, categories map[int64]pricing.Category, settings tenant.Settings, now time.Time) (Assessment, error) {
	policy, err := settings.Policy()
	if err != nil {
		return Assessment{}, err
	}

	views := make([]LineView, 0, len(doc.Lines))
	ruleLines := make([]rules.Line, 0, len(doc.Lines))
	unresolved := map[string]struct{}{}
	for _, line := range doc.Lines {
		view := LineView{Line: line}
		if p, ok := lookup(res, line); ok {
			view.Product = &p
		} else if !line.Overridden() {
			unresolved[line.Code] = struct{}{}
		}

		categoryID := line.CategoryID
		if categoryID == 0 && view.Product != nil {
			categoryID = view.Product.CategoryID
		}
		if cat, ok := categories[categoryID]; ok && categoryID != 0 {
			view.Pricing = pricing.ComputeLine(line.UnitPrice, &cat, policy)
		}
		views = append(views, view)
		ruleLines = append(ruleLines, rules.Line{Line: line, Resolved: view.Product != nil, Pricing: view.Pricing})
	}

	input := rules.Input{
		Lines:                  ruleLines,
		ParseDiagnostics:       doc.ParseDiagnostics,
		AllowMissingLotNumbers: settings.AllowMissingLotNumbers,
		ExpiryHorizonMonths:    settings.ExpiryHorizonMonths,
		Now:                    now,
	}

	// first pass finds the rows with blocking errors so totals can skip them
	blocked := map[int]struct{}{}
	for _, diag := range rules.Evaluate(input).Errors() {
		if diag.Row > 0 {
			blocked[diag.Row] = struct{}{}
		}
	}
	totalsLines := make([]pricing.TotalsLine, 0, len(views))
	for _, view := range views {
		if _, skip := blocked[view.Row]; skip {
			continue
		}
		totalsLines = append(totalsLines, pricing.TotalsLine{AcceptedQty: view.AcceptedQty, PurchasePrice: view.UnitPrice, Pricing: view.Pricing})
	}
	totals := pricing.ComputeTotals(totalsLines, pricing.Overrides{
		VAT:  doc.Overrides.VAT,
		Duty: doc.Overrides.Duty,
		ASDI: doc.Overrides.ASDI,
	}, policy)

	input.Totals = totals
	report := rules.Evaluate(input)

	out := Assessment{
		Lines:       views,
		Totals:      totals,
		Diagnostics: report.Diagnostics,
		Pending:     report.Pending(doc.Acknowledged),
		Unresolved:  sortedKeys(unresolved),
		Outcome:     rules.Transition(report, doc.Acknowledged),
		report:      report,
	}
	return out, nil
}

// lookup matches a line by code, then by its legacy code.
func lookup(res catalog.Resolution, line domain.Line) (catalog.ResolvedProduct, bool) {
	if p, ok := res.Lookup(line.Code); ok {
		return p, true
	}
	if line.LegacyCode != "" {
		return res.Lookup(line.LegacyCode)
	}
	return catalog.ResolvedProduct{}, false
}

// resolutionCodes lists the codes to send to the resolver.
func resolutionCodes(doc *domain.Document) []string {
	codes := doc.Codes()
	for _, line := range doc.Lines {
		if line.LegacyCode != "" {
			codes = append(codes, line.LegacyCode)
		}
	}
	return codes
}

// categoryIDs lists the pricing categories referenced by lines or matches.
func categoryIDs(doc *domain.Document, res catalog.Resolution) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, line := range doc.Lines {
		add(line.CategoryID)
		if p, ok := lookup(res, line); ok {
			add(p.CategoryID)
		}
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
