package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome describes what onboarding did for one code.
type Outcome string

const (
	OutcomeExists  Outcome = "exists"
	OutcomeGlobal  Outcome = "global"
	OutcomeMinimal Outcome = "minimal"
)

// Candidate is an unresolved spreadsheet code offered for onboarding.
type Candidate struct {
	Code       string          `json:"code" validate:"required"`
	Label      string          `json:"label"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CategoryID int64           `json:"category_id"`
}

// OnboardResult reports the outcome per candidate code.
type OnboardResult struct {
	Code      string  `json:"code"`
	ProductID int64   `json:"product_id"`
	Outcome   Outcome `json:"outcome"`
}

// OnboardStore is the persistence needed by the Onboarder.
type OnboardStore interface {
	CategoryIDsByCode(ctx context.Context, tenantID int64, codes []string) (map[string]int64, error)
	MasterData(ctx context.Context, tenantID int64, refs []MasterRef) (map[MasterRef]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Onboarder creates local products for codes missing from the tenant catalog.
type Onboarder struct {
	resolver *Resolver
	store    OnboardStore
	logger   *slog.Logger
}

// NewOnboarder wires an Onboarder.
func NewOnboarder(resolver *Resolver, store OnboardStore, logger *slog.Logger) *Onboarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Onboarder{resolver: resolver, store: store, logger: logger}
}

// Onboard creates products for the candidates. Codes already present locally
// are reported as exists; codes known to the reference catalog are copied
// with their master data; the rest get a minimal product built from the
// spreadsheet label and price. All writes share one transaction.
func (o *Onboarder) Onboard(ctx context.Context, tenantID int64, candidates []Candidate) ([]OnboardResult, error) {
	byCode := make(map[string]Candidate, len(candidates))
	codes := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c.Code = strings.TrimSpace(c.Code)
		if c.Code == "" {
			continue
		}
		if _, dup := byCode[c.Code]; !dup {
			codes = append(codes, c.Code)
		}
		byCode[c.Code] = c
	}
	if len(codes) == 0 {
		return nil, nil
	}

	local, err := o.resolver.Resolve(ctx, tenantID, codes)
	if err != nil {
		return nil, fmt.Errorf("recheck local catalog: %w", err)
	}
	global, _, err := o.resolver.LookupGlobal(ctx, local.Unresolved)
	if err != nil {
		return nil, fmt.Errorf("lookup reference catalog: %w", err)
	}

	var (
		refs          []MasterRef
		categoryCodes []string
	)
	seenRef := map[MasterRef]struct{}{}
	seenCat := map[string]struct{}{}
	for _, code := range local.Unresolved {
		g, ok := global[code]
		if !ok {
			continue
		}
		for _, ref := range g.Refs() {
			if _, dup := seenRef[ref]; !dup {
				seenRef[ref] = struct{}{}
				refs = append(refs, ref)
			}
		}
		if g.CategoryCode != "" {
			if _, dup := seenCat[g.CategoryCode]; !dup {
				seenCat[g.CategoryCode] = struct{}{}
				categoryCodes = append(categoryCodes, g.CategoryCode)
			}
		}
	}
	master, err := o.store.MasterData(ctx, tenantID, refs)
	if err != nil {
		return nil, fmt.Errorf("load master data: %w", err)
	}
	categories, err := o.store.CategoryIDsByCode(ctx, tenantID, categoryCodes)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	results := make([]OnboardResult, 0, len(codes))
	for _, code := range codes {
		if p, ok := local.Lookup(code); ok {
			results = append(results, OnboardResult{Code: code, ProductID: p.ProductID, Outcome: OutcomeExists})
		}
	}

	err = o.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ensure := func(ref MasterRef) (int64, error) {
			if ref.Name == "" {
				return 0, nil
			}
			if id, ok := master[ref]; ok {
				return id, nil
			}
			id, err := tx.CreateMasterData(ctx, tenantID, ref)
			if err != nil {
				return 0, fmt.Errorf("create %s %q: %w", ref.Kind, ref.Name, err)
			}
			master[ref] = id
			return id, nil
		}

		for _, code := range local.Unresolved {
			cand := byCode[code]
			product := Product{TenantID: tenantID, Code: code, Label: cand.Label, CategoryID: cand.CategoryID, ListPrice: cand.UnitPrice}
			outcome := OutcomeMinimal

			if g, ok := global[code]; ok {
				outcome = OutcomeGlobal
				product.LegacyCode = g.LegacyCode
				if g.Label != "" {
					product.Label = g.Label
				}
				if id, ok := categories[g.CategoryCode]; ok {
					product.CategoryID = id
				}
				if g.ListPrice.IsPositive() {
					product.ListPrice = g.ListPrice
				}
				var err error
				if product.FormID, err = ensure(MasterRef{Kind: MasterForm, Name: g.Form}); err != nil {
					return err
				}
				if product.FamilyID, err = ensure(MasterRef{Kind: MasterFamily, Name: g.Family}); err != nil {
					return err
				}
				if product.LabID, err = ensure(MasterRef{Kind: MasterLab, Name: g.Lab}); err != nil {
					return err
				}
				if product.TherapeuticClassID, err = ensure(MasterRef{Kind: MasterTherapeuticClass, Name: g.TherapeuticClass}); err != nil {
					return err
				}
			}
			if product.Label == "" {
				product.Label = code
			}

			id, err := tx.CreateProduct(ctx, product)
			if err != nil {
				return fmt.Errorf("create product %s: %w", code, err)
			}
			results = append(results, OnboardResult{Code: code, ProductID: id, Outcome: outcome})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("catalog onboarding completed", slog.Int64("tenant_id", tenantID), slog.Int("codes", len(codes)), slog.Int("created", len(local.Unresolved)))
	return results, nil
}
