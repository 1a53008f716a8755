// Package catalog resolves supplier product codes against the tenant catalog
// and the global reference catalog, and onboards missing products.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MatchSource tells which code field matched.
type MatchSource string

const (
	MatchPrimary MatchSource = "primary"
	MatchLegacy  MatchSource = "legacy"
)

// Product is a tenant-local catalog entry.
type Product struct {
	ID                 int64
	TenantID           int64
	Code               string
	LegacyCode         string
	Label              string
	CategoryID         int64
	ListPrice          decimal.Decimal
	FormID             int64
	FamilyID           int64
	LabID              int64
	TherapeuticClassID int64
	CreatedAt          time.Time
}

// ResolvedProduct links an external code to a local product.
type ResolvedProduct struct {
	Code       string      `json:"code"`
	ProductID  int64       `json:"product_id"`
	CategoryID int64       `json:"category_id"`
	Label      string      `json:"label"`
	Source     MatchSource `json:"source"`
}

// Resolution is the outcome of Resolve. Unresolved is sorted.
type Resolution struct {
	Resolved   map[string]ResolvedProduct
	Unresolved []string
}

// Lookup returns the resolved product for code.
func (r Resolution) Lookup(code string) (ResolvedProduct, bool) {
	p, ok := r.Resolved[code]
	return p, ok
}

// GlobalProduct is an entry of the read-only reference catalog. Master data
// is referenced by name and materialised locally on onboarding.
type GlobalProduct struct {
	Code             string
	LegacyCode       string
	Label            string
	CategoryCode     string
	ListPrice        decimal.Decimal
	Form             string
	Family           string
	Lab              string
	TherapeuticClass string
}

// MasterKind enumerates the master-data entities a product can reference.
type MasterKind string

const (
	MasterForm             MasterKind = "form"
	MasterFamily           MasterKind = "family"
	MasterLab              MasterKind = "lab"
	MasterTherapeuticClass MasterKind = "therapeutic_class"
)

// MasterRef identifies a master-data entity by kind and name.
type MasterRef struct {
	Kind MasterKind
	Name string
}

// Refs lists the non-empty master-data references of a global entry.
func (g GlobalProduct) Refs() []MasterRef {
	var refs []MasterRef
	for _, ref := range []MasterRef{
		{Kind: MasterForm, Name: g.Form},
		{Kind: MasterFamily, Name: g.Family},
		{Kind: MasterLab, Name: g.Lab},
		{Kind: MasterTherapeuticClass, Name: g.TherapeuticClass},
	} {
		if ref.Name != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

var (
	// ErrNotFound indicates a missing catalog record.
	ErrNotFound = errors.New("catalog: not found")
	// ErrNoGlobalCatalog is returned when the reference catalog is not configured.
	ErrNoGlobalCatalog = errors.New("catalog: global reference catalog not configured")
)
