package catalog

import (
	"errors"
	"strings"
)

// CreditPackage is one purchasable bundle of credits. The catalog is static;
// it is consulted by the checkout orchestrator and by provider adapters to
// resolve expected credits from a package identifier.
type CreditPackage struct {
	ID       string
	Name     string
	Credits  int64
	Amount   int64 // minor units
	Currency string
}

var ErrUnknownPackage = errors.New("unknown_package")

var packages = []CreditPackage{
	{ID: "starter", Name: "Starter", Credits: 50, Amount: 500, Currency: "USD"},
	{ID: "pro", Name: "Pro", Credits: 200, Amount: 1500, Currency: "USD"},
	{ID: "max", Name: "Max", Credits: 500, Amount: 3000, Currency: "USD"},
}

// Lookup resolves a package by id.
func Lookup(packageType string) (CreditPackage, error) {
	packageType = strings.ToLower(strings.TrimSpace(packageType))
	for _, pkg := range packages {
		if pkg.ID == packageType {
			return pkg, nil
		}
	}
	return CreditPackage{}, ErrUnknownPackage
}

// providerProducts maps provider-side SKU identifiers back to catalog
// packages, for payloads that reference the purchase by product rather than
// by our metadata.
var providerProducts = map[string]string{
	"stripe:price_hireloop_starter": "starter",
	"stripe:price_hireloop_pro":     "pro",
	"stripe:price_hireloop_max":     "max",
	"intasend:hireloop-starter":     "starter",
	"intasend:hireloop-pro":         "pro",
	"intasend:hireloop-max":         "max",
}

// LookupByProviderProduct resolves a package from a provider product id.
func LookupByProviderProduct(provider, productID string) (CreditPackage, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	productID = strings.ToLower(strings.TrimSpace(productID))
	id, ok := providerProducts[provider+":"+productID]
	if !ok {
		return CreditPackage{}, ErrUnknownPackage
	}
	return Lookup(id)
}

// All returns the catalog in display order.
func All() []CreditPackage {
	out := make([]CreditPackage, len(packages))
	copy(out, packages)
	return out
}

// ConvertAmount converts a package price into another currency using a fixed
// rate table. Rates are deliberately static; live FX is out of scope. Source
// amounts are USD cents; KES and TZS are charged in whole units, so the rate
// already folds in the minor-unit shift.
func ConvertAmount(amount int64, from, to string) (int64, bool) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, true
	}
	rate, ok := fixedRates[from+"/"+to]
	if !ok {
		return 0, false
	}
	return int64(float64(amount) * rate), true
}

var fixedRates = map[string]float64{
	"USD/KES": 1.29,
	"USD/TZS": 25.2,
}
