package domain

// Permit types.
const (
	PermitBusinessPremises = "business_premises"
	PermitBuilding         = "building"
	PermitSignage          = "signage"
	PermitEvent            = "event"
	PermitMarketStall      = "market_stall"
)

// Application types.
const (
	ApplicationNew     = "new"
	ApplicationRenewal = "renewal"
)

type feeKey struct {
	permitType, applicationType string
}

// Fees in kobo.
var fees = map[feeKey]int64{
	{PermitBusinessPremises, ApplicationNew}:     1500000,
	{PermitBusinessPremises, ApplicationRenewal}: 1000000,
	{PermitBuilding, ApplicationNew}:             5000000,
	{PermitBuilding, ApplicationRenewal}:         2500000,
	{PermitSignage, ApplicationNew}:              750000,
	{PermitSignage, ApplicationRenewal}:          500000,
	{PermitEvent, ApplicationNew}:                1000000,
	{PermitEvent, ApplicationRenewal}:            1000000,
	{PermitMarketStall, ApplicationNew}:          300000,
	{PermitMarketStall, ApplicationRenewal}:      200000,
}

// Fee returns the amount due in kobo for the given permit and application type.
// ok is false when the combination is unknown.
func Fee(permitType, applicationType string) (amount int64, ok bool) {
	amount, ok = fees[feeKey{permitType, applicationType}]
	return amount, ok
}
