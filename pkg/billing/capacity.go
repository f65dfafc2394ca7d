package billing

// MaxAddOnSlots bounds how many extra pet slots a tenant can purchase.
const MaxAddOnSlots = 5

// EffectiveLimit derives the pet limit from the plan base limit plus
// purchased add-on slots. nil means unlimited.
func EffectiveLimit(plan Plan, addOnSlots int) *int {
	if plan.Unlimited() {
		return nil
	}
	limit := *plan.PetLimit + addOnSlots
	return &limit
}

// AtCapacity reports whether currentCount has reached the effective limit.
// An unlimited plan is never at capacity.
func AtCapacity(effectiveLimit *int, currentCount int) bool {
	return effectiveLimit != nil && currentCount >= *effectiveLimit
}
