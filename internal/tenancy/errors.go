package tenancy

// TenantError mirrors eventcore.TenantError without creating an import
// cycle; eventcore translates this at the façade boundary. Reports an
// isolation violation, an unknown tenant, or an invalid tenant id.
type TenantError struct {
	TenantID string
	Reason   string
}

func (e *TenantError) Error() string { return "tenant \"" + e.TenantID + "\": " + e.Reason }
