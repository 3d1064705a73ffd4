package quantum

import "context"

// ============================================================================
// Portal Sub-Clients
// ============================================================================

// DispatchClient handles CAD trips and assignments.
type DispatchClient struct{ c *Client }

// AcknowledgeTrip confirms receipt of a trip assignment on behalf of a unit.
func (d *DispatchClient) AcknowledgeTrip(ctx context.Context, tripID, unitID string) (*APIResult, error) {
	return d.c.do(ctx, "POST", "/api/dispatch/trips/"+tripID+"/acknowledge",
		map[string]string{"unitId": unitID}, nil)
}

// UpdateTripStatus moves a trip through its status lifecycle.
func (d *DispatchClient) UpdateTripStatus(ctx context.Context, tripID string, update *TripStatusUpdate) (*APIResult, error) {
	return d.c.do(ctx, "POST", "/api/dispatch/trips/"+tripID+"/status", update, nil)
}

// ActiveTrips lists trips currently assigned to a unit.
func (d *DispatchClient) ActiveTrips(ctx context.Context, unitID string) (*APIResult, error) {
	return d.c.do(ctx, "GET", "/api/dispatch/trips/active", nil, map[string]string{"unitId": unitID})
}

// EPCRClient handles patient-care record documentation.
type EPCRClient struct{ c *Client }

// CreateRecord opens a new patient-care record.
func (e *EPCRClient) CreateRecord(ctx context.Context, record *PatientRecord) (*APIResult, error) {
	return e.c.do(ctx, "POST", "/api/epcr/records", record, nil)
}

// GetRecord fetches one record.
func (e *EPCRClient) GetRecord(ctx context.Context, recordID string) (*APIResult, error) {
	return e.c.do(ctx, "GET", "/api/epcr/records/"+recordID, nil, nil)
}

// AddVitals appends a vitals set to a record.
func (e *EPCRClient) AddVitals(ctx context.Context, recordID string, vitals *VitalsEntry) (*APIResult, error) {
	return e.c.do(ctx, "POST", "/api/epcr/records/"+recordID+"/vitals", vitals, nil)
}

// AttachNarrative appends narrative text to a record.
func (e *EPCRClient) AttachNarrative(ctx context.Context, recordID string, narrative *NarrativeEntry) (*APIResult, error) {
	return e.c.do(ctx, "POST", "/api/epcr/records/"+recordID+"/narrative", narrative, nil)
}

// BillingClient handles claim submission and status.
type BillingClient struct{ c *Client }

// SubmitClaim submits a completed trip for billing.
func (b *BillingClient) SubmitClaim(ctx context.Context, claim *ClaimSubmission) (*APIResult, error) {
	return b.c.do(ctx, "POST", "/api/billing/claims", claim, nil)
}

// ClaimStatus fetches the billing state of a claim.
func (b *BillingClient) ClaimStatus(ctx context.Context, claimID string) (*APIResult, error) {
	return b.c.do(ctx, "GET", "/api/billing/claims/"+claimID, nil, nil)
}

// FleetClient handles unit status and AVL reporting.
type FleetClient struct{ c *Client }

// PostStatus reports a unit's availability status.
func (f *FleetClient) PostStatus(ctx context.Context, unitID string, update *UnitStatusUpdate) (*APIResult, error) {
	return f.c.do(ctx, "POST", "/api/fleet/units/"+unitID+"/status", update, nil)
}

// ReportPosition sends a periodic position ping.
func (f *FleetClient) ReportPosition(ctx context.Context, unitID string, report *PositionReport) (*APIResult, error) {
	return f.c.do(ctx, "POST", "/api/fleet/units/"+unitID+"/position", report, nil)
}

// Roster lists the fleet units visible to this device.
func (f *FleetClient) Roster(ctx context.Context) (*APIResult, error) {
	return f.c.do(ctx, "GET", "/api/fleet/units", nil, nil)
}
