package quantum

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an application-level rejection from the server.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the server response envelope shared by all portal endpoints.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the result data into v.
func (r *APIResult) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Dispatch Types
// ============================================================================

// Facility identifies a pickup or destination location on a trip.
type Facility struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Patient carries the minimal patient identity attached to a trip push.
type Patient struct {
	Name string `json:"name"`
	DOB  string `json:"dob,omitempty"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Trip is a dispatch trip as returned by the active-trips endpoint.
type Trip struct {
	ID          string   `json:"id"`
	UnitID      string   `json:"unitId,omitempty"`
	TripType    string   `json:"tripType"`
	Status      string   `json:"status"`
	Pickup      Facility `json:"pickup"`
	Destination Facility `json:"destination"`
	Patient     *Patient `json:"patient,omitempty"`
	ScheduledAt string   `json:"scheduledAt,omitempty"`
}

// TripStatusUpdate moves a trip through its status lifecycle
// (enroute, at-scene, transporting, at-destination, complete).
type TripStatusUpdate struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp,omitempty"`
	Location  *GeoPoint `json:"location,omitempty"`
}

// ============================================================================
// ePCR Types
// ============================================================================

// PatientRecord creates a new patient-care record.
type PatientRecord struct {
	TripID         string  `json:"tripId,omitempty"`
	UnitID         string  `json:"unitId"`
	Patient        Patient `json:"patient"`
	ChiefComplaint string  `json:"chiefComplaint,omitempty"`
}

// VitalsEntry is one set of vital signs recorded in the field.
type VitalsEntry struct {
	TakenAt     string `json:"takenAt"`
	HeartRate   int    `json:"heartRate,omitempty"`
	RespRate    int    `json:"respRate,omitempty"`
	SystolicBP  int    `json:"systolicBp,omitempty"`
	DiastolicBP int    `json:"diastolicBp,omitempty"`
	SpO2        int    `json:"spo2,omitempty"`
	GCS         int    `json:"gcs,omitempty"`
	PainScore   int    `json:"painScore,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// NarrativeEntry appends free-text narrative to a record.
type NarrativeEntry struct {
	Text     string `json:"text"`
	AuthorID string `json:"authorId,omitempty"`
}

// ============================================================================
// Billing Types
// ============================================================================

// ClaimSubmission submits a completed trip for billing.
type ClaimSubmission struct {
	TripID         string  `json:"tripId"`
	RecordID       string  `json:"recordId,omitempty"`
	PayerID        string  `json:"payerId"`
	LoadedMiles    float64 `json:"loadedMiles,omitempty"`
	LevelOfService string  `json:"levelOfService,omitempty"`
}

// ClaimStatus is the billing state of a submitted claim.
type ClaimStatus struct {
	ClaimID   string `json:"claimId"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Denial    string `json:"denial,omitempty"`
}

// ============================================================================
// Fleet Types
// ============================================================================

// UnitStatusUpdate reports a unit's availability status.
type UnitStatusUpdate struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp,omitempty"`
	Location  *GeoPoint `json:"location,omitempty"`
}

// PositionReport is a periodic AVL position ping.
type PositionReport struct {
	Location  GeoPoint `json:"location"`
	Heading   float64  `json:"heading,omitempty"`
	SpeedMph  float64  `json:"speedMph,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Unit is a fleet unit as returned by the roster endpoint.
type Unit struct {
	ID       string    `json:"id"`
	CallSign string    `json:"callSign"`
	Status   string    `json:"status"`
	Location *GeoPoint `json:"location,omitempty"`
}
