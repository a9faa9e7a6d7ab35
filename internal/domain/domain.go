package domain

import "strings"

// PhaseStatus is the vocabulary a phase moves through.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRequested PhaseStatus = "requested"
	PhaseReceived  PhaseStatus = "received"
	PhaseCompleted PhaseStatus = "completed"
)

// Resolved reports whether the status ends the phase.
func (s PhaseStatus) Resolved() bool {
	return s == PhaseReceived || s == PhaseCompleted
}

// ValidPhaseStatuses is the set accepted by imports and updates.
var ValidPhaseStatuses = map[PhaseStatus]bool{
	PhasePending:   true,
	PhaseRequested: true,
	PhaseReceived:  true,
	PhaseCompleted: true,
}

// Project is a bid: one unit of work with two lifecycle views.
type Project struct {
	ID                int64   `json:"id" db:"id"`
	Name              string  `json:"name" db:"name"`
	Address           string  `json:"address,omitempty" db:"address"`
	GeneralContractor string  `json:"general_contractor,omitempty" db:"general_contractor"`
	BidDate           *string `json:"bid_date,omitempty" db:"bid_date"`
	Archived          bool    `json:"archived" db:"archived"`
	OnHold            bool    `json:"on_hold" db:"on_hold"`
	ArchivedAt        *string `json:"archived_at,omitempty" db:"archived_at" format:"date-time"`
	SentToApm         bool    `json:"sent_to_apm" db:"sent_to_apm"`
	SentToApmAt       *string `json:"sent_to_apm_at,omitempty" db:"sent_to_apm_at" format:"date-time"`
	ApmArchived       bool    `json:"apm_archived" db:"apm_archived"`
	ApmOnHold         bool    `json:"apm_on_hold" db:"apm_on_hold"`
	ApmArchivedAt     *string `json:"apm_archived_at,omitempty" db:"apm_archived_at" format:"date-time"`
	CreatedAt         string  `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" db:"updated_at" format:"date-time"`
}

type Vendor struct {
	ID          int64  `json:"id" db:"id"`
	CompanyName string `json:"company_name" db:"company_name"`
	ContactName string `json:"contact_name,omitempty" db:"contact_name"`
	Email       string `json:"email,omitempty" db:"email"`
	Phone       string `json:"phone,omitempty" db:"phone"`
}

// VendorAssignment links one vendor to one project.
type VendorAssignment struct {
	ID                   int64   `json:"id" db:"id"`
	ProjectID            int64   `json:"project_id" db:"project_id"`
	VendorID             int64   `json:"vendor_id" db:"vendor_id"`
	VendorName           string  `json:"vendor_name,omitempty" db:"vendor_name"`
	CloseoutReceivedDate *string `json:"closeout_received_date,omitempty" db:"closeout_received_date"`
	// FollowUpDate is the single follow-up field used before phases were tracked.
	FollowUpDate *string `json:"follow_up_date,omitempty" db:"follow_up_date"`
	Phases       []Phase `json:"phases" db:"-"`
}

// IsClosed reports whether closeout has been received.
func (a VendorAssignment) IsClosed() bool {
	return a.CloseoutReceivedDate != nil && strings.TrimSpace(*a.CloseoutReceivedDate) != ""
}

// Phase is one named step of a vendor assignment.
type Phase struct {
	ID            int64       `json:"id" db:"id"`
	AssignmentID  int64       `json:"assignment_id" db:"assignment_id"`
	PhaseName     string      `json:"phase_name" db:"phase_name"`
	Status        PhaseStatus `json:"status" db:"status" enum:"pending,requested,received,completed"`
	RequestedDate *string     `json:"requested_date,omitempty" db:"requested_date"`
	FollowUpDate  *string     `json:"follow_up_date,omitempty" db:"follow_up_date"`
	ReceivedDate  *string     `json:"received_date,omitempty" db:"received_date"`
	SortOrder     int         `json:"sort_order" db:"sort_order"`
}

// IsResolved reports whether the phase is finished.
func (p Phase) IsResolved() bool {
	if p.ReceivedDate != nil && strings.TrimSpace(*p.ReceivedDate) != "" {
		return true
	}
	return p.Status.Resolved()
}

// IsOpen reports whether the phase still carries a pending follow-up.
func (p Phase) IsOpen() bool {
	if p.IsResolved() {
		return false
	}
	return p.FollowUpDate != nil && strings.TrimSpace(*p.FollowUpDate) != ""
}

// AssignmentPatch is a partial update of a vendor assignment. A non-nil pointer
// to an empty string clears the field.
type AssignmentPatch struct {
	CloseoutReceivedDate *string
	FollowUpDate         *string
	Phase                *PhasePatch
}

// PhasePatch updates one phase of an assignment.
type PhasePatch struct {
	PhaseID      int64
	Status       *PhaseStatus
	FollowUpDate *string
	ReceivedDate *string
}

// Change describes who asked for a write and why, for the event log.
type Change struct {
	ActorID string
	BatchID string
	Action  string
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
