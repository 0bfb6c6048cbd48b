package tutorbook

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// UserType is the profile role a user signed up as.
type UserType string

const (
	TypePupil      UserType = "Pupil"
	TypeTutor      UserType = "Tutor"
	TypeSupervisor UserType = "Supervisor"
	TypeParent     UserType = "Parent"
	TypeAdmin      UserType = "Admin"
)

// ConciseUser is the denormalized profile snapshot embedded in requests,
// appointments and clock events. Snapshots are copied at transition time so
// later profile edits never rewrite history.
type ConciseUser struct {
	Name  string   `json:"name" yaml:"name"`
	Email string   `json:"email" yaml:"email"`
	UID   string   `json:"uid" yaml:"uid"`
	Type  UserType `json:"type" yaml:"type"`
	Proxy []string `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// Concise returns the snapshot form of a full profile.
func (u *UserProfile) Concise() ConciseUser {
	return ConciseUser{
		Name:  u.Name,
		Email: u.Email,
		UID:   u.UID,
		Type:  u.Type,
		Proxy: append([]string(nil), u.Proxy...),
	}
}

// Payments is the payments sub-map on a profile. CurrentBalance is
/// server-controlled: zero at create, frozen afterwards for untrusted callers.
type Payments struct {
	CurrentBalance       float64 `json:"currentBalance" yaml:"currentBalance"`
	CurrentBalanceString string  `json:"currentBalanceString" yaml:"currentBalanceString"`
	Type                 string  `json:"type,omitempty" yaml:"type,omitempty"`
	HourlyCharge         float64 `json:"hourlyCharge,omitempty" yaml:"hourlyCharge,omitempty"`
}

// UserProfile is the users/{email} document.
type UserProfile struct {
	Name           string    `json:"name" yaml:"name"`
	Email          string    `json:"email" yaml:"email"`
	UID            string    `json:"uid" yaml:"uid"`
	Type           UserType  `json:"type" yaml:"type"`
	Payments       Payments  `json:"payments" yaml:"payments"`
	SecondsTutored int64     `json:"secondsTutored" yaml:"secondsTutored"`
	SecondsPupiled int64     `json:"secondsPupiled" yaml:"secondsPupiled"`
	Proxy          []string  `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Location       string    `json:"location,omitempty" yaml:"location,omitempty"`
	Subjects       []string  `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	ClockedIn      bool      `json:"clockedIn,omitempty" yaml:"clockedIn,omitempty"`
	ClockedOut     bool      `json:"clockedOut,omitempty" yaml:"clockedOut,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// Timeslot is a weekly recurring meeting window.
type Timeslot struct {
	Day  string `json:"day" yaml:"day"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// LocationRef points at a locations/{id} document by id and display name.
type LocationRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// PaymentInfo describes how a request is paid for.
type PaymentInfo struct {
	Type   string  `json:"type" yaml:"type"` // Free or Paid
	Amount float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	Method string  `json:"method,omitempty" yaml:"method,omitempty"`
}

// Request is the paired users/{email}/requestsIn|requestsOut/{id} document.
type Request struct {
	FromUser  ConciseUser `json:"fromUser" yaml:"fromUser"`
	ToUser    ConciseUser `json:"toUser" yaml:"toUser"`
	Subject   string      `json:"subject" yaml:"subject"`
	Time      Timeslot    `json:"time" yaml:"time"`
	Location  LocationRef `json:"location" yaml:"location"`
	Payment   PaymentInfo `json:"payment" yaml:"payment"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Equal reports whether two request copies carry the same content. Pairing
// requires the sender and receiver halves to match field for field; the
// timestamp is part of the pair.
func (r *Request) Equal(other *Request) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.FromUser.Email == other.FromUser.Email &&
		r.ToUser.Email == other.ToUser.Email &&
		r.Subject == other.Subject &&
		r.Time == other.Time &&
		r.Location == other.Location &&
		r.Payment == other.Payment &&
		r.Timestamp.Equal(other.Timestamp)
}

// Shadow documents record a request transition for the party that did not
// act. They are created once, never updated, and deleted by dismissal.

type ModifiedRequest struct {
	For               Request     `json:"for" yaml:"for"`
	ModifiedBy        ConciseUser `json:"modifiedBy" yaml:"modifiedBy"`
	ModifiedTimestamp time.Time   `json:"modifiedTimestamp" yaml:"modifiedTimestamp"`
}

type CanceledRequest struct {
	For               Request     `json:"for" yaml:"for"`
	CanceledBy        ConciseUser `json:"canceledBy" yaml:"canceledBy"`
	CanceledTimestamp time.Time   `json:"canceledTimestamp" yaml:"canceledTimestamp"`
}

type RejectedRequest struct {
	For               Request     `json:"for" yaml:"for"`
	RejectedBy        ConciseUser `json:"rejectedBy" yaml:"rejectedBy"`
	RejectedTimestamp time.Time   `json:"rejectedTimestamp" yaml:"rejectedTimestamp"`
}

type ApprovedRequest struct {
	For               Request     `json:"for" yaml:"for"`
	ApprovedBy        ConciseUser `json:"approvedBy" yaml:"approvedBy"`
	ApprovedTimestamp time.Time   `json:"approvedTimestamp" yaml:"approvedTimestamp"`
}

// Appointment is written in three places (both attendees and the location)
// under the id of the request it was approved from. ClockIn/ClockOut are set
// on the active and past variants only.
type Appointment struct {
	Attendees []ConciseUser `json:"attendees" yaml:"attendees"`
	For       Request       `json:"for" yaml:"for"`
	Subject   string        `json:"subject" yaml:"subject"`
	Time      Timeslot      `json:"time" yaml:"time"`
	Location  LocationRef   `json:"location" yaml:"location"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	ClockIn   *ClockRecord  `json:"clockIn,omitempty" yaml:"clockIn,omitempty"`
	ClockOut  *ClockRecord  `json:"clockOut,omitempty" yaml:"clockOut,omitempty"`
}

// Attendee reports whether email is one of the appointment's two attendees.
func (a *Appointment) Attendee(email string) bool {
	for _, at := range a.Attendees {
		if at.Email == email {
			return true
		}
	}
	return false
}

// ClockRecord is the resolved clock sub-object embedded on active and past
// appointments.
type ClockRecord struct {
	SentBy            ConciseUser `json:"sentBy" yaml:"sentBy"`
	SentTimestamp     time.Time   `json:"sentTimestamp" yaml:"sentTimestamp"`
	ApprovedBy        ConciseUser `json:"approvedBy,omitempty" yaml:"approvedBy,omitempty"`
	ApprovedTimestamp time.Time   `json:"approvedTimestamp,omitempty" yaml:"approvedTimestamp,omitempty"`
}

// ClockEvent is a pending clock-in or clock-out awaiting supervisor review.
// Its id equals the appointment id, which makes a second concurrent clock
// attempt a duplicate-id create.
type ClockEvent struct {
	For           Appointment `json:"for" yaml:"for"`
	SentBy        ConciseUser `json:"sentBy" yaml:"sentBy"`
	SentTimestamp time.Time   `json:"sentTimestamp" yaml:"sentTimestamp"`
}

// ApprovedClockEvent is the history record written under a fresh id when a
// supervisor approves a pending clock event.
type ApprovedClockEvent struct {
	For               Appointment `json:"for" yaml:"for"`
	SentBy            ConciseUser `json:"sentBy" yaml:"sentBy"`
	SentTimestamp     time.Time   `json:"sentTimestamp" yaml:"sentTimestamp"`
	ApprovedBy        ConciseUser `json:"approvedBy" yaml:"approvedBy"`
	ApprovedTimestamp time.Time   `json:"approvedTimestamp" yaml:"approvedTimestamp"`
}

// RejectedClockEvent keeps the pending doc's id so tutors can query their own
// rejections by sentBy.email.
type RejectedClockEvent struct {
	For               Appointment `json:"for" yaml:"for"`
	SentBy            ConciseUser `json:"sentBy" yaml:"sentBy"`
	SentTimestamp     time.Time   `json:"sentTimestamp" yaml:"sentTimestamp"`
	RejectedBy        ConciseUser `json:"rejectedBy" yaml:"rejectedBy"`
	RejectedTimestamp time.Time   `json:"rejectedTimestamp" yaml:"rejectedTimestamp"`
}

type ModifiedAppointment struct {
	For               Appointment `json:"for" yaml:"for"`
	ModifiedBy        ConciseUser `json:"modifiedBy" yaml:"modifiedBy"`
	ModifiedTimestamp time.Time   `json:"modifiedTimestamp" yaml:"modifiedTimestamp"`
}

type CanceledAppointment struct {
	For               Appointment `json:"for" yaml:"for"`
	CanceledBy        ConciseUser `json:"canceledBy" yaml:"canceledBy"`
	CanceledTimestamp time.Time   `json:"canceledTimestamp" yaml:"canceledTimestamp"`
}

// HoursInterval is one open/close window in a location's weekly hours.
type HoursInterval struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

// Location is the locations/{id} document.
type Location struct {
	Name        string                     `json:"name" yaml:"name"`
	City        string                     `json:"city,omitempty" yaml:"city,omitempty"`
	Hours       map[string][]HoursInterval `json:"hours,omitempty" yaml:"hours,omitempty"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Supervisors []string                   `json:"supervisors" yaml:"supervisors"`
	Timestamp   time.Time                  `json:"timestamp" yaml:"timestamp"`
}

// Supervised reports whether email is one of the location's supervisors.
func (l *Location) Supervised(email string) bool {
	for _, s := range l.Supervisors {
		if s == email {
			return true
		}
	}
	return false
}

// PaymentDoc covers authPayments, pastPayments and paidPayments records.
// Capture itself happens outside this system; only the access pattern is
// enforced here.
type PaymentDoc struct {
	From      ConciseUser `json:"from" yaml:"from"`
	To        ConciseUser `json:"to" yaml:"to"`
	Amount    float64     `json:"amount" yaml:"amount"`
	Method    string      `json:"method,omitempty" yaml:"method,omitempty"`
	For       *Request    `json:"for,omitempty" yaml:"for,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// ============================================================================
// OPERATIONS AND DECISIONS
// ============================================================================

// Op is a store operation evaluated by the policy engine.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpGet    Op = "get"
	OpList   Op = "list"
)

// DenyCode classifies why an operation was refused. Tests assert on the code,
// not the human-readable reason.
type DenyCode string

const (
	// CodePermissionDenied: identity, ownership or role check failed.
	CodePermissionDenied DenyCode = "permission_denied"
	// CodeOrderingViolation: a prerequisite or pairing document was missing
	// or stale.
	CodeOrderingViolation DenyCode = "ordering_violation"
	// CodeStructuralViolation: required field missing, immutable field
	// altered, or a duplicate-id create on a pending document.
	CodeStructuralViolation DenyCode = "structural_invariant"
	// CodeNotFound: the path resolved to no known document kind. Treated as
	// deny-all and logged as a configuration gap.
	CodeNotFound DenyCode = "not_found"
)

// Decision is the outcome of evaluating one operation.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Code      DenyCode  `json:"code,omitempty"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by,omitempty"` // rule name that decided
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func allow(rule string) *Decision {
	return &Decision{Allowed: true, MatchedBy: rule, Timestamp: time.Now()}
}

func deny(code DenyCode, reason string) *Decision {
	return &Decision{Code: code, Reason: reason, Timestamp: time.Now()}
}
