package tutorbook

import (
	"strings"
)

// ============================================================================
// DOCUMENT CLASSIFIER
// ============================================================================

// Kind identifies the rule set a document path resolves to. Sibling
// collections share an id-space (a request id becomes the appointment id and
// then the clock-event id) but never share a rule set.
type Kind string

const (
	KindUser     Kind = "user"
	KindLocation Kind = "location"

	KindRequestIn          Kind = "requestIn"
	KindRequestOut         Kind = "requestOut"
	KindModifiedRequestIn  Kind = "modifiedRequestIn"
	KindModifiedRequestOut Kind = "modifiedRequestOut"
	KindCanceledRequestIn  Kind = "canceledRequestIn"
	KindCanceledRequestOut Kind = "canceledRequestOut"
	KindRejectedRequestOut Kind = "rejectedRequestOut"
	KindApprovedRequestOut Kind = "approvedRequestOut"

	KindAppointment         Kind = "appointment"
	KindModifiedAppointment Kind = "modifiedAppointment"
	KindCanceledAppointment Kind = "canceledAppointment"
	KindActiveAppointment   Kind = "activeAppointment"
	KindPastAppointment     Kind = "pastAppointment"

	KindClockIn          Kind = "clockIn"
	KindClockOut         Kind = "clockOut"
	KindApprovedClockIn  Kind = "approvedClockIn"
	KindApprovedClockOut Kind = "approvedClockOut"
	KindRejectedClockIn  Kind = "rejectedClockIn"
	KindRejectedClockOut Kind = "rejectedClockOut"

	KindAuthPayment Kind = "authPayment"
	KindPastPayment Kind = "pastPayment"
	KindPaidPayment Kind = "paidPayment"

	// KindUnknown is returned for unroutable paths; every operation on it is
	// denied with CodeNotFound.
	KindUnknown Kind = ""
)

// OwnerKind says whether a document hangs off a user or a location.
type OwnerKind string

const (
	OwnerUser     OwnerKind = "user"
	OwnerLocation OwnerKind = "location"
)

// Ref is a classified document path.
type Ref struct {
	Kind       Kind
	OwnerKind  OwnerKind
	Owner      string // user email or location id
	Collection string
	ID         string // empty for top-level and collection refs
}

// Path rebuilds the canonical slash path for the ref.
func (r Ref) Path() string {
	root := "users"
	if r.OwnerKind == OwnerLocation {
		root = "locations"
	}
	if r.Collection == "" {
		return root + "/" + r.Owner
	}
	if r.ID == "" {
		return root + "/" + r.Owner + "/" + r.Collection
	}
	return root + "/" + r.Owner + "/" + r.Collection + "/" + r.ID
}

// IsDoc reports whether the ref names a concrete document rather than a
// collection: a top-level user or location doc, or a subcollection doc with
// an id.
func (r Ref) IsDoc() bool {
	if r.Owner == "" {
		return false
	}
	return r.Collection == "" || r.ID != ""
}

// userCollections routes users/{email}/<collection> paths. Clock events hang
// off the supervisor's profile; their id equals the appointment id.
var userCollections = map[string]Kind{
	"requestsIn":            KindRequestIn,
	"requestsOut":           KindRequestOut,
	"modifiedRequestsIn":    KindModifiedRequestIn,
	"modifiedRequestsOut":   KindModifiedRequestOut,
	"canceledRequestsIn":    KindCanceledRequestIn,
	"canceledRequestsOut":   KindCanceledRequestOut,
	"rejectedRequestsOut":   KindRejectedRequestOut,
	"approvedRequestsOut":   KindApprovedRequestOut,
	"appointments":          KindAppointment,
	"modifiedAppointments":  KindModifiedAppointment,
	"canceledAppointments":  KindCanceledAppointment,
	"activeAppointments":    KindActiveAppointment,
	"pastAppointments":      KindPastAppointment,
	"clockIns":              KindClockIn,
	"clockOuts":             KindClockOut,
	"approvedClockIns":      KindApprovedClockIn,
	"approvedClockOuts":     KindApprovedClockOut,
	"rejectedClockIns":      KindRejectedClockIn,
	"rejectedClockOuts":     KindRejectedClockOut,
	"authPayments":          KindAuthPayment,
	"pastPayments":          KindPastPayment,
	"paidPayments":          KindPaidPayment,
}

// locationCollections routes locations/{id}/<collection> paths. The location
// keeps its own copy of every appointment lifecycle doc.
var locationCollections = map[string]Kind{
	"appointments":         KindAppointment,
	"modifiedAppointments": KindModifiedAppointment,
	"canceledAppointments": KindCanceledAppointment,
	"activeAppointments":   KindActiveAppointment,
	"pastAppointments":     KindPastAppointment,
}

// Classifier maps slash paths to document kinds. Its routing tables can be
// replaced from config without redeploying the engine.
type Classifier struct {
	user     map[string]Kind
	location map[string]Kind
}

func NewClassifier() *Classifier {
	return &Classifier{user: userCollections, location: locationCollections}
}

// SetRouting swaps in routing tables loaded from config. Nil maps keep the
// built-in defaults.
func (c *Classifier) SetRouting(user, location map[string]Kind) {
	if user != nil {
		c.user = user
	}
	if location != nil {
		c.location = location
	}
}

// Classify resolves a document path ("users/a@x/requestsIn/R") or a
// collection path ("users/a@x/requestsIn") to a Ref. An unroutable path
// returns a KindUnknown ref; the evaluator turns that into a CodeNotFound
// deny.
func (c *Classifier) Classify(path string) Ref {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch segs[0] {
	case "users":
		return c.classifyOwned(segs, OwnerUser, KindUser, c.user)
	case "locations":
		return c.classifyOwned(segs, OwnerLocation, KindLocation, c.location)
	}
	return Ref{}
}

func (c *Classifier) classifyOwned(segs []string, ownerKind OwnerKind, topKind Kind, table map[string]Kind) Ref {
	switch len(segs) {
	case 2:
		if segs[1] == "" {
			return Ref{}
		}
		return Ref{Kind: topKind, OwnerKind: ownerKind, Owner: segs[1]}
	case 3, 4:
		kind, ok := table[segs[2]]
		if !ok {
			return Ref{}
		}
		ref := Ref{Kind: kind, OwnerKind: ownerKind, Owner: segs[1], Collection: segs[2]}
		if len(segs) == 4 {
			ref.ID = segs[3]
		}
		return ref
	}
	return Ref{}
}
