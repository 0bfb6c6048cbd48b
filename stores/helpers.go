package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/tutorbook"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeDoc rebuilds the typed document a row's kind column names.
func decodeDoc(kind tutorbook.Kind, data []byte) (any, error) {
	var doc any
	switch kind {
	case tutorbook.KindUser:
		doc = &tutorbook.UserProfile{}
	case tutorbook.KindLocation:
		doc = &tutorbook.Location{}
	case tutorbook.KindRequestIn, tutorbook.KindRequestOut:
		doc = &tutorbook.Request{}
	case tutorbook.KindModifiedRequestIn, tutorbook.KindModifiedRequestOut:
		doc = &tutorbook.ModifiedRequest{}
	case tutorbook.KindCanceledRequestIn, tutorbook.KindCanceledRequestOut:
		doc = &tutorbook.CanceledRequest{}
	case tutorbook.KindRejectedRequestOut:
		doc = &tutorbook.RejectedRequest{}
	case tutorbook.KindApprovedRequestOut:
		doc = &tutorbook.ApprovedRequest{}
	case tutorbook.KindAppointment, tutorbook.KindActiveAppointment, tutorbook.KindPastAppointment:
		doc = &tutorbook.Appointment{}
	case tutorbook.KindModifiedAppointment:
		doc = &tutorbook.ModifiedAppointment{}
	case tutorbook.KindCanceledAppointment:
		doc = &tutorbook.CanceledAppointment{}
	case tutorbook.KindClockIn, tutorbook.KindClockOut:
		doc = &tutorbook.ClockEvent{}
	case tutorbook.KindApprovedClockIn, tutorbook.KindApprovedClockOut:
		doc = &tutorbook.ApprovedClockEvent{}
	case tutorbook.KindRejectedClockIn, tutorbook.KindRejectedClockOut:
		doc = &tutorbook.RejectedClockEvent{}
	case tutorbook.KindAuthPayment, tutorbook.KindPastPayment, tutorbook.KindPaidPayment:
		doc = &tutorbook.PaymentDoc{}
	default:
		return nil, fmt.Errorf("undecodable kind %q", kind)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
