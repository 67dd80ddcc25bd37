package notify

import (
	"fmt"
	"time"

	"gate-controller/internal/domain/gate"
)

// Compose builds the operator notification for a terminal verdict. Every
// outcome produces one, denials and suppressions included, so operators
// see the full decision stream and not only grants.
func Compose(v gate.Verdict, startedAt, now time.Time) gate.NotificationEvent {
	var subject, message string
	switch v.Outcome {
	case gate.ScheduleGranted:
		subject = "Gate Opening Alert - Opened Gate (Schedule Access)"
		message = fmt.Sprintf("Gate opened under the access schedule. Recognized plate text: %q.", v.Record.RawPlate)
	case gate.MatchGranted:
		owner := deref(v.Record.OwnerName)
		if v.Match.Exact {
			subject = fmt.Sprintf("Gate Opening Alert - Exact Match Found for Plate: %s", v.Record.RawPlate)
			message = fmt.Sprintf("Exact match, licence plate number %s is registered to: %s", v.Record.RawPlate, owner)
		} else {
			subject = fmt.Sprintf("Gate Opening Alert - Fuzzy Match Found for Plate: %s", v.Record.RawPlate)
			message = fmt.Sprintf("Fuzzy match (score %d), licence plate number %s is registered to: %s",
				v.Record.Score, v.Record.RawPlate, owner)
		}
	case gate.MatchSuppressed:
		subject = "Gate Opening Skipped - Another Event in Progress"
		message = fmt.Sprintf("Another gate opening occurred within the suppression window. Skipping gate opening for plate: %s", v.Record.RawPlate)
	default:
		subject = fmt.Sprintf("Gate Opening Alert - No Match Found for Plate: %s, did not Open Gate", v.Record.RawPlate)
		message = fmt.Sprintf("No match found or vehicle not registered for licence plate number: %s", v.Record.RawPlate)
	}

	body := fmt.Sprintf(
		"### Event Start Time: %s ###\n\n%s\n\nCurrent Time: %s\nElapsed Time: %.1f seconds",
		startedAt.Format("2006-01-02 15:04:05"),
		message,
		now.Format("2006-01-02 15:04:05"),
		now.Sub(startedAt).Seconds(),
	)

	return gate.NotificationEvent{
		Subject: subject,
		Body:    body,
		Record:  v.Record,
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
