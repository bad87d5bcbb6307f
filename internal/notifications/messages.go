package notifications

import (
	"fmt"
	"time"

	"github.com/landandplot/notifier/internal/push"
)

// pushTitle is the visible title for an audience.
func pushTitle(a Audience) string {
	switch a {
	case AudienceAgent:
		return "Agent Alert"
	case AudienceSeller:
		return "Update for Your Listing"
	case AudienceProperty:
		return "New Property"
	}
	return "Update"
}

// resendTitle is the visible title for a manual resend, chosen by record type.
func resendTitle(recordType string) string {
	switch recordType {
	case TypeNewProperty:
		return "New Property"
	case TypeVisitReminder:
		return "Visit Reminder"
	}
	return "Update"
}

// buildMessage renders the record text for an event as seen by an audience.
func buildMessage(a Audience, ev Event) string {
	name, status := ev.Buyer.Name, ev.Buyer.Status

	switch a {
	case AudienceAgent:
		switch ev.Kind {
		case NewBuyerInterest:
			return fmt.Sprintf("Buyer %s showed interest.", name)
		case VisitDateSet:
			return fmt.Sprintf("Visit scheduled on %s.", formatVisitDate(ev))
		case BuyerStatusChanged:
			return fmt.Sprintf("Buyer %s status is now %q.", name, status)
		}

	case AudienceBuyer:
		switch ev.Kind {
		case VisitDateSet:
			return fmt.Sprintf("Reminder: your visit is scheduled on %s", formatVisitDate(ev))
		case BuyerStatusChanged:
			return fmt.Sprintf("Your offer is now %q", status)
		}

	case AudienceSeller:
		switch ev.Kind {
		case AgentAssigned:
			return "An agent was assigned to your listing."
		case NewBuyerInterest:
			return fmt.Sprintf("New interest from %s.", name)
		case BuyerStatusChanged:
			return fmt.Sprintf("Buyer %s is now %q.", name, status)
		}

	case AudienceProperty:
		return fmt.Sprintf("New property listed in %s", ev.Area)
	}
	return string(ev.Kind)
}

func formatVisitDate(ev Event) string {
	if !ev.Buyer.HasDate() {
		return "an unspecified date"
	}
	return ev.Buyer.Date.In(time.UTC).Format(visitDateLayout)
}

// pushMessage is the payload sent for a record.
func pushMessage(title, recordType, message, propertyID string) push.Message {
	return push.Message{
		Title: title,
		Body:  message,
		Data: map[string]string{
			"type":       recordType,
			"propertyId": propertyID,
		},
	}
}
