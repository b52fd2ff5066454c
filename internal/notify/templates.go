package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/teletherapy-platform/internal/sessions"
)

const (
	longTimeLayout  = "Monday, January 2 at 3:04 PM MST"
	shortTimeLayout = "Jan 2, 3:04 PM MST"
)

// recipient is one participant that should hear about a session event.
type recipient struct {
	Name      string
	Email     string
	Therapist bool
}

func recipientsFor(d *sessions.SessionDetails) []recipient {
	out := make([]recipient, 0, 2)
	if strings.TrimSpace(d.PatientEmail) != "" {
		out = append(out, recipient{Name: d.PatientName, Email: d.PatientEmail})
	}
	if strings.TrimSpace(d.TherapistEmail) != "" {
		out = append(out, recipient{Name: d.TherapistName, Email: d.TherapistEmail, Therapist: true})
	}
	return out
}

// counterpart is the name of the other participant from r's point of view.
func counterpart(d *sessions.SessionDetails, r recipient) string {
	name := d.TherapistName
	if r.Therapist {
		name = d.PatientName
	}
	if strings.TrimSpace(name) == "" {
		if r.Therapist {
			return "your client"
		}
		return "your therapist"
	}
	return name
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hi,"
	}
	return fmt.Sprintf("Hi %s,", name)
}

func sessionMessage(eventType string, evt sessions.SessionEvent, d *sessions.SessionDetails, r recipient, loc *time.Location) (EmailMessage, bool) {
	when := evt.ScheduledAt.In(loc).Format(longTimeLayout)
	who := counterpart(d, r)

	var subject string
	var lines []string
	switch eventType {
	case sessions.EventBooked:
		subject = "Session booked for " + evt.ScheduledAt.In(loc).Format(shortTimeLayout)
		lines = []string{
			fmt.Sprintf("Your %d-minute session with %s is booked for %s.", evt.DurationMinutes, who, when),
			"You can join from the app up to 30 minutes before the start time.",
		}
	case sessions.EventRescheduled:
		subject = "Session moved to " + evt.ScheduledAt.In(loc).Format(shortTimeLayout)
		lines = []string{fmt.Sprintf("Your session with %s has been moved to %s.", who, when)}
		if evt.Reason != "" {
			lines = append(lines, "Reason: "+evt.Reason)
		}
	case sessions.EventCancelled:
		subject = "Session cancelled"
		lines = []string{fmt.Sprintf("Your session with %s on %s has been cancelled.", who, when)}
		if evt.Reason != "" {
			lines = append(lines, "Reason: "+evt.Reason)
		}
	case sessions.EventCompleted:
		if r.Therapist {
			return EmailMessage{}, false
		}
		subject = "Thanks for your session"
		lines = []string{
			fmt.Sprintf("Your session with %s on %s is complete.", who, when),
			"You can book your next session from the app whenever you are ready.",
		}
	default:
		return EmailMessage{}, false
	}

	body := greeting(r.Name) + "\n\n" + strings.Join(lines, "\n") + "\n\nTeletherapy"
	return EmailMessage{
		To:       r.Email,
		ToName:   r.Name,
		Subject:  subject,
		Body:     body,
		Category: eventType,
	}, true
}

// ReminderMessage builds the upcoming-session reminder for one participant.
func ReminderMessage(d *sessions.SessionDetails, therapist bool, loc *time.Location) (EmailMessage, bool) {
	if loc == nil {
		loc = time.UTC
	}
	r := recipient{Name: d.PatientName, Email: d.PatientEmail}
	if therapist {
		r = recipient{Name: d.TherapistName, Email: d.TherapistEmail, Therapist: true}
	}
	if strings.TrimSpace(r.Email) == "" {
		return EmailMessage{}, false
	}
	when := d.ScheduledAt.In(loc).Format(longTimeLayout)
	body := fmt.Sprintf("%s\n\nReminder: your session with %s starts %s.\nThe room opens 30 minutes before the start time.\n\nTeletherapy",
		greeting(r.Name), counterpart(d, r), when)
	return EmailMessage{
		To:       r.Email,
		ToName:   r.Name,
		Subject:  "Upcoming session at " + d.ScheduledAt.In(loc).Format(shortTimeLayout),
		Body:     body,
		Category: "session.reminder",
	}, true
}
