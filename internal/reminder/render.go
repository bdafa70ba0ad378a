package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

const (
	dateLayout = "Monday, January 02, 2006"
	timeLayout = "15:04"
	signature  = "Patient Alert System Team"
)

// Render builds the reminder for a. patient and provider may be nil when the
// directory has no profile; generic wording is used instead.
func Render(a appointment.Appointment, patient *directory.Patient, provider *directory.Provider, loc *time.Location) notify.Message {
	if loc == nil {
		loc = time.UTC
	}
	at := a.ScheduledAt.In(loc)
	date := at.Format(dateLayout)
	clock := at.Format(timeLayout)

	patientName := "Patient"
	to := ""
	if patient != nil {
		if patient.Name != "" {
			patientName = patient.Name
		}
		to = patient.Contact()
	}
	providerName := a.ProviderID
	if provider != nil && provider.Name != "" {
		providerName = provider.Name
	}
	apptType := a.AppointmentType
	if apptType == "" {
		apptType = "Consultation"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", patientName)
	b.WriteString("This is a friendly reminder about your upcoming appointment.\n\n")
	fmt.Fprintf(&b, "Date: %s\n", date)
	if a.EndTime != "" {
		fmt.Fprintf(&b, "Time: %s - %s\n", clock, a.EndTime)
	} else {
		fmt.Fprintf(&b, "Time: %s\n", clock)
	}
	fmt.Fprintf(&b, "Type: %s\n", apptType)
	if a.ConsultationType != "" {
		fmt.Fprintf(&b, "Consultation: %s\n", a.ConsultationType)
	}
	fmt.Fprintf(&b, "Provider: %s\n\n", providerName)
	b.WriteString("Please arrive 10 minutes early for check-in.\n\n")
	b.WriteString("Best regards,\n")
	b.WriteString(signature)
	b.WriteString("\n")

	return notify.Message{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		To:            to,
		Subject:       fmt.Sprintf("Appointment Reminder - %s at %s", date, clock),
		Body:          b.String(),
		ScheduledAt:   a.ScheduledAt,
	}
}
