package domain

// AttendeeRole identifies a party on the external calendar event.
type AttendeeRole string

const (
	RoleTechnician AttendeeRole = "technician"
	RoleCustomer   AttendeeRole = "customer"
)

// AttendeeResponse is the response status reported by the external
// calendar for one attendee.
type AttendeeResponse string

const (
	ResponseAccepted  AttendeeResponse = "accepted"
	ResponseDeclined  AttendeeResponse = "declined"
	ResponseTentative AttendeeResponse = "tentative"
	ResponseNone      AttendeeResponse = "none"
)

// Attendee is a party invited to the external calendar event.
type Attendee struct {
	Name  string
	Email string
	Role  AttendeeRole
}

// EventRequest describes the calendar event to create for a schedule.
type EventRequest struct {
	Subject   string
	Body      string
	Location  string
	Attendees []Attendee
	Window    Window
	Tentative bool
}

// EventStatus is the external calendar's view of an event. The calendar
// is authoritative for attendee response facts only, never for schedule
// existence or intent.
type EventStatus struct {
	Exists    bool
	Responses map[AttendeeRole]AttendeeResponse
}

// ResponseFor returns the recorded response for a role, defaulting to
// ResponseNone when the calendar reports nothing for that attendee.
func (s EventStatus) ResponseFor(role AttendeeRole) AttendeeResponse {
	if r, ok := s.Responses[role]; ok && r != "" {
		return r
	}
	return ResponseNone
}
