package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type WindowRequest struct {
	DayOfWeek *int   `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type BookingRequest struct {
	PractitionerID string  `json:"practitioner_id"`
	PatientID      string  `json:"patient_id,omitempty"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Reason         string  `json:"reason"`
	AttachmentRef  *string `json:"attachment_ref,omitempty"`
}

type WindowResponse struct {
	ID             uuid.UUID            `json:"id"`
	PractitionerID uuid.UUID            `json:"practitioner_id"`
	DayOfWeek      int                  `json:"day_of_week"`
	DayName        string               `json:"day_name"`
	StartTime      scheduling.TimeOfDay `json:"start_time"`
	EndTime        scheduling.TimeOfDay `json:"end_time"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type SlotResponse struct {
	PractitionerID uuid.UUID            `json:"practitioner_id"`
	Date           string               `json:"date"`
	Time           scheduling.TimeOfDay `json:"time"`
}

type AppointmentResponse struct {
	ID             uuid.UUID            `json:"id"`
	PatientID      uuid.UUID            `json:"patient_id"`
	PractitionerID uuid.UUID            `json:"practitioner_id"`
	Date           string               `json:"date"`
	Time           scheduling.TimeOfDay `json:"time"`
	Reason         string               `json:"reason"`
	AttachmentRef  *string              `json:"attachment_ref,omitempty"`
	Status         string               `json:"status"`
	CreatedBy      uuid.UUID            `json:"created_by"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toWindowResponse(w *scheduling.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:             w.ID,
		PractitionerID: w.PractitionerID,
		DayOfWeek:      int(w.Day),
		DayName:        w.Day.String(),
		StartTime:      w.Start,
		EndTime:        w.End,
		UpdatedAt:      w.UpdatedAt,
	}
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		Date:           a.DateString(),
		Time:           a.Time,
		Reason:         a.Reason,
		AttachmentRef:  a.AttachmentRef,
		Status:         string(a.Status),
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toAppointmentList(appts []scheduling.Appointment) ListResponse[AppointmentResponse] {
	items := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, toAppointmentResponse(&appts[i]))
	}
	return ListResponse[AppointmentResponse]{Items: items, Count: len(items)}
}
