package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type handlers struct {
	svc *scheduling.Service
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorOf(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "no authenticated actor")
	}
	return actor, ok
}

func parseWindow(w http.ResponseWriter, r *http.Request) (scheduling.Weekday, scheduling.TimeOfDay, scheduling.TimeOfDay, bool) {
	var req WindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return 0, 0, 0, false
	}
	if req.DayOfWeek == nil {
		writeError(w, http.StatusBadRequest, "invalid_range", "day_of_week is required")
		return 0, 0, 0, false
	}
	start, err := scheduling.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return 0, 0, 0, false
	}
	end, err := scheduling.ParseTimeOfDay(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return 0, 0, 0, false
	}
	return scheduling.Weekday(*req.DayOfWeek), start, end, true
}

func (h *handlers) addWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	practitionerID, ok := uuidParam(w, r, "practitionerID")
	if !ok {
		return
	}
	day, start, end, ok := parseWindow(w, r)
	if !ok {
		return
	}

	win, err := h.svc.AddWindow(r.Context(), actor, practitionerID, day, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWindowResponse(win))
}

func (h *handlers) updateWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "windowID")
	if !ok {
		return
	}
	day, start, end, ok := parseWindow(w, r)
	if !ok {
		return
	}

	win, err := h.svc.UpdateWindow(r.Context(), actor, id, day, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponse(win))
}

func (h *handlers) removeWindow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "windowID")
	if !ok {
		return
	}

	if err := h.svc.RemoveWindow(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listWindows(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := uuidParam(w, r, "practitionerID")
	if !ok {
		return
	}

	windows, err := h.svc.ListWindows(r.Context(), practitionerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	items := make([]WindowResponse, 0, len(windows))
	for i := range windows {
		items = append(items, toWindowResponse(&windows[i]))
	}
	writeJSON(w, http.StatusOK, ListResponse[WindowResponse]{Items: items, Count: len(items)})
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := uuidParam(w, r, "practitionerID")
	if !ok {
		return
	}
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	// Only the configured grid is offered; booking checks membership against it.
	duration := h.svc.SlotDuration()
	if v := r.URL.Query().Get("duration"); v != "" {
		requested, err := time.ParseDuration(v)
		if err != nil || requested != duration {
			writeError(w, http.StatusBadRequest, "invalid_slot_duration",
				fmt.Sprintf("duration must be %s", duration))
			return
		}
	}

	slots, err := h.svc.GenerateSlots(r.Context(), practitionerID, date, duration)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	items := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, SlotResponse{
			PractitionerID: s.PractitionerID,
			Date:           s.Date.Format(scheduling.DateLayout),
			Time:           s.Time,
		})
	}
	writeJSON(w, http.StatusOK, ListResponse[SlotResponse]{Items: items, Count: len(items)})
}

func decodeBooking(w http.ResponseWriter, r *http.Request) (scheduling.BookingRequest, bool) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return scheduling.BookingRequest{}, false
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
		return scheduling.BookingRequest{}, false
	}
	var patientID uuid.UUID
	if req.PatientID != "" {
		if patientID, err = uuid.Parse(req.PatientID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return scheduling.BookingRequest{}, false
		}
	}
	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return scheduling.BookingRequest{}, false
	}
	at, err := scheduling.ParseTimeOfDay(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
		return scheduling.BookingRequest{}, false
	}

	return scheduling.BookingRequest{
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Date:           date,
		Time:           at,
		Reason:         req.Reason,
		AttachmentRef:  req.AttachmentRef,
	}, true
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Book(r.Context(), actor, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) validateBooking(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}
	if err := h.svc.ValidateBooking(r.Context(), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	action, err := scheduling.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_action", err.Error())
		return
	}

	appt, err := h.svc.Transition(r.Context(), id, action, actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	appts, err := h.svc.ListPatientAppointments(r.Context(), actor, patientID, scheduling.ListScope(q.Get("scope")), limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(appts))
}

func (h *handlers) listPractitionerAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	practitionerID, ok := uuidParam(w, r, "practitionerID")
	if !ok {
		return
	}
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	appts, err := h.svc.ListPractitionerAppointments(r.Context(), actor, practitionerID, date)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(appts))
}
