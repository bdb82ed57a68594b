package httpapi

import (
	"net/http"

	"rhythmflow.app/internal/audit"
	"rhythmflow.app/internal/booking"
)

type myEnrollmentsResponse struct {
	Items []booking.EnrolledClass `json:"items"`
}

// enroll books a seat for the caller. There is no request body: students
// can only enroll themselves.
func (a *API) enroll(w http.ResponseWriter, r *http.Request) {
	classID := pathID(r)
	e, err := a.svc.Enroll(r.Context(), principal(r), classID)
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventEnrollmentCreate, map[string]any{
		"enrollment_id": e.ID,
		"class_id":      classID,
	})
	w.Header().Set("Location", "/v1/enrollments/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) cancelEnrollment(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := a.svc.Cancel(r.Context(), principal(r), id); err != nil {
		handleBookingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventEnrollmentCancel, map[string]any{"enrollment_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) myEnrollments(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.MyClasses(r.Context(), principal(r))
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, myEnrollmentsResponse{Items: items})
}
