package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"rhythmflow.app/internal/audit"
	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/roster"
)

type classRequest struct {
	Title     string        `json:"title"`
	Level     booking.Level `json:"level"`
	Teacher   string        `json:"teacher"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Capacity  int           `json:"capacity"`
}

type listClassesResponse struct {
	Items []booking.ClassView `json:"items"`
	AsOf  time.Time           `json:"as_of"`
}

func (a *API) listClasses(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Upcoming(r.Context(), principal(r).UserID)
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	if views == nil {
		views = []booking.ClassView{}
	}
	writeJSON(w, http.StatusOK, listClassesResponse{Items: views, AsOf: time.Now().UTC()})
}

func (a *API) getClass(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.ClassDetail(r.Context(), principal(r).UserID, pathID(r))
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) createClass(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.admin.CreateClass(r.Context(), principal(r), booking.DanceClass{
		Title:     req.Title,
		Level:     req.Level,
		Teacher:   req.Teacher,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
	})
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventClassCreate, map[string]any{
		"class_id": c.ID,
		"title":    c.Title,
		"capacity": c.Capacity,
	})
	w.Header().Set("Location", "/v1/classes/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) updateClass(w http.ResponseWriter, r *http.Request) {
	var upd booking.ClassUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id := pathID(r)
	c, err := a.admin.UpdateClass(r.Context(), principal(r), id, upd)
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	fields := map[string]any{"class_id": id}
	if upd.Capacity != nil {
		fields["capacity"] = *upd.Capacity
	}
	_ = audit.LogEvent(r.Context(), audit.EventClassUpdate, fields)
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteClass(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := a.admin.DeleteClass(r.Context(), principal(r), id); err != nil {
		handleBookingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventClassDelete, map[string]any{"class_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) classRoster(w http.ResponseWriter, r *http.Request) {
	ro, err := a.svc.Roster(r.Context(), principal(r), pathID(r))
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func (a *API) classRosterXLSX(w http.ResponseWriter, r *http.Request) {
	ro, err := a.svc.Roster(r.Context(), principal(r), pathID(r))
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := roster.WriteXLSX(&buf, ro); err != nil {
		handleBookingError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", roster.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+roster.Filename(ro.Class)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
