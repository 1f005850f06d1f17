package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/internal/service"
)

const dateLayout = "2006-01-02"

type AppointmentHandler struct {
	svc *service.AppointmentService
}

func NewAppointmentHandler(svc *service.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

type createAppointmentRequest struct {
	PatientID uuid.UUID `json:"patient_id" binding:"required"`
	DoctorID  uuid.UUID `json:"doctor_id" binding:"required"`
	Date      string    `json:"date" binding:"required"`
	Time      string    `json:"time" binding:"required"`
	Status    string    `json:"status"`
	Complaint string    `json:"complaint"`
}

func (h *AppointmentHandler) Create(c *gin.Context) {
	var req createAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date: must be formatted YYYY-MM-DD")
		return
	}

	a, err := h.svc.ScheduleAppointment(c.Request.Context(), actorFrom(c), &appointment.CreateAppointmentCommand{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      date,
		Time:      req.Time,
		Status:    appointment.Status(req.Status),
		Complaint: req.Complaint,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, a)
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.GetAppointment(c.Request.Context(), actorFrom(c), id, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, a)
}

type updateAppointmentRequest struct {
	Date      *string `json:"date"`
	Time      *string `json:"time"`
	Status    *string `json:"status"`
	Complaint *string `json:"complaint"`
}

func (h *AppointmentHandler) Update(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &appointment.UpdateAppointmentCommand{
		Time:      req.Time,
		Complaint: req.Complaint,
	}
	if req.Date != nil {
		date, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date: must be formatted YYYY-MM-DD")
			return
		}
		cmd.Date = &date
	}
	if req.Status != nil {
		status := appointment.Status(*req.Status)
		cmd.Status = &status
	}

	a, err := h.svc.UpdateAppointment(c.Request.Context(), actorFrom(c), id, cmd, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, a)
}

func (h *AppointmentHandler) Complete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.CompleteAppointment(c.Request.Context(), actorFrom(c), id, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, a)
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

func (h *AppointmentHandler) Cancel(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req cancelAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.CancelAppointment(c.Request.Context(), actorFrom(c), id, &appointment.CancelAppointmentCommand{
		Reason: req.Reason,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, a)
}

func (h *AppointmentHandler) Delete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(c.Request.Context(), actorFrom(c), id, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AppointmentHandler) List(c *gin.Context) {
	q := &appointment.ListAppointmentsQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}

	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid patient_id")
			return
		}
		q.PatientID = &id
	}
	if raw := c.Query("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid doctor_id")
			return
		}
		q.DoctorID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := appointment.Status(raw)
		if !status.IsValid() {
			respondError(c, http.StatusBadRequest, "invalid status")
			return
		}
		q.Status = &status
	}
	if raw := c.Query("date_from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date_from")
			return
		}
		q.DateFrom = &t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date_to")
			return
		}
		q.DateTo = &t
	}

	page, err := h.svc.ListAppointments(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}
