package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
	"github.com/clinicflow/clinicflow/internal/service"
)

type ClinicalRecordHandler struct {
	svc *service.ClinicalRecordService
}

func NewClinicalRecordHandler(svc *service.ClinicalRecordService) *ClinicalRecordHandler {
	return &ClinicalRecordHandler{svc: svc}
}

type createRecordRequest struct {
	AppointmentID uuid.UUID                `json:"appointment_id" binding:"required"`
	Type          string                   `json:"type" binding:"required"`
	SOAPNote      *clinicalrecord.SOAPNote `json:"soap_note"`
	Diagnoses     []string                 `json:"diagnoses"`
	Notes         string                   `json:"notes"`
}

func (h *ClinicalRecordHandler) Create(c *gin.Context) {
	var req createRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.CreateRecord(c.Request.Context(), actorFrom(c), &clinicalrecord.CreateRecordCommand{
		AppointmentID: req.AppointmentID,
		Type:          clinicalrecord.RecordType(req.Type),
		SOAPNote:      req.SOAPNote,
		Diagnoses:     req.Diagnoses,
		Notes:         req.Notes,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, rec)
}

func (h *ClinicalRecordHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	rec, err := h.svc.GetRecord(c.Request.Context(), actorFrom(c), id, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, rec)
}

func (h *ClinicalRecordHandler) List(c *gin.Context) {
	q := &clinicalrecord.ListRecordsQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, 400, "invalid patient_id")
			return
		}
		q.PatientID = &id
	}
	if raw := c.Query("appointment_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, 400, "invalid appointment_id")
			return
		}
		q.AppointmentID = &id
	}

	page, err := h.svc.ListRecords(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}
