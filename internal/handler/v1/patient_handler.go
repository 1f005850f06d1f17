package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/service"
)

type PatientHandler struct {
	svc *service.PatientService
}

func NewPatientHandler(svc *service.PatientService) *PatientHandler {
	return &PatientHandler{svc: svc}
}

type createPatientRequest struct {
	FirstName   string   `json:"first_name" binding:"required"`
	LastName    string   `json:"last_name" binding:"required"`
	DateOfBirth string   `json:"date_of_birth" binding:"required"`
	Gender      string   `json:"gender" binding:"required"`
	NationalID  string   `json:"national_id" binding:"required"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Address     string   `json:"address"`
	City        string   `json:"city"`
	Allergies   []string `json:"allergies"`
	Notes       string   `json:"notes"`
}

func (h *PatientHandler) Create(c *gin.Context) {
	var req createPatientRequest
	if !bindJSON(c, &req) {
		return
	}

	dob, err := time.Parse(dateLayout, req.DateOfBirth)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date_of_birth: must be formatted YYYY-MM-DD")
		return
	}

	p, err := h.svc.RegisterPatient(c.Request.Context(), actorFrom(c), &patient.CreatePatientCommand{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: dob,
		Gender:      patient.Gender(req.Gender),
		NationalID:  req.NationalID,
		Phone:       req.Phone,
		Email:       req.Email,
		Address:     req.Address,
		City:        req.City,
		Allergies:   req.Allergies,
		Notes:       req.Notes,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, p)
}

func (h *PatientHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	p, err := h.svc.GetPatient(c.Request.Context(), actorFrom(c), id, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, p)
}

func (h *PatientHandler) Deactivate(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeactivatePatient(c.Request.Context(), actorFrom(c), id, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *PatientHandler) List(c *gin.Context) {
	q := &patient.ListPatientsQuery{
		Search:   c.Query("search"),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := patient.Status(raw)
		q.Status = &status
	}

	page, err := h.svc.ListPatients(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}
