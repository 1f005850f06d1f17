package clinicalrecord

import (
	"time"

	"github.com/google/uuid"
)

type RecordType string

const (
	TypeConsultNote   RecordType = "consult_note"
	TypeSOAP          RecordType = "soap"
	TypeProcedureNote RecordType = "procedure_note"
	TypeProgressNote  RecordType = "progress_note"
)

func (t RecordType) IsValid() bool {
	switch t {
	case TypeConsultNote, TypeSOAP, TypeProcedureNote, TypeProgressNote:
		return true
	}
	return false
}

// SOAPNote is the structured clinical note format.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Record is the clinical documentation produced during a visit. Once created
// it cannot be edited or deleted; an appointment with a record attached is
// pinned and cannot be removed either.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	PatientID     uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	AppointmentID uuid.UUID `gorm:"column:appointment_id;type:uuid;not null;index"`
	DoctorID      uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	Type RecordType `gorm:"column:type;type:varchar(50);not null"`

	SOAPNote  *SOAPNote `gorm:"column:soap_note;serializer:json"`
	Diagnoses []string  `gorm:"column:diagnoses;serializer:json"`
	Notes     string    `gorm:"column:notes;type:text"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Record) TableName() string {
	return "clinical.records"
}

type CreateRecordCommand struct {
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	Type          RecordType
	SOAPNote      *SOAPNote
	Diagnoses     []string
	Notes         string
	CreatedBy     uuid.UUID
}

type ListRecordsQuery struct {
	PatientID     *uuid.UUID
	DoctorID      *uuid.UUID
	AppointmentID *uuid.UUID
	Page          int
	PageSize      int
}

type PagedRecords struct {
	Records    []*Record
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}
