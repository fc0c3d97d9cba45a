package events

// EventType is the closed set of things that can happen to an appointment.
type EventType string

const (
	Registered     EventType = "REGISTERED"
	PatientCreated EventType = "PATIENT_CREATED"

	QueueJoined          EventType = "QUEUE_JOINED"
	QueueCalled          EventType = "QUEUE_CALLED"
	QueuePositionChanged EventType = "QUEUE_POSITION_CHANGED"
	QueueRecalled        EventType = "QUEUE_RECALLED"

	Billed          EventType = "BILLED"
	BillItemAdded   EventType = "BILL_ITEM_ADDED"
	PaymentReceived EventType = "PAYMENT_RECEIVED"
	PaymentPartial  EventType = "PAYMENT_PARTIAL"
	PaymentRefunded EventType = "PAYMENT_REFUNDED"
	BillCancelled   EventType = "BILL_CANCELLED"

	ConsultationStarted EventType = "CONSULTATION_STARTED"
	DetailsUpdated      EventType = "DETAILS_UPDATED"
	VitalsRecorded      EventType = "VITALS_RECORDED"
	DiagnosisRecorded   EventType = "DIAGNOSIS_RECORDED"
	PrescriptionCreated EventType = "PRESCRIPTION_CREATED"

	LabOrdered         EventType = "LAB_ORDERED"
	SampleCollected    EventType = "SAMPLE_COLLECTED"
	SampleRejected     EventType = "SAMPLE_REJECTED"
	LabResultReady     EventType = "LAB_RESULT_READY"
	LabReportDelivered EventType = "LAB_REPORT_DELIVERED"

	DocumentUploaded EventType = "DOCUMENT_UPLOADED"
	ReportPrinted    EventType = "REPORT_PRINTED"

	NoteAdded         EventType = "NOTE_ADDED"
	FollowupScheduled EventType = "FOLLOWUP_SCHEDULED"
	Referred          EventType = "REFERRED"

	Completed  EventType = "APPOINTMENT_COMPLETED"
	Cancelled  EventType = "APPOINTMENT_CANCELLED"
	CheckedOut EventType = "CHECKED_OUT"
)

type Category string

const (
	CategoryRegistration Category = "registration"
	CategoryQueue        Category = "queue"
	CategoryBilling      Category = "billing"
	CategoryConsultation Category = "consultation"
	CategoryLab          Category = "lab"
	CategoryDocuments    Category = "documents"
	CategoryFollowup     Category = "followup"
	CategoryCompletion   Category = "completion"
)

// Info describes an event kind for timelines. External kinds may be posted
// by collaborating systems (lab, documents, notes); the rest are written
// only by the appointment and billing workflows.
type Info struct {
	Category    Category `json:"category"`
	Description string   `json:"description"`
	External    bool     `json:"external"`
}

var catalog = map[EventType]Info{
	Registered:     {CategoryRegistration, "Appointment registered", false},
	PatientCreated: {CategoryRegistration, "New patient record created", false},

	QueueJoined:          {CategoryQueue, "Joined the doctor's queue", false},
	QueueCalled:          {CategoryQueue, "Called in to see the doctor", false},
	QueuePositionChanged: {CategoryQueue, "Queue position changed", false},
	QueueRecalled:        {CategoryQueue, "Name called again at the desk", true},

	Billed:          {CategoryBilling, "Bill generated", false},
	BillItemAdded:   {CategoryBilling, "Service added to bill", false},
	PaymentReceived: {CategoryBilling, "Payment received in full", false},
	PaymentPartial:  {CategoryBilling, "Partial payment received", false},
	PaymentRefunded: {CategoryBilling, "Payment refunded", false},
	BillCancelled:   {CategoryBilling, "Bill cancelled", false},

	ConsultationStarted: {CategoryConsultation, "Consultation started", false},
	DetailsUpdated:      {CategoryConsultation, "Complaint or diagnosis updated", false},
	VitalsRecorded:      {CategoryConsultation, "Vitals recorded", true},
	DiagnosisRecorded:   {CategoryConsultation, "Diagnosis recorded", true},
	PrescriptionCreated: {CategoryConsultation, "Prescription written", false},

	LabOrdered:         {CategoryLab, "Lab test ordered", true},
	SampleCollected:    {CategoryLab, "Sample collected", true},
	SampleRejected:     {CategoryLab, "Sample rejected, recollection needed", true},
	LabResultReady:     {CategoryLab, "Lab result ready", true},
	LabReportDelivered: {CategoryLab, "Lab report delivered", true},

	DocumentUploaded: {CategoryDocuments, "Document uploaded", true},
	ReportPrinted:    {CategoryDocuments, "Report printed", true},

	NoteAdded:         {CategoryFollowup, "Note added", true},
	FollowupScheduled: {CategoryFollowup, "Follow-up scheduled", true},
	Referred:          {CategoryFollowup, "Referred to another doctor", true},

	Completed:  {CategoryCompletion, "Consultation completed", false},
	Cancelled:  {CategoryCompletion, "Appointment cancelled", false},
	CheckedOut: {CategoryCompletion, "Patient left the clinic", true},
}

// Lookup returns the catalog entry for t.
func Lookup(t EventType) (Info, bool) {
	info, ok := catalog[t]
	return info, ok
}

func (t EventType) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// External reports whether t may be recorded through the public events
// endpoint.
func (t EventType) External() bool {
	return catalog[t].External
}

func (t EventType) Description() string {
	if info, ok := catalog[t]; ok {
		return info.Description
	}
	return string(t)
}

// Types lists every known kind.
func Types() []EventType {
	out := make([]EventType, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	return out
}
