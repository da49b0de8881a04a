package fhir

import "encoding/json"

// Code systems and codes used on Communication resources written by the
// bridge. The communication-type category distinguishes auto-sent outbound
// messages, manual sends, received replies, and quarantined replies from
// senders with no subject on file.
const (
	SystemCommunicationType = "https://caresms.app/CodeSystem/communication-type"
	SystemParticipationMode = "http://terminology.hl7.org/ValueSet/v3-ParticipationMode"
	SystemMessageSID        = "http://caresms.app/sms-message-sid"
	ExtensionMessageStatus  = "http://caresms.app/sms-message-status"
	ExtensionSenderPhone    = "http://caresms.app/unresolved-sender-phone"

	CodeAutoSentMessage     = "auto-sent-message"
	CodeManualSentMessage   = "manually-sent-message"
	CodeReceivedMessage     = "received-message"
	CodeUnresolvedSender    = "unresolved-sender-message"
	CodeScheduledMessage    = "scheduled-message"
	MediumSMSWritten        = "SMSWRIT"
)

// Communication statuses used by the bridge
const (
	StatusInProgress     = "in-progress"
	StatusCompleted      = "completed"
	StatusNotDone        = "not-done"
	StatusEnteredInError = "entered-in-error"
	StatusActive         = "active"
)

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Extension struct {
	URL         string `json:"url"`
	ValueString string `json:"valueString,omitempty"`
	ValueCode   string `json:"valueCode,omitempty"`
}

type Identifier struct {
	System    string      `json:"system,omitempty"`
	Value     string      `json:"value,omitempty"`
	Extension []Extension `json:"extension,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type ContactPoint struct {
	System string  `json:"system,omitempty"`
	Value  string  `json:"value,omitempty"`
	Period *Period `json:"period,omitempty"`
}

type Payload struct {
	ContentString string `json:"contentString,omitempty"`
}

type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
}

// SMSPhone returns the patient's sms contact point, if any.
func (p *Patient) SMSPhone() (string, bool) {
	for _, t := range p.Telecom {
		if t.System == "sms" && t.Value != "" {
			return t.Value, true
		}
	}
	return "", false
}

type Communication struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Identifier   []Identifier      `json:"identifier,omitempty"`
	BasedOn      []Reference       `json:"basedOn,omitempty"`
	PartOf       []Reference       `json:"partOf,omitempty"`
	Status       string            `json:"status"`
	Category     []CodeableConcept `json:"category,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Medium       []CodeableConcept `json:"medium,omitempty"`
	Sent         string            `json:"sent,omitempty"`
	Received     string            `json:"received,omitempty"`
	Sender       *Reference        `json:"sender,omitempty"`
	Recipient    []Reference       `json:"recipient,omitempty"`
	Payload      []Payload         `json:"payload,omitempty"`
	Extension    []Extension       `json:"extension,omitempty"`
}

type CommunicationRequest struct {
	ResourceType       string            `json:"resourceType"`
	ID                 string            `json:"id,omitempty"`
	Identifier         []Identifier      `json:"identifier,omitempty"`
	BasedOn            []Reference       `json:"basedOn,omitempty"`
	Status             string            `json:"status"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Priority           string            `json:"priority,omitempty"`
	Medium             []CodeableConcept `json:"medium,omitempty"`
	Recipient          []Reference       `json:"recipient,omitempty"`
	Requester          *Reference        `json:"requester,omitempty"`
	Payload            []Payload         `json:"payload,omitempty"`
	OccurrenceDateTime string            `json:"occurrenceDateTime,omitempty"`
}

// MessageSID returns the provider message identifier already recorded on the
// request, if any. Its presence means the request was sent before.
func (cr *CommunicationRequest) MessageSID() (string, bool) {
	for _, id := range cr.Identifier {
		if id.System == SystemMessageSID && id.Value != "" {
			return id.Value, true
		}
	}
	return "", false
}

// BodyText returns the first payload content string.
func (cr *CommunicationRequest) BodyText() string {
	if len(cr.Payload) > 0 {
		return cr.Payload[0].ContentString
	}
	return ""
}

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	Resource json.RawMessage `json:"resource,omitempty"`
}
