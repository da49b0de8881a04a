package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"caresms/internal/errors"
	"caresms/pkg/fhir"
	"caresms/pkg/twilio"
)

// fakeFHIR is an in-memory clinical store.
type fakeFHIR struct {
	mu sync.Mutex

	patients map[string]*fhir.Patient

	communications map[string]*fhir.Communication
	nextCommID     int
	createCommErr  error
	updateStatErr  error
	updateStatHook func()

	dueRequests     []*fhir.CommunicationRequest
	searchErr       error
	updatedRequests map[string]*fhir.CommunicationRequest

	findPatientErr error
	getPatientErr  error

	findPatientCalls int
	getPatientCalls  int
}

func newFakeFHIR() *fakeFHIR {
	return &fakeFHIR{
		patients:        make(map[string]*fhir.Patient),
		communications:  make(map[string]*fhir.Communication),
		updatedRequests: make(map[string]*fhir.CommunicationRequest),
	}
}

func (f *fakeFHIR) addPatient(id, smsPhone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patients[id] = &fhir.Patient{
		ResourceType: "Patient",
		ID:           id,
		Telecom:      []fhir.ContactPoint{{System: "sms", Value: smsPhone}},
	}
}

func (f *fakeFHIR) CreateCommunication(ctx context.Context, comm *fhir.Communication) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCommErr != nil {
		return "", f.createCommErr
	}
	f.nextCommID++
	id := fmt.Sprintf("comm-%d", f.nextCommID)
	saved := *comm
	saved.ID = id
	f.communications[id] = &saved
	return id, nil
}

func (f *fakeFHIR) UpdateCommunicationStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	hook := f.updateStatHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateStatErr != nil {
		return f.updateStatErr
	}
	comm, ok := f.communications[id]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "Communication not found")
	}
	comm.Status = status
	return nil
}

func (f *fakeFHIR) GetCommunicationRequest(ctx context.Context, id string) (*fhir.CommunicationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cr := range f.dueRequests {
		if cr.ID == id {
			return cr, nil
		}
	}
	return nil, errors.New(errors.ErrCodeNotFound, "CommunicationRequest not found")
}

func (f *fakeFHIR) UpdateCommunicationRequest(ctx context.Context, cr *fhir.CommunicationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *cr
	f.updatedRequests[cr.ID] = &saved
	return nil
}

func (f *fakeFHIR) SearchDueCommunicationRequests(ctx context.Context, now time.Time) ([]*fhir.CommunicationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.dueRequests, nil
}

func (f *fakeFHIR) FindPatientByPhone(ctx context.Context, phone string) (*fhir.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findPatientCalls++
	if f.findPatientErr != nil {
		return nil, f.findPatientErr
	}
	for _, p := range f.patients {
		for _, t := range p.Telecom {
			if t.System == "sms" && telecomValue(t.Value) == phone {
				return p, nil
			}
		}
	}
	return nil, errors.New(errors.ErrCodeNotFound, "no patient with this phone number")
}

func (f *fakeFHIR) GetPatient(ctx context.Context, id string) (*fhir.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPatientCalls++
	if f.getPatientErr != nil {
		return nil, f.getPatientErr
	}
	p, ok := f.patients[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "Patient not found")
	}
	return p, nil
}

// communicationsByCategory returns stored communications carrying the given
// category code.
func (f *fakeFHIR) communicationsByCategory(code string) []*fhir.Communication {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fhir.Communication
	for _, comm := range f.communications {
		if hasCategory(comm.Category, code) {
			out = append(out, comm)
		}
	}
	return out
}

func (f *fakeFHIR) communication(id string) *fhir.Communication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.communications[id]
}

func telecomValue(v string) string {
	if len(v) > 2 && v[:2] == "+1" {
		return v[2:]
	}
	if len(v) > 1 && v[0] == '+' {
		return v[1:]
	}
	return v
}

type sentMessage struct {
	To   string
	Body string
}

// fakeSMS is an in-memory SMS provider.
type fakeSMS struct {
	mu sync.Mutex

	sent     []sentMessage
	nextSID  int
	sendErr  error
	statuses map[string]string
	getErr   error
}

func newFakeSMS() *fakeSMS {
	return &fakeSMS{statuses: make(map[string]string)}
}

func (f *fakeSMS) SendMessage(ctx context.Context, to, body string) (*twilio.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextSID++
	sid := fmt.Sprintf("SM%08d", f.nextSID)
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	f.statuses[sid] = twilio.StatusQueued
	return &twilio.Message{SID: sid, To: to, Body: body, Status: twilio.StatusQueued}, nil
}

func (f *fakeSMS) GetMessage(ctx context.Context, sid string) (*twilio.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	status, ok := f.statuses[sid]
	if !ok {
		return nil, errors.NewTransportError("fetch", 404, fmt.Errorf("message %s not found", sid))
	}
	return &twilio.Message{SID: sid, Status: status}, nil
}

func (f *fakeSMS) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSMS) setStatus(sid, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sid] = status
}
