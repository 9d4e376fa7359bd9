package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bookkeeping keys the framework stamps into a job object when it
// re-publishes a failure. Producers should treat them as reserved.
const (
	keyID          = "id"
	keyFailedTries = "failed_tries"
)

// Job is the in-process envelope around one queued message. Payload holds
// the message's original JSON object; ID and FailedTries mirror the
// bookkeeping keys inside it. Handlers unmarshal Payload into their own
// event types and ignore the bookkeeping keys.
type Job struct {
	ID          string
	FailedTries int
	Payload     json.RawMessage
}

// jsonID tolerates string or numeric id values in job payloads.
type jsonID string

func (v *jsonID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = jsonID(s)
		return nil
	}
	*v = jsonID(bytes.TrimSpace(b))
	return nil
}

// DecodeJob parses a delivery into a Job. The body must be a JSON object.
func DecodeJob(body []byte) (Job, error) {
	var probe struct {
		ID          jsonID `json:"id"`
		FailedTries int    `json:"failed_tries"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return Job{}, fmt.Errorf("decode job payload: %w", err)
	}
	return Job{
		ID:          string(probe.ID),
		FailedTries: probe.FailedTries,
		Payload:     append(json.RawMessage(nil), body...),
	}, nil
}

// Unmarshal decodes the payload into a typed event struct.
func (j Job) Unmarshal(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return nil
}

// Fields returns the payload as an open string-keyed map with the envelope's
// current bookkeeping values stamped in. Quarantine records and re-published
// jobs are built from this form.
func (j Job) Fields() (map[string]any, error) {
	m := map[string]any{}
	if len(j.Payload) > 0 {
		if err := json.Unmarshal(j.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	if _, ok := m[keyID]; !ok && j.ID != "" {
		m[keyID] = j.ID
	}
	if j.FailedTries > 0 {
		m[keyFailedTries] = j.FailedTries
	}
	return m, nil
}

// Encode renders the wire form of the job: the payload object with the
// bookkeeping keys merged at the top level.
func (j Job) Encode() ([]byte, error) {
	m, err := j.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
