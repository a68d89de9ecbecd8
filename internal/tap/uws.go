package tap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const uwsNamespace = "http://www.ivoa.net/xml/UWS/v1.0"

// Phase is a UWS job execution phase.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"
	PhaseUnknown   Phase = "UNKNOWN"
	PhaseHeld      Phase = "HELD"
	PhaseSuspended Phase = "SUSPENDED"
	PhaseArchived  Phase = "ARCHIVED"
)

// Failed reports whether the job reached a terminal phase without results.
func (p Phase) Failed() bool {
	return p == PhaseError || p == PhaseAborted
}

type uwsJob struct {
	XMLName      xml.Name         `xml:"http://www.ivoa.net/xml/UWS/v1.0 job"`
	JobID        string           `xml:"http://www.ivoa.net/xml/UWS/v1.0 jobId"`
	Phase        string           `xml:"http://www.ivoa.net/xml/UWS/v1.0 phase"`
	ErrorSummary *uwsErrorSummary `xml:"http://www.ivoa.net/xml/UWS/v1.0 errorSummary"`
}

type uwsErrorSummary struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"http://www.ivoa.net/xml/UWS/v1.0 message"`
}

type jobStatus struct {
	ID           string
	Phase        Phase
	ErrorMessage string
}

func parseJob(body []byte) (jobStatus, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return jobStatus{}, errors.New("empty UWS job document")
	}
	var job uwsJob
	if err := xml.Unmarshal(body, &job); err != nil {
		return jobStatus{}, fmt.Errorf("decode UWS job: %w", err)
	}
	phase := strings.ToUpper(strings.TrimSpace(job.Phase))
	if phase == "" {
		return jobStatus{}, fmt.Errorf("UWS job has no phase element in namespace %s", uwsNamespace)
	}
	st := jobStatus{ID: strings.TrimSpace(job.JobID), Phase: Phase(phase)}
	if job.ErrorSummary != nil {
		st.ErrorMessage = strings.TrimSpace(job.ErrorSummary.Message)
	}
	return st, nil
}
