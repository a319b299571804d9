package mapping

import (
	"encoding/json"

	"github.com/c360/skybridge/errors"
)

// ProjectMapping records which engine project backs a domain project.
type ProjectMapping struct {
	ProjectID int    `json:"project_id"`
	Key       string `json:"key"`
}

// JobMapping records which engine task backs a mission's processing
// job, along with the engine project it lives under.
type JobMapping struct {
	ProjectID int    `json:"project_id"`
	TaskID    string `json:"task_id"`
	Key       string `json:"key"`
}

func encodeMapping(v any, component string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, component, "encode", "marshal mapping document")
	}
	return data, nil
}

func decodeProjectMapping(data []byte) (ProjectMapping, error) {
	var m ProjectMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return ProjectMapping{}, errors.WrapInvalid(
			errors.ErrParsingFailed, "ProjectMapping", "decode", "unmarshal stored document")
	}
	return m, nil
}

func decodeJobMapping(data []byte) (JobMapping, error) {
	var m JobMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return JobMapping{}, errors.WrapInvalid(
			errors.ErrParsingFailed, "JobMapping", "decode", "unmarshal stored document")
	}
	return m, nil
}
