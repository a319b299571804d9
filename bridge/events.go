// Package bridge connects domain lifecycle events to the processing
// engine: it decodes and validates bus payloads, submits processing
// jobs for new missions, and relays uploaded imagery into those jobs.
package bridge

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/mapping"
)

// ProjectCreateEvent announces a new domain project.
type ProjectCreateEvent struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	Data         struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"data"`
}

// MissionMetadata carries the flight parameters a mission was planned
// with. All fields are optional; absent fields fall back to the
// documented defaults when processing options are built.
type MissionMetadata struct {
	GroundResolution *float64 `json:"ground_resolution,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	OverlapPercent   *float64 `json:"overlap_percent,omitempty"`
	SidelapPercent   *float64 `json:"sidelap_percent,omitempty"`
}

// MissionCreateEvent announces a new mission under a project.
type MissionCreateEvent struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	Mission      string `json:"mission"`
	Data         struct {
		Name     string          `json:"name"`
		Metadata MissionMetadata `json:"metadata"`
	} `json:"data"`
}

// AssetUploadedEvent announces an imagery asset landing in the blob
// store for a mission.
type AssetUploadedEvent struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	Mission      string `json:"mission"`
	Asset        struct {
		Path string `json:"path"`
		Name string `json:"name"`
	} `json:"asset"`
}

// Key returns the domain key addressed by the event.
func (e ProjectCreateEvent) Key() mapping.DomainKey {
	return mapping.DomainKey{Org: e.Organization, Project: e.Project}
}

func (e MissionCreateEvent) Key() mapping.DomainKey {
	return mapping.DomainKey{Org: e.Organization, Project: e.Project, Mission: e.Mission}
}

func (e AssetUploadedEvent) Key() mapping.DomainKey {
	return mapping.DomainKey{Org: e.Organization, Project: e.Project, Mission: e.Mission}
}

const projectCreateSchema = `{
	"type": "object",
	"required": ["organization", "project"],
	"properties": {
		"organization": {"type": "string", "minLength": 1},
		"project": {"type": "string", "minLength": 1},
		"data": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"description": {"type": "string"}
			}
		}
	}
}`

const missionCreateSchema = `{
	"type": "object",
	"required": ["organization", "project", "mission"],
	"properties": {
		"organization": {"type": "string", "minLength": 1},
		"project": {"type": "string", "minLength": 1},
		"mission": {"type": "string", "minLength": 1},
		"data": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"metadata": {
					"type": "object",
					"properties": {
						"ground_resolution": {"type": "number"},
						"altitude": {"type": "number"},
						"overlap_percent": {"type": "number"},
						"sidelap_percent": {"type": "number"}
					}
				}
			}
		}
	}
}`

const assetUploadedSchema = `{
	"type": "object",
	"required": ["organization", "project", "mission", "asset"],
	"properties": {
		"organization": {"type": "string", "minLength": 1},
		"project": {"type": "string", "minLength": 1},
		"mission": {"type": "string", "minLength": 1},
		"asset": {
			"type": "object",
			"required": ["path"],
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"name": {"type": "string"}
			}
		}
	}
}`

func mustCompileSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic("bridge: invalid event schema: " + err.Error())
	}
	return schema
}

var (
	projectCreateValidator = mustCompileSchema(projectCreateSchema)
	missionCreateValidator = mustCompileSchema(missionCreateSchema)
	assetUploadedValidator = mustCompileSchema(assetUploadedSchema)
)

// validateAndDecode checks raw against the channel's schema before
// unmarshaling, so unrecognized shapes fail here rather than in a
// handler reading zero-valued fields.
func validateAndDecode(raw []byte, schema *gojsonschema.Schema, out any, channel string) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "bridge", "decode", "parse "+channel+" payload")
	}
	if !result.Valid() {
		detail := ""
		for i, desc := range result.Errors() {
			if i > 0 {
				detail += "; "
			}
			detail += desc.String()
		}
		return errors.WrapInvalid(errors.ErrInvalidData, "bridge", "decode", channel+" payload rejected: "+detail)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "bridge", "decode", "unmarshal "+channel+" payload")
	}
	return nil
}

// ParseProjectCreate decodes a project_create payload.
func ParseProjectCreate(raw []byte) (ProjectCreateEvent, error) {
	var evt ProjectCreateEvent
	err := validateAndDecode(raw, projectCreateValidator, &evt, "project_create")
	return evt, err
}

// ParseMissionCreate decodes a mission_create payload.
func ParseMissionCreate(raw []byte) (MissionCreateEvent, error) {
	var evt MissionCreateEvent
	err := validateAndDecode(raw, missionCreateValidator, &evt, "mission_create")
	return evt, err
}

// ParseAssetUploaded decodes a mission_asset_uploaded payload.
func ParseAssetUploaded(raw []byte) (AssetUploadedEvent, error) {
	var evt AssetUploadedEvent
	err := validateAndDecode(raw, assetUploadedValidator, &evt, "mission_asset_uploaded")
	return evt, err
}
