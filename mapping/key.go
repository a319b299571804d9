// Package mapping maintains the durable association between domain
// identities (organization, project, mission) and the resources they
// own on the processing engine. Mappings are written once and never
// mutated; the in-process cache shadows the durable store.
package mapping

import (
	"fmt"

	"github.com/c360/skybridge/errors"
)

// DomainKey identifies a domain resource. Org and Project are always
// required; Mission is set only when addressing a mission-level
// resource.
type DomainKey struct {
	Org     string
	Project string
	Mission string
}

// Validate checks that the key's required components are present.
func (k DomainKey) Validate() error {
	if k.Org == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DomainKey", "Validate", "org is required")
	}
	if k.Project == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DomainKey", "Validate", "project is required")
	}
	return nil
}

// ProjectKey returns the store key for the engine project owned by
// this org/project pair.
func (k DomainKey) ProjectKey() string {
	return fmt.Sprintf("org.%s.project.%s.odm", k.Org, k.Project)
}

// MissionKey returns the store key for the engine task owned by this
// mission. Mission must be set.
func (k DomainKey) MissionKey() string {
	return fmt.Sprintf("org.%s.project.%s.mission.%s.odm", k.Org, k.Project, k.Mission)
}

// ProjectName is the human-readable name used when creating the
// engine-side project.
func (k DomainKey) ProjectName() string {
	return k.Org + "/" + k.Project
}

func (k DomainKey) String() string {
	if k.Mission != "" {
		return fmt.Sprintf("%s/%s/%s", k.Org, k.Project, k.Mission)
	}
	return fmt.Sprintf("%s/%s", k.Org, k.Project)
}
