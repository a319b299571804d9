package bridge

import (
	"context"
	stderrors "errors"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/mapping"
)

// placeholderFileName is the zero-byte file uploaded during task
// creation. The engine's protocol rejects a fileless initialization,
// so every task starts with this stand-in; real imagery follows via
// the asset relay.
const placeholderFileName = "placeholder.txt"

// ResourceMapper resolves domain keys to engine resources. It is
// satisfied by mapping.Mapper.
type ResourceMapper interface {
	ResolveProject(ctx context.Context, key mapping.DomainKey, name string) (mapping.ProjectMapping, error)
	LookupJob(ctx context.Context, key mapping.DomainKey) (mapping.JobMapping, error)
	SaveJob(ctx context.Context, key mapping.DomainKey, projectID int, taskID string) (mapping.JobMapping, error)
	CachedJob(key mapping.DomainKey) (mapping.JobMapping, bool)
}

// TaskCreator creates processing tasks on the engine. It is satisfied
// by odm.Client.
type TaskCreator interface {
	CreateTask(ctx context.Context, projectID int, name, optionsJSON, placeholderName string, placeholder []byte) (string, error)
}

// Logger receives handler diagnostics.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// JobSubmitter turns mission lifecycle events into engine resources:
// projects for project-create events, processing tasks for
// mission-create events.
type JobSubmitter struct {
	mapper  ResourceMapper
	engine  TaskCreator
	logger  Logger
	metrics *Metrics
}

// NewJobSubmitter creates a submitter over the given mapper and engine.
func NewJobSubmitter(mapper ResourceMapper, engine TaskCreator, logger Logger, metrics *Metrics) (*JobSubmitter, error) {
	if mapper == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "JobSubmitter", "NewJobSubmitter", "mapper is required")
	}
	if engine == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "JobSubmitter", "NewJobSubmitter", "engine is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &JobSubmitter{
		mapper:  mapper,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// HandleProjectCreate resolves (and so lazily creates) the engine
// project for a new domain project, under its announced name.
func (s *JobSubmitter) HandleProjectCreate(ctx context.Context, evt ProjectCreateEvent) error {
	project, err := s.mapper.ResolveProject(ctx, evt.Key(), evt.Data.Name)
	if err != nil {
		return errors.Wrap(err, "JobSubmitter", "HandleProjectCreate", "resolve project for "+evt.Key().String())
	}

	s.logger.Printf("project %s mapped to engine project %d", evt.Key(), project.ProjectID)
	return nil
}

// HandleMissionCreate creates the processing task for a new mission.
// Redelivered events short-circuit on the existing job mapping, and a
// mission arriving before its project-create event heals itself by
// resolving the project lazily.
func (s *JobSubmitter) HandleMissionCreate(ctx context.Context, evt MissionCreateEvent) error {
	key := evt.Key()

	existing, err := s.mapper.LookupJob(ctx, key)
	switch {
	case err == nil:
		s.logger.Printf("mission %s already mapped to task %s, skipping", key, existing.TaskID)
		return nil
	case stderrors.Is(err, errors.ErrKeyNotFound):
		// no job yet, proceed
	default:
		return errors.Wrap(err, "JobSubmitter", "HandleMissionCreate", "check existing job for "+key.String())
	}

	project, err := s.mapper.ResolveProject(ctx, key, "")
	if err != nil {
		return errors.Wrap(err, "JobSubmitter", "HandleMissionCreate", "resolve project for "+key.String())
	}

	optionsJSON, err := EncodeOptions(BuildProcessingOptions(evt.Data.Metadata))
	if err != nil {
		return err
	}

	name := evt.Data.Name
	if name == "" {
		name = evt.Mission
	}

	taskID, err := s.engine.CreateTask(ctx, project.ProjectID, name, optionsJSON, placeholderFileName, []byte{})
	if err != nil {
		return errors.Wrap(err, "JobSubmitter", "HandleMissionCreate", "create task for "+key.String())
	}

	job, err := s.mapper.SaveJob(ctx, key, project.ProjectID, taskID)
	if err != nil {
		return errors.Wrap(err, "JobSubmitter", "HandleMissionCreate", "persist job mapping for "+key.String())
	}

	s.metrics.recordJobCreated()
	s.logger.Printf("mission %s mapped to engine project %d task %s", key, job.ProjectID, job.TaskID)
	return nil
}
