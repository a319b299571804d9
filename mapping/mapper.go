package mapping

import (
	"context"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/natsclient"
	"github.com/c360/skybridge/pkg/cache"
)

// Store is the durable key-value store the mapper persists to. It is
// satisfied by natsclient.KVStore.
type Store interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
}

// ProjectCreator creates projects on the processing engine. It is
// satisfied by odm.Client.
type ProjectCreator interface {
	CreateProject(ctx context.Context, name, description string) (int, error)
}

// Logger receives mapper diagnostics.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// Mapper resolves domain keys to engine resources. Reads go cache
// first, then the durable store; project resolution creates the
// engine resource when neither tier has it. All writes use
// set-if-absent so concurrent resolvers converge on one winner.
type Mapper struct {
	store    Store
	engine   ProjectCreator
	projects cache.Cache[ProjectMapping]
	jobs     cache.Cache[JobMapping]
	logger   Logger
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper) error

// WithProjectCache replaces the default project mapping cache.
func WithProjectCache(c cache.Cache[ProjectMapping]) MapperOption {
	return func(m *Mapper) error {
		if c == nil {
			return errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "WithProjectCache", "cache is nil")
		}
		m.projects = c
		return nil
	}
}

// WithJobCache replaces the default job mapping cache.
func WithJobCache(c cache.Cache[JobMapping]) MapperOption {
	return func(m *Mapper) error {
		if c == nil {
			return errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "WithJobCache", "cache is nil")
		}
		m.jobs = c
		return nil
	}
}

// WithLogger sets the mapper's logger.
func WithLogger(l Logger) MapperOption {
	return func(m *Mapper) error {
		if l == nil {
			return errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "WithLogger", "logger is nil")
		}
		m.logger = l
		return nil
	}
}

// NewMapper creates a Mapper over the given store and engine.
func NewMapper(store Store, engine ProjectCreator, opts ...MapperOption) (*Mapper, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "NewMapper", "store is required")
	}
	if engine == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "NewMapper", "engine is required")
	}

	projects, err := cache.New[ProjectMapping]()
	if err != nil {
		return nil, errors.Wrap(err, "Mapper", "NewMapper", "create project cache")
	}
	jobs, err := cache.New[JobMapping]()
	if err != nil {
		return nil, errors.Wrap(err, "Mapper", "NewMapper", "create job cache")
	}

	m := &Mapper{
		store:    store,
		engine:   engine,
		projects: projects,
		jobs:     jobs,
		logger:   nopLogger{},
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ResolveProject returns the engine project backing a domain project,
// creating it when no mapping exists yet. Resolution is idempotent:
// repeated calls for the same key return the same mapping. When name
// is empty the engine project is named after the key.
func (m *Mapper) ResolveProject(ctx context.Context, key DomainKey, name string) (ProjectMapping, error) {
	if err := key.Validate(); err != nil {
		return ProjectMapping{}, err
	}

	storeKey := key.ProjectKey()

	// The durable store is authoritative, so it is consulted before
	// the cache. The cache covers a durable write that raced with a
	// concurrent reader.
	entry, err := m.store.Get(ctx, storeKey)
	switch {
	case err == nil:
		stored, err := decodeProjectMapping(entry.Value)
		if err != nil {
			return ProjectMapping{}, err
		}
		m.cacheProject(storeKey, stored)
		return stored, nil
	case natsclient.IsKVNotFoundError(err):
		if cached, ok := m.projects.Get(storeKey); ok {
			return cached, nil
		}
	default:
		return ProjectMapping{}, errors.WrapTransient(err, "Mapper", "ResolveProject", "read mapping store")
	}

	if name == "" {
		name = key.ProjectName()
	}

	projectID, err := m.engine.CreateProject(ctx, name, "created by skybridge")
	if err != nil {
		return ProjectMapping{}, errors.Wrap(err, "Mapper", "ResolveProject", "create engine project")
	}

	created := ProjectMapping{ProjectID: projectID, Key: storeKey}
	data, err := encodeMapping(created, "Mapper")
	if err != nil {
		return ProjectMapping{}, err
	}

	if _, err := m.store.Create(ctx, storeKey, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			// Another resolver won the race. Adopt its mapping; the
			// project we just created is orphaned on the engine.
			m.logger.Printf("lost project mapping race for %s, orphaned engine project %d", storeKey, projectID)
			return m.readProject(ctx, storeKey)
		}
		return ProjectMapping{}, errors.WrapTransient(err, "Mapper", "ResolveProject", "persist mapping")
	}

	m.cacheProject(storeKey, created)
	return created, nil
}

// LookupJob returns the engine task backing a mission's processing
// job. Unlike ResolveProject it never creates: a missing mapping
// returns ErrNoJobForMission.
func (m *Mapper) LookupJob(ctx context.Context, key DomainKey) (JobMapping, error) {
	if err := key.Validate(); err != nil {
		return JobMapping{}, err
	}
	if key.Mission == "" {
		return JobMapping{}, errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "LookupJob", "mission is required")
	}

	storeKey := key.MissionKey()

	entry, err := m.store.Get(ctx, storeKey)
	switch {
	case err == nil:
		stored, err := decodeJobMapping(entry.Value)
		if err != nil {
			return JobMapping{}, err
		}
		m.cacheJob(storeKey, stored)
		return stored, nil
	case natsclient.IsKVNotFoundError(err):
		if cached, ok := m.jobs.Get(storeKey); ok {
			return cached, nil
		}
		return JobMapping{}, errors.WrapInvalid(errors.ErrKeyNotFound, "Mapper", "LookupJob", "no mapping for "+key.String())
	default:
		return JobMapping{}, errors.WrapTransient(err, "Mapper", "LookupJob", "read mapping store")
	}
}

// CachedJob returns the job mapping for a mission from the memory
// cache only. It never consults the durable store.
func (m *Mapper) CachedJob(key DomainKey) (JobMapping, bool) {
	if key.Mission == "" {
		return JobMapping{}, false
	}
	return m.jobs.Get(key.MissionKey())
}

// SaveJob persists the mapping from a mission to its engine task. When
// a mapping already exists the stored one wins and is returned, so
// duplicate submissions converge on a single job.
func (m *Mapper) SaveJob(ctx context.Context, key DomainKey, projectID int, taskID string) (JobMapping, error) {
	if err := key.Validate(); err != nil {
		return JobMapping{}, err
	}
	if key.Mission == "" {
		return JobMapping{}, errors.WrapInvalid(errors.ErrInvalidData, "Mapper", "SaveJob", "mission is required")
	}

	storeKey := key.MissionKey()
	created := JobMapping{ProjectID: projectID, TaskID: taskID, Key: storeKey}

	data, err := encodeMapping(created, "Mapper")
	if err != nil {
		return JobMapping{}, err
	}

	if _, err := m.store.Create(ctx, storeKey, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			m.logger.Printf("job mapping for %s already exists, keeping stored task", storeKey)
			return m.readJob(ctx, storeKey)
		}
		return JobMapping{}, errors.WrapTransient(err, "Mapper", "SaveJob", "persist mapping")
	}

	m.cacheJob(storeKey, created)
	return created, nil
}

func (m *Mapper) readProject(ctx context.Context, storeKey string) (ProjectMapping, error) {
	entry, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return ProjectMapping{}, errors.WrapTransient(err, "Mapper", "readProject", "re-read after conflict")
	}
	stored, err := decodeProjectMapping(entry.Value)
	if err != nil {
		return ProjectMapping{}, err
	}
	m.cacheProject(storeKey, stored)
	return stored, nil
}

func (m *Mapper) readJob(ctx context.Context, storeKey string) (JobMapping, error) {
	entry, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return JobMapping{}, errors.WrapTransient(err, "Mapper", "readJob", "re-read after conflict")
	}
	stored, err := decodeJobMapping(entry.Value)
	if err != nil {
		return JobMapping{}, err
	}
	m.cacheJob(storeKey, stored)
	return stored, nil
}

func (m *Mapper) cacheProject(storeKey string, mapping ProjectMapping) {
	if _, err := m.projects.Set(storeKey, mapping); err != nil {
		m.logger.Errorf("cache project mapping %s: %v", storeKey, err)
	}
}

func (m *Mapper) cacheJob(storeKey string, mapping JobMapping) {
	if _, err := m.jobs.Set(storeKey, mapping); err != nil {
		m.logger.Errorf("cache job mapping %s: %v", storeKey, err)
	}
}
