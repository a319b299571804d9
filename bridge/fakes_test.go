package bridge

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/mapping"
)

// fakeMapper is an in-memory ResourceMapper/JobCache double.
type fakeMapper struct {
	mu            sync.Mutex
	projects      map[string]mapping.ProjectMapping
	jobs          map[string]mapping.JobMapping
	nextProjectID int
	resolvedNames []string
}

func newFakeMapper() *fakeMapper {
	return &fakeMapper{
		projects: map[string]mapping.ProjectMapping{},
		jobs:     map[string]mapping.JobMapping{},
	}
}

func (m *fakeMapper) ResolveProject(_ context.Context, key mapping.DomainKey, name string) (mapping.ProjectMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.projects[key.ProjectKey()]; ok {
		return existing, nil
	}
	if name == "" {
		name = key.ProjectName()
	}
	m.nextProjectID++
	m.resolvedNames = append(m.resolvedNames, name)
	created := mapping.ProjectMapping{ProjectID: m.nextProjectID, Key: key.ProjectKey()}
	m.projects[key.ProjectKey()] = created
	return created, nil
}

func (m *fakeMapper) LookupJob(_ context.Context, key mapping.DomainKey) (mapping.JobMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[key.MissionKey()]; ok {
		return job, nil
	}
	return mapping.JobMapping{}, errors.WrapInvalid(errors.ErrKeyNotFound, "fakeMapper", "LookupJob", "no mapping")
}

func (m *fakeMapper) SaveJob(_ context.Context, key mapping.DomainKey, projectID int, taskID string) (mapping.JobMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := mapping.JobMapping{ProjectID: projectID, TaskID: taskID, Key: key.MissionKey()}
	m.jobs[key.MissionKey()] = job
	return job, nil
}

func (m *fakeMapper) CachedJob(key mapping.DomainKey) (mapping.JobMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[key.MissionKey()]
	return job, ok
}

type createdTask struct {
	projectID   int
	name        string
	optionsJSON string
	placeholder string
}

type uploadedImage struct {
	projectID int
	taskID    string
	filename  string
	data      []byte
}

// fakeEngine is a TaskCreator/ImageUploader/Authenticator double.
type fakeEngine struct {
	mu       sync.Mutex
	tasks    []createdTask
	uploads  []uploadedImage
	loginErr error
	taskErr  error
}

func (e *fakeEngine) Login(context.Context) error {
	return e.loginErr
}

func (e *fakeEngine) CreateTask(_ context.Context, projectID int, name, optionsJSON, placeholderName string, _ []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.taskErr != nil {
		return "", e.taskErr
	}
	e.tasks = append(e.tasks, createdTask{projectID, name, optionsJSON, placeholderName})
	return fmt.Sprintf("task-%d", len(e.tasks)), nil
}

func (e *fakeEngine) UploadImage(_ context.Context, projectID int, taskID, filename string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uploads = append(e.uploads, uploadedImage{projectID, taskID, filename, data})
	return nil
}

// fakeSigner rewrites asset paths onto a test server base URL.
type fakeSigner struct {
	base string
	err  error
}

func (s *fakeSigner) PresignedGet(_ context.Context, objectPath string, _ time.Duration) (*url.URL, error) {
	if s.err != nil {
		return nil, s.err
	}
	return url.Parse(s.base + "/" + objectPath)
}

type published struct {
	subject string
	data    []byte
}

// fakeBus records subscriptions and publishes.
type fakeBus struct {
	mu           sync.Mutex
	handlers     map[string]func(context.Context, []byte)
	publishes    []published
	unsubscribed bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]func(context.Context, []byte){}}
}

func (b *fakeBus) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return nil
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishes = append(b.publishes, published{subject, data})
	return nil
}

func (b *fakeBus) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = true
	b.handlers = map[string]func(context.Context, []byte){}
	return nil
}

func testChannels() Channels {
	return Channels{
		ProjectCreate:    "project_create",
		MissionCreate:    "mission_create",
		AssetUploaded:    "mission_asset_uploaded",
		DeadLetterPrefix: "skybridge.deadletter",
	}
}
