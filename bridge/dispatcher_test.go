package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skybridge/errors"
)

func newTestDispatcher(t *testing.T, bus *fakeBus, engine *fakeEngine) (*Dispatcher, *fakeMapper) {
	t.Helper()

	mapper := newFakeMapper()
	submitter, err := NewJobSubmitter(mapper, engine, nil, nil)
	require.NoError(t, err)
	relay, err := NewAssetRelay(mapper, &fakeSigner{base: "http://blob.invalid"}, engine, time.Minute, nil, nil)
	require.NoError(t, err)

	dispatcher, err := NewDispatcher(bus, engine, submitter, submitter, relay, testChannels(), nil, nil)
	require.NoError(t, err)

	return dispatcher, mapper
}

func TestStartLoginFailureIsFatal(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{
		loginErr: errors.WrapFatal(errors.ErrAuthFailed, "Client", "Login", "authenticate"),
	}
	dispatcher, _ := newTestDispatcher(t, bus, engine)

	err := dispatcher.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, bus.handlers, "no subscription may be made without an engine session")
}

func TestStartSubscribesAllChannels(t *testing.T) {
	bus := newFakeBus()
	dispatcher, _ := newTestDispatcher(t, bus, &fakeEngine{})

	require.NoError(t, dispatcher.Start(context.Background()))
	assert.Len(t, bus.handlers, 3)
	assert.Contains(t, bus.handlers, "project_create")
	assert.Contains(t, bus.handlers, "mission_create")
	assert.Contains(t, bus.handlers, "mission_asset_uploaded")

	require.NoError(t, dispatcher.Stop())
	assert.True(t, bus.unsubscribed)
}

func TestDispatchMalformedThenValid(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{}
	dispatcher, mapper := newTestDispatcher(t, bus, engine)

	ctx := context.Background()

	outcome := dispatcher.DispatchMissionCreate(ctx, []byte("}}} not json"))
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, bus.publishes, "undecodable messages are dropped, not dead-lettered")

	// The loop survives: the next valid message is still processed.
	outcome = dispatcher.DispatchMissionCreate(ctx, []byte(`{
		"organization": "acme", "project": "p1", "mission": "m1",
		"data": {"name": "Flight 1", "metadata": {}}
	}`))
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Len(t, engine.tasks, 1)

	_, ok := mapper.CachedJob(missionEvent("acme", "p1", "m1").Key())
	assert.True(t, ok)
}

func TestDispatchTransientFailureDeadLetters(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{
		taskErr: errors.WrapTransient(errors.ErrNoConnection, "Client", "CreateTask", "init task"),
	}
	dispatcher, _ := newTestDispatcher(t, bus, engine)

	payload := []byte(`{
		"organization": "acme", "project": "p1", "mission": "m1",
		"data": {"name": "Flight 1", "metadata": {}}
	}`)
	outcome := dispatcher.DispatchMissionCreate(context.Background(), payload)
	assert.Equal(t, OutcomeDeadLettered, outcome)

	require.Len(t, bus.publishes, 1)
	assert.Equal(t, "skybridge.deadletter.mission_create", bus.publishes[0].subject)
	assert.Equal(t, payload, bus.publishes[0].data, "the original payload is preserved for replay")
}

func TestDispatchInvalidFailureDrops(t *testing.T) {
	// An asset for a mission with no job is an ordering violation:
	// invalid class, dropped, never dead-lettered, never uploaded.
	bus := newFakeBus()
	engine := &fakeEngine{}
	dispatcher, _ := newTestDispatcher(t, bus, engine)

	outcome := dispatcher.DispatchAssetUploaded(context.Background(), []byte(`{
		"organization": "acme", "project": "p1", "mission": "m1",
		"asset": {"path": "acme/p1/m1/DJI_0042.JPG", "name": "DJI_0042.JPG"}
	}`))
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, bus.publishes)
	assert.Empty(t, engine.uploads)
}

func TestDispatchWithoutDeadLetterPrefixDrops(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{
		taskErr: errors.WrapTransient(errors.ErrNoConnection, "Client", "CreateTask", "init task"),
	}

	mapper := newFakeMapper()
	submitter, err := NewJobSubmitter(mapper, engine, nil, nil)
	require.NoError(t, err)
	relay, err := NewAssetRelay(mapper, &fakeSigner{base: "http://blob.invalid"}, engine, time.Minute, nil, nil)
	require.NoError(t, err)

	channels := testChannels()
	channels.DeadLetterPrefix = ""
	dispatcher, err := NewDispatcher(bus, engine, submitter, submitter, relay, channels, nil, nil)
	require.NoError(t, err)

	outcome := dispatcher.DispatchMissionCreate(context.Background(), []byte(`{
		"organization": "acme", "project": "p1", "mission": "m1",
		"data": {"name": "Flight 1", "metadata": {}}
	}`))
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, bus.publishes)
}

type panickingMissions struct{}

func (panickingMissions) HandleMissionCreate(context.Context, MissionCreateEvent) error {
	panic("mission handler blew up")
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{}

	mapper := newFakeMapper()
	submitter, err := NewJobSubmitter(mapper, engine, nil, nil)
	require.NoError(t, err)
	relay, err := NewAssetRelay(mapper, &fakeSigner{base: "http://blob.invalid"}, engine, time.Minute, nil, nil)
	require.NoError(t, err)

	dispatcher, err := NewDispatcher(bus, engine, submitter, panickingMissions{}, relay, testChannels(), nil, nil)
	require.NoError(t, err)

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = dispatcher.DispatchMissionCreate(context.Background(), []byte(`{
			"organization": "acme", "project": "p1", "mission": "m1",
			"data": {"name": "Flight 1", "metadata": {}}
		}`))
	})
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, bus.publishes, "a panicking handler drops the message, not dead-letters it")
}

func TestProjectCreateRoundTrip(t *testing.T) {
	bus := newFakeBus()
	engine := &fakeEngine{}
	dispatcher, mapper := newTestDispatcher(t, bus, engine)
	require.NoError(t, dispatcher.Start(context.Background()))

	// Deliver through the bus handler the way the subscription would.
	bus.handlers["project_create"](context.Background(), []byte(`{
		"organization": "acme", "project": "p1",
		"data": {"name": "North Field Survey", "description": ""}
	}`))

	assert.Equal(t, []string{"North Field Survey"}, mapper.resolvedNames)
}

func TestChannelsValidate(t *testing.T) {
	assert.Error(t, Channels{ProjectCreate: "a", MissionCreate: "b"}.Validate())
	assert.NoError(t, testChannels().Validate())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", OutcomeProcessed.String())
	assert.Equal(t, "dropped", OutcomeDropped.String())
	assert.Equal(t, "dead-lettered", OutcomeDeadLettered.String())
}
