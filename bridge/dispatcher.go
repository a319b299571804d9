package bridge

import (
	"context"

	"github.com/c360/skybridge/errors"
)

// Bus is the event transport the dispatcher subscribes on. It is
// satisfied by natsclient.Client.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
	Unsubscribe() error
}

// Authenticator is the engine session the dispatcher establishes
// before subscribing. It is satisfied by odm.Client.
type Authenticator interface {
	Login(ctx context.Context) error
}

// ProjectHandler consumes project-create events.
type ProjectHandler interface {
	HandleProjectCreate(ctx context.Context, evt ProjectCreateEvent) error
}

// MissionHandler consumes mission-create events.
type MissionHandler interface {
	HandleMissionCreate(ctx context.Context, evt MissionCreateEvent) error
}

// AssetHandler consumes asset-uploaded events.
type AssetHandler interface {
	HandleAssetUploaded(ctx context.Context, evt AssetUploadedEvent) error
}

// Channels names the subjects the dispatcher listens on and the
// prefix under which failed events are republished. An empty
// DeadLetterPrefix disables dead-lettering; transient failures are
// then dropped like the rest.
type Channels struct {
	ProjectCreate    string
	MissionCreate    string
	AssetUploaded    string
	DeadLetterPrefix string
}

// Validate checks that all subscription subjects are set.
func (c Channels) Validate() error {
	if c.ProjectCreate == "" || c.MissionCreate == "" || c.AssetUploaded == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Channels", "Validate", "all three subjects are required")
	}
	return nil
}

// Outcome is the terminal state of one message's dispatch.
type Outcome int

const (
	// OutcomeProcessed means the handler completed.
	OutcomeProcessed Outcome = iota
	// OutcomeDropped means the message was discarded: it failed
	// decoding, or its handler failed with a non-recoverable class.
	OutcomeDropped
	// OutcomeDeadLettered means the handler failed with a transient
	// class and the original payload was republished for later replay.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDeadLettered:
		return "dead-lettered"
	default:
		return "unknown"
	}
}

// Dispatcher owns the subscription loop. Every message terminates in
// an Outcome: nothing below the dispatch boundary crashes the
// process, and nothing above it retries.
type Dispatcher struct {
	bus      Bus
	engine   Authenticator
	projects ProjectHandler
	missions MissionHandler
	assets   AssetHandler
	channels Channels
	logger   Logger
	metrics  *Metrics
}

// NewDispatcher wires the dispatcher. All collaborators are injected;
// nothing is constructed or connected here.
func NewDispatcher(
	bus Bus,
	engine Authenticator,
	projects ProjectHandler,
	missions MissionHandler,
	assets AssetHandler,
	channels Channels,
	logger Logger,
	metrics *Metrics,
) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Dispatcher", "NewDispatcher", "bus is required")
	}
	if engine == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Dispatcher", "NewDispatcher", "engine is required")
	}
	if projects == nil || missions == nil || assets == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Dispatcher", "NewDispatcher", "all three handlers are required")
	}
	if err := channels.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger{}
	}

	return &Dispatcher{
		bus:      bus,
		engine:   engine,
		projects: projects,
		missions: missions,
		assets:   assets,
		channels: channels,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Start authenticates with the engine and subscribes to the three
// event channels. An authentication failure is fatal: there is no
// useful degraded mode without an engine session.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.engine.Login(ctx); err != nil {
		return errors.WrapFatal(err, "Dispatcher", "Start", "authenticate with processing engine")
	}

	subscriptions := []struct {
		subject string
		handler func(context.Context, []byte)
	}{
		{d.channels.ProjectCreate, func(ctx context.Context, raw []byte) {
			d.DispatchProjectCreate(ctx, raw)
		}},
		{d.channels.MissionCreate, func(ctx context.Context, raw []byte) {
			d.DispatchMissionCreate(ctx, raw)
		}},
		{d.channels.AssetUploaded, func(ctx context.Context, raw []byte) {
			d.DispatchAssetUploaded(ctx, raw)
		}},
	}

	for _, sub := range subscriptions {
		if err := d.bus.Subscribe(ctx, sub.subject, sub.handler); err != nil {
			return errors.Wrap(err, "Dispatcher", "Start", "subscribe to "+sub.subject)
		}
		d.logger.Printf("subscribed to %s", sub.subject)
	}

	return nil
}

// Stop detaches the dispatcher from the bus. In-flight handlers run
// to completion; no new messages are delivered.
func (d *Dispatcher) Stop() error {
	return d.bus.Unsubscribe()
}

// DispatchProjectCreate routes one project_create payload.
func (d *Dispatcher) DispatchProjectCreate(ctx context.Context, raw []byte) Outcome {
	return dispatch(d, ctx, d.channels.ProjectCreate, raw, ParseProjectCreate, d.projects.HandleProjectCreate)
}

// DispatchMissionCreate routes one mission_create payload.
func (d *Dispatcher) DispatchMissionCreate(ctx context.Context, raw []byte) Outcome {
	return dispatch(d, ctx, d.channels.MissionCreate, raw, ParseMissionCreate, d.missions.HandleMissionCreate)
}

// DispatchAssetUploaded routes one mission_asset_uploaded payload.
func (d *Dispatcher) DispatchAssetUploaded(ctx context.Context, raw []byte) Outcome {
	return dispatch(d, ctx, d.channels.AssetUploaded, raw, ParseAssetUploaded, d.assets.HandleAssetUploaded)
}

// dispatch is the per-message boundary: decode, handle, classify.
func dispatch[E any](
	d *Dispatcher,
	ctx context.Context,
	channel string,
	raw []byte,
	parse func([]byte) (E, error),
	handle func(context.Context, E) error,
) (outcome Outcome) {
	// A panicking handler must not take down the subscription goroutine
	// or the process; the message is logged and dropped.
	defer func() {
		if r := recover(); r != nil {
			d.metrics.recordHandlerFailure(channel, "panic")
			d.logger.Errorf("recovered handler panic on %s: %v (payload: %s)", channel, r, raw)
			outcome = OutcomeDropped
		}
	}()

	d.metrics.recordReceived(channel)

	evt, err := parse(raw)
	if err != nil {
		d.metrics.recordInvalid(channel)
		d.logger.Errorf("dropping undecodable message on %s: %v (payload: %s)", channel, err, raw)
		return OutcomeDropped
	}

	if err := handle(ctx, evt); err != nil {
		return d.finish(ctx, channel, raw, err)
	}

	return OutcomeProcessed
}

// finish converts a handler error into a terminal outcome. Transient
// failures are republished under the dead-letter prefix with the
// original payload; invalid and fatal failures are logged and
// dropped. A fatal handler error never terminates the process, only
// a failed Start does.
func (d *Dispatcher) finish(ctx context.Context, channel string, raw []byte, err error) Outcome {
	class := errors.Classify(err)
	d.metrics.recordHandlerFailure(channel, class.String())

	if class == errors.ErrorTransient && d.channels.DeadLetterPrefix != "" {
		subject := d.channels.DeadLetterPrefix + "." + channel
		if pubErr := d.bus.Publish(ctx, subject, raw); pubErr != nil {
			d.logger.Errorf("dead-letter publish to %s failed: %v; dropping %s message: %v (payload: %s)",
				subject, pubErr, channel, err, raw)
			return OutcomeDropped
		}
		d.metrics.recordDeadLettered(channel)
		d.logger.Errorf("handler failed on %s, dead-lettered to %s: %v", channel, subject, err)
		return OutcomeDeadLettered
	}

	d.logger.Errorf("dropping %s message after %s handler error: %v (payload: %s)", channel, class, err, raw)
	return OutcomeDropped
}
