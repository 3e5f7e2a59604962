package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/inference"
	"github.com/harun/parley/pkg/models"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "parley.chat"

// AssistantAuthor is the author recorded for model replies.
const AssistantAuthor = "assistant"

// Persister stores transcript records. Implementations must not block for
// long and must swallow their own failures.
type Persister interface {
	Persist(ctx context.Context, author, content string)
}

// Config wires an orchestrator to its collaborators
type Config struct {
	Session *session.Session
	Client  inference.Client
	Catalog *models.Catalog

	// DefaultModel is the initially selected label; the first catalog entry when empty.
	DefaultModel string

	// Persister receives every recorded message; nil disables persistence.
	Persister Persister

	// Queue serializes turns; a private queue is created when nil.
	Queue *commandqueue.CommandQueue

	// QueueWarnAfter logs a turn still waiting for its session lane after
	// this long. Zero uses DefaultQueueWarnAfter.
	QueueWarnAfter time.Duration

	// Temperature is sent unchanged, zero included; nil uses inference.DefaultTemperature.
	Temperature *float64
	MaxTokens   int
}

// DefaultQueueWarnAfter is how long a turn may wait behind another before it is logged.
const DefaultQueueWarnAfter = 5 * time.Second

// TurnResult describes a completed turn
type TurnResult struct {
	TurnID      string
	Model       models.Model
	UserMessage session.Message
	// Reply is nil when the model returned no text.
	Reply     *session.Message
	Fragments int
	Duration  time.Duration
}

// Orchestrator drives chat turns for one session
type Orchestrator struct {
	session     *session.Session
	client      inference.Client
	catalog     *models.Catalog
	persister   Persister
	queue       *commandqueue.CommandQueue
	ownsQueue   bool
	temperature float64
	maxTokens   int
	warnAfter   time.Duration

	mu         sync.Mutex
	state      State
	selected   models.Model
	cancelTurn context.CancelFunc
	generation uint64
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("inference client is required")
	}
	if cfg.Session == nil {
		cfg.Session = session.New("")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = models.Default()
	}

	selected := cfg.Catalog.First()
	if cfg.DefaultModel != "" {
		m, ok := cfg.Catalog.Lookup(cfg.DefaultModel)
		if !ok {
			return nil, fmt.Errorf("default model: %w: %q", models.ErrUnknownModel, cfg.DefaultModel)
		}
		selected = m
	}

	o := &Orchestrator{
		session:     cfg.Session,
		client:      cfg.Client,
		catalog:     cfg.Catalog,
		persister:   cfg.Persister,
		queue:       cfg.Queue,
		temperature: inference.DefaultTemperature,
		maxTokens:   cfg.MaxTokens,
		warnAfter:   cfg.QueueWarnAfter,
		state:       Idle,
		selected:    selected,
	}
	if cfg.Temperature != nil {
		o.temperature = *cfg.Temperature
	}
	if o.warnAfter <= 0 {
		o.warnAfter = DefaultQueueWarnAfter
	}
	if o.maxTokens <= 0 {
		o.maxTokens = inference.DefaultMaxTokens
	}
	if o.queue == nil {
		o.queue = commandqueue.New()
		o.ownsQueue = true
	}

	return o, nil
}

// Session returns the session driven by this orchestrator
func (o *Orchestrator) Session() *session.Session {
	return o.session
}

// Catalog returns the model catalog
func (o *Orchestrator) Catalog() *models.Catalog {
	return o.catalog
}

// Provider returns the inference provider name
func (o *Orchestrator) Provider() string {
	return o.client.Provider()
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Ready marks the orchestrator as waiting for input when no turn is running.
func (o *Orchestrator) Ready() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Idle {
		o.state = AwaitingUserInput
	}
}

// SelectModel changes the model used by subsequent turns
func (o *Orchestrator) SelectModel(label string) error {
	m, ok := o.catalog.Lookup(label)
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownModel, label)
	}

	o.mu.Lock()
	o.selected = m
	o.mu.Unlock()

	log.Debug().Str("session_id", o.session.ID()).Str("model", m.Label).Msg("Model selected")
	return nil
}

// SelectedModel returns the currently selected model
func (o *Orchestrator) SelectedModel() models.Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}

// Abort cancels the in-flight turn, if any
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelTurn == nil {
		return false
	}
	o.cancelTurn()
	return true
}

// Clear aborts any in-flight turn, drops turns still waiting behind it and
// empties the session history
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	if o.cancelTurn != nil {
		o.cancelTurn()
	}
	if dropped := o.queue.ClearLane(commandqueue.SessionLane(o.session.ID())); dropped > 0 {
		log.Debug().Str("session_id", o.session.ID()).Int("dropped", dropped).Msg("Queued turns dropped")
	}
	o.session.Clear()
	o.state = Idle
}

// PendingWrites returns the transcript writes queued or running on the
// persist lane of the orchestrator's queue.
func (o *Orchestrator) PendingWrites() int {
	stats, ok := o.queue.GetStats()[commandqueue.LanePersist]
	if !ok {
		return 0
	}
	return stats["queued"] + stats["running"]
}

// Close releases the private queue, if one was created
func (o *Orchestrator) Close() error {
	o.Abort()
	if o.ownsQueue {
		return o.queue.Close()
	}
	return nil
}

// Submit runs one turn for text, streaming the reply to sink. Blank input
// returns ErrEmptyInput without any side effect. Turn failures are returned
// as *TurnError after sink.OnError has been called.
func (o *Orchestrator) Submit(ctx context.Context, text string, sink Sink) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = nopSink{}
	}

	ctx = tracing.NewTurnContext(ctx, o.session.ID())
	turnID := tracing.GetTurnID(ctx)

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	options := &commandqueue.TaskOptions{
		WarnAfterMs: int(o.warnAfter.Milliseconds()),
		OnWait: func(waitMs int64, queuePos int) {
			logger.Warn().Int64("wait_ms", waitMs).Int("queue_pos", queuePos).Msg("Turn waiting for the previous one")
		},
	}

	value, err := o.queue.EnqueueWithContext(ctx, commandqueue.SessionLane(o.session.ID()), func(taskCtx context.Context) (interface{}, error) {
		return o.runTurn(taskCtx, turnID, text, sink)
	}, options)
	if err != nil {
		var turnErr *TurnError
		if !errors.As(err, &turnErr) {
			// Rejected by the queue before the turn started.
			if errors.Is(err, commandqueue.ErrLaneCleared) {
				err = ErrAborted
			}
			err = &TurnError{TurnID: turnID, Err: err}
			sink.OnError(err)
		}
		return nil, err
	}

	return value.(*TurnResult), nil
}

func (o *Orchestrator) runTurn(ctx context.Context, turnID, text string, sink Sink) (*TurnResult, error) {
	start := time.Now()
	provider := o.client.Provider()

	o.mu.Lock()
	model := o.selected
	generation := o.generation
	o.mu.Unlock()

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"chat.turn",
		attribute.String("model", model.Label),
		attribute.String("provider", provider),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("model", model.Label).
		Str("provider", provider).
		Logger()

	fail := func(status string, err error) (*TurnResult, error) {
		turnErr := &TurnError{TurnID: turnID, Model: model.Label, Err: err}
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, turnErr.Error())
		observability.RecordTurn(provider, status, time.Since(start))
		logger.Warn().Err(err).Str("status", status).Msg("Turn failed")
		sink.OnError(turnErr)
		o.finishTurn(Idle)
		return nil, turnErr
	}

	modelID, err := o.catalog.Resolve(model.Label)
	if err != nil {
		return fail("invalid_model", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	userMsg, ok := o.record(generation, text, cancel)
	if !ok {
		return fail("aborted", ErrAborted)
	}
	o.persist(ctx, o.session.DisplayName(), text)

	req := inference.NewRequest(modelID, text)
	req.Temperature = o.temperature
	req.MaxTokens = o.maxTokens

	stream, err := o.client.StreamComplete(turnCtx, req)
	if err != nil {
		return fail(o.abortCause(ctx, turnCtx, err))
	}
	defer stream.Close()

	o.setState(StreamingResponse)

	var acc strings.Builder
	fragments := 0
	for stream.Next() {
		fragment := stream.Fragment()
		if fragment == "" {
			continue
		}
		acc.WriteString(fragment)
		fragments++
		sink.OnFragment(fragment)
	}
	if err := stream.Err(); err != nil {
		return fail(o.abortCause(ctx, turnCtx, err))
	}

	result := &TurnResult{
		TurnID:      turnID,
		Model:       model,
		UserMessage: userMsg,
		Fragments:   fragments,
	}

	reply := acc.String()
	replyMsg, ok := o.commit(generation, turnCtx, reply)
	if !ok {
		return fail(o.abortCause(ctx, turnCtx, ErrAborted))
	}
	if replyMsg == nil {
		logger.Info().Msg("Model returned an empty reply")
		o.finishTurn(Idle)
		result.Duration = time.Since(start)
		observability.RecordTurn(provider, "empty", result.Duration)
		return result, nil
	}
	o.persist(ctx, AssistantAuthor, reply)
	o.finishTurn(Idle)

	result.Reply = replyMsg
	result.Duration = time.Since(start)
	observability.RecordTurn(provider, "ok", result.Duration)
	logger.Debug().
		Int("fragments", fragments).
		Int("chars", len(reply)).
		Dur("duration", result.Duration).
		Msg("Turn completed")

	return result, nil
}

// record appends the user message unless the session was cleared since the
// turn began. cancel becomes the turn's abort hook.
func (o *Orchestrator) record(generation uint64, content string, cancel context.CancelFunc) (session.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != generation {
		return session.Message{}, false
	}
	msg := o.session.Append(session.RoleUser, content)
	o.cancelTurn = cancel
	o.state = UserMessageRecorded
	return msg, true
}

// commit ends the abortable part of a turn. It fails once Abort or Clear has
// reached the turn, otherwise it appends a non-empty reply and detaches the
// abort hook in the same critical section. The returned message is nil for
// an empty reply.
func (o *Orchestrator) commit(generation uint64, turnCtx context.Context, reply string) (*session.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != generation || turnCtx.Err() != nil {
		return nil, false
	}
	o.cancelTurn = nil
	if reply == "" {
		return nil, true
	}
	msg := o.session.Append(session.RoleAssistant, reply)
	o.state = ResponseRecorded
	return &msg, true
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) finishTurn(s State) {
	o.mu.Lock()
	o.cancelTurn = nil
	o.state = s
	o.mu.Unlock()
}

// abortCause distinguishes an Abort/Clear from caller cancellation and provider errors.
func (o *Orchestrator) abortCause(callerCtx, turnCtx context.Context, err error) (string, error) {
	if turnCtx.Err() != nil {
		if callerCtx.Err() != nil {
			return "cancelled", callerCtx.Err()
		}
		return "aborted", ErrAborted
	}
	return "error", err
}

func (o *Orchestrator) persist(ctx context.Context, author, content string) {
	if o.persister == nil {
		return
	}
	o.persister.Persist(ctx, author, content)
}
