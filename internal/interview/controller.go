// Package interview runs the spoken interview dialogue on top of the
// turn-taking engine.
//
// The [Controller] is a finite state machine over [Phase] values:
//
//	Greeting → AwaitYesNo ─ decline/timeout ─────────────────────────────→ End
//	                      └ accept → SelfIntro → AwaitUtterance
//	                                → AskStrengths → AwaitUtterance → End
//
// Every transition into a speaking phase issues exactly one prompt; every
// await phase blocks on exactly one listening session. End always runs, also
// after an error, and releases the robot's motors.
package interview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/internal/turn"
	"github.com/MrWong99/interviewer/pkg/robot"
)

// Phase is a state of the interview dialogue.
type Phase string

const (
	PhaseGreeting       Phase = "greeting"
	PhaseAwaitYesNo     Phase = "await_yes_no"
	PhaseSelfIntro      Phase = "self_intro"
	PhaseAwaitUtterance Phase = "await_utterance"
	PhaseAskStrengths   Phase = "ask_strengths"
	PhaseEnd            Phase = "end"
)

// KeywordSession is a bounded closed-vocabulary listening session.
// [turn.KeywordListener] implements it.
type KeywordSession interface {
	Listen(ctx context.Context, targets []string) (word string, ok bool, err error)
}

// UtteranceSession listens until an open-ended answer is complete.
// [turn.SilenceDetector] implements it.
type UtteranceSession interface {
	Run(ctx context.Context) (turn.Outcome, error)
}

// Result describes a finished interview.
type Result struct {
	// Answer is the recognised yes/no word, or "" on timeout.
	Answer string

	// Accepted reports whether the interview went past the yes/no question.
	Accepted bool

	// Phases lists every phase entered, in order, ending with PhaseEnd.
	Phases []Phase

	// Prompts counts the prompts spoken, including the closing one.
	Prompts int

	// Utterances holds the outcome of every open-ended answer.
	Utterances []turn.Outcome

	// CorrelationID is the trace ID of the interview span, if tracing is on.
	CorrelationID string

	StartedAt time.Time
	EndedAt   time.Time

	// Err is the error that cut the interview short, if any.
	Err error
}

// Outcome returns a short label for metrics and storage:
// "accepted", "declined" or "error".
func (r *Result) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Accepted:
		return "accepted"
	default:
		return "declined"
	}
}

// defaultEndTimeout bounds the End phase, which runs detached from the
// caller's context so that a cancelled interview still says goodbye and rests.
const defaultEndTimeout = 30 * time.Second

// Controller drives one interview at a time. It is not safe for concurrent use.
type Controller struct {
	speech     robot.SpeechOutput
	motors     robot.MotorSystem
	recognizer robot.SpeechRecognizer
	keywords   KeywordSession
	utterances UtteranceSession
	script     Script

	language   string
	standSpeed float64
	endTimeout time.Duration
	metrics    *observe.Metrics
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLanguage sets the recognition language. Default: "English".
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithStandSpeed sets the posture speed fraction. Default: 0.5.
func WithStandSpeed(speed float64) Option {
	return func(c *Controller) { c.standSpeed = speed }
}

// WithEndTimeout bounds the End phase. Default: 30s.
func WithEndTimeout(d time.Duration) Option {
	return func(c *Controller) { c.endTimeout = d }
}

// WithMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController returns a controller speaking and moving through r and
// listening through keywords and utterances.
func NewController(r robot.Robot, keywords KeywordSession, utterances UtteranceSession, script Script, opts ...Option) *Controller {
	c := &Controller{
		speech:     r.Speech,
		motors:     r.Motors,
		recognizer: r.Recognizer,
		keywords:   keywords,
		utterances: utterances,
		script:     script,
		language:   "English",
		standSpeed: 0.5,
		endTimeout: defaultEndTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run conducts the interview and returns its result. The returned error is
// non-nil only when a collaborator failed or ctx was cancelled; declining,
// unrecognised answers and listener timeouts are normal outcomes. The result
// is never nil and always ends in PhaseEnd.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "interview")
	res := &Result{
		StartedAt:     time.Now(),
		CorrelationID: observe.CorrelationID(ctx),
	}

	err := c.converse(ctx, res)
	if err != nil {
		res.Err = err
		observe.Logger(ctx).Error("interview interrupted", "err", err, "phase", res.lastPhase())
	}
	c.end(ctx, res)
	res.EndedAt = time.Now()

	span.SetAttributes(
		attribute.String("interview.outcome", res.Outcome()),
		attribute.Int("interview.prompts", res.Prompts),
	)
	observe.EndSpan(span, err)
	c.metrics.RecordInterview(ctx, res.Outcome())
	return res, err
}

// converse runs every phase before End.
func (c *Controller) converse(ctx context.Context, res *Result) error {
	if err := c.prepare(ctx); err != nil {
		return err
	}

	if err := c.prompt(ctx, res, PhaseGreeting, c.script.Greeting); err != nil {
		return err
	}

	c.enter(ctx, res, PhaseAwaitYesNo)
	word, ok, err := c.keywords.Listen(ctx, c.script.Vocabulary())
	if err != nil {
		return fmt.Errorf("interview: await yes/no: %w", err)
	}
	res.Answer = word
	if !ok || !c.script.accepts(word) {
		observe.Logger(ctx).Info("interview declined", "answer", word, "recognised", ok)
		return nil
	}
	res.Accepted = true

	if err := c.prompt(ctx, res, PhaseSelfIntro, c.script.Welcome); err != nil {
		return err
	}
	if err := c.listen(ctx, res); err != nil {
		return err
	}

	if err := c.prompt(ctx, res, PhaseAskStrengths, c.script.Strengths); err != nil {
		return err
	}
	return c.listen(ctx, res)
}

// prepare wakes the robot and readies the recogniser for the yes/no question.
func (c *Controller) prepare(ctx context.Context) error {
	log := observe.Logger(ctx)
	log.Info("waking up")

	if err := c.motors.Wake(ctx); err != nil {
		return c.unavailable(ctx, "motors", "wake", err)
	}
	if err := c.motors.StandPosture(ctx, c.standSpeed); err != nil {
		return c.unavailable(ctx, "motors", "stand", err)
	}
	if err := c.recognizer.SetLanguage(ctx, c.language); err != nil {
		return c.unavailable(ctx, "recognizer", "set_language", err)
	}
	// A previous run may have left the recogniser subscribed.
	if err := c.recognizer.Unsubscribe(ctx, turn.SpeechTag); err != nil {
		log.Debug("no stale recognition subscription", "err", err)
	}
	if err := c.recognizer.SetVocabulary(ctx, c.script.Vocabulary()); err != nil {
		return c.unavailable(ctx, "recognizer", "set_vocabulary", err)
	}
	return nil
}

// prompt enters phase and speaks text.
func (c *Controller) prompt(ctx context.Context, res *Result, phase Phase, text string) error {
	c.enter(ctx, res, phase)
	res.Prompts++
	if err := c.speech.Say(ctx, text); err != nil {
		return c.unavailable(ctx, "speech", "say", err)
	}
	return nil
}

// listen enters AwaitUtterance and blocks until the answer is complete.
func (c *Controller) listen(ctx context.Context, res *Result) error {
	c.enter(ctx, res, PhaseAwaitUtterance)
	observe.Logger(ctx).Info("listening for answer")

	ctx, span := observe.StartSpan(ctx, "interview.utterance")
	out, err := c.utterances.Run(ctx)
	span.SetAttributes(
		attribute.Bool("utterance.spoke", out.Spoke),
		attribute.Int("utterance.pauses", out.Pauses),
	)
	observe.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("interview: await utterance: %w", err)
	}
	res.Utterances = append(res.Utterances, out)
	return nil
}

// end says goodbye and releases the motors. It runs on every path and does
// not inherit cancellation from ctx. Failures are logged only: the interview
// is over either way.
func (c *Controller) end(ctx context.Context, res *Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.endTimeout)
	defer cancel()
	log := observe.Logger(ctx)

	c.enter(ctx, res, PhaseEnd)
	res.Prompts++
	if err := c.speech.Say(ctx, c.script.Closing); err != nil {
		c.metrics.RecordCollaboratorError(ctx, "speech", "say")
		log.Warn("closing prompt failed", "err", err)
	}
	if err := c.motors.Rest(ctx); err != nil {
		c.metrics.RecordCollaboratorError(ctx, "motors", "rest")
		log.Warn("rest failed", "err", err)
	}
	if err := c.recognizer.Unsubscribe(ctx, turn.SpeechTag); err != nil {
		log.Debug("recognition unsubscribe at end", "err", err)
	}
	log.Info("interview ended", "outcome", res.Outcome(), "prompts", res.Prompts)
}

func (c *Controller) enter(ctx context.Context, res *Result, phase Phase) {
	res.Phases = append(res.Phases, phase)
	c.metrics.RecordPhase(ctx, string(phase))
	trace.SpanFromContext(ctx).AddEvent("phase", trace.WithAttributes(attribute.String("phase", string(phase))))
	observe.Logger(ctx).Debug("phase", "phase", phase)
}

func (c *Controller) unavailable(ctx context.Context, collaborator, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("interview: %s %s: %w", collaborator, op, ctx.Err())
	}
	c.metrics.RecordCollaboratorError(ctx, collaborator, op)
	if errors.Is(err, robot.ErrUnavailable) {
		return fmt.Errorf("interview: %s %s: %w", collaborator, op, err)
	}
	return fmt.Errorf("interview: %s %s: %w: %w", collaborator, op, robot.ErrUnavailable, err)
}

func (r *Result) lastPhase() Phase {
	if len(r.Phases) == 0 {
		return ""
	}
	return r.Phases[len(r.Phases)-1]
}
