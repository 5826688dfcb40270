package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/answer"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/escalation"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/flow"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
)

const testParticipant = "+573001112233"

// fakeAnswer is a scripted answer engine.
type fakeAnswer struct {
	reply    answer.Reply
	err      error
	calls    int
	lastText string
}

func (f *fakeAnswer) Answer(ctx context.Context, participantID, text string) (answer.Reply, error) {
	f.calls++
	f.lastText = text
	return f.reply, f.err
}

type testEnv struct {
	pipeline *Pipeline
	store    *store.InMemoryStore
	gate     *schedule.Gate
	answerer *fakeAnswer
	nextID   int
}

// process runs one inbound message with a unique transport id.
func (e *testEnv) process(t *testing.T, text string) string {
	t.Helper()
	e.nextID++
	out, err := e.pipeline.Process(context.Background(), testParticipant, text,
		models.InboundMeta{MessageID: fmt.Sprintf("wamid.%d", e.nextID), Channel: "test"})
	if err != nil {
		t.Fatalf("Process(%q) failed: %v", text, err)
	}
	return out
}

// conversation loads the participant's conversation and fails the test if absent.
func (e *testEnv) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := e.pipeline.Conversation(testParticipant)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if conv == nil {
		t.Fatal("expected a conversation")
	}
	return conv
}

// inboundCount counts persisted inbound records for the participant.
func (e *testEnv) inboundCount(t *testing.T) int {
	t.Helper()
	msgs, err := e.store.GetMessages(testParticipant, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	n := 0
	for _, m := range msgs {
		if m.Direction == models.DirectionIn {
			n++
		}
	}
	return n
}

func bogota(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(schedule.DefaultTimezone)
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	return loc
}

// newTestEnv builds a pipeline pinned to a weekday morning inside service hours.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	gate, err := schedule.NewGate(schedule.WithHolidaySource(st))
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	// Monday 2026-03-02 10:00, inside the default weekday window.
	gate.SetSimulatedTime(time.Date(2026, 3, 2, 10, 0, 0, 0, bogota(t)))

	fa := &fakeAnswer{reply: answer.Reply{Text: "Las elecciones son en abril."}}
	p := New(st, gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), fa)
	return &testEnv{pipeline: p, store: st, gate: gate, answerer: fa}
}

// activate walks a fresh participant through greeting and consent acceptance.
func (e *testEnv) activate(t *testing.T) {
	t.Helper()
	if got := e.process(t, "hola"); got != MsgGreeting {
		t.Fatalf("expected greeting, got %q", got)
	}
	if got := e.process(t, "buenas"); got != MsgConsentPrompt {
		t.Fatalf("expected consent prompt, got %q", got)
	}
	if got := e.process(t, "sí"); got != MsgConsentAccepted {
		t.Fatalf("expected consent confirmation, got %q", got)
	}
}

func TestFirstMessageAlwaysGreets(t *testing.T) {
	env := newTestEnv(t)
	// Even a question gets the greeting: content is ignored on first contact.
	got := env.process(t, "¿cuándo cierran las inscripciones?")
	if got != MsgGreeting {
		t.Errorf("expected greeting, got %q", got)
	}
	if env.answerer.calls != 0 {
		t.Errorf("expected no answer-engine calls on first contact, got %d", env.answerer.calls)
	}
	conv := env.conversation(t)
	if conv.Status != models.StatusAwaitingConsent {
		t.Errorf("expected status %q, got %q", models.StatusAwaitingConsent, conv.Status)
	}
}

func TestSecondMessageConsentPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.process(t, "hola")
	got := env.process(t, "quiero información")
	if got != MsgConsentPrompt {
		t.Errorf("expected consent prompt, got %q", got)
	}
	if env.answerer.calls != 0 {
		t.Errorf("expected no answer-engine calls before consent, got %d", env.answerer.calls)
	}
}

func TestConsentAccept(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	conv := env.conversation(t)
	if conv.ConsentStatus != models.ConsentAccepted {
		t.Errorf("expected consent accepted, got %q", conv.ConsentStatus)
	}
	if conv.Status != models.StatusActive {
		t.Errorf("expected status active, got %q", conv.Status)
	}
}

func TestConsentDeclineStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	env.process(t, "hola")
	env.process(t, "buenas")
	// A non-affirmative answer notes consent and the message flows on to the
	// answer engine in the same turn.
	got := env.process(t, "¿cómo me inscribo para votar?")
	if got != env.answerer.reply.Text {
		t.Errorf("expected answer-engine reply, got %q", got)
	}
	if env.answerer.calls != 1 {
		t.Errorf("expected 1 answer-engine call, got %d", env.answerer.calls)
	}
	conv := env.conversation(t)
	if conv.ConsentStatus != models.ConsentNoted {
		t.Errorf("expected consent noted, got %q", conv.ConsentStatus)
	}
}

func TestDuplicateTransportIDDropped(t *testing.T) {
	env := newTestEnv(t)
	meta := models.InboundMeta{MessageID: "wamid.dup", Channel: "test"}
	first, err := env.pipeline.Process(context.Background(), testParticipant, "hola", meta)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if first != MsgGreeting {
		t.Fatalf("expected greeting, got %q", first)
	}
	second, err := env.pipeline.Process(context.Background(), testParticipant, "hola", meta)
	if err != nil {
		t.Fatalf("duplicate Process failed: %v", err)
	}
	if second != "" {
		t.Errorf("expected duplicate delivery to yield no reply, got %q", second)
	}
	if n := env.inboundCount(t); n != 1 {
		t.Errorf("expected exactly 1 persisted inbound record, got %d", n)
	}
}

func TestDurableDedupWithoutCacheHit(t *testing.T) {
	env := newTestEnv(t)
	meta := models.InboundMeta{MessageID: "wamid.persisted", Channel: "test"}
	if _, err := env.pipeline.Process(context.Background(), testParticipant, "hola", meta); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	// A second pipeline over the same store simulates a redelivery after a
	// restart: the in-memory set is empty but the store remembers the id.
	p2 := New(env.store, env.gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), env.answerer)
	out, err := p2.Process(context.Background(), testParticipant, "hola", meta)
	if err != nil {
		t.Fatalf("redelivered Process failed: %v", err)
	}
	if out != "" {
		t.Errorf("expected redelivery to yield no reply, got %q", out)
	}
	if n := env.inboundCount(t); n != 1 {
		t.Errorf("expected exactly 1 persisted inbound record, got %d", n)
	}
}

func TestBotInactivePersistsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	if err := env.pipeline.SetBotActive(testParticipant, false, "advisor took over"); err != nil {
		t.Fatalf("SetBotActive failed: %v", err)
	}
	before := env.inboundCount(t)
	got := env.process(t, "¿sigue ahí?")
	if got != "" {
		t.Errorf("expected no reply while bot inactive, got %q", got)
	}
	if n := env.inboundCount(t); n != before+1 {
		t.Errorf("expected exactly one more inbound record, got %d (was %d)", n, before)
	}
	if env.answerer.calls != 0 {
		t.Errorf("expected no answer-engine calls, got %d", env.answerer.calls)
	}
}

func TestOutOfHoursNoticeOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	loc := bogota(t)
	env.gate.SetSimulatedTime(time.Date(2026, 3, 2, 20, 0, 0, 0, loc))

	if got := env.process(t, "hola"); got != MsgOutOfHours {
		t.Fatalf("expected out-of-hours notice, got %q", got)
	}
	if got := env.process(t, "¿hay alguien?"); got != "" {
		t.Errorf("expected silence on the second out-of-hours message, got %q", got)
	}
	// Next evening the notice goes out again.
	env.gate.SetSimulatedTime(time.Date(2026, 3, 3, 20, 0, 0, 0, loc))
	if got := env.process(t, "hola de nuevo"); got != MsgOutOfHours {
		t.Errorf("expected a fresh notice the next day, got %q", got)
	}
}

func TestOutOfHoursRecoveryStillGreets(t *testing.T) {
	env := newTestEnv(t)
	loc := bogota(t)
	env.gate.SetSimulatedTime(time.Date(2026, 3, 2, 20, 0, 0, 0, loc))
	env.process(t, "hola")

	// The window reopens; the participant was never greeted, so the greeting
	// turn still happens.
	env.gate.SetSimulatedTime(time.Date(2026, 3, 3, 9, 0, 0, 0, loc))
	if got := env.process(t, "buenos días"); got != MsgGreeting {
		t.Errorf("expected greeting after hours reopen, got %q", got)
	}
	conv := env.conversation(t)
	if !conv.BotActive {
		t.Error("expected bot active after hours reopen")
	}
}

func TestHolidayIsOutOfHours(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetHolidays([]schedule.Holiday{{Name: "Festivo", Month: 3, Day: 2, Active: true}})
	// Mid-morning on a weekday, but the calendar wins.
	if got := env.process(t, "hola"); got != MsgOutOfHours {
		t.Errorf("expected out-of-hours notice on a holiday, got %q", got)
	}
}

func TestExplicitRequestEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	got := env.process(t, "quiero hablar con un asesor")
	if got != MsgEscalation {
		t.Fatalf("expected escalation message, got %q", got)
	}
	conv := env.conversation(t)
	if conv.Status != models.StatusPendingAdvisor {
		t.Errorf("expected status pending_advisor, got %q", conv.Status)
	}
	if !conv.WaitingForHuman || !conv.EscalationMessageSent {
		t.Error("expected waiting-for-human flags set")
	}
	if conv.NeedsHumanReason != escalation.ReasonExplicitRequest {
		t.Errorf("expected reason %q, got %q", escalation.ReasonExplicitRequest, conv.NeedsHumanReason)
	}

	// Escalated conversations get no further automated replies.
	if got := env.process(t, "¿me escuchan?"); got != "" {
		t.Errorf("expected silence after escalation, got %q", got)
	}
	if env.answerer.calls != 0 {
		t.Errorf("expected no answer-engine calls, got %d", env.answerer.calls)
	}
}

func TestReactivationGraceSuppressesNonExplicit(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.process(t, "necesito un asesor")
	if err := env.pipeline.Reactivate(testParticipant); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}

	// A confusion phrase right after reactivation is answered, not re-escalated.
	got := env.process(t, "no entiendo")
	if got != env.answerer.reply.Text {
		t.Errorf("expected answer-engine reply during grace, got %q", got)
	}

	// The grace is single-use: the same phrase now escalates again.
	got = env.process(t, "no entiendo nada")
	if got != MsgEscalation {
		t.Errorf("expected escalation after grace consumed, got %q", got)
	}
}

func TestReactivationGraceDoesNotCoverExplicit(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.process(t, "necesito un asesor")
	if err := env.pipeline.Reactivate(testParticipant); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	got := env.process(t, "quiero hablar con un asesor")
	if got != MsgEscalation {
		t.Errorf("expected explicit request to escalate during grace, got %q", got)
	}
}

func TestSpamBlockSetsDurableOverride(t *testing.T) {
	env := newTestEnv(t)
	// Greeting and consent-prompt turns happen first; the guard starts
	// counting once the pipeline reaches the spam gate.
	env.process(t, "hola")
	env.process(t, "hola")
	var last string
	for i := 0; i < 4; i++ {
		last = env.process(t, "hola")
	}
	if last != "" {
		t.Errorf("expected silence once blocked, got %q", last)
	}
	override, err := env.store.GetBotOverride(testParticipant)
	if err != nil {
		t.Fatalf("GetBotOverride failed: %v", err)
	}
	if override == nil || override.Source != store.OverrideSourceSpam {
		t.Fatalf("expected a spam override, got %+v", override)
	}

	// Blocked participants are short-circuited before the answer engine.
	calls := env.answerer.calls
	if got := env.process(t, "una pregunta de verdad"); got != "" {
		t.Errorf("expected silence while blocked, got %q", got)
	}
	if env.answerer.calls != calls {
		t.Errorf("expected no answer-engine calls while blocked, got %d", env.answerer.calls-calls)
	}

	// Reactivation clears the override and the spam run.
	if err := env.pipeline.Reactivate(testParticipant); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	if got := env.process(t, "¿cómo voto?"); got != env.answerer.reply.Text {
		t.Errorf("expected answer after reactivation, got %q", got)
	}
}

func TestMenuFlowAndFreeFormBreakout(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	if got := env.process(t, "menú"); got != flow.MenuPrompt {
		t.Fatalf("expected menu prompt, got %q", got)
	}
	got := env.process(t, "1")
	if !strings.Contains(got, flow.MsgElectionCalendar) {
		t.Fatalf("expected calendar info, got %q", got)
	}

	// A real question mid-menu abandons the flow and goes straight to the
	// answer engine: exactly one invocation, no menu re-prompt.
	question := "¿cuándo puedo votar exactamente?"
	got = env.process(t, question)
	if got != env.answerer.reply.Text {
		t.Errorf("expected answer-engine reply, got %q", got)
	}
	if env.answerer.calls != 1 {
		t.Errorf("expected exactly 1 answer-engine call, got %d", env.answerer.calls)
	}
	if env.answerer.lastText != question {
		t.Errorf("expected the original question routed to the engine, got %q", env.answerer.lastText)
	}
	if conv := env.conversation(t); conv.ActiveFlow != nil {
		t.Error("expected the flow cleared after free-form breakout")
	}
}

func TestMenuAdvisorOptionEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.process(t, "menú")
	if got := env.process(t, "4"); got != MsgEscalation {
		t.Errorf("expected escalation from the advisor option, got %q", got)
	}
	if conv := env.conversation(t); conv.Status != models.StatusPendingAdvisor {
		t.Errorf("expected status pending_advisor, got %q", conv.Status)
	}
}

func TestAnswerEngineFailureFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.answerer.err = errors.New("upstream timeout")
	got := env.process(t, "¿dónde consulto los resultados?")
	if got != MsgEscalation {
		t.Errorf("expected fallback escalation, got %q", got)
	}
	if conv := env.conversation(t); conv.NeedsHumanReason != escalation.ReasonNoAnswer {
		t.Errorf("expected reason %q, got %q", escalation.ReasonNoAnswer, conv.NeedsHumanReason)
	}
}

func TestAnswerEngineLowConfidenceEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.answerer.reply = answer.Reply{Escalate: &answer.Escalation{Reason: "low_confidence", Priority: escalation.PriorityMedium}}
	got := env.process(t, "¿qué pasa si impugnan el resultado?")
	if got != MsgEscalation {
		t.Errorf("expected escalation, got %q", got)
	}
	if conv := env.conversation(t); conv.NeedsHumanReason != "low_confidence" {
		t.Errorf("expected reason low_confidence, got %q", conv.NeedsHumanReason)
	}
}

func TestEmptyInputRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.pipeline.Process(context.Background(), "", "hola", models.InboundMeta{}); !errors.Is(err, models.ErrEmptyParticipantID) {
		t.Errorf("expected ErrEmptyParticipantID, got %v", err)
	}
	if _, err := env.pipeline.Process(context.Background(), testParticipant, "   ", models.InboundMeta{}); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestSnapshotRecoveryAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.process(t, "quiero hablar con un asesor")

	// A new pipeline over the same store sees the escalated state.
	p2 := New(env.store, env.gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), env.answerer)
	out, err := p2.Process(context.Background(), testParticipant, "¿hola?", models.InboundMeta{MessageID: "wamid.after-restart"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out != "" {
		t.Errorf("expected escalated conversation to stay silent after restart, got %q", out)
	}
}

func TestRestoreWarmsCache(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	p2 := New(env.store, env.gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), env.answerer)
	n, err := p2.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 restored conversation, got %d", n)
	}
	conv, err := p2.Conversation(testParticipant)
	if err != nil || conv == nil {
		t.Fatalf("expected restored conversation, got %v (err: %v)", conv, err)
	}
	if conv.ConsentStatus != models.ConsentAccepted {
		t.Errorf("expected restored consent state, got %v", conv.ConsentStatus)
	}
}

func TestScheduleSettingsSurviveRestart(t *testing.T) {
	env := newTestEnv(t)
	env.gate.SetTimetableEnabled(false)
	if err := env.pipeline.SaveScheduleSettings(); err != nil {
		t.Fatalf("SaveScheduleSettings failed: %v", err)
	}

	gate2, err := schedule.NewGate(schedule.WithHolidaySource(env.store))
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	p2 := New(env.store, gate2, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), env.answerer)
	if err := p2.LoadScheduleSettings(); err != nil {
		t.Fatalf("LoadScheduleSettings failed: %v", err)
	}
	if gate2.Settings().TimetableEnabled {
		t.Error("expected the timetable toggle to survive the restart")
	}
}

func TestResetNoticeCycle(t *testing.T) {
	env := newTestEnv(t)
	loc := bogota(t)
	env.gate.SetSimulatedTime(time.Date(2026, 3, 2, 20, 0, 0, 0, loc))
	env.process(t, "hola")

	if n := env.pipeline.ResetNoticeCycle(); n != 1 {
		t.Errorf("expected 1 conversation reset, got %d", n)
	}
	// Same evening, but the cycle was cleared: the notice goes out again.
	if got := env.process(t, "sigo aquí"); got != MsgOutOfHours {
		t.Errorf("expected a fresh notice after cycle reset, got %q", got)
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	env := newTestEnv(t)
	events := make(chan models.Event, 16)
	p := New(env.store, env.gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), env.answerer,
		WithObserver(observerFunc(func(e models.Event) { events <- e })))

	if _, err := p.Process(context.Background(), testParticipant, "hola", models.InboundMeta{MessageID: "wamid.obs"}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	select {
	case e := <-events:
		if e.Kind != models.EventNewMessage {
			t.Errorf("expected new_message event, got %q", e.Kind)
		}
		if e.ParticipantID != testParticipant {
			t.Errorf("expected participant %q, got %q", testParticipant, e.ParticipantID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observer event")
	}
}

// observerFunc adapts a function to the Observer interface.
type observerFunc func(models.Event)

func (f observerFunc) Notify(e models.Event) { f(e) }

func TestGreetingNeverRecursAfterWindowTrim(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	// Enough turns that the recent window cycles completely several times over,
	// evicting the original greeting and consent records. The opening turns
	// must not come back. Alternating phrasings keeps the repeat guard quiet.
	for i := 0; i < models.MaxRecentMessages; i++ {
		var text string
		if i%2 == 0 {
			text = fmt.Sprintf("¿dónde está la sede de votación número %d?", i)
		} else {
			text = fmt.Sprintf("gracias, ¿y el horario de la jornada %d?", i)
		}
		got := env.process(t, text)
		switch got {
		case MsgGreeting:
			t.Fatalf("turn %d re-greeted an established participant", i)
		case MsgConsentPrompt:
			t.Fatalf("turn %d re-prompted for consent", i)
		}
	}

	conv := env.conversation(t)
	if conv.ConsentStatus != models.ConsentAccepted {
		t.Errorf("expected consent to stay accepted, got %q", conv.ConsentStatus)
	}
	if conv.Status != models.StatusActive {
		t.Errorf("expected status active, got %q", conv.Status)
	}
	if len(conv.Messages) > models.MaxRecentMessages {
		t.Errorf("recent window exceeded its bound: %d records", len(conv.Messages))
	}
	if conv.GreetingSentAt.IsZero() || conv.ConsentPromptSentAt.IsZero() {
		t.Error("expected the opening-turn timestamps to survive the trim")
	}
}

func TestOversizedBodyTruncatedOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	// Three-byte runes so the byte limit lands mid-rune.
	env.process(t, strings.Repeat("€", models.MaxMessageBodyLength/3+50))

	msgs, err := env.store.GetMessages(testParticipant, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	var body string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Direction == models.DirectionIn {
			body = msgs[i].Body
			break
		}
	}
	if body == "" {
		t.Fatal("expected a persisted inbound record")
	}
	if len(body) > models.MaxMessageBodyLength {
		t.Errorf("body exceeds the byte limit: %d bytes", len(body))
	}
	if !utf8.ValidString(body) {
		t.Error("truncated body is not valid UTF-8")
	}
}
