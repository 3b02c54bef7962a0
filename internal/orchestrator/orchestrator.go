// Package orchestrator runs the multi-persona turn loop: it takes a user
// message through intent checking, retrieval, and sequential persona
// dispatch, appending each response to the session log as it arrives.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/panelmind/panelmind/internal/llm"
	"github.com/panelmind/panelmind/internal/personas"
	"github.com/panelmind/panelmind/internal/storage"
	"github.com/panelmind/panelmind/internal/vectordb"
)

// State is the phase a turn is in. Turns always end in StateComplete or
// StateClarifying; the intermediate states exist for logging and streaming
// progress.
type State string

const (
	StateAwaitingIntent State = "AWAITING_INTENT"
	StateClarifying     State = "CLARIFYING"
	StateDispatching    State = "DISPATCHING"
	StateCollecting     State = "COLLECTING"
	StateComplete       State = "COMPLETE"
)

// ErrNotAdvisorMessage is returned when a reply or expansion targets a
// message that is not an advisor message in the given session.
var ErrNotAdvisorMessage = errors.New("target is not an advisor message in this session")

// MessageStore is the slice of the session store the orchestrator needs.
type MessageStore interface {
	GetSession(ctx context.Context, id string) (*storage.Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	AppendMessage(ctx context.Context, message *storage.Message) error
	GetMessage(ctx context.Context, id string) (*storage.Message, error)
	GetLatestMessages(ctx context.Context, sessionID string, limit int) ([]storage.Message, error)
	GetThread(ctx context.Context, rootMessageID string) ([]storage.Message, error)
}

// Gateway yields the provider handler for a turn. The handler is captured
// once at dispatch, so a provider switch mid-turn affects later turns only.
type Gateway interface {
	Current() llm.Handler
}

// Retriever grounds a question in the session's uploaded documents.
type Retriever interface {
	Retrieve(ctx context.Context, sessionID, question string) ([]vectordb.Result, error)
}

// Recorder accumulates insights from advisor responses.
type Recorder interface {
	Record(ctx context.Context, userID, personaID, response string) (int, error)
}

// Config tunes the turn loop.
type Config struct {
	// HistoryWindow bounds how many prior messages each persona sees.
	HistoryWindow int
	// PersonaTimeout bounds one persona's generation; on expiry the turn
	// moves on with an error message for that persona.
	PersonaTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:  20,
		PersonaTimeout: 90 * time.Second,
	}
}

// TurnResult is everything a turn appended, in order, plus the state it
// ended in.
type TurnResult struct {
	State    State             `json:"state"`
	Messages []storage.Message `json:"messages"`
}

// Orchestrator coordinates turns. One mutex per session serializes its
// turns; different sessions proceed in parallel.
type Orchestrator struct {
	cfg       Config
	store     MessageStore
	gateway   Gateway
	retriever Retriever
	recorder  Recorder
	registry  *personas.Registry
	logger    *log.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	insightWG sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, store MessageStore, gateway Gateway, retriever Retriever, recorder Recorder, registry *personas.Registry, logger *log.Logger) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.PersonaTimeout <= 0 {
		cfg.PersonaTimeout = 90 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		retriever: retriever,
		recorder:  recorder,
		registry:  registry,
		logger:    logger.With("component", "orchestrator"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing the session's turns.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	mu, ok := o.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[sessionID] = mu
	}
	return mu
}

// ForgetSession drops a deleted session's lock entry so the table does not
// grow for the process lifetime. Safe against an in-flight turn: a later
// caller gets a fresh mutex, and its appends fail the session existence
// check anyway.
func (o *Orchestrator) ForgetSession(sessionID string) {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	delete(o.locks, sessionID)
}

// SendMessage runs one full panel turn for the user's input.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, userInput string) (*TurnResult, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := o.store.GetLatestMessages(ctx, sessionID, o.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := storage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      storage.MessageUser,
		Content:   userInput,
	}
	if err := o.store.AppendMessage(ctx, &userMsg); err != nil {
		return nil, err
	}
	appended := []storage.Message{userMsg}

	// First user message names the session.
	if len(history) == 0 && session.Title == "New Chat" {
		if err := o.store.UpdateSessionTitle(ctx, sessionID, deriveTitle(userInput)); err != nil {
			o.logger.Warn("failed to derive session title", "session_id", sessionID, "error", err)
		}
	}

	if suggestions := clarify(userInput); suggestions != nil {
		clarMsg := storage.Message{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Type:        storage.MessageClarification,
			Content:     clarificationText,
			Suggestions: suggestions,
		}
		if err := o.store.AppendMessage(ctx, &clarMsg); err != nil {
			return nil, err
		}
		o.logger.Debug("turn needs clarification", "session_id", sessionID)
		return &TurnResult{State: StateClarifying, Messages: append(appended, clarMsg)}, nil
	}

	// Retrieval failure degrades to an ungrounded turn rather than failing it.
	results, err := o.retriever.Retrieve(ctx, sessionID, userInput)
	if err != nil {
		o.logger.Warn("retrieval failed, answering without document context",
			"session_id", sessionID, "error", err)
		results = nil
	}

	handler := o.gateway.Current()
	llmHistory := toLLMHistory(history)

	for _, persona := range o.registry.List() {
		// An append failure (including the session being deleted mid-turn)
		// discards the rest of the turn.
		msg, err := o.dispatchPersona(ctx, session, persona, handler, llmHistory, userInput, results)
		if err != nil {
			return nil, err
		}
		appended = append(appended, *msg)
	}

	return &TurnResult{State: StateComplete, Messages: appended}, nil
}

// dispatchPersona runs one persona and appends its advisor message, or an
// error message if generation failed. Only append failures are returned.
func (o *Orchestrator) dispatchPersona(ctx context.Context, session *storage.Session, persona personas.Persona, handler llm.Handler, history []llm.Message, userInput string, results []vectordb.Result) (*storage.Message, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.PersonaTimeout)
	response, genErr := handler.Generate(genCtx, buildSystemPrompt(persona, results), history, userInput)
	cancel()

	var msg storage.Message
	if genErr != nil {
		o.logger.Error("persona generation failed",
			"session_id", session.ID, "persona", persona.ID, "error", genErr)
		msg = storage.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Type:      storage.MessageError,
			PersonaID: persona.ID,
			Content:   fmt.Sprintf("%s could not respond: %s", persona.Name, errorSummary(genErr)),
		}
	} else {
		msg = storage.Message{
			ID:         uuid.NewString(),
			SessionID:  session.ID,
			Type:       storage.MessageAdvisor,
			PersonaID:  persona.ID,
			Content:    response,
			RAGSources: toRAGSources(results),
		}
	}

	if err := o.store.AppendMessage(ctx, &msg); err != nil {
		return nil, err
	}

	if genErr == nil {
		o.recordInsights(session.UserID, persona.ID, response)
	}
	return &msg, nil
}

// Reply routes a follow-up to the one persona behind the target advisor
// message, with the sub-thread as context.
func (o *Orchestrator) Reply(ctx context.Context, sessionID, targetMessageID, userInput string) (*TurnResult, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target, err := o.store.GetMessage(ctx, targetMessageID)
	if err != nil {
		return nil, err
	}
	if target.Type != storage.MessageAdvisor || target.SessionID != sessionID {
		return nil, ErrNotAdvisorMessage
	}

	persona, err := o.registry.Get(target.PersonaID)
	if err != nil {
		return nil, err
	}

	root, err := o.threadRoot(ctx, target)
	if err != nil {
		return nil, err
	}
	thread, err := o.store.GetThread(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	userMsg := storage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      storage.MessageUser,
		Content:   userInput,
		IsReply:   true,
		ReplyToID: targetMessageID,
	}
	if err := o.store.AppendMessage(ctx, &userMsg); err != nil {
		return nil, err
	}

	handler := o.gateway.Current()
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.PersonaTimeout)
	response, genErr := handler.Generate(genCtx, buildReplyPrompt(persona), toLLMHistory(thread), userInput)
	cancel()

	var msg storage.Message
	if genErr != nil {
		o.logger.Error("reply generation failed",
			"session_id", sessionID, "persona", persona.ID, "error", genErr)
		msg = storage.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      storage.MessageError,
			PersonaID: persona.ID,
			Content:   fmt.Sprintf("%s could not respond: %s", persona.Name, errorSummary(genErr)),
			IsReply:   true,
			ReplyToID: targetMessageID,
		}
	} else {
		msg = storage.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      storage.MessageAdvisor,
			PersonaID: persona.ID,
			Content:   response,
			IsReply:   true,
			ReplyToID: targetMessageID,
		}
	}
	if err := o.store.AppendMessage(ctx, &msg); err != nil {
		return nil, err
	}

	if genErr == nil {
		o.recordInsights(session.UserID, persona.ID, response)
	}
	return &TurnResult{State: StateComplete, Messages: []storage.Message{userMsg, msg}}, nil
}

// Expand asks the persona behind an advisor message to elaborate on it.
func (o *Orchestrator) Expand(ctx context.Context, sessionID, targetMessageID string) (*TurnResult, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target, err := o.store.GetMessage(ctx, targetMessageID)
	if err != nil {
		return nil, err
	}
	if target.Type != storage.MessageAdvisor || target.SessionID != sessionID {
		return nil, ErrNotAdvisorMessage
	}

	persona, err := o.registry.Get(target.PersonaID)
	if err != nil {
		return nil, err
	}

	history, err := o.store.GetLatestMessages(ctx, sessionID, o.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	handler := o.gateway.Current()
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.PersonaTimeout)
	response, genErr := handler.Generate(genCtx, buildExpandPrompt(persona, target.Content), toLLMHistory(history), expandInstruction)
	cancel()

	var msg storage.Message
	if genErr != nil {
		o.logger.Error("expansion generation failed",
			"session_id", sessionID, "persona", persona.ID, "error", genErr)
		msg = storage.Message{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Type:        storage.MessageError,
			PersonaID:   persona.ID,
			Content:     fmt.Sprintf("%s could not respond: %s", persona.Name, errorSummary(genErr)),
			IsExpansion: true,
			ReplyToID:   targetMessageID,
		}
	} else {
		msg = storage.Message{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Type:        storage.MessageAdvisor,
			PersonaID:   persona.ID,
			Content:     response,
			IsExpansion: true,
			ReplyToID:   targetMessageID,
		}
	}
	if err := o.store.AppendMessage(ctx, &msg); err != nil {
		return nil, err
	}

	if genErr == nil {
		o.recordInsights(session.UserID, persona.ID, response)
	}
	return &TurnResult{State: StateComplete, Messages: []storage.Message{msg}}, nil
}

// recordInsights feeds a response to the canvas off the turn's critical
// path. Failures are logged, never surfaced to the chat.
func (o *Orchestrator) recordInsights(userID, personaID, response string) {
	o.insightWG.Add(1)
	go func() {
		defer o.insightWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := o.recorder.Record(ctx, userID, personaID, response); err != nil {
			o.logger.Warn("insight recording failed", "user_id", userID, "error", err)
		}
	}()
}

// WaitForInsights blocks until pending insight extractions finish. Used on
// shutdown and in tests.
func (o *Orchestrator) WaitForInsights() {
	o.insightWG.Wait()
}

// threadRoot walks the reply chain up from a message to the thread's root.
func (o *Orchestrator) threadRoot(ctx context.Context, msg *storage.Message) (*storage.Message, error) {
	current := msg
	for current.ReplyToID != "" {
		parent, err := o.store.GetMessage(ctx, current.ReplyToID)
		if err != nil {
			return nil, err
		}
		current = parent
	}
	return current, nil
}

// errorSummary keeps user-facing error text free of transport detail.
func errorSummary(err error) string {
	switch {
	case errors.Is(err, llm.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "the model provider is unreachable right now"
	default:
		return "the model provider returned an invalid response"
	}
}
