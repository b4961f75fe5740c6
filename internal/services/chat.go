package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-chat/internal/data/db"
	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
)

const (
	MaxTitleRunes    = 80
	MaxMessageRunes  = 100_000
	MaxParts         = 64
	MaxAttachments   = 16
	DefaultFreshness = 15 * time.Second
)

type IncomingMessage struct {
	ID          uuid.UUID
	Role        string
	Parts       []chat.Part
	Attachments []chat.Attachment
}

type TurnInput struct {
	ConversationID uuid.UUID
	Message        IncomingMessage
	Variant        string
	Visibility     string
	Hints          Hints
}

// Turn is a started generation. Subscription belongs to the caller and
// must be closed.
type Turn struct {
	ConversationID uuid.UUID
	StreamID       uuid.UUID
	MessageID      uuid.UUID
	Subscription   *stream.Subscription
}

// Resumed is what a reconnect finds: a live subscription, a recently
// finished message, or neither.
type Resumed struct {
	// StreamID is the most recent stream of the conversation, set whenever
	// Subscription or Message is.
	StreamID     uuid.UUID
	Subscription *stream.Subscription
	Message      *chat.Message
}

func (r *Resumed) Empty() bool {
	return r == nil || (r.Subscription == nil && r.Message == nil)
}

type ChatService interface {
	StartTurn(dbc dbctx.Context, in TurnInput) (*Turn, error)
	Resume(dbc dbctx.Context, conversationID uuid.UUID) (*Resumed, error)
}

type ChatDeps struct {
	Repos     repos.Set
	Admission AdmissionService
	Assembler PromptAssembler
	Memory    MemoryService
	Finalizer CompletionFinalizer
	Generator llm.Generator
	Mux       *stream.Multiplexer
	// Model names the default model for token estimation.
	Model     string
	Freshness time.Duration
	Metrics   *observability.Metrics
}

type chatService struct {
	log       *logger.Logger
	repos     repos.Set
	admission AdmissionService
	assembler PromptAssembler
	memory    MemoryService
	finalizer CompletionFinalizer
	gen       llm.Generator
	mux       *stream.Multiplexer
	model     string
	freshness time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewChatService(log *logger.Logger, deps ChatDeps) ChatService {
	freshness := deps.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &chatService{
		log:       log.With("service", "ChatService"),
		repos:     deps.Repos,
		admission: deps.Admission,
		assembler: deps.Assembler,
		memory:    deps.Memory,
		finalizer: deps.Finalizer,
		gen:       deps.Generator,
		mux:       deps.Mux,
		model:     deps.Model,
		freshness: freshness,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

func requireUser(ctx context.Context) (*ctxutil.RequestData, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not authenticated")
	}
	return rd, nil
}

func validateTurn(in *TurnInput) error {
	if in.ConversationID == uuid.Nil {
		return apierr.Validation("missing conversation id")
	}
	if in.Message.ID == uuid.Nil {
		return apierr.Validation("missing message id")
	}
	if in.Message.Role != chat.RoleUser {
		return apierr.Validation("message role must be %q", chat.RoleUser)
	}
	if len(in.Message.Parts) == 0 || len(in.Message.Parts) > MaxParts {
		return apierr.Validation("message must have between 1 and %d parts", MaxParts)
	}
	for _, p := range in.Message.Parts {
		if p.Type != chat.PartTypeText {
			return apierr.Validation("unsupported part type %q", p.Type)
		}
	}
	text := chat.TextOf(in.Message.Parts)
	if strings.TrimSpace(text) == "" {
		return apierr.Validation("message text must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return apierr.Validation("message exceeds %d characters", MaxMessageRunes)
	}
	if len(in.Message.Attachments) > MaxAttachments {
		return apierr.Validation("at most %d attachments", MaxAttachments)
	}
	for _, a := range in.Message.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return apierr.Validation("attachment url required")
		}
	}
	switch strings.TrimSpace(in.Variant) {
	case "":
		in.Variant = llm.VariantDefault
	case llm.VariantDefault, llm.VariantReasoning:
	default:
		return apierr.Validation("unknown model %q", in.Variant)
	}
	if in.Visibility == "" {
		in.Visibility = chat.VisibilityPrivate
	}
	if !chat.ValidVisibility(in.Visibility) {
		return apierr.Validation("invalid visibility %q", in.Visibility)
	}
	return nil
}

// TitleFromText derives a conversation title from the first user turn.
func TitleFromText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "New chat"
	}
	r := []rune(text)
	if len(r) <= MaxTitleRunes {
		return text
	}
	return strings.TrimSpace(string(r[:MaxTitleRunes-1])) + "…"
}

func (s *chatService) StartTurn(dbc dbctx.Context, in TurnInput) (*Turn, error) {
	rd, err := requireUser(dbc.Ctx)
	if err != nil {
		return nil, err
	}
	if err := validateTurn(&in); err != nil {
		return nil, err
	}

	decision := s.admission.Admit(dbc, rd.UserID, rd.UserClass)
	s.metrics.ObserveAdmission(string(rd.UserClass), admissionResult(decision))
	if !decision.Allowed {
		return nil, apierr.QuotaExceeded(decision.Quota, decision.Used)
	}

	userText := chat.TextOf(in.Message.Parts)
	conv, err := s.repos.Conversations.GetByID(dbc, in.ConversationID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("load conversation: %w", err))
	}
	if conv == nil {
		conv, err = s.repos.Conversations.Create(dbc, &chat.Conversation{
			ID:         in.ConversationID,
			UserID:     rd.UserID,
			Title:      TitleFromText(userText),
			Visibility: in.Visibility,
		})
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("create conversation: %w", err))
		}
	} else if conv.UserID != rd.UserID {
		return nil, apierr.Forbidden("conversation belongs to another user")
	}

	if _, err := s.repos.Messages.Create(dbc, []*chat.Message{{
		ID:             in.Message.ID,
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Parts:          chat.EncodeParts(in.Message.Parts),
		Attachments:    chat.EncodeAttachments(in.Message.Attachments),
	}}); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apierr.Conflict("message already submitted")
		}
		return nil, apierr.Internal(fmt.Errorf("save user message: %w", err))
	}
	if s.memory != nil {
		s.memory.RecordAsync(dbc.Ctx, rd.UserID, userText)
	}

	history, err := s.history(dbc, conv.ID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	handle, err := s.repos.Streams.CreateHandle(dbc, conv.ID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("create stream handle: %w", err))
	}

	instruction := s.assembler.Assemble(dbc, AssembleInput{
		UserClass: rd.UserClass,
		Hints:     in.Hints,
		UserID:    rd.UserID,
		Query:     userText,
		Variant:   in.Variant,
	})
	req := llm.Request{Instruction: instruction, History: history, Variant: in.Variant}

	turn := &Turn{ConversationID: conv.ID, StreamID: handle.ID, MessageID: uuid.New()}
	sub, err := s.mux.Start(dbc.Ctx, handle.ID.String(), s.producer(rd.UserID, turn, req))
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("start stream: %w", err))
	}
	turn.Subscription = sub
	s.log.Info("turn started",
		"user_id", rd.UserID,
		"conversation_id", conv.ID,
		"stream_id", handle.ID,
		"variant", in.Variant,
		"resumable", sub.Resumable,
	)
	return turn, nil
}

func (s *chatService) history(dbc dbctx.Context, conversationID uuid.UUID) ([]llm.Message, error) {
	rows, err := s.repos.Messages.ListByConversation(dbc, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]llm.Message, 0, len(rows))
	for _, m := range rows {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == chat.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Text: text})
	}
	return out, nil
}

// producer runs the model call and the finalizer on the multiplexer's
// detached goroutine. The finish event is emitted only after the reply is
// persisted so a reconnect never races ahead of storage.
func (s *chatService) producer(userID uuid.UUID, turn *Turn, req llm.Request) stream.Producer {
	return func(ctx context.Context, emit func(stream.Event)) {
		ctx, span := observability.Tracer().Start(ctx, "chat.generate", trace.WithAttributes(
			observability.AttrConversationID.String(turn.ConversationID.String()),
			observability.AttrStreamID.String(turn.StreamID.String()),
			observability.AttrModelVariant.String(req.Variant),
		))
		defer span.End()
		started := s.now()
		defer s.metrics.StreamStarted(s.mux.Resumable())()

		emit(stream.NewEvent(stream.EventStart, stream.StartData{
			StreamID:  turn.StreamID.String(),
			MessageID: turn.MessageID.String(),
		}))

		res, genErr := s.gen.Stream(ctx, req, func(delta string) {
			if delta != "" {
				emit(stream.Delta(delta))
			}
		})

		s.metrics.ObserveGeneration(s.model, generationStatus(ctx, genErr), s.now().Sub(started), res.PromptTokens, res.CompletionTokens)
		if genErr != nil {
			span.RecordError(genErr)
			span.SetStatus(codes.Error, "generation failed")
		}

		_, finErr := s.finalizer.Finalize(ctx, Completion{
			UserID:           userID,
			ConversationID:   turn.ConversationID,
			MessageID:        turn.MessageID,
			Model:            s.model,
			PromptText:       llm.PromptText(req),
			Text:             res.Text,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			Err:              genErr,
		})

		if genErr != nil {
			s.log.Warn("generation failed", "conversation_id", turn.ConversationID, "stream_id", turn.StreamID, "error", genErr)
			emit(stream.Failure("generation failed"))
			return
		}
		if finErr != nil {
			emit(stream.Failure("reply could not be saved"))
			return
		}
		emit(stream.NewEvent(stream.EventFinish, stream.FinishData{
			MessageID:        turn.MessageID.String(),
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
		}))
	}
}

func (s *chatService) Resume(dbc dbctx.Context, conversationID uuid.UUID) (*Resumed, error) {
	rd, err := requireUser(dbc.Ctx)
	if err != nil {
		return nil, err
	}
	if conversationID == uuid.Nil {
		return nil, apierr.Validation("missing conversation id")
	}
	conv, err := s.repos.Conversations.GetByID(dbc, conversationID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if conv == nil {
		return nil, apierr.NotFound("conversation")
	}
	if !conv.VisibleTo(rd.UserID) {
		return nil, apierr.Forbidden("conversation is private")
	}

	handle, err := s.repos.Streams.Latest(dbc, conversationID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if handle == nil {
		s.metrics.ObserveResume(observability.ResumeEmpty)
		return &Resumed{}, nil
	}

	sub, found, err := s.mux.Attach(dbc.Ctx, handle.ID.String())
	if err != nil {
		s.log.Warn("stream attach failed", "stream_id", handle.ID, "error", err)
	}
	if found {
		s.metrics.ObserveResume(observability.ResumeLive)
		return &Resumed{StreamID: handle.ID, Subscription: sub}, nil
	}

	last, err := s.repos.Messages.Latest(dbc, conversationID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if last == nil || last.Role != chat.RoleAssistant || s.now().Sub(last.CreatedAt) > s.freshness {
		s.metrics.ObserveResume(observability.ResumeEmpty)
		return &Resumed{}, nil
	}
	s.metrics.ObserveResume(observability.ResumeMessage)
	return &Resumed{StreamID: handle.ID, Message: last}, nil
}

func admissionResult(d Decision) string {
	switch {
	case d.LedgerDown && d.Allowed:
		return observability.AdmissionFailOpen
	case d.Allowed:
		return observability.AdmissionAllowed
	default:
		return observability.AdmissionDenied
	}
}

func generationStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
