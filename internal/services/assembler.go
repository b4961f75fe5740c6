package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const (
	FallbackInstruction = "You are a friendly assistant. Keep your responses concise and helpful."

	ArtifactInstructions = `Documents are a side panel the user can see next to the conversation. Use them for substantial content such as code, essays or emails that the user is likely to save or reuse.
Create a document when the content exceeds roughly ten lines or when the user explicitly asks for one. Do not create one for short answers or conversational replies.
Never update a document right after creating it; wait for feedback or a request to change it.`

	MemoryContextTopK = 5

	memoryBlockOpen  = "<relevant_past_context>"
	memoryBlockClose = "</relevant_past_context>"
)

// Hints is coarse request context rendered verbatim into the instruction.
type Hints struct {
	Latitude  string
	Longitude string
	City      string
	Country   string
}

type AssembleInput struct {
	UserClass ctxutil.UserClass
	Hints     Hints
	UserID    uuid.UUID
	Query     string
	Variant   string
}

// PromptAssembler builds the system instruction for one generation. It
// never fails; retrieval problems only shrink the output.
type PromptAssembler interface {
	Assemble(dbc dbctx.Context, in AssembleInput) string
}

type promptAssembler struct {
	log    *logger.Logger
	prompt ActivePromptCache
	memory MemoryService
	topK   int
}

func NewPromptAssembler(log *logger.Logger, prompt ActivePromptCache, memory MemoryService) PromptAssembler {
	return &promptAssembler{
		log:    log.With("service", "PromptAssembler"),
		prompt: prompt,
		memory: memory,
		topK:   MemoryContextTopK,
	}
}

func (a *promptAssembler) Assemble(dbc dbctx.Context, in AssembleInput) string {
	var b strings.Builder
	b.WriteString(a.base(dbc))

	if hints := renderHints(in.Hints); hints != "" {
		b.WriteString("\n\n")
		b.WriteString(hints)
	}
	if !llm.IsReasoning(in.Variant) {
		b.WriteString("\n\n")
		b.WriteString(ArtifactInstructions)
	}
	if block := a.memoryBlock(dbc, in); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	return b.String()
}

func (a *promptAssembler) base(dbc dbctx.Context) string {
	if a.prompt == nil {
		return FallbackInstruction
	}
	row, err := a.prompt.Get(dbc)
	if err != nil {
		a.log.Warn("active prompt read failed, using fallback", "error", err)
		return FallbackInstruction
	}
	if row == nil || strings.TrimSpace(row.Text) == "" {
		return FallbackInstruction
	}
	return row.Text
}

func renderHints(h Hints) string {
	lines := make([]string, 0, 4)
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	add("lat", h.Latitude)
	add("lon", h.Longitude)
	add("city", h.City)
	add("country", h.Country)
	if len(lines) == 0 {
		return ""
	}
	return "About the origin of user's request:\n" + strings.Join(lines, "\n")
}

func (a *promptAssembler) memoryBlock(dbc dbctx.Context, in AssembleInput) string {
	if a.memory == nil || in.UserID == uuid.Nil || strings.TrimSpace(in.Query) == "" {
		return ""
	}
	frags, err := a.memory.Retrieve(dbc, in.UserID, in.Query, a.topK)
	if err != nil {
		a.log.Warn("memory retrieval failed", "user_id", in.UserID, "error", err)
		return ""
	}
	if len(frags) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(memoryBlockOpen)
	b.WriteString("\nThe following excerpts come from this user's earlier messages. They were selected by similarity and may be irrelevant; use them only if they help.\n")
	for i, f := range frags {
		b.WriteString("[memory ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(strings.Join(strings.Fields(f.Content), " "))
		b.WriteString("\n")
	}
	b.WriteString(memoryBlockClose)
	return b.String()
}
