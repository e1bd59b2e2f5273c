package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/llm"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

const rewriteSystemPrompt = `You rewrite user questions into standalone search queries.
Use the conversation so far to resolve pronouns and implicit references.
Return only the rewritten query, nothing else.`

const answerSystemPrompt = `You answer questions strictly from the provided context passages.
Cite passages by their [n] marker. If the context does not contain the
answer, say so plainly instead of guessing. Never mention passages the
context does not include.`

const snippetMaxLen = 240

// ProvenanceSink receives finished turns for the provenance graph.
// Sync failures are logged and swallowed; the turn already happened.
type ProvenanceSink interface {
	SyncAnswer(ctx context.Context, conversationID uuid.UUID, msg *types.Message, citations []types.Provenance) error
}

// RAGService assembles one conversational turn: rewrite, authorize,
// retrieve, reason. The user turn is persisted before anything fallible
// runs, and every stage lands in the thought chain whether or not it did
// work, so a turn is auditable even when it failed halfway.
type RAGService interface {
	Ask(ctx context.Context, principal types.Principal, conversationID uuid.UUID, query string) (*types.Message, error)
}

type ragService struct {
	log       *logger.Logger
	llm       llm.Client
	retriever RetrievalService
	convs     repos.ConversationRepo
	msgs      repos.MessageRepo
	graph     ProvenanceSink
}

func NewRAGService(
	llmClient llm.Client,
	retriever RetrievalService,
	convs repos.ConversationRepo,
	msgs repos.MessageRepo,
	graph ProvenanceSink,
	baseLog *logger.Logger,
) RAGService {
	return &ragService{
		log:       baseLog.With("service", "RAGService"),
		llm:       llmClient,
		retriever: retriever,
		convs:     convs,
		msgs:      msgs,
		graph:     graph,
	}
}

func (s *ragService) Ask(ctx context.Context, principal types.Principal, conversationID uuid.UUID, query string) (*types.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	log := s.log.With("conversation_id", conversationID)

	conv, err := s.convs.GetByIDForUser(ctx, nil, conversationID, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	history, err := s.msgs.GetByConversationID(ctx, nil, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// The user turn is committed before retrieval or generation so a
	// failed turn is still visible in the transcript and a client retry
	// does not lose the question.
	if _, err := s.msgs.Append(ctx, nil, &types.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Content:        query,
	}); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	chain := make([]types.ThoughtStep, 0, 4)

	searchQuery, rewriteNote := s.rewriteQuery(ctx, history, query)
	chain = append(chain, types.ThoughtStep{Title: "Rewrite", Content: rewriteNote, Type: "rewrite"})

	boundKBs := decodeKBIDs([]byte(conv.BoundKBIDs))
	chain = append(chain, types.ThoughtStep{
		Title:   "Security",
		Content: fmt.Sprintf("clearance=%s bound_kbs=%d", principal.Clearance, len(boundKBs)),
		Type:    "security",
	})

	retrieved, err := s.retriever.Retrieve(ctx, principal, searchQuery, boundKBs, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	topScore := 0.0
	if len(retrieved) > 0 {
		topScore = retrieved[0].Score
	}
	chain = append(chain, types.ThoughtStep{
		Title:   "Search",
		Content: fmt.Sprintf("hits=%d top_score=%.3f", len(retrieved), topScore),
		Type:    "search",
	})

	answer, err := s.generateAnswer(ctx, history, query, retrieved)
	if err != nil {
		// The persisted user turn stays; the client may retry the turn.
		return nil, err
	}
	chain = append(chain, types.ThoughtStep{Title: "Reason", Content: "answer generated from retrieved context", Type: "reason"})

	citations := buildCitations(retrieved)
	msg := &types.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           types.RoleAssistant,
		Content:        answer,
		Confidence:     confidenceFor(citations, topScore),
		SecurityBadge:  badgeFor(citations),
	}
	if msg.ThoughtChain, err = json.Marshal(chain); err != nil {
		return nil, fmt.Errorf("encode thought chain: %w", err)
	}
	if msg.Citations, err = json.Marshal(citations); err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}

	saved, err := s.msgs.Append(ctx, nil, msg)
	if err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}

	if s.graph != nil {
		if err := s.graph.SyncAnswer(ctx, conv.ID, saved, citations); err != nil {
			log.Warn("Provenance graph sync failed", "message_id", saved.ID, "error", err)
		}
	}
	return saved, nil
}

// rewriteQuery folds conversation context into a standalone query. Any
// failure falls through to the raw query; rewriting is an optimization,
// never a gate.
func (s *ragService) rewriteQuery(ctx context.Context, history []*types.Message, query string) (string, string) {
	if len(history) == 0 {
		return query, "first turn, query used as-is"
	}

	var b strings.Builder
	for _, m := range recentTurns(history, 6) {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nLatest question: %s", query)

	rewritten, err := s.llm.GenerateText(ctx, rewriteSystemPrompt, b.String())
	if err != nil {
		s.log.Warn("Query rewrite failed, using raw query", "error", err)
		return query, "rewrite unavailable, query used as-is"
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query, "rewrite empty, query used as-is"
	}
	return rewritten, fmt.Sprintf("rewrote to %q", rewritten)
}

func (s *ragService) generateAnswer(ctx context.Context, history []*types.Message, query string, retrieved []RetrievedChunk) (string, error) {
	var b strings.Builder
	if len(retrieved) == 0 {
		b.WriteString("Context: no passages were found in the accessible knowledge bases.\n")
	} else {
		b.WriteString("Context passages:\n")
		for i, rc := range retrieved {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, rc.Document.Title, rc.Chunk.Text)
		}
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range recentTurns(history, 6) {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)

	answer, err := s.llm.GenerateText(ctx, answerSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &llm.GenerationError{Operation: "generate_answer", Message: "empty completion"}
	}
	return answer, nil
}

func buildCitations(retrieved []RetrievedChunk) []types.Provenance {
	out := make([]types.Provenance, 0, len(retrieved))
	for _, rc := range retrieved {
		out = append(out, types.Provenance{
			ChunkID:       rc.Chunk.ID,
			DocumentID:    rc.Document.ID,
			SourceType:    "document",
			SourceName:    rc.Document.Title,
			Snippet:       snippet(rc.Chunk.Text),
			Score:         rc.Score,
			SecurityLevel: rc.Document.Clearance,
		})
	}
	return out
}

// confidenceFor maps the top fused score into [0.2, 1.0]; answers with no
// citations are pinned low.
func confidenceFor(citations []types.Provenance, topScore float64) float64 {
	if len(citations) == 0 {
		return 0.1
	}
	if topScore < 0.2 {
		return 0.2
	}
	if topScore > 1.0 {
		return 1.0
	}
	return topScore
}

// badgeFor is the highest clearance among cited material; an uncited
// answer carries the lowest badge.
func badgeFor(citations []types.Provenance) types.Clearance {
	levels := make([]types.Clearance, 0, len(citations))
	for _, c := range citations {
		levels = append(levels, c.SecurityLevel)
	}
	return types.MaxClearance(levels)
}

func recentTurns(history []*types.Message, n int) []*types.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func snippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= snippetMaxLen {
		return string(runes)
	}
	return string(runes[:snippetMaxLen]) + "..."
}

func decodeKBIDs(raw []byte) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}
