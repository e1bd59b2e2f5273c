package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// ProvenanceStore mirrors answered turns into Neo4j so that "which answers
// cited this document" is one graph hop instead of a JSONB scan. The
// relational store stays authoritative; everything here is rebuildable.
type ProvenanceStore struct {
	client *Client
	log    *logger.Logger
}

func NewProvenanceStore(client *Client, baseLog *logger.Logger) *ProvenanceStore {
	return &ProvenanceStore{
		client: client,
		log:    baseLog.With("store", "ProvenanceGraph"),
	}
}

// SyncAnswer upserts one assistant message and its citation edges.
func (s *ProvenanceStore) SyncAnswer(ctx context.Context, conversationID uuid.UUID, msg *types.Message, citations []types.Provenance) error {
	if s == nil || s.client == nil || s.client.Driver == nil {
		return nil
	}
	if msg == nil || msg.ID == uuid.Nil || conversationID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	answerNode := map[string]any{
		"id":              msg.ID.String(),
		"conversation_id": conversationID.String(),
		"confidence":      msg.Confidence,
		"security_badge":  int(msg.SecurityBadge),
		"created_at":      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		"synced_at":       now,
	}

	citationRels := make([]map[string]any, 0, len(citations))
	seen := map[uuid.UUID]struct{}{}
	for rank, c := range citations {
		if c.ChunkID == uuid.Nil || c.DocumentID == uuid.Nil {
			continue
		}
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		citationRels = append(citationRels, map[string]any{
			"answer_id":      msg.ID.String(),
			"chunk_id":       c.ChunkID.String(),
			"document_id":    c.DocumentID.String(),
			"source_name":    c.SourceName,
			"security_level": int(c.SecurityLevel),
			"score":          c.Score,
			"rank":           rank,
			"synced_at":      now,
		})
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	s.initSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MERGE (c:Conversation {id: $conversation_id})
SET c.synced_at = $synced_at
WITH c
MERGE (a:Answer {id: $answer.id})
SET a += $answer
MERGE (c)-[e:HAS_ANSWER]->(a)
SET e.synced_at = $synced_at
`, map[string]any{
			"conversation_id": conversationID.String(),
			"answer":          answerNode,
			"synced_at":       now,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(citationRels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $cites AS c
MATCH (a:Answer {id: c.answer_id})
MERGE (d:Document {id: c.document_id})
SET d.source_name = c.source_name,
    d.security_level = c.security_level,
    d.synced_at = c.synced_at
MERGE (ch:Chunk {id: c.chunk_id})
SET ch.synced_at = c.synced_at
MERGE (ch)-[p:PART_OF]->(d)
SET p.synced_at = c.synced_at
MERGE (a)-[x:CITES]->(ch)
SET x.score = c.score, x.rank = c.rank, x.synced_at = c.synced_at
`, map[string]any{"cites": citationRels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("Answer synced to provenance graph", "message_id", msg.ID, "citations", len(citationRels))
	return nil
}

// Neighborhood lists the answers that cited a document, newest first.
type Neighborhood struct {
	DocumentID uuid.UUID     `json:"document_id"`
	Answers    []CitedAnswer `json:"answers"`
}

type CitedAnswer struct {
	AnswerID       uuid.UUID `json:"answer_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	ChunkID        uuid.UUID `json:"chunk_id"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
}

func (s *ProvenanceStore) DocumentNeighborhood(ctx context.Context, documentID uuid.UUID, limit int) (*Neighborhood, error) {
	out := &Neighborhood{DocumentID: documentID, Answers: []CitedAnswer{}}
	if s == nil || s.client == nil || s.client.Driver == nil {
		return out, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Answer)-[x:CITES]->(ch:Chunk)-[:PART_OF]->(d:Document {id: $document_id})
RETURN a.id AS answer_id, a.conversation_id AS conversation_id,
       ch.id AS chunk_id, x.score AS score, a.confidence AS confidence
ORDER BY a.created_at DESC
LIMIT $limit
`, map[string]any{
			"document_id": documentID.String(),
			"limit":       limit,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	for _, rec := range records.([]*neo4j.Record) {
		answer := parseRecord(rec)
		if answer != nil {
			out.Answers = append(out.Answers, *answer)
		}
	}
	return out, nil
}

func (s *ProvenanceStore) initSchema(ctx context.Context, session neo4j.SessionWithContext) {
	stmts := []string{
		`CREATE CONSTRAINT conversation_id_unique IF NOT EXISTS FOR (c:Conversation) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT answer_id_unique IF NOT EXISTS FOR (a:Answer) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (ch:Chunk) REQUIRE ch.id IS UNIQUE`,
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("Graph schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func parseRecord(rec *neo4j.Record) *CitedAnswer {
	answerID, err := recordUUID(rec, "answer_id")
	if err != nil {
		return nil
	}
	conversationID, err := recordUUID(rec, "conversation_id")
	if err != nil {
		return nil
	}
	chunkID, err := recordUUID(rec, "chunk_id")
	if err != nil {
		return nil
	}
	out := &CitedAnswer{AnswerID: answerID, ConversationID: conversationID, ChunkID: chunkID}
	if v, ok := rec.Get("score"); ok {
		if f, ok := v.(float64); ok {
			out.Score = f
		}
	}
	if v, ok := rec.Get("confidence"); ok {
		if f, ok := v.(float64); ok {
			out.Confidence = f
		}
	}
	return out
}

func recordUUID(rec *neo4j.Record, key string) (uuid.UUID, error) {
	v, ok := rec.Get(key)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("field %q is not a string", key)
	}
	return uuid.Parse(s)
}
