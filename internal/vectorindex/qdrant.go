package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

const maxErrorBodyBytes = 1024

// qdrantIndex mirrors chunk vectors into a Qdrant collection. Chunk and
// document ids ride in the payload so the KB scope filter and per-document
// deletes work server side. Keyword search is not a Qdrant capability, so
// it delegates to the database-backed index.
type qdrantIndex struct {
	log        *logger.Logger
	baseURL    string
	collection string
	vectorDim  int
	http       *http.Client
	keyword    Index
}

type qdrantConfig struct {
	URL        string
	Collection string
	VectorDim  int
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func newQdrantIndex(baseLog *logger.Logger, cfg qdrantConfig, keyword Index) (Index, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant index: QDRANT_URL required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant index: QDRANT_COLLECTION required")
	}
	if keyword == nil {
		return nil, fmt.Errorf("qdrant index: keyword delegate required")
	}

	idx := &qdrantIndex{
		log:        baseLog.With("index", "QdrantIndex"),
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		vectorDim:  cfg.VectorDim,
		http:       &http.Client{Timeout: 10 * time.Second},
		keyword:    keyword,
	}
	if err := idx.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	idx.log.Info(
		"Qdrant index selected",
		"url", idx.baseURL,
		"collection", idx.collection,
		"vector_dim", idx.vectorDim,
	)
	return idx, nil
}

// NewQdrantIndexFromEnv reads QDRANT_URL, QDRANT_COLLECTION and
// EMBEDDING_DIMENSION.
func NewQdrantIndexFromEnv(baseLog *logger.Logger, keyword Index) (Index, error) {
	cfg := qdrantConfig{
		URL:        utils.GetEnv("QDRANT_URL", "", baseLog),
		Collection: utils.GetEnv("QDRANT_COLLECTION", "aegiskb_chunks", baseLog),
		VectorDim:  utils.GetEnvAsInt("EMBEDDING_DIMENSION", 1536, baseLog),
	}
	return newQdrantIndex(baseLog, cfg, keyword)
}

func (i *qdrantIndex) Upsert(ctx context.Context, chunks []*types.DocumentChunk) error {
	const op = "upsert"
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		values := c.Embedding.Slice()
		if len(values) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("chunk %s has empty vector", c.ID), nil)
		}
		if i.vectorDim > 0 && len(values) != i.vectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf("chunk %s dimension mismatch: expected=%d got=%d", c.ID, i.vectorDim, len(values)),
				nil,
			)
		}
		points = append(points, map[string]any{
			"id":     c.ID.String(),
			"vector": values,
			"payload": map[string]any{
				"chunk_id":    c.ID.String(),
				"document_id": c.DocumentID.String(),
				"kb_id":       c.KBID.String(),
			},
		})
	}

	req := map[string]any{"points": points}
	return i.doJSON(ctx, op, http.MethodPut, i.collectionPath("/points?wait=true"), req, nil)
}

func (i *qdrantIndex) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	const op = "delete_by_document"
	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				matchCondition("document_id", documentID.String()),
			},
		},
	}
	return i.doJSON(ctx, op, http.MethodPost, i.collectionPath("/points/delete?wait=true"), req, nil)
}

func (i *qdrantIndex) SimilaritySearch(ctx context.Context, vector []float32, kbIDs []uuid.UUID, k int, threshold float64) ([]Match, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if i.vectorDim > 0 && len(vector) != i.vectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", i.vectorDim, len(vector)),
			nil,
		)
	}
	if len(kbIDs) == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = 10
	}

	anyKB := make([]string, 0, len(kbIDs))
	for _, id := range kbIDs {
		anyKB = append(anyKB, id.String())
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   "kb_id",
					"match": map[string]any{"any": anyKB},
				},
			},
		},
	}
	if threshold > 0 {
		req["score_threshold"] = threshold
	}

	var rawResults []qdrantSearchResultItem
	if err := i.doJSON(ctx, op, http.MethodPost, i.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(rawResults))
	for _, item := range rawResults {
		chunkID, ok := item.Payload["chunk_id"].(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(strings.TrimSpace(chunkID))
		if err != nil {
			continue
		}
		out = append(out, Match{ChunkID: id, Score: item.Score})
	}
	sortMatches(out)
	return out, nil
}

func (i *qdrantIndex) KeywordSearch(ctx context.Context, query string, kbIDs []uuid.UUID, k int) ([]Match, error) {
	return i.keyword.KeywordSearch(ctx, query, kbIDs, k)
}

func (i *qdrantIndex) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := i.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := i.doJSON(ctx, op, http.MethodGet, i.collectionPath(""), nil, &result); err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && i.vectorDim > 0 && size != i.vectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf(
				"qdrant collection %q vector size mismatch: expected=%d actual=%d",
				i.collection,
				i.vectorDim,
				size,
			),
		}
	}
	return nil
}

func (i *qdrantIndex) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (i *qdrantIndex) collectionPath(suffix string) string {
	path := "/collections/" + i.collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
