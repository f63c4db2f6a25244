// Package retrieval ships two reference RetrievalEngine implementations:
// a Bleve keyword index over conversation content and an embedding-backed
// search over recent turns. The adaptive gate consumes their output; it
// never calls an engine directly.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/provider"
)

// BleveConfig holds configuration for the keyword engine.
type BleveConfig struct {
	IndexPath string `yaml:"index_path"`
	InMemory  bool   `yaml:"in_memory"`
}

// DefaultBleveConfig returns sensible defaults.
func DefaultBleveConfig() BleveConfig {
	return BleveConfig{
		IndexPath: "./data/context.bleve",
		InMemory:  false,
	}
}

// chunkDoc is the indexed form of one retrievable chunk.
type chunkDoc struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

// BleveEngine is a keyword RetrievalEngine over node summaries and content.
type BleveEngine struct {
	index  bleve.Index
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewBleveEngine opens or creates the index.
func NewBleveEngine(cfg BleveConfig, logger *zap.Logger) (*BleveEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var index bleve.Index
	var err error
	if cfg.InMemory {
		index, err = bleve.NewMemOnly(buildMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		index, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			index, err = bleve.New(cfg.IndexPath, buildMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	logger.Info("retrieval index ready",
		zap.String("path", cfg.IndexPath),
		zap.Bool("in_memory", cfg.InMemory))
	return &BleveEngine{index: index, logger: logger.Named("bleve")}, nil
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Index = true
	textField.Store = true
	textField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("text", textField)

	convField := bleve.NewTextFieldMapping()
	convField.Index = true
	convField.Store = true
	convField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("conversation_id", convField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("chunk", docMapping)
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Index adds or replaces a chunk.
func (e *BleveEngine) Index(id, text, conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Index(id, chunkDoc{Text: text, ConversationID: conversationID})
}

// Add implements the kernel's index contract over Index.
func (e *BleveEngine) Add(_ context.Context, id, text, conversationID string) error {
	return e.Index(id, text, conversationID)
}

// Remove deletes a chunk from the index.
func (e *BleveEngine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Delete(id)
}

// Search implements provider.RetrievalEngine. Scores are normalized to
// (0,1] by the top hit so the gate's thresholds see a stable range.
func (e *BleveEngine) Search(ctx context.Context, query string, k int) ([]provider.Candidate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"text", "conversation_id"}

	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	top := res.Hits[0].Score
	out := make([]provider.Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		text, _ := hit.Fields["text"].(string)
		convID, _ := hit.Fields["conversation_id"].(string)
		score := hit.Score
		if top > 0 {
			score = hit.Score / top
		}
		out = append(out, provider.Candidate{
			ID:      hit.ID,
			Content: text,
			Score:   score,
			Metadata: map[string]string{
				"conversation_id": convID,
			},
		})
	}
	return out, nil
}

// Close releases the index.
func (e *BleveEngine) Close() error {
	return e.index.Close()
}
