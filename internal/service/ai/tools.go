package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	pdfparser "github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"podiumgo/internal/limiter"
	"podiumgo/internal/logger"
)

// InitTools builds the coaching agent's tools. Tools that cannot be set up
// are skipped with a warning.
func InitTools(ctx context.Context, quota *limiter.Limiter, log *slog.Logger) []tool.BaseTool {
	log = logger.OrNop(log)
	var tools []tool.BaseTool
	if ws := InitWebSearch(ctx, log); ws != nil {
		tools = append(tools, ws)
	}
	if dr := initDeckReader(ctx, quota, log); dr != nil {
		tools = append(tools, dr)
	}
	return tools
}

// InitWebSearch lets the audience persona look things up, e.g. what a given
// audience already knows about a topic.
func InitWebSearch(ctx context.Context, log *slog.Logger) tool.InvokableTool {
	googleTool := InitGooglesearch(ctx, log)
	duckTool := InitDDGsearch(ctx, log)
	if googleTool == nil && duckTool == nil {
		log.Warn("web search tool disabled: no search providers available")
		return nil
	}
	ws := &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		log:        log,
	}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for background on the talk's topic or audience; " +
			"falls back to another provider if one fails; " +
			"a URL query fetches that page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	log        *slog.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.log.Warn("web url loader failed", "error", err)
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("google search failed", "error", err)
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("duckduckgo search failed", "error", err)
	}
	return "", errors.New("no search provider succeeded")
}

// deckReader lets the persona read the presenter's deck or notes in chunks.
type deckReader struct {
	loader *file.FileLoader
	quota  *limiter.Limiter
}

type deckReaderParams struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
}

func initDeckReader(ctx context.Context, quota *limiter.Limiter, log *slog.Logger) tool.InvokableTool {
	pdfParser, err := pdfparser.NewPDFParser(ctx, &pdfparser.Config{ToPages: true})
	if err != nil {
		log.Warn("deck reader disabled", "error", err)
		return nil
	}
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        map[string]parser.Parser{".pdf": pdfParser},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		log.Warn("deck reader disabled", "error", err)
		return nil
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		log.Warn("deck reader disabled", "error", err)
		return nil
	}
	if quota == nil {
		quota = limiter.New(limiter.NewMemoryStore(), DeckReaderRateWindow)
	}
	reader := &deckReader{loader: loader, quota: quota}
	info := &schema.ToolInfo{
		Name: "deck_reader",
		Desc: fmt.Sprintf("Read the presenter's uploaded slides or notes in chunks. Pass the document_id "+
			"from the instructions and optionally chunk_index / chunk_size; at most %d calls per minute.", DeckReaderRateLimit),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"document_id": {
				Desc:     "ID of the document to read, given in the system instructions.",
				Type:     schema.String,
				Required: true,
			},
			"chunk_index": {
				Desc: "Zero-based chunk index to read, default 0.",
				Type: schema.Integer,
			},
			"chunk_size": {
				Desc: fmt.Sprintf("Characters per chunk (max %d, default %d).", DeckChunkSizeMax, DeckChunkSizeDefault),
				Type: schema.Integer,
			},
		}),
	}
	return utils.NewTool(info, reader.run)
}

func (t *deckReader) run(ctx context.Context, params *deckReaderParams) (string, error) {
	if params == nil || strings.TrimSpace(params.DocumentID) == "" {
		return "", errors.New("document_id is required")
	}
	var target *Document
	for _, d := range DocumentsFromContext(ctx) {
		if d.ID == params.DocumentID {
			target = &d
			break
		}
	}
	if target == nil {
		return "", errors.New("document not found in current session")
	}

	key := "deck_reader:doc:" + target.ID
	if userID, sessionID, ok := ToolSessionFromContext(ctx); ok {
		key = fmt.Sprintf("deck_reader:user:%d:session:%d", userID, sessionID)
	}
	decision, err := t.quota.Allow(ctx, key, DeckReaderRateLimit)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return "", errors.New("deck reader rate limit exceeded, please retry in a minute")
	}

	docs, err := t.loader.Load(ctx, document.Source{URI: target.Path})
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	text := strings.TrimSpace(builder.String())
	chunk, index, total := chunkText(text, params.ChunkIndex, params.ChunkSize)
	if total == 0 {
		return fmt.Sprintf("Document: %s has no readable text content.", target.FileName), nil
	}
	return fmt.Sprintf("Document: %s\nChunk %d/%d\n\n%s", target.FileName, index+1, total, chunk), nil
}

// InitDDGsearch needs no credentials.
func InitDDGsearch(ctx context.Context, log *slog.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		log.Warn("duckduckgo search disabled", "error", err)
		return nil
	}
	return duckTool
}

// InitGooglesearch requires GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID.
func InitGooglesearch(ctx context.Context, log *slog.Logger) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		log.Info("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Warn("google search disabled", "error", err)
		return nil
	}
	return googleTool
}
