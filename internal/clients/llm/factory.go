package llm

import (
	"fmt"
	"strings"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// FromEnv selects the generation backend via LLM_PROVIDER. "openai" and
// "deepseek" share the same wire protocol and differ only in base URL
// defaults; "mock" runs fully in-process.
func FromEnv(log *logger.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(utils.GetEnv("LLM_PROVIDER", "openai", log)))
	switch provider {
	case "openai":
		return newHTTPClient(log, "https://api.openai.com")
	case "deepseek":
		return newHTTPClient(log, "https://api.deepseek.com")
	case "mock":
		dim := utils.GetEnvAsInt("EMBEDDING_DIMENSION", 1536, log)
		return NewMockClient(dim), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (expected openai, deepseek, or mock)", provider)
	}
}
