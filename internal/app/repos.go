package app

import (
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
)

type Repos struct {
	KnowledgeBases repos.KnowledgeBaseRepo
	Documents      repos.DocumentRepo
	Chunks         repos.DocumentChunkRepo
	Conversations  repos.ConversationRepo
	Messages       repos.MessageRepo
	IngestionRuns  repos.IngestionRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		KnowledgeBases: repos.NewKnowledgeBaseRepo(db, log),
		Documents:      repos.NewDocumentRepo(db, log),
		Chunks:         repos.NewDocumentChunkRepo(db, log),
		Conversations:  repos.NewConversationRepo(db, log),
		Messages:       repos.NewMessageRepo(db, log),
		IngestionRuns:  repos.NewIngestionRunRepo(db, log),
	}
}
