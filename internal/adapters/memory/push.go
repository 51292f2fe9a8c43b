package memory

import (
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

// PushService logs what the real push collaborator would deliver.
type PushService struct{}

func NewPushService() *PushService { return &PushService{} }

func (*PushService) NotifyOffline(uid domain.UserID, summary string) {
	log.Info().Str("module", "adapters.push").Str("user", string(uid)).Str("summary", summary).Msg("offline push")
}
