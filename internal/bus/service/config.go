package service

import (
	"context"
	"fmt"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
)

// BusInfo is the bus-level configuration snapshot agents read at startup.
// The language fields are a soft preference, not an enforcement mechanism.
type BusInfo struct {
	PreferredLanguage string `json:"preferred_language"`
	LanguageSource    string `json:"language_source"` // "env" | "session" | "default"
	LanguageNote      string `json:"language_note"`
	BusName           string `json:"bus_name"`
	Version           string `json:"version"`
	Endpoint          string `json:"endpoint"`
}

// BusConfig reports the bus configuration. sessionLanguage, when non-empty,
// is a per-connection override carried by the transport and wins over the
// configured default.
func (s *Service) BusConfig(sessionLanguage string) *BusInfo {
	lang := s.cfg.Bus.Language
	source := s.cfg.Bus.LanguageSource()
	if sessionLanguage != "" {
		lang = sessionLanguage
		source = "session"
	}
	return &BusInfo{
		PreferredLanguage: lang,
		LanguageSource:    source,
		LanguageNote: fmt.Sprintf(
			"Please respond in %s whenever possible. This is a soft preference, use your best judgement.", lang),
		BusName:  s.cfg.Bus.Name,
		Version:  config.Version,
		Endpoint: s.cfg.Server.Endpoint(),
	}
}

// EventsSince returns durable events with id > afterID for stream replay.
func (s *Service) EventsSince(ctx context.Context, afterID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.repo.EventsSince(ctx, afterID, limit)
}
