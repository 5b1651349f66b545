package retrieval

import (
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
)

func toTextMatches(hits []semantic.Hit) []domain.TextMatch {
	out := make([]domain.TextMatch, len(hits))
	for i, h := range hits {
		rec := domain.LogRecord{
			ID:       firstNonEmpty(h.Payload[semantic.KeyRecordID], h.ID),
			Text:     h.Payload[semantic.KeyChatText],
			Location: h.Payload[semantic.KeyLocation],
			Role:     domain.RoleSystemReport,
		}
		if ts, err := time.Parse(time.RFC3339, h.Payload[semantic.KeyTimestamp]); err == nil {
			rec.SourceTimestamp = &ts
		}
		if r, err := domain.ParseRole(h.Payload[semantic.KeyRole]); err == nil {
			rec.Role = r
		}
		out[i] = domain.TextMatch{Record: rec, Score: h.Score}
	}
	return out
}

func toImageMatches(hits []semantic.Hit) []domain.ImageMatch {
	out := make([]domain.ImageMatch, len(hits))
	for i, h := range hits {
		out[i] = domain.ImageMatch{
			Record: domain.ImageRecord{
				ID:       firstNonEmpty(h.Payload[semantic.KeyFilename], h.Payload[semantic.KeyRecordID], h.ID),
				FilePath: h.Payload[semantic.KeyFilePath],
				Caption:  h.Payload[semantic.KeyDescription],
			},
			Score: h.Score,
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
