package services

import (
	"context"

	"room-chat/internal/apperr"
	"room-chat/internal/models"
	"room-chat/internal/repositories"
)

const (
	DefaultPageSize = 20
	MinPageSize     = 5
	MaxPageSize     = 100
)

// Admitter performs the admission check for a room.
type Admitter interface {
	Admit(ctx context.Context, userID, roomID int64) (models.Room, error)
}

// HistoryService is the paginated read path over durable history.
type HistoryService struct {
	admitter Admitter
	messages repositories.MessageRepository
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(admitter Admitter, messages repositories.MessageRepository) *HistoryService {
	return &HistoryService{admitter: admitter, messages: messages}
}

// ClampPage normalizes paging input: page >= 1 and pageSize within [5,100].
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < MinPageSize {
		pageSize = MinPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// GetHistory returns one page of the room's messages, newest first.
func (s *HistoryService) GetHistory(ctx context.Context, roomID, userID int64, page, pageSize int) (models.HistoryPage, error) {
	if _, err := s.admitter.Admit(ctx, userID, roomID); err != nil {
		return models.HistoryPage{}, err
	}

	page, pageSize = ClampPage(page, pageSize)
	msgs, total, err := s.messages.GetMessages(ctx, roomID, page, pageSize)
	if err != nil {
		return models.HistoryPage{}, apperr.Internal(err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	return models.HistoryPage{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Messages: dedupeByID(msgs),
	}, nil
}

// Recent returns the latest limit persisted messages in ascending order. It
// performs no admission check; callers have already admitted the session.
func (s *HistoryService) Recent(ctx context.Context, roomID int64, limit int) ([]models.Envelope, error) {
	msgs, err := s.messages.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	msgs = dedupeByID(msgs)
	out := make([]models.Envelope, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToEnvelope())
	}
	return out, nil
}

func dedupeByID(msgs []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
