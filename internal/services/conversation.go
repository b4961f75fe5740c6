package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type ConversationView struct {
	Conversation *chat.Conversation
	Messages     []*chat.Message
	Votes        []*chat.Vote
	// StreamIDs lists every generation stream, oldest first.
	StreamIDs []uuid.UUID
	IsOwner   bool
}

type ConversationService interface {
	List(dbc dbctx.Context, limit int, before *time.Time) ([]*chat.Conversation, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*ConversationView, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
	SetVisibility(dbc dbctx.Context, id uuid.UUID, visibility string) (*chat.Conversation, error)
	// TruncateFrom deletes messageID and every later turn, for edit-and-resubmit.
	TruncateFrom(dbc dbctx.Context, conversationID, messageID uuid.UUID) (int64, error)
	Vote(dbc dbctx.Context, conversationID, messageID uuid.UUID, up bool) error
	ListVotes(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Vote, error)
}

type conversationService struct {
	log   *logger.Logger
	repos repos.Set
}

func NewConversationService(log *logger.Logger, set repos.Set) ConversationService {
	return &conversationService{log: log.With("service", "ConversationService"), repos: set}
}

// load fetches the conversation and checks the caller may see it. owned
// additionally requires the caller to be the owner.
func (s *conversationService) load(dbc dbctx.Context, id uuid.UUID, owned bool) (*chat.Conversation, uuid.UUID, error) {
	rd, err := requireUser(dbc.Ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if id == uuid.Nil {
		return nil, uuid.Nil, apierr.Validation("missing conversation id")
	}
	conv, err := s.repos.Conversations.GetByID(dbc, id)
	if err != nil {
		return nil, uuid.Nil, apierr.Internal(err)
	}
	if conv == nil {
		return nil, uuid.Nil, apierr.NotFound("conversation")
	}
	if owned && conv.UserID != rd.UserID {
		return nil, uuid.Nil, apierr.Forbidden("not the conversation owner")
	}
	if !conv.VisibleTo(rd.UserID) {
		return nil, uuid.Nil, apierr.Forbidden("conversation is private")
	}
	return conv, rd.UserID, nil
}

func (s *conversationService) List(dbc dbctx.Context, limit int, before *time.Time) ([]*chat.Conversation, error) {
	rd, err := requireUser(dbc.Ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Conversations.ListByUser(dbc, rd.UserID, limit, before)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return rows, nil
}

func (s *conversationService) Get(dbc dbctx.Context, id uuid.UUID) (*ConversationView, error) {
	conv, userID, err := s.load(dbc, id, false)
	if err != nil {
		return nil, err
	}
	view := &ConversationView{Conversation: conv, IsOwner: conv.UserID == userID}

	g, gctx := errgroup.WithContext(dbc.Ctx)
	inner := dbctx.Context{Ctx: gctx, Tx: dbc.Tx}
	if dbc.Tx != nil {
		// A transaction is a single connection.
		g.SetLimit(1)
	}
	g.Go(func() error {
		rows, err := s.repos.Messages.ListByConversation(inner, id)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		view.Messages = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repos.Votes.ListByConversation(inner, id)
		if err != nil {
			return fmt.Errorf("list votes: %w", err)
		}
		view.Votes = rows
		return nil
	})
	g.Go(func() error {
		ids, err := s.repos.Streams.ListIDs(inner, id)
		if err != nil {
			return fmt.Errorf("list streams: %w", err)
		}
		view.StreamIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apierr.Internal(err)
	}
	return view, nil
}

func (s *conversationService) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if _, _, err := s.load(dbc, id, true); err != nil {
		return err
	}
	if err := s.repos.Conversations.DeleteCascade(dbc, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("conversation")
		}
		return apierr.Internal(err)
	}
	s.log.Info("conversation deleted", "conversation_id", id)
	return nil
}

func (s *conversationService) SetVisibility(dbc dbctx.Context, id uuid.UUID, visibility string) (*chat.Conversation, error) {
	if !chat.ValidVisibility(visibility) {
		return nil, apierr.Validation("invalid visibility %q", visibility)
	}
	conv, _, err := s.load(dbc, id, true)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Conversations.UpdateFields(dbc, id, map[string]interface{}{"visibility": visibility}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("conversation")
		}
		return nil, apierr.Internal(err)
	}
	conv.Visibility = visibility
	return conv, nil
}

func (s *conversationService) TruncateFrom(dbc dbctx.Context, conversationID, messageID uuid.UUID) (int64, error) {
	if _, _, err := s.load(dbc, conversationID, true); err != nil {
		return 0, err
	}
	msg, err := s.repos.Messages.GetByID(dbc, messageID)
	if err != nil {
		return 0, apierr.Internal(err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return 0, apierr.NotFound("message")
	}
	n, err := s.repos.Messages.DeleteFrom(dbc, conversationID, msg.CreatedAt)
	if err != nil {
		return 0, apierr.Internal(err)
	}
	return n, nil
}

func (s *conversationService) Vote(dbc dbctx.Context, conversationID, messageID uuid.UUID, up bool) error {
	if _, _, err := s.load(dbc, conversationID, true); err != nil {
		return err
	}
	msg, err := s.repos.Messages.GetByID(dbc, messageID)
	if err != nil {
		return apierr.Internal(err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return apierr.NotFound("message")
	}
	if err := s.repos.Votes.Upsert(dbc, &chat.Vote{ConversationID: conversationID, MessageID: messageID, IsUpvoted: up}); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

func (s *conversationService) ListVotes(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Vote, error) {
	if _, _, err := s.load(dbc, conversationID, true); err != nil {
		return nil, err
	}
	rows, err := s.repos.Votes.ListByConversation(dbc, conversationID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return rows, nil
}
