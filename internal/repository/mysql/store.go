package mysql

import (
	"context"

	"Lee_Social/internal/service"

	"gorm.io/gorm"
)

// Store hands out repositories that share one *gorm.DB, which is a
// transaction handle inside Transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Users() service.UserRepository { return &UserRepository{DB: s.db} }

func (s *Store) RefreshTokens() service.RefreshTokenRepository {
	return &RefreshTokenRepository{DB: s.db}
}

func (s *Store) Communities() service.CommunityRepository { return &CommunityRepository{DB: s.db} }

func (s *Store) Members() service.MemberRepository { return &CommunityMemberRepository{DB: s.db} }

func (s *Store) Invites() service.InviteRepository { return &InviteRepository{DB: s.db} }

func (s *Store) Outbox() service.OutboxRepository { return &OutboxRepository{DB: s.db} }

func (s *Store) Transaction(ctx context.Context, fn func(tx service.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

var _ service.Store = (*Store)(nil)
