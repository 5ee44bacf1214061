package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"Lee_Social/internal/logging"
	"Lee_Social/internal/metrics"
	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/samber/oops"
)

const (
	DefaultPageSize     = 20
	MaxPageSize         = 50
	DefaultInviteDays   = 7
	MaxInviteDays       = 365
	inviteCodeAttempts  = 3
	inviteLockAttempts  = 5
	inviteLockRetryWait = 20 * time.Millisecond
)

type CommunityService struct {
	store  Store
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewCommunityService locker may be nil, in which case joins on an invite
// rely on the bounded update alone.
func NewCommunityService(store Store, locker Locker, logger *slog.Logger) *CommunityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommunityService{store: store, locker: locker, logger: logger, now: time.Now}
}

func (s *CommunityService) WithClock(now func() time.Time) *CommunityService {
	s.now = now
	return s
}

type CreateCommunityInput struct {
	Name        string
	Description *string
	Privacy     model.Privacy
	Tags        []string
}

// CreateCommunity 建社区：社区、创建者的 Owner 成员关系和 outbox 事件在同一事务里
func (s *CommunityService) CreateCommunity(ctx context.Context, ownerID string, in CreateCommunityInput) (*model.CommunityView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := checkStruct(communityInput{Name: in.Name, Description: in.Description, Tags: in.Tags}); err != nil {
		return nil, err
	}
	if !in.Privacy.Valid() {
		return nil, errInvalidInput("privacy", "unknown privacy %d", in.Privacy)
	}
	ok, err := s.store.Users().Exists(ctx, ownerID)
	if err != nil {
		return nil, errStore("check owner", err)
	}
	if !ok {
		return nil, oops.Code(CodeUserNotFound).With("user_id", ownerID).Errorf("user not found")
	}

	now := s.now()
	c := &model.Community{
		ID:          pkg.NewID(),
		Name:        in.Name,
		Description: in.Description,
		Privacy:     in.Privacy,
		OwnerID:     ownerID,
		MemberCount: 1,
		Tags:        model.Tags(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.Communities().Create(ctx, c); err != nil {
			return err
		}
		if err := tx.Members().Create(ctx, &model.CommunityMember{
			ID:          pkg.NewID(),
			CommunityID: c.ID,
			UserID:      ownerID,
			Role:        model.RoleOwner,
			Status:      model.MemberActive,
			JoinedAt:    now,
		}); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, model.EventCommunityCreated, c.ID, ownerID, nil)
	})
	if err != nil {
		return nil, errStore("create community", err)
	}
	s.logger.InfoContext(ctx, "community created", "community_id", c.ID, "owner_id", ownerID)
	owner := model.RoleOwner
	v := model.NewCommunityView(c, &owner)
	return &v, nil
}

// CreateInvite Owner/Moderator 生成邀请码；maxUses 为 nil 表示不限次数
func (s *CommunityService) CreateInvite(ctx context.Context, communityID, requesterID string, maxUses *int, expiresInDays int) (*model.InviteView, error) {
	if _, err := s.community(ctx, communityID); err != nil {
		return nil, err
	}
	if _, err := s.manager(ctx, communityID, requesterID); err != nil {
		return nil, err
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, errInvalidInput("maxUses", "maxUses must be at least 1")
	}
	if expiresInDays == 0 {
		expiresInDays = DefaultInviteDays
	}
	if expiresInDays < 1 || expiresInDays > MaxInviteDays {
		return nil, errInvalidInput("expiresInDays", "expiresInDays must be between 1 and %d", MaxInviteDays)
	}

	now := s.now()
	inv := &model.CommunityInvite{
		ID:          pkg.NewID(),
		CommunityID: communityID,
		CreatedBy:   requesterID,
		ExpiresAt:   now.Add(time.Duration(expiresInDays) * 24 * time.Hour),
		MaxUses:     maxUses,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// 邀请码唯一索引冲突时换一个码重试
	for attempt := 1; ; attempt++ {
		code, err := pkg.NewInviteCode()
		if err != nil {
			return nil, oops.Code(CodeInternal).With("operation", "generate invite code").Wrap(err)
		}
		inv.Code = code
		err = s.store.Invites().Create(ctx, inv)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrDuplicate) || attempt == inviteCodeAttempts {
			return nil, errStore("create invite", err)
		}
	}
	s.logger.InfoContext(ctx, "invite created", "community_id", communityID, "invite_id", inv.ID)
	v := inv.View()
	return &v, nil
}

// JoinCommunity 加入社区；私密社区必须带有效邀请码
func (s *CommunityService) JoinCommunity(ctx context.Context, communityID, userID, inviteCode string) (*model.CommunityView, error) {
	v, err := s.join(ctx, communityID, userID, strings.TrimSpace(inviteCode))
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.JoinsTotal.WithLabelValues(outcome).Inc()
	return v, err
}

func (s *CommunityService) join(ctx context.Context, communityID, userID, code string) (*model.CommunityView, error) {
	c, err := s.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, communityID, userID); err == nil {
		return nil, alreadyMember(communityID, userID)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, errStore("get membership", err)
	}

	var inv *model.CommunityInvite
	if c.Privacy == model.PrivacyPrivate {
		if inv, err = s.checkInvite(ctx, communityID, code); err != nil {
			return nil, err
		}
		unlock := s.lockInvite(ctx, inv.Code)
		defer unlock()
	}

	now := s.now()
	err = s.store.Transaction(ctx, func(tx Store) error {
		if inv != nil {
			ok, err := tx.Invites().Redeem(ctx, inv.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code(CodeInviteExhausted).With("invite_id", inv.ID).Errorf("invite has no uses left")
			}
		}
		err := tx.Members().Create(ctx, &model.CommunityMember{
			ID:          pkg.NewID(),
			CommunityID: communityID,
			UserID:      userID,
			Role:        model.RoleMember,
			Status:      model.MemberActive,
			JoinedAt:    now,
		})
		if errors.Is(err, model.ErrDuplicate) {
			return alreadyMember(communityID, userID)
		}
		if err != nil {
			return err
		}
		if err := tx.Communities().AdjustMemberCount(ctx, communityID, 1); err != nil {
			return err
		}
		var extra map[string]any
		if inv != nil {
			extra = map[string]any{"invite_id": inv.ID}
		}
		return s.appendEvent(ctx, tx, model.EventMemberJoined, communityID, userID, extra)
	})
	if err != nil {
		return nil, errStore("join community", err)
	}

	if fresh, err := s.store.Communities().GetByID(ctx, communityID); err == nil {
		c = fresh
	} else {
		logging.LogError(ctx, s.logger, "reload community failed", errStore("get community", err))
	}
	s.logger.InfoContext(ctx, "member joined", "community_id", communityID, "user_id", userID)
	member := model.RoleMember
	v := model.NewCommunityView(c, &member)
	return &v, nil
}

// checkInvite 预检邀请码；真正的次数判断在事务里的 Redeem
func (s *CommunityService) checkInvite(ctx context.Context, communityID, code string) (*model.CommunityInvite, error) {
	if code == "" {
		return nil, oops.Code(CodeInviteRequired).With("community_id", communityID).Errorf("invite code required")
	}
	inv, err := s.store.Invites().GetByCode(ctx, strings.ToUpper(code))
	if errors.Is(err, model.ErrNotFound) {
		return nil, oops.Code(CodeInvalidInvite).Errorf("invalid invite code")
	}
	if err != nil {
		return nil, errStore("get invite", err)
	}
	if inv.CommunityID != communityID || !inv.Active {
		return nil, oops.Code(CodeInvalidInvite).With("invite_id", inv.ID).Errorf("invalid invite code")
	}
	if inv.IsExpiredAt(s.now()) {
		return nil, oops.Code(CodeInviteExpired).With("invite_id", inv.ID).Errorf("invite has expired")
	}
	if inv.Exhausted() {
		return nil, oops.Code(CodeInviteExhausted).With("invite_id", inv.ID).Errorf("invite has no uses left")
	}
	return inv, nil
}

// lockInvite 尽力而为：拿不到锁也继续，由有界更新兜底
func (s *CommunityService) lockInvite(ctx context.Context, code string) func() {
	if s.locker == nil {
		return func() {}
	}
	token := pkg.NewID()
	for i := 0; i < inviteLockAttempts; i++ {
		ok, err := s.locker.Acquire(ctx, code, token)
		if err != nil {
			s.logger.WarnContext(ctx, "invite lock unavailable", "error", err)
			return func() {}
		}
		if ok {
			return func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), code, token); err != nil {
					s.logger.WarnContext(ctx, "invite lock release failed", "error", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(inviteLockRetryWait):
		}
	}
	return func() {}
}

// LeaveCommunity 退出社区；Owner 不能退出
func (s *CommunityService) LeaveCommunity(ctx context.Context, communityID, userID string) error {
	c, err := s.community(ctx, communityID)
	if err != nil {
		return err
	}
	m, err := s.membership(ctx, communityID, userID)
	if errors.Is(err, model.ErrNotFound) {
		return errNotAMember(communityID, userID)
	}
	if err != nil {
		return errStore("get membership", err)
	}
	if m.Role == model.RoleOwner || c.OwnerID == userID {
		return oops.Code(CodeOwnerCannotLeave).With("community_id", communityID).Errorf("the owner cannot leave the community")
	}

	err = s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.Members().SoftDelete(ctx, m.ID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return errNotAMember(communityID, userID)
			}
			return err
		}
		if err := tx.Communities().AdjustMemberCount(ctx, communityID, -1); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, model.EventMemberLeft, communityID, userID, nil)
	})
	if err != nil {
		return errStore("leave community", err)
	}
	s.logger.InfoContext(ctx, "member left", "community_id", communityID, "user_id", userID)
	return nil
}

// UpdateMemberRole 修改成员角色，权限判断见 EvaluateRoleChange
func (s *CommunityService) UpdateMemberRole(ctx context.Context, communityID, requesterID, targetUserID string, newRole model.Role) error {
	if !newRole.Valid() {
		return errInvalidInput("newRole", "unknown role %d", newRole)
	}
	if _, err := s.community(ctx, communityID); err != nil {
		return err
	}
	requester, err := s.optionalMembership(ctx, communityID, requesterID)
	if err != nil {
		return err
	}
	target, err := s.optionalMembership(ctx, communityID, targetUserID)
	if err != nil {
		return err
	}

	d := EvaluateRoleChange(RoleChange{Requester: requester, Target: target, NewRole: newRole})
	if !d.Allowed() {
		return oops.Code(d.Code).
			With("community_id", communityID).
			With("requester_id", requesterID).
			With("target_id", targetUserID).
			Errorf("%s", d.Reason)
	}

	old := target.Role
	target.Role = newRole
	err = s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.Members().Update(ctx, target); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, model.EventRoleChanged, communityID, targetUserID, map[string]any{
			"changed_by": requesterID,
			"old_role":   old.String(),
			"new_role":   newRole.String(),
		})
	})
	if err != nil {
		return errStore("update member role", err)
	}
	s.logger.InfoContext(ctx, "member role changed",
		"community_id", communityID, "user_id", targetUserID, "role", newRole.String())
	return nil
}

// Get 社区详情；查看者是成员时带上角色
func (s *CommunityService) Get(ctx context.Context, communityID, viewerID string) (*model.CommunityView, error) {
	c, err := s.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	m, err := s.optionalMembership(ctx, communityID, viewerID)
	if err != nil {
		return nil, err
	}
	var role *model.Role
	if m != nil {
		role = &m.Role
	}
	v := model.NewCommunityView(c, role)
	return &v, nil
}

func pageBounds(page, size int) (skip, limit int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return (page - 1) * size, size
}

// ListPublic 公开社区列表，新的在前
func (s *CommunityService) ListPublic(ctx context.Context, page, size int) ([]model.CommunityView, error) {
	skip, limit := pageBounds(page, size)
	list, err := s.store.Communities().ListPublic(ctx, skip, limit)
	if err != nil {
		return nil, errStore("list public communities", err)
	}
	out := make([]model.CommunityView, 0, len(list))
	for i := range list {
		out = append(out, model.NewCommunityView(&list[i], nil))
	}
	return out, nil
}

// ListForUser 用户加入的社区，带上其角色
func (s *CommunityService) ListForUser(ctx context.Context, userID string, page, size int) ([]model.CommunityView, error) {
	skip, limit := pageBounds(page, size)
	list, err := s.store.Communities().ListForUser(ctx, userID, skip, limit)
	if err != nil {
		return nil, errStore("list user communities", err)
	}
	out := make([]model.CommunityView, 0, len(list))
	for i := range list {
		m, err := s.optionalMembership(ctx, list[i].ID, userID)
		if err != nil {
			return nil, err
		}
		var role *model.Role
		if m != nil {
			role = &m.Role
		}
		out = append(out, model.NewCommunityView(&list[i], role))
	}
	return out, nil
}

// ListMembers 私密社区只有成员能看
func (s *CommunityService) ListMembers(ctx context.Context, communityID, requesterID string) ([]model.MemberView, error) {
	c, err := s.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if c.Privacy == model.PrivacyPrivate {
		m, err := s.optionalMembership(ctx, communityID, requesterID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, errNotAMember(communityID, requesterID)
		}
	}
	list, err := s.store.Members().ListForCommunity(ctx, communityID)
	if err != nil {
		return nil, errStore("list members", err)
	}
	out := make([]model.MemberView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out, nil
}

func (s *CommunityService) ListInvites(ctx context.Context, communityID, requesterID string) ([]model.InviteView, error) {
	if _, err := s.community(ctx, communityID); err != nil {
		return nil, err
	}
	if _, err := s.manager(ctx, communityID, requesterID); err != nil {
		return nil, err
	}
	list, err := s.store.Invites().ListForCommunity(ctx, communityID)
	if err != nil {
		return nil, errStore("list invites", err)
	}
	out := make([]model.InviteView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out, nil
}

// RevokeInvite 停用邀请码（幂等）
func (s *CommunityService) RevokeInvite(ctx context.Context, communityID, requesterID, inviteID string) error {
	if _, err := s.community(ctx, communityID); err != nil {
		return err
	}
	if _, err := s.manager(ctx, communityID, requesterID); err != nil {
		return err
	}
	inv, err := s.store.Invites().GetByID(ctx, inviteID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && inv.CommunityID != communityID) {
		return oops.Code(CodeInviteNotFound).With("invite_id", inviteID).Errorf("invite not found")
	}
	if err != nil {
		return errStore("get invite", err)
	}
	if !inv.Active {
		return nil
	}
	inv.Active = false
	if err := s.store.Invites().Update(ctx, inv); err != nil {
		return errStore("revoke invite", err)
	}
	s.logger.InfoContext(ctx, "invite revoked", "community_id", communityID, "invite_id", inviteID)
	return nil
}

func (s *CommunityService) community(ctx context.Context, id string) (*model.Community, error) {
	c, err := s.store.Communities().GetByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, errCommunityNotFound(id)
	}
	if err != nil {
		return nil, errStore("get community", err)
	}
	return c, nil
}

func (s *CommunityService) membership(ctx context.Context, communityID, userID string) (*model.CommunityMember, error) {
	return s.store.Members().GetMembership(ctx, communityID, userID)
}

// optionalMembership returns nil without error when there is no active membership.
func (s *CommunityService) optionalMembership(ctx context.Context, communityID, userID string) (*model.CommunityMember, error) {
	if userID == "" {
		return nil, nil
	}
	m, err := s.membership(ctx, communityID, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errStore("get membership", err)
	}
	return m, nil
}

// manager requires an Owner or Moderator membership.
func (s *CommunityService) manager(ctx context.Context, communityID, userID string) (*model.CommunityMember, error) {
	m, err := s.optionalMembership(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNotAMember(communityID, userID)
	}
	if !m.Role.CanManage() {
		return nil, errInsufficientRole(communityID, userID)
	}
	return m, nil
}

func alreadyMember(communityID, userID string) error {
	return oops.Code(CodeAlreadyMember).
		With("community_id", communityID).
		With("user_id", userID).
		Errorf("already a member of this community")
}

// 写outbox事件
func (s *CommunityService) appendEvent(ctx context.Context, tx Store, event, communityID, userID string, extra map[string]any) error {
	body := map[string]any{
		"event":        event,
		"event_time":   s.now().UTC().Format(time.RFC3339Nano),
		"community_id": communityID,
		"user_id":      userID,
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tx.Outbox().Append(ctx, &model.MembershipOutbox{
		EventType:   event,
		CommunityID: communityID,
		UserID:      userID,
		Payload:     string(payload),
		Status:      model.OutboxPending,
	})
}
