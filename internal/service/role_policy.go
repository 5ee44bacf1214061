package service

import "Lee_Social/internal/model"

// RoleChange is the input to EvaluateRoleChange. Nil memberships mean the
// user has no active membership in the community.
type RoleChange struct {
	Requester *model.CommunityMember
	Target    *model.CommunityMember
	NewRole   model.Role
}

// Decision is the result of evaluating a role change; Code is empty when allowed.
type Decision struct {
	Code   string
	Reason string
}

func (d Decision) Allowed() bool { return d.Code == "" }

type roleRule struct {
	code   string
	reason string
	match  func(RoleChange) bool
}

// roleRules 顺序即优先级，第一条命中的规则生效
var roleRules = []roleRule{
	{CodeNotAMember, "requester is not a member", func(c RoleChange) bool {
		return c.Requester == nil
	}},
	{CodeInsufficientRole, "only owners and moderators change roles", func(c RoleChange) bool {
		return !c.Requester.Role.CanManage()
	}},
	{CodeOwnershipTransferUnsupported, "ownership cannot be granted", func(c RoleChange) bool {
		return c.NewRole == model.RoleOwner
	}},
	{CodeTargetNotAMember, "target is not a member", func(c RoleChange) bool {
		return c.Target == nil
	}},
	{CodeInsufficientRole, "moderators may only change members", func(c RoleChange) bool {
		return c.Requester.Role == model.RoleModerator && c.Target.Role != model.RoleMember
	}},
	{CodeOwnershipTransferUnsupported, "the owner's role cannot change", func(c RoleChange) bool {
		return c.Target.Role == model.RoleOwner
	}},
}

// EvaluateRoleChange applies the role rules in order.
func EvaluateRoleChange(c RoleChange) Decision {
	for _, r := range roleRules {
		if r.match(c) {
			return Decision{Code: r.code, Reason: r.reason}
		}
	}
	return Decision{}
}
