package service

import "github.com/samber/oops"

// Error codes carried by oops errors. Handlers map them to HTTP statuses.
const (
	CodeCommunityNotFound            = "COMMUNITY_NOT_FOUND"
	CodeUserNotFound                 = "USER_NOT_FOUND"
	CodeInviteNotFound               = "INVITE_NOT_FOUND"
	CodeAlreadyMember                = "ALREADY_MEMBER"
	CodeEmailTaken                   = "EMAIL_TAKEN"
	CodeUsernameTaken                = "USERNAME_TAKEN"
	CodeOwnershipTransferUnsupported = "OWNERSHIP_TRANSFER_UNSUPPORTED"
	CodeOwnerCannotLeave             = "OWNER_CANNOT_LEAVE"
	CodeInvalidCredentials           = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken          = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired          = "REFRESH_TOKEN_EXPIRED"
	CodeNotAMember                   = "NOT_A_MEMBER"
	CodeInsufficientRole             = "INSUFFICIENT_ROLE"
	CodeInvalidInput                 = "INVALID_INPUT"
	CodeInviteRequired               = "INVITE_REQUIRED"
	CodeInvalidInvite                = "INVALID_INVITE"
	CodeInviteExpired                = "INVITE_EXPIRED"
	CodeInviteExhausted              = "INVITE_EXHAUSTED"
	CodeTargetNotAMember             = "TARGET_NOT_A_MEMBER"
	CodeInvalidVerificationCode      = "INVALID_VERIFICATION_CODE"
	CodeInternal                     = "INTERNAL"
)

func errInvalidInput(field, format string, args ...any) error {
	return oops.Code(CodeInvalidInput).With("field", field).Errorf(format, args...)
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func errInvalidRefreshToken() error {
	return oops.Code(CodeInvalidRefreshToken).Errorf("invalid refresh token")
}

func errCommunityNotFound(id string) error {
	return oops.Code(CodeCommunityNotFound).With("community_id", id).Errorf("community not found")
}

func errNotAMember(communityID, userID string) error {
	return oops.Code(CodeNotAMember).
		With("community_id", communityID).
		With("user_id", userID).
		Errorf("not a member of this community")
}

func errInsufficientRole(communityID, userID string) error {
	return oops.Code(CodeInsufficientRole).
		With("community_id", communityID).
		With("user_id", userID).
		Errorf("insufficient role")
}

// errStore wraps an unexpected store failure with the operation that hit it.
func errStore(op string, err error) error {
	if _, ok := oops.AsOops(err); ok {
		return err
	}
	return oops.Code(CodeInternal).With("operation", op).Wrap(err)
}

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
