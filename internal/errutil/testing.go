// Package errutil 测试里断言 oops 错误码和上下文
package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
)

// RequireCode fails the test unless err carries code, and returns the oops
// error for further checks.
func RequireCode(t testing.TB, err error, code string) oops.OopsError {
	t.Helper()
	var oe oops.OopsError
	require.ErrorAs(t, err, &oe)
	require.Equalf(t, code, oe.Code(), "unexpected code for %v", err)
	return oe
}

// RequireContextValue fails the test unless err's context holds key = want.
func RequireContextValue(t testing.TB, err error, key string, want any) {
	t.Helper()
	var oe oops.OopsError
	require.ErrorAs(t, err, &oe)
	got, ok := oe.Context()[key]
	require.Truef(t, ok, "context key %q missing in %v", key, oe.Context())
	require.Equal(t, want, got)
}
