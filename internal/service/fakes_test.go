package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memDB is an in-memory Store. Transactions are serialized and roll back by
// restoring a snapshot.
type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users       map[string]model.User
	tokens      map[string]model.RefreshToken
	communities map[string]model.Community
	members     map[string]model.CommunityMember
	invites     map[string]model.CommunityInvite
	outbox      []model.MembershipOutbox
	nextOutbox  uint64
}

func newMemDB() *memDB {
	return &memDB{
		users:       map[string]model.User{},
		tokens:      map[string]model.RefreshToken{},
		communities: map[string]model.Community{},
		members:     map[string]model.CommunityMember{},
		invites:     map[string]model.CommunityInvite{},
	}
}

func (db *memDB) Users() UserRepository                 { return memUsers{db} }
func (db *memDB) RefreshTokens() RefreshTokenRepository { return memTokens{db} }
func (db *memDB) Communities() CommunityRepository      { return memCommunities{db} }
func (db *memDB) Members() MemberRepository             { return memMembers{db} }
func (db *memDB) Invites() InviteRepository             { return memInvites{db} }
func (db *memDB) Outbox() OutboxRepository              { return memOutbox{db} }

func (db *memDB) Transaction(ctx context.Context, fn func(tx Store) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snap := db.snapshot()
	db.mu.Unlock()

	if err := fn(db); err != nil {
		db.mu.Lock()
		db.restore(snap)
		db.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	users       map[string]model.User
	tokens      map[string]model.RefreshToken
	communities map[string]model.Community
	members     map[string]model.CommunityMember
	invites     map[string]model.CommunityInvite
	outbox      []model.MembershipOutbox
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *memDB) snapshot() memSnapshot {
	return memSnapshot{
		users:       copyMap(db.users),
		tokens:      copyMap(db.tokens),
		communities: copyMap(db.communities),
		members:     copyMap(db.members),
		invites:     copyMap(db.invites),
		outbox:      append([]model.MembershipOutbox(nil), db.outbox...),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.users, db.tokens, db.communities = s.users, s.tokens, s.communities
	db.members, db.invites, db.outbox = s.members, s.invites, s.outbox
}

type memUsers struct{ db *memDB }

func (r memUsers) find(match func(model.User) bool) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.ID == id })
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Email == email })
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username })
}

func (r memUsers) Create(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, cur := range r.db.users {
		if cur.Email == u.Email || cur.Username == u.Username {
			return model.ErrDuplicate
		}
	}
	r.db.users[u.ID] = *u
	return nil
}

func (r memUsers) set(id string, fn func(*model.User)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.users[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(&cur)
	r.db.users[id] = cur
	return nil
}

func (r memUsers) Update(_ context.Context, u *model.User) error {
	return r.set(u.ID, func(cur *model.User) {
		cur.DisplayName, cur.Bio, cur.ProfilePictureURL = u.DisplayName, u.Bio, u.ProfilePictureURL
	})
}

func (r memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.set(id, func(cur *model.User) { cur.PasswordHash = passwordHash })
}

func (r memUsers) MarkEmailVerified(_ context.Context, id string) error {
	return r.set(id, func(cur *model.User) { cur.EmailVerified = true })
}

func (r memUsers) TouchLastLogin(_ context.Context, id, verifiedHash string, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.users[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if cur.PasswordHash != verifiedHash {
		return false, nil
	}
	cur.LastLoginAt = &at
	r.db.users[id] = cur
	return true, nil
}

func (r memUsers) Exists(_ context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.users[id]
	return ok, nil
}

type memTokens struct{ db *memDB }

func (r memTokens) GetByTokenHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tokens {
		if t.TokenHash == hash {
			t := t
			return &t, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r memTokens) Create(_ context.Context, tok *model.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokens[tok.ID] = *tok
	return nil
}

func (r memTokens) Update(_ context.Context, tok *model.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokens[tok.ID] = *tok
	return nil
}

func (r memTokens) Revoke(_ context.Context, id string, at time.Time, replacedBy *string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	t.RevokedAt = &at
	if replacedBy != nil {
		v := *replacedBy
		t.ReplacedBy = &v
	}
	r.db.tokens[id] = t
	return true, nil
}

func (r memTokens) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, t := range r.db.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &at
			r.db.tokens[id] = t
			n++
		}
	}
	return n, nil
}

type memCommunities struct{ db *memDB }

func (r memCommunities) GetByID(_ context.Context, id string) (*model.Community, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.communities[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &c, nil
}

func (r memCommunities) Create(_ context.Context, c *model.Community) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.communities[c.ID] = *c
	return nil
}

func (r memCommunities) Update(_ context.Context, c *model.Community) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.communities[c.ID] = *c
	return nil
}

func (r memCommunities) sorted(keep func(model.Community) bool, less func(a, b model.Community) bool) []model.Community {
	var out []model.Community
	for _, c := range r.db.communities {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func page(list []model.Community, skip, limit int) []model.Community {
	if skip >= len(list) {
		return nil
	}
	list = list[skip:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (r memCommunities) ListPublic(_ context.Context, skip, limit int) ([]model.Community, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	list := r.sorted(
		func(c model.Community) bool { return c.Privacy == model.PrivacyPublic },
		func(a, b model.Community) bool { return a.ID > b.ID },
	)
	return page(list, skip, limit), nil
}

func (r memCommunities) ListForUser(_ context.Context, userID string, skip, limit int) ([]model.Community, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	joined := map[string]bool{}
	for _, m := range r.db.members {
		if m.UserID == userID && m.Active() {
			joined[m.CommunityID] = true
		}
	}
	list := r.sorted(
		func(c model.Community) bool { return joined[c.ID] },
		func(a, b model.Community) bool { return a.ID > b.ID },
	)
	return page(list, skip, limit), nil
}

func (r memCommunities) Exists(_ context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.communities[id]
	return ok, nil
}

func (r memCommunities) AdjustMemberCount(_ context.Context, id string, delta int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.communities[id]
	if !ok {
		return nil
	}
	c.MemberCount = max(0, c.MemberCount+delta)
	r.db.communities[id] = c
	return nil
}

func (r memCommunities) SetMemberCount(_ context.Context, id string, count int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := r.db.communities[id]
	c.MemberCount = count
	r.db.communities[id] = c
	return nil
}

func (r memCommunities) ListAfter(_ context.Context, lastID string, limit int) ([]model.Community, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	list := r.sorted(
		func(c model.Community) bool { return c.ID > lastID },
		func(a, b model.Community) bool { return a.ID < b.ID },
	)
	return page(list, 0, limit), nil
}

type memMembers struct{ db *memDB }

func (r memMembers) GetMembership(_ context.Context, communityID, userID string) (*model.CommunityMember, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.members {
		if m.CommunityID == communityID && m.UserID == userID && m.Active() {
			m := m
			return &m, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r memMembers) Create(_ context.Context, m *model.CommunityMember) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, cur := range r.db.members {
		if cur.CommunityID == m.CommunityID && cur.UserID == m.UserID {
			if cur.Active() {
				return model.ErrDuplicate
			}
			cur.Role, cur.Status, cur.JoinedAt = m.Role, model.MemberActive, m.JoinedAt
			r.db.members[id] = cur
			m.ID = cur.ID
			m.Status = model.MemberActive
			return nil
		}
	}
	m.Status = model.MemberActive
	r.db.members[m.ID] = *m
	return nil
}

func (r memMembers) Update(_ context.Context, m *model.CommunityMember) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.members[m.ID]
	if !ok {
		return model.ErrNotFound
	}
	cur.Role = m.Role
	r.db.members[m.ID] = cur
	return nil
}

func (r memMembers) SoftDelete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.members[id]
	if !ok || !cur.Active() {
		return model.ErrNotFound
	}
	cur.Status = model.MemberDeleted
	r.db.members[id] = cur
	return nil
}

func (r memMembers) ListForCommunity(_ context.Context, communityID string) ([]model.CommunityMember, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.CommunityMember
	for _, m := range r.db.members {
		if m.CommunityID == communityID && m.Active() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memMembers) CountForCommunity(ctx context.Context, communityID string) (int64, error) {
	list, err := r.ListForCommunity(ctx, communityID)
	return int64(len(list)), err
}

func (r memMembers) IsMember(ctx context.Context, communityID, userID string) (bool, error) {
	_, err := r.GetMembership(ctx, communityID, userID)
	return err == nil, nil
}

type memInvites struct{ db *memDB }

func (r memInvites) GetByCode(_ context.Context, code string) (*model.CommunityInvite, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, inv := range r.db.invites {
		if inv.Code == code {
			inv := inv
			return &inv, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r memInvites) GetByID(_ context.Context, id string) (*model.CommunityInvite, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.invites[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &inv, nil
}

func (r memInvites) Create(_ context.Context, inv *model.CommunityInvite) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, cur := range r.db.invites {
		if cur.Code == inv.Code {
			return model.ErrDuplicate
		}
	}
	r.db.invites[inv.ID] = *inv
	return nil
}

func (r memInvites) Update(_ context.Context, inv *model.CommunityInvite) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur := r.db.invites[inv.ID]
	cur.Active, cur.MaxUses = inv.Active, inv.MaxUses
	r.db.invites[inv.ID] = cur
	return nil
}

func (r memInvites) ListForCommunity(_ context.Context, communityID string) ([]model.CommunityInvite, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.CommunityInvite
	for _, inv := range r.db.invites {
		if inv.CommunityID == communityID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r memInvites) Redeem(_ context.Context, id string, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.invites[id]
	if !ok || !inv.Active || inv.IsExpiredAt(now) || inv.Exhausted() {
		return false, nil
	}
	inv.UsesCount++
	r.db.invites[id] = inv
	return true, nil
}

type memOutbox struct{ db *memDB }

func (r memOutbox) Append(_ context.Context, ev *model.MembershipOutbox) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nextOutbox++
	ev.ID = r.db.nextOutbox
	r.db.outbox = append(r.db.outbox, *ev)
	return nil
}

func (r memOutbox) ListPending(_ context.Context, batchSize, maxRetry int) ([]model.MembershipOutbox, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.MembershipOutbox
	for _, ev := range r.db.outbox {
		if ev.Status == model.OutboxPending || (ev.Status == model.OutboxFailed && ev.Retry < maxRetry) {
			out = append(out, ev)
		}
		if len(out) == batchSize {
			break
		}
	}
	return out, nil
}

func (r memOutbox) set(id uint64, fn func(*model.MembershipOutbox)) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range r.db.outbox {
		if r.db.outbox[i].ID == id {
			fn(&r.db.outbox[i])
		}
	}
}

func (r memOutbox) MarkSent(_ context.Context, id uint64) error {
	r.set(id, func(ev *model.MembershipOutbox) { ev.Status = model.OutboxSent })
	return nil
}

func (r memOutbox) MarkFailed(_ context.Context, id uint64) error {
	r.set(id, func(ev *model.MembershipOutbox) { ev.Status = model.OutboxFailed; ev.Retry++ })
	return nil
}

func (db *memDB) events(eventType string) []model.MembershipOutbox {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.MembershipOutbox
	for _, ev := range db.outbox {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// memLocker is a Locker over a map.
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) Acquire(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = token
	return true, nil
}

func (l *memLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// memCodes is a CodeStore over a map; expiry is not modelled.
type memCodes struct {
	mu        sync.Mutex
	pending   map[string]string
	confirmed map[string]string
}

func newMemCodes() *memCodes {
	return &memCodes{pending: map[string]string{}, confirmed: map[string]string{}}
}

func (c *memCodes) Save(_ context.Context, scope, email, code string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[scope+":"+email] = code
	return nil
}

func (c *memCodes) Confirm(_ context.Context, scope, email string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := scope + ":" + email
	v, ok := c.pending[k]
	if !ok {
		return model.ErrNotFound
	}
	delete(c.pending, k)
	c.confirmed[k] = v
	return nil
}

func (c *memCodes) Get(_ context.Context, scope, email string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.confirmed[scope+":"+email]
	if !ok {
		return "", model.ErrNotFound
	}
	return v, nil
}

func (c *memCodes) Delete(_ context.Context, scope, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, scope+":"+email)
	delete(c.confirmed, scope+":"+email)
	return nil
}

// captureMailer records sent mails.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct{ to, subject, body string }

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

// lastCode pulls the six-digit code out of the last mail body.
func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].body
	for i := 0; i+6 <= len(body); i++ {
		if isDigits(body[i : i+6]) {
			return body[i : i+6]
		}
	}
	t.Fatalf("no code in mail body: %s", body)
	return ""
}

func isDigits(s string) bool {
	return strings.Trim(s, "0123456789") == ""
}

// countingHasher counts Verify calls.
type countingHasher struct {
	PasswordHasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(password, hash string) (bool, error) {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.PasswordHasher.Verify(password, hash)
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHasher() *countingHasher {
	return &countingHasher{PasswordHasher: pkg.NewBcryptHasher(bcrypt.MinCost)}
}

// seedUser stores a user with the given password and returns it.
func seedUser(t *testing.T, db *memDB, h PasswordHasher, username, email, password string) *model.User {
	t.Helper()
	hash, err := h.Hash(password)
	require.NoError(t, err)
	u := &model.User{ID: pkg.NewID(), Username: username, Email: email, PasswordHash: hash}
	require.NoError(t, db.Users().Create(context.Background(), u))
	return u
}

func newTestTokenIssuer(t *testing.T) *pkg.TokenIssuer {
	t.Helper()
	issuer, err := pkg.NewTokenIssuer(pkg.TokenConfig{Secret: "test-secret"})
	require.NoError(t, err)
	return issuer
}

// gatedHasher parks the first Verify after arm until release is closed.
type gatedHasher struct {
	PasswordHasher
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedHasher(inner PasswordHasher) *gatedHasher {
	return &gatedHasher{PasswordHasher: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *gatedHasher) arm() { h.armed.Store(true) }

func (h *gatedHasher) Verify(password, hash string) (bool, error) {
	if h.armed.CompareAndSwap(true, false) {
		close(h.entered)
		<-h.release
	}
	return h.PasswordHasher.Verify(password, hash)
}

func (db *memDB) liveTokens(userID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, tok := range db.tokens {
		if tok.UserID == userID && !tok.Revoked {
			n++
		}
	}
	return n
}
