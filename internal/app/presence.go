package app

import (
	"hash/fnv"
	"sync"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

const presenceShards = 32

// PresenceWatcher is invoked after a user transitions between reachable
// and unreachable (first session up, last session down). Called outside
// shard locks; implementations needing the authoritative answer should
// re-read the registry.
type PresenceWatcher func(uid domain.UserID, online bool)

type userShard struct {
	mu    sync.RWMutex
	users map[domain.UserID]map[core.SessionID]*core.Session
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session
}

// Presence maps users to their live sessions. Purely in-memory: a restart
// loses all state and clients re-register on reconnect. Sharded per user
// so concurrent logins and logouts of unrelated users never serialize.
type Presence struct {
	byUser    [presenceShards]userShard
	bySession [presenceShards]sessionShard

	wmu      sync.RWMutex
	watchers []PresenceWatcher
}

func NewPresence() *Presence {
	p := &Presence{}
	for i := range p.byUser {
		p.byUser[i].users = make(map[domain.UserID]map[core.SessionID]*core.Session)
	}
	for i := range p.bySession {
		p.bySession[i].sessions = make(map[core.SessionID]*core.Session)
	}
	return p
}

func shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % presenceShards)
}

func (p *Presence) Watch(w PresenceWatcher) {
	p.wmu.Lock()
	p.watchers = append(p.watchers, w)
	p.wmu.Unlock()
}

func (p *Presence) notify(uid domain.UserID, online bool) {
	p.wmu.RLock()
	watchers := p.watchers
	p.wmu.RUnlock()
	for _, w := range watchers {
		w(uid, online)
	}
}

// Register adds the session under its user. Idempotent: re-registering
// the same session id is a no-op.
func (p *Presence) Register(sess *core.Session) {
	ss := &p.bySession[shardOf(string(sess.ID))]
	ss.mu.Lock()
	if _, dup := ss.sessions[sess.ID]; dup {
		ss.mu.Unlock()
		return
	}
	ss.sessions[sess.ID] = sess
	ss.mu.Unlock()

	us := &p.byUser[shardOf(string(sess.UserID))]
	us.mu.Lock()
	set, ok := us.users[sess.UserID]
	if !ok {
		set = make(map[core.SessionID]*core.Session)
		us.users[sess.UserID] = set
	}
	wasEmpty := len(set) == 0
	set[sess.ID] = sess
	us.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("sid", string(sess.ID)).Str("user", string(sess.UserID)).Msg("session registered")
	if wasEmpty {
		p.notify(sess.UserID, true)
	}
}

// Unregister removes the session from whatever user owns it. No-op for
// unknown ids, so disconnect callbacks need no extra lookup.
func (p *Presence) Unregister(sid core.SessionID) {
	ss := &p.bySession[shardOf(string(sid))]
	ss.mu.Lock()
	sess, ok := ss.sessions[sid]
	if ok {
		delete(ss.sessions, sid)
	}
	ss.mu.Unlock()
	if !ok {
		return
	}

	us := &p.byUser[shardOf(string(sess.UserID))]
	us.mu.Lock()
	set := us.users[sess.UserID]
	delete(set, sid)
	nowEmpty := len(set) == 0
	if nowEmpty {
		delete(us.users, sess.UserID)
	}
	us.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("sid", string(sid)).Str("user", string(sess.UserID)).Msg("session unregistered")
	if nowEmpty {
		p.notify(sess.UserID, false)
	}
}

// SessionsFor returns a snapshot of the user's live sessions. Empty slice
// for an unknown user, never an error.
func (p *Presence) SessionsFor(uid domain.UserID) []*core.Session {
	us := &p.byUser[shardOf(string(uid))]
	us.mu.RLock()
	defer us.mu.RUnlock()
	set := us.users[uid]
	out := make([]*core.Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Get resolves a session id to its session.
func (p *Presence) Get(sid core.SessionID) (*core.Session, bool) {
	ss := &p.bySession[shardOf(string(sid))]
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	sess, ok := ss.sessions[sid]
	return sess, ok
}

// IsOnline is the canonical reachability predicate.
func (p *Presence) IsOnline(uid domain.UserID) bool {
	us := &p.byUser[shardOf(string(uid))]
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.users[uid]) > 0
}

// Offline filters uids down to the ones with no live session, in one
// pass. The dispatcher uses it to pick push-fallback targets.
func (p *Presence) Offline(uids []domain.UserID) []domain.UserID {
	var out []domain.UserID
	for _, uid := range uids {
		if !p.IsOnline(uid) {
			out = append(out, uid)
		}
	}
	return out
}
