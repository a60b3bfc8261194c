package subscriber

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	logx "relaybot/pkg/logx"
)

// Languages answers whether a language code may be assigned to a subscriber.
type Languages interface {
	Supported(code string) bool
}

// Store is the in-memory subscriber set backed by a Vault.
type Store struct {
	mu       sync.RWMutex
	vault    *Vault
	langs    Languages
	log      logx.Logger
	subs     document
	degraded bool
}

func New(vault *Vault, langs Languages, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{vault: vault, langs: langs, log: log, subs: document{}}
}

// Load replaces the in-memory set with the persisted one. When neither the
// primary nor the backup can be read the store keeps its previous contents
// and refuses mutations until a later Load succeeds.
func (s *Store) Load(ctx context.Context) error {
	doc, err := s.vault.Read(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.degraded = true
		s.log.Error("subscriber store degraded", logx.Err(err))
		return err
	}
	s.subs = doc
	s.degraded = false
	s.log.Info("subscribers loaded", logx.Int("count", len(doc)))
	return nil
}

// Save writes the current set to the primary file and mirrors it to the backup.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.Write(ctx, s.subs)
}

// Degraded reports whether the last Load failed.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Get looks a subscriber up by contact.
func (s *Store) Get(contact string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(contact)
}

func (s *Store) getLocked(contact string) (Subscriber, bool) {
	sub, ok := s.subs[contact]
	if !ok {
		return Subscriber{}, false
	}
	sub.Contact = contact
	return sub, true
}

// Resolve finds a subscriber by exact display name, then by exact contact.
func (s *Store) Resolve(ref string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(ref)
}

func (s *Store) resolveLocked(ref string) (Subscriber, bool) {
	if contact, ok := s.contactByNameLocked(ref); ok {
		return s.getLocked(contact)
	}
	return s.getLocked(ref)
}

func (s *Store) contactByNameLocked(name string) (string, bool) {
	for contact, sub := range s.subs {
		if sub.Name == name {
			return contact, true
		}
	}
	return "", false
}

// List returns every subscriber ordered by display name.
func (s *Store) List() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, 0, len(s.subs))
	for contact := range s.subs {
		sub, _ := s.getLocked(contact)
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Contact < out[j].Contact
	})
	return out
}

// Add creates a subscriber. The contact and the name must both be unused.
func (s *Store) Add(ctx context.Context, requester string, sub Subscriber) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return Subscriber{}, err
	}
	by, err := s.requesterLocked(requester)
	if err != nil {
		return Subscriber{}, err
	}
	sub, err = s.validate(sub)
	if err != nil {
		return Subscriber{}, err
	}
	if sub.Role == RoleSuper && by.Role != RoleSuper {
		return Subscriber{}, goerr.Wrap(errs.ErrAuthorization, "only super may grant super", goerr.V("requester", requester))
	}
	if _, exists := s.subs[sub.Contact]; exists {
		return Subscriber{}, goerr.Wrap(errs.ErrConflict, "contact already subscribed", goerr.V("contact", sub.Contact))
	}
	if _, taken := s.contactByNameLocked(sub.Name); taken {
		return Subscriber{}, goerr.Wrap(errs.ErrConflict, "name already taken", goerr.V("name", sub.Name))
	}

	if err := s.commitLocked(ctx, func(next document) { next[sub.Contact] = sub }); err != nil {
		return Subscriber{}, err
	}
	s.log.Info("subscriber added", logx.String("name", sub.Name), logx.String("role", string(sub.Role)), logx.String("by", by.Name))
	return sub, nil
}

// Edit rewrites name, language and role of the subscriber matching ref (name
// first, then contact). Admins may not touch a super nor grant super.
func (s *Store) Edit(ctx context.Context, requester, ref string, sub Subscriber) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return Subscriber{}, err
	}
	by, err := s.requesterLocked(requester)
	if err != nil {
		return Subscriber{}, err
	}
	cur, ok := s.resolveLocked(strings.TrimSpace(ref))
	if !ok {
		return Subscriber{}, goerr.Wrap(errs.ErrNotFound, "subscriber not found", goerr.V("ref", ref))
	}
	sub.Contact = cur.Contact
	sub, err = s.validate(sub)
	if err != nil {
		return Subscriber{}, err
	}
	if by.Role != RoleSuper && (cur.Role == RoleSuper || sub.Role == RoleSuper) {
		return Subscriber{}, goerr.Wrap(errs.ErrAuthorization, "only super may manage super", goerr.V("requester", requester))
	}
	if owner, taken := s.contactByNameLocked(sub.Name); taken && owner != sub.Contact {
		return Subscriber{}, goerr.Wrap(errs.ErrConflict, "name already taken", goerr.V("name", sub.Name))
	}

	if err := s.commitLocked(ctx, func(next document) { next[sub.Contact] = sub }); err != nil {
		return Subscriber{}, err
	}
	s.log.Info("subscriber updated", logx.String("name", sub.Name), logx.String("role", string(sub.Role)), logx.String("by", by.Name))
	return sub, nil
}

// Remove deletes the subscriber matching ref (name first, then contact).
func (s *Store) Remove(ctx context.Context, requester, ref string) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return Subscriber{}, err
	}
	by, err := s.requesterLocked(requester)
	if err != nil {
		return Subscriber{}, err
	}
	target, ok := s.resolveLocked(strings.TrimSpace(ref))
	if !ok {
		return Subscriber{}, goerr.Wrap(errs.ErrNotFound, "subscriber not found", goerr.V("ref", ref))
	}
	if target.Contact == by.Contact {
		return Subscriber{}, goerr.Wrap(errs.ErrConflict, "cannot remove self", goerr.V("contact", requester))
	}
	if target.Role == RoleSuper && by.Role != RoleSuper {
		return Subscriber{}, goerr.Wrap(errs.ErrAuthorization, "only super may remove super", goerr.V("requester", requester))
	}

	if err := s.commitLocked(ctx, func(next document) { delete(next, target.Contact) }); err != nil {
		return Subscriber{}, err
	}
	s.log.Info("subscriber removed", logx.String("name", target.Name), logx.String("by", by.Name))
	return target, nil
}

// commitLocked applies mutate to a copy, persists it, and only then swaps it
// in. The live set is untouched when the write fails.
func (s *Store) commitLocked(ctx context.Context, mutate func(document)) error {
	next := maps.Clone(s.subs)
	if next == nil {
		next = document{}
	}
	mutate(next)
	if err := s.vault.Write(ctx, next); err != nil {
		s.log.Error("subscriber save failed; change rolled back", logx.Err(err))
		return err
	}
	s.subs = next
	return nil
}

func (s *Store) writableLocked() error {
	if s.degraded {
		return goerr.Wrap(errs.ErrPersistence, "subscriber store is degraded")
	}
	return nil
}

func (s *Store) requesterLocked(contact string) (Subscriber, error) {
	by, ok := s.getLocked(contact)
	if !ok || !by.Role.IsPrivileged() {
		return Subscriber{}, goerr.Wrap(errs.ErrAuthorization, "requester may not manage subscribers", goerr.V("requester", contact))
	}
	return by, nil
}

func (s *Store) validate(sub Subscriber) (Subscriber, error) {
	sub.Contact = strings.TrimSpace(sub.Contact)
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Lang = strings.ToLower(strings.TrimSpace(sub.Lang))
	if sub.Contact == "" {
		return sub, goerr.Wrap(errs.ErrValidation, "contact is required", goerr.V("field", "contact"))
	}
	if sub.Name == "" || strings.ContainsAny(sub.Name, " \t\r\n") {
		return sub, goerr.Wrap(errs.ErrValidation, "name must be a single non-empty word", goerr.V("field", "name"), goerr.V("name", sub.Name))
	}
	if strings.HasPrefix(sub.Name, ReservedPrefix) {
		return sub, goerr.Wrap(errs.ErrValidation, "name uses reserved prefix", goerr.V("field", "name"), goerr.V("name", sub.Name))
	}
	if s.langs == nil || !s.langs.Supported(sub.Lang) {
		return sub, goerr.Wrap(errs.ErrValidation, "unsupported language", goerr.V("field", "lang"), goerr.V("lang", sub.Lang))
	}
	role, err := ParseRole(string(sub.Role))
	if err != nil {
		return sub, goerr.Wrap(err, "bad role", goerr.V("field", "role"))
	}
	sub.Role = role
	return sub, nil
}

// Seed inserts a subscriber without authorization checks and persists the set.
// Used to provision the first super from the CLI.
func (s *Store) Seed(ctx context.Context, sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	sub, err := s.validate(sub)
	if err != nil {
		return err
	}
	if owner, taken := s.contactByNameLocked(sub.Name); taken && owner != sub.Contact {
		return goerr.Wrap(errs.ErrConflict, "name already taken", goerr.V("name", sub.Name))
	}
	return s.commitLocked(ctx, func(next document) { next[sub.Contact] = sub })
}
