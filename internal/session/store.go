package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"cinna/internal/apperr"
	"cinna/models"
)

var (
	ErrNotAuthenticated = apperr.New(apperr.CodeUnauthenticated, "not logged in")
	ErrRoleImmutable    = apperr.New(apperr.CodeValidation, "role cannot be changed during a session")
	ErrNoNotifier       = errors.New("storage does not report changes")
)

// Credentials это пара токенов, выданная сервером при входе
type Credentials struct {
	Access  string
	Refresh string
}

// UserPatch описывает частичное обновление пользователя. Поля nil не трогаются.
type UserPatch struct {
	Username       *string `json:"username,omitempty"`
	Email          *string `json:"email,omitempty"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	CompanyName    *string `json:"company_name,omitempty"`
	PhoneNumber    *string `json:"phone_number,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

// Store это единственная точка изменения сессии: кто вошёл и с какими токенами.
// Остальные компоненты только читают её и подписываются на изменения.
type Store struct {
	storage Storage
	logger  zerolog.Logger

	mu   sync.RWMutex
	user *models.User
	raw  map[string]json.RawMessage

	subsMu  sync.Mutex
	subs    map[int]func(*models.User)
	nextSub int
}

func NewStore(storage Storage, logger zerolog.Logger) *Store {
	s := &Store{
		storage: storage,
		logger:  logger.With().Str("component", "session").Logger(),
		subs:    map[int]func(*models.User){},
	}
	s.load()
	return s
}

// load перечитывает пользователя из хранилища. Неразбираемая запись удаляется,
// сессия считается завершённой.
func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user, s.raw = nil, nil
	value, ok, err := s.storage.Get(KeyUser)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read stored user")
		return
	}
	if !ok || value == "" {
		return
	}

	var raw map[string]json.RawMessage
	var user models.User
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		s.dropCorrupt(err)
		return
	}
	if err := json.Unmarshal([]byte(value), &user); err != nil {
		s.dropCorrupt(err)
		return
	}
	s.user, s.raw = &user, raw
}

func (s *Store) dropCorrupt(err error) {
	s.logger.Warn().Err(err).Msg("stored user is corrupt, treating as logged out")
	if err := s.storage.Remove(KeyUser); err != nil {
		s.logger.Warn().Err(err).Msg("remove corrupt user")
	}
}

// Restore перечитывает сессию из хранилища и оповещает подписчиков, если пользователь изменился
func (s *Store) Restore() {
	before := s.snapshot()
	s.load()
	after := s.snapshot()
	if !bytes.Equal(before, after) {
		s.publish(s.current())
	}
}

// Current возвращает копию текущего пользователя
func (s *Store) Current() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

func (s *Store) IsAuthenticated() bool {
	_, ok := s.Current()
	return ok
}

func (s *Store) Role() models.Role {
	u, _ := s.Current()
	return u.Role
}

// RequireRole проверяет, что вошёл пользователь с указанной ролью
func (s *Store) RequireRole(role models.Role) error {
	u, ok := s.Current()
	if !ok {
		return ErrNotAuthenticated
	}
	if u.Role != role {
		return apperr.New(apperr.CodePermissionDenied, fmt.Sprintf("only a %s can do this", role))
	}
	return nil
}

// AccessToken читается из хранилища при каждом вызове, чтобы видеть токены, записанные другими вкладками
func (s *Store) AccessToken() string {
	return s.get(KeyAccessToken)
}

func (s *Store) RefreshToken() string {
	return s.get(KeyRefreshToken)
}

func (s *Store) get(key string) string {
	v, _, err := s.storage.Get(key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("read session storage")
		return ""
	}
	return v
}

// Login сохраняет пользователя и токены и помечает сессию как активную
func (s *Store) Login(user models.User, creds Credentials) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	s.mu.Lock()
	if err := s.storage.Set(KeyAccessToken, creds.Access); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store access token: %w", err)
	}
	if err := s.storage.Set(KeyRefreshToken, creds.Refresh); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store refresh token: %w", err)
	}
	if err := s.storage.Set(KeyUser, string(data)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store user: %w", err)
	}
	s.user, s.raw = &user, raw
	s.mu.Unlock()

	s.logger.Info().Int("user_id", user.ID).Str("role", string(user.Role)).Msg("logged in")
	s.publish(&user)
	return nil
}

// Logout очищает пользователя и оба токена
func (s *Store) Logout() error {
	s.mu.Lock()
	err := s.storage.Remove(KeyAccessToken, KeyRefreshToken, KeyUser)
	s.user, s.raw = nil, nil
	s.mu.Unlock()

	s.publish(nil)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Invalidate вызывается шлюзом при ответе 401 на защищённый запрос
func (s *Store) Invalidate() {
	s.logger.Warn().Msg("credentials rejected by server, logging out")
	if err := s.Logout(); err != nil {
		s.logger.Error().Err(err).Msg("invalidate session")
	}
}

// UpdateUser сливает переданные поля с текущим пользователем и сохраняет результат.
// patch может быть UserPatch, map[string]any или models.User; поля, которых нет в patch, не меняются.
// Из models.User (ответа сервера) не берутся id и пустая роль. Роль, отличная от текущей,
// в том числе пустая, отклоняется с ErrRoleImmutable.
func (s *Store) UpdateUser(patch any) (models.User, error) {
	fields, err := toFields(patch)
	if err != nil {
		return models.User{}, err
	}
	switch u := patch.(type) {
	case models.User:
		dropIdentity(fields, u)
	case *models.User:
		if u != nil {
			dropIdentity(fields, *u)
		}
	}

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return models.User{}, ErrNotAuthenticated
	}
	if rawRole, ok := fields["role"]; ok {
		var role models.Role
		if err := json.Unmarshal(rawRole, &role); err != nil || role != s.user.Role {
			s.mu.Unlock()
			return models.User{}, ErrRoleImmutable
		}
	}

	merged := make(map[string]json.RawMessage, len(s.raw)+len(fields))
	for k, v := range s.raw {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		s.mu.Unlock()
		return models.User{}, fmt.Errorf("encode user: %w", err)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		s.mu.Unlock()
		return models.User{}, fmt.Errorf("merge user: %w", err)
	}
	if err := s.storage.Set(KeyUser, string(data)); err != nil {
		s.mu.Unlock()
		return models.User{}, fmt.Errorf("store user: %w", err)
	}
	s.user, s.raw = &user, merged
	s.mu.Unlock()

	s.publish(&user)
	return user, nil
}

func dropIdentity(fields map[string]json.RawMessage, u models.User) {
	delete(fields, "id")
	if u.Role == "" {
		delete(fields, "role")
	}
}

func toFields(patch any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("patch must be an object: %w", err)
	}
	return fields, nil
}

// Subscribe регистрирует обработчик изменений сессии; nil означает выход.
// Возвращаемая функция отменяет подписку.
func (s *Store) Subscribe(fn func(*models.User)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) publish(user *models.User) {
	s.subsMu.Lock()
	handlers := make([]func(*models.User), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range handlers {
		if user == nil {
			fn(nil)
			continue
		}
		u := *user
		fn(&u)
	}
}

// Sync подписывается на изменения хранилища, сделанные другими вкладками, и
// перечитывает сессию на каждое из них. Блокируется до отмены ctx.
func (s *Store) Sync(ctx context.Context) error {
	notifier, ok := s.storage.(Notifier)
	if !ok {
		return ErrNoNotifier
	}
	changes, err := notifier.Changes(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			s.logger.Debug().Msg("session storage changed elsewhere, reloading")
			s.Restore()
		}
	}
}

func (s *Store) snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	data, _ := json.Marshal(s.user)
	return data
}

func (s *Store) current() *models.User {
	u, ok := s.Current()
	if !ok {
		return nil
	}
	return &u
}
