package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cinna/internal/apperr"
	"cinna/models"
)

const (
	DefaultListInterval   = 2 * time.Second
	DefaultActiveInterval = 1500 * time.Millisecond

	previewConcurrency = 4
	defaultCacheSize   = 64
)

var (
	ErrClosed         = errors.New("chat is closed")
	ErrNoActiveChat   = errors.New("no conversation selected")
	ErrUnknownContact = errors.New("unknown contact")
)

// API это часть шлюза, нужная чату
type API interface {
	UsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	Messages(ctx context.Context, userID int) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, receiverID int, text string) (models.ChatMessage, error)
	MarkRead(ctx context.Context, senderID int) error
}

type Options struct {
	ListInterval   time.Duration
	ActiveInterval time.Duration
	// CacheSize это число переписок, которые держатся в памяти для мгновенного показа
	CacheSize int
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Preview это строка контакта в списке: последнее сообщение и непрочитанные
type Preview struct {
	Text   string
	Time   time.Time
	Unread int

	rev uint64
}

// ContactView это контакт вместе с превью
type ContactView struct {
	models.User
	Preview Preview
	Active  bool
}

// Controller поддерживает живую переписку поверх опроса сервера. Два цикла опроса:
// список контактов (ListInterval) и активная переписка (ActiveInterval).
type Controller struct {
	api  API
	me   models.User
	opts Options

	mu           sync.Mutex
	open         bool
	contacts     []models.User
	previews     map[int]Preview
	rev          uint64
	activeID     int
	generation   uint64
	conversation []Entry

	listCancel   context.CancelFunc
	activeCancel context.CancelFunc
	wg           sync.WaitGroup

	cache   *lru.Cache
	flights singleflight.Group
	updates chan struct{}
}

func NewController(api API, me models.User, opts Options) *Controller {
	if opts.ListInterval <= 0 {
		opts.ListInterval = DefaultListInterval
	}
	if opts.ActiveInterval <= 0 {
		opts.ActiveInterval = DefaultActiveInterval
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Logger = opts.Logger.With().Str("component", "chat").Int("user_id", me.ID).Logger()

	cache, _ := lru.New(opts.CacheSize)
	return &Controller{
		api:      api,
		me:       me,
		opts:     opts,
		previews: map[int]Preview{},
		cache:    cache,
		updates:  make(chan struct{}, 1),
	}
}

// Updates сигнализирует, что состояние чата изменилось и его стоит перерисовать
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Open загружает собеседников (пользователей противоположной роли) и запускает опрос превью.
// Опрос живёт до Close или отмены ctx. Если собеседников загрузить не удалось, чат не открывается.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = true
	listCtx, cancel := context.WithCancel(ctx)
	c.listCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	users, err := c.api.UsersByRole(ctx, c.me.Role.Counterpart())
	if err != nil {
		c.opts.Logger.Warn().Err(err).Msg("failed to load contacts")
		// чат остаётся закрытым, следующий Open повторит загрузку
		c.mu.Lock()
		c.open = false
		cancel()
		c.listCancel = nil
		c.mu.Unlock()
		c.wg.Done()
		return err
	}
	c.mu.Lock()
	if c.open {
		c.contacts = users
	}
	c.mu.Unlock()
	c.notify()

	go func() {
		defer c.wg.Done()
		c.pollPreviews(listCtx)
		c.loop(listCtx, c.opts.ListInterval, c.pollPreviews)
	}()
	return nil
}

// Close останавливает все циклы опроса. Ответы, пришедшие после Close, игнорируются.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	c.generation++
	c.activeID = 0
	c.conversation = nil
	if c.listCancel != nil {
		c.listCancel()
		c.listCancel = nil
	}
	if c.activeCancel != nil {
		c.activeCancel()
		c.activeCancel = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.notify()
}

func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Controller) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Select открывает переписку: сбрасывает непрочитанные локально и на сервере,
// сразу загружает сообщения и запускает опрос активной переписки.
func (c *Controller) Select(ctx context.Context, contactID int) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.knownContact(contactID) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownContact, contactID)
	}
	if c.activeCancel != nil {
		c.activeCancel()
	}
	c.generation++
	gen := c.generation
	c.activeID = contactID
	c.conversation = nil
	if cached, ok := c.cache.Get(contactID); ok {
		c.conversation = confirmAll(cached.([]models.ChatMessage))
	}
	p := c.previews[contactID]
	p.Unread = 0
	c.setPreview(contactID, p)
	activeCtx, cancel := context.WithCancel(ctx)
	c.activeCancel = cancel
	c.wg.Add(2)
	c.mu.Unlock()
	c.notify()

	go func() {
		defer c.wg.Done()
		if err := c.api.MarkRead(activeCtx, contactID); err != nil {
			c.opts.Logger.Debug().Err(err).Int("contact_id", contactID).Msg("mark read failed")
		}
	}()

	err := c.fetchActive(activeCtx, gen, contactID)

	go func() {
		defer c.wg.Done()
		c.loop(activeCtx, c.opts.ActiveInterval, func(ctx context.Context) {
			_ = c.fetchActive(ctx, gen, contactID)
		})
	}()
	return err
}

// Deselect закрывает активную переписку, оставляя список контактов
func (c *Controller) Deselect() {
	c.mu.Lock()
	c.generation++
	c.activeID = 0
	c.conversation = nil
	if c.activeCancel != nil {
		c.activeCancel()
		c.activeCancel = nil
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) knownContact(id int) bool {
	for _, u := range c.contacts {
		if u.ID == id {
			return true
		}
	}
	return false
}

// fetchMessages объединяет одновременные запросы одной переписки (опрос списка и активной)
func (c *Controller) fetchMessages(ctx context.Context, contactID int) ([]models.ChatMessage, error) {
	v, err, _ := c.flights.Do(fmt.Sprint(contactID), func() (interface{}, error) {
		return c.api.Messages(ctx, contactID)
	})
	if err != nil {
		return nil, err
	}
	msgs := v.([]models.ChatMessage)
	c.cache.Add(contactID, msgs)
	return msgs, nil
}

// fetchActive перечитывает активную переписку. Ответ, пришедший после смены
// собеседника или закрытия чата, отбрасывается.
func (c *Controller) fetchActive(ctx context.Context, gen uint64, contactID int) error {
	msgs, err := c.fetchMessages(ctx, contactID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.opts.Logger.Warn().Err(err).Int("contact_id", contactID).Msg("failed to fetch messages")
		}
		return err
	}
	c.applyActive(gen, contactID, msgs)
	return nil
}

// refetchAfterSend читает переписку мимо singleflight: запрос опроса, начатый до
// сохранения сообщения, вернул бы переписку без него.
func (c *Controller) refetchAfterSend(ctx context.Context, gen uint64, contactID int) {
	msgs, err := c.api.Messages(ctx, contactID)
	if err != nil {
		c.opts.Logger.Debug().Err(err).Int("contact_id", contactID).Msg("refetch after send failed")
		return
	}
	c.cache.Add(contactID, msgs)
	c.applyActive(gen, contactID, msgs)
}

func (c *Controller) applyActive(gen uint64, contactID int, msgs []models.ChatMessage) {
	c.mu.Lock()
	if gen != c.generation || !c.open {
		c.mu.Unlock()
		return
	}
	entries := confirmAll(msgs)
	for _, e := range c.conversation {
		if p, ok := e.(PendingSend); ok {
			entries = append(entries, p)
		}
	}
	c.conversation = entries
	if len(msgs) > 0 {
		c.setPreview(contactID, c.previewOf(contactID, msgs))
	}
	c.mu.Unlock()
	c.notify()
}

// pollPreviews обновляет превью всех контактов. Ошибка по одному контакту не мешает остальным.
func (c *Controller) pollPreviews(ctx context.Context) {
	c.mu.Lock()
	contacts := append([]models.User(nil), c.contacts...)
	c.mu.Unlock()
	if len(contacts) == 0 {
		return
	}

	results := make([][]models.ChatMessage, len(contacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previewConcurrency)
	for i, u := range contacts {
		g.Go(func() error {
			msgs, err := c.fetchMessages(gctx, u.ID)
			if err != nil {
				c.opts.Logger.Debug().Err(err).Int("contact_id", u.ID).Msg("preview fetch failed")
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	if !c.open || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	for i, u := range contacts {
		msgs := results[i]
		if len(msgs) == 0 {
			continue
		}
		c.setPreview(u.ID, c.previewOf(u.ID, msgs))
	}
	c.mu.Unlock()
	c.notify()
}

// previewOf строит превью по последней загруженной переписке. Для активного
// собеседника непрочитанные всегда 0.
func (c *Controller) previewOf(contactID int, msgs []models.ChatMessage) Preview {
	last := msgs[len(msgs)-1]
	p := Preview{Text: last.Message, Time: last.CreatedAt}
	if last.Sender.Int() == c.me.ID {
		p.Text = "You: " + last.Message
	}
	if contactID != c.activeID {
		for _, m := range msgs {
			if m.Sender.Int() == contactID && !m.IsRead {
				p.Unread++
			}
		}
	}
	return p
}

func (c *Controller) setPreview(contactID int, p Preview) {
	c.rev++
	p.rev = c.rev
	c.previews[contactID] = p
}

// Outgoing это результат оптимистичной отправки
type Outgoing struct {
	ID   uuid.UUID
	done chan struct{}
	err  error
}

// Done закрывается, когда сервер ответил на отправку
func (o *Outgoing) Done() <-chan struct{} { return o.done }

// Err возвращает ошибку отправки после Done
func (o *Outgoing) Err() error {
	<-o.done
	return o.err
}

// Send сразу показывает сообщение в переписке и превью и отправляет его в фоне.
// При успехе переписка перечитывается; при ошибке сообщение убирается, а превью
// возвращается к прежнему, если его ещё не заменил свежий опрос.
func (c *Controller) Send(ctx context.Context, text string) (*Outgoing, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation(map[string]string{"message": "Message is required"})
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.activeID == 0 {
		c.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	contactID, gen := c.activeID, c.generation
	pending := PendingSend{
		LocalID:   uuid.New(),
		Sender:    c.me.ID,
		Receiver:  contactID,
		Message:   text,
		CreatedAt: c.opts.Clock(),
	}
	c.conversation = append(c.conversation, pending)
	before, hadPreview := c.previews[contactID]
	c.setPreview(contactID, Preview{Text: "You: " + text, Time: pending.CreatedAt})
	optimisticRev := c.rev
	c.mu.Unlock()
	c.notify()

	out := &Outgoing{ID: pending.LocalID, done: make(chan struct{})}
	// отправка не отменяется закрытием чата
	sendCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(out.done)

		msg, err := c.api.SendMessage(sendCtx, contactID, text)
		if err != nil {
			out.err = err
			c.opts.Logger.Warn().Err(err).Int("contact_id", contactID).Msg("send failed, rolling back")
			c.rollback(contactID, pending.LocalID, before, hadPreview, optimisticRev)
			return
		}

		c.mu.Lock()
		stillActive := gen == c.generation && c.open
		if stillActive {
			c.conversation = replacePending(c.conversation, pending.LocalID, msg)
		}
		c.mu.Unlock()
		c.notify()
		if stillActive {
			c.refetchAfterSend(sendCtx, gen, contactID)
		}
	}()
	return out, nil
}

func (c *Controller) rollback(contactID int, id uuid.UUID, before Preview, hadPreview bool, optimisticRev uint64) {
	c.mu.Lock()
	c.conversation, _ = withoutPending(c.conversation, id)
	if cur, ok := c.previews[contactID]; ok && cur.rev == optimisticRev {
		if hadPreview {
			c.setPreview(contactID, before)
		} else {
			delete(c.previews, contactID)
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Conversation возвращает копию активной переписки
func (c *Controller) Conversation() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.conversation...)
}

// Active возвращает id выбранного собеседника
func (c *Controller) Active() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID, c.activeID != 0
}

func (c *Controller) Preview(contactID int) (Preview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.previews[contactID]
	return p, ok
}

// Contacts возвращает контакты, отфильтрованные нечётким поиском по имени и username
func (c *Controller) Contacts(query string) []ContactView {
	c.mu.Lock()
	users := search(c.contacts, query)
	views := make([]ContactView, 0, len(users))
	for _, u := range users {
		views = append(views, ContactView{User: u, Preview: c.previews[u.ID], Active: u.ID == c.activeID})
	}
	c.mu.Unlock()
	return views
}

// TotalUnread суммирует непрочитанные по всем превью
func (c *Controller) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.previews {
		n += p.Unread
	}
	return n
}

// Groups возвращает активную переписку, разложенную по дням
func (c *Controller) Groups() []DayGroup {
	return GroupByDay(c.Conversation(), c.me.ID, c.opts.Clock())
}
