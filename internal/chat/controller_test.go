package chat_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinna/internal/chat"
	"cinna/models"
)

const meID = 1

var me = models.User{ID: meID, Username: "buyer1", FirstName: "Nimal", Role: models.RoleBuyer}

// fakeChat это сервер чата в памяти с точки зрения пользователя meID
type fakeChat struct {
	mu           sync.Mutex
	users        []models.User
	messages     map[int][]models.ChatMessage
	nextID       int
	requestedFor models.Role
	marked       []int
	sendErr      error
	sendGate     chan struct{}
	slowContact  int
	slowGate     chan struct{}
	usersErr     error
	holdContact  int
	hold         chan struct{}
	held         chan struct{}
	fetches      atomic.Int32
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		users: []models.User{
			{ID: 2, Username: "mill", FirstName: "Kandy", LastName: "Mills", Role: models.RoleManufacturer},
			{ID: 3, Username: "spice", FirstName: "Galle", LastName: "Spice", Role: models.RoleManufacturer},
		},
		messages: map[int][]models.ChatMessage{},
		nextID:   100,
	}
}

func (f *fakeChat) add(contact, sender int, text string, read bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receiver := contact
	if sender == contact {
		receiver = meID
	}
	f.nextID++
	f.messages[contact] = append(f.messages[contact], models.ChatMessage{
		ID:        f.nextID,
		Sender:    models.Ref(sender),
		Receiver:  models.Ref(receiver),
		Message:   text,
		IsRead:    read,
		CreatedAt: time.Now(),
	})
}

func (f *fakeChat) UsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestedFor = role
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return append([]models.User(nil), f.users...), nil
}

func (f *fakeChat) Messages(ctx context.Context, userID int) ([]models.ChatMessage, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	if f.hold != nil && f.holdContact == userID {
		// запрос видит переписку на момент старта и отвечает после hold
		snapshot := append([]models.ChatMessage(nil), f.messages[userID]...)
		hold, held := f.hold, f.held
		f.hold = nil
		f.mu.Unlock()
		close(held)
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return snapshot, nil
	}
	gate := f.slowGate
	slow := f.slowContact == userID
	f.mu.Unlock()
	if slow && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessage(nil), f.messages[userID]...), nil
}

func (f *fakeChat) SendMessage(ctx context.Context, receiverID int, text string) (models.ChatMessage, error) {
	f.mu.Lock()
	gate, err := f.sendGate, f.sendErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.ChatMessage{}, err
	}
	f.add(receiverID, meID, text, false)
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[receiverID]
	return msgs[len(msgs)-1], nil
}

func (f *fakeChat) MarkRead(ctx context.Context, senderID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, senderID)
	for i := range f.messages[senderID] {
		if f.messages[senderID][i].Sender.Int() == senderID {
			f.messages[senderID][i].IsRead = true
		}
	}
	return nil
}

// holdNext задерживает следующий запрос переписки contact до закрытия возвращённого канала
func (f *fakeChat) holdNext(contact int) (release chan struct{}, started chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdContact = contact
	f.hold = make(chan struct{})
	f.held = make(chan struct{})
	return f.hold, f.held
}

func (f *fakeChat) markedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.marked...)
}

func newController(api chat.API) *chat.Controller {
	return chat.NewController(api, me, chat.Options{
		ListInterval:   10 * time.Millisecond,
		ActiveInterval: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func texts(entries []chat.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text())
	}
	return out
}

func TestOpenLoadsCounterpartContacts(t *testing.T) {
	api := newFakeChat()
	c := newController(api)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	require.Equal(t, models.RoleManufacturer, api.requestedFor)
	require.Len(t, c.Contacts(""), 2)
	require.True(t, c.IsOpen())
}

func TestPreviewsCountUnreadFromContact(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", false)
	api.add(2, 2, "are you there?", false)
	api.add(2, 2, "old", true)
	api.add(3, 3, "price list", false)
	api.add(3, meID, "thanks", false)

	c := newController(api)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	assert.Eventually(t, func() bool {
		p, ok := c.Preview(2)
		return ok && p.Unread == 2
	}, 2*time.Second, 5*time.Millisecond)

	p2, _ := c.Preview(2)
	require.Equal(t, "old", p2.Text)
	p3, _ := c.Preview(3)
	require.Equal(t, "You: thanks", p3.Text)
	require.Equal(t, 1, p3.Unread)
	require.Equal(t, 3, c.TotalUnread())
}

func TestSelectClearsUnreadAndFetchesImmediately(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", false)
	api.add(2, 2, "ping", false)

	c := chat.NewController(api, me, chat.Options{
		ListInterval:   10 * time.Millisecond,
		ActiveInterval: time.Hour,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	assert.Eventually(t, func() bool {
		p, _ := c.Preview(2)
		return p.Unread == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Select(context.Background(), 2))

	p, _ := c.Preview(2)
	require.Equal(t, 0, p.Unread)
	require.Equal(t, []string{"hello", "ping"}, texts(c.Conversation()))
	id, ok := c.Active()
	require.True(t, ok)
	require.Equal(t, 2, id)
	assert.Eventually(t, func() bool { return len(api.markedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{2}, api.markedIDs())

	// опрос превью никогда не поднимает счётчик активной переписки
	api.add(2, 2, "new while open", false)
	assert.Never(t, func() bool {
		p, _ := c.Preview(2)
		return p.Unread != 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestSelectUnknownContact(t *testing.T) {
	c := newController(newFakeChat())
	require.ErrorIs(t, c.Select(context.Background(), 2), chat.ErrClosed)

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.ErrorIs(t, c.Select(context.Background(), 42), chat.ErrUnknownContact)
}

func TestOptimisticSendSuccessLeavesExactlyOneMessage(t *testing.T) {
	api := newFakeChat()
	api.sendGate = make(chan struct{})
	c := newController(api)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.NoError(t, c.Select(context.Background(), 2))

	out, err := c.Send(context.Background(), "  Ready to ship  ")
	require.NoError(t, err)

	conv := c.Conversation()
	require.Len(t, conv, 1)
	pending, ok := conv[0].(chat.PendingSend)
	require.True(t, ok)
	require.Equal(t, out.ID, pending.LocalID)
	require.Equal(t, "Ready to ship", pending.Text())
	p, _ := c.Preview(2)
	require.Equal(t, "You: Ready to ship", p.Text)

	// отправляемое сообщение переживает опрос, пока сервер не ответил
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"Ready to ship"}, texts(c.Conversation()))

	close(api.sendGate)
	require.NoError(t, out.Err())

	assert.Eventually(t, func() bool {
		conv := c.Conversation()
		if len(conv) != 1 {
			return false
		}
		_, confirmed := conv[0].(chat.Confirmed)
		return confirmed && conv[0].Text() == "Ready to ship"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(c.Conversation()) != 1 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestOptimisticSendFailureRollsBack(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", true)
	api.sendGate = make(chan struct{})
	api.sendErr = errors.New("offline")

	c := chat.NewController(api, me, chat.Options{
		ListInterval:   time.Hour,
		ActiveInterval: time.Hour,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.NoError(t, c.Select(context.Background(), 2))
	before, _ := c.Preview(2)
	require.Equal(t, "hello", before.Text)

	out, err := c.Send(context.Background(), "lost message")
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "lost message"}, texts(c.Conversation()))

	close(api.sendGate)
	require.EqualError(t, out.Err(), "offline")

	require.Equal(t, []string{"hello"}, texts(c.Conversation()))
	after, _ := c.Preview(2)
	require.Equal(t, "hello", after.Text)
}

func TestSendValidation(t *testing.T) {
	c := newController(newFakeChat())
	_, err := c.Send(context.Background(), "hi")
	require.ErrorIs(t, err, chat.ErrClosed)

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	_, err = c.Send(context.Background(), "hi")
	require.ErrorIs(t, err, chat.ErrNoActiveChat)

	require.NoError(t, c.Select(context.Background(), 2))
	_, err = c.Send(context.Background(), "   ")
	require.Error(t, err)
	require.Empty(t, c.Conversation())
}

func TestSwitchingContactDropsStaleResponse(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "from two", true)
	api.add(3, 3, "from three", true)
	api.slowContact = 2
	api.slowGate = make(chan struct{})

	c := chat.NewController(api, me, chat.Options{
		ListInterval:   time.Hour,
		ActiveInterval: time.Hour,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Select(context.Background(), 2) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.Select(context.Background(), 3))
	close(api.slowGate)
	<-done

	require.Equal(t, []string{"from three"}, texts(c.Conversation()))
	id, _ := c.Active()
	require.Equal(t, 3, id)
}

func TestCloseStopsPolling(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", false)
	c := newController(api)
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Select(context.Background(), 2))
	assert.Eventually(t, func() bool { return api.fetches.Load() > 5 }, 2*time.Second, 5*time.Millisecond)

	c.Close()
	stopped := api.fetches.Load()

	assert.Never(t, func() bool { return api.fetches.Load() != stopped }, 100*time.Millisecond, 10*time.Millisecond)
	require.False(t, c.IsOpen())
	require.Empty(t, c.Conversation())
	_, active := c.Active()
	require.False(t, active)
}

func TestDeselectKeepsContactList(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", true)
	c := newController(api)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.NoError(t, c.Select(context.Background(), 2))

	c.Deselect()
	_, active := c.Active()
	require.False(t, active)
	require.Empty(t, c.Conversation())
	require.Len(t, c.Contacts(""), 2)
}

func TestContactSearch(t *testing.T) {
	c := newController(newFakeChat())
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	found := c.Contacts("kandy")
	require.Len(t, found, 1)
	require.Equal(t, 2, found[0].ID)

	found = c.Contacts("SPICE")
	require.Len(t, found, 1)
	require.Equal(t, 3, found[0].ID)

	require.Empty(t, c.Contacts("zzz"))
}

func TestUpdatesSignalChanges(t *testing.T) {
	c := newController(newFakeChat())
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	select {
	case <-c.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update after open")
	}
}

func TestOpenFailureLeavesChatClosed(t *testing.T) {
	api := newFakeChat()
	api.usersErr = errors.New("offline")
	c := newController(api)

	require.EqualError(t, c.Open(context.Background()), "offline")
	require.False(t, c.IsOpen())
	require.Empty(t, c.Contacts(""))

	api.mu.Lock()
	api.usersErr = nil
	api.mu.Unlock()

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.True(t, c.IsOpen())
	require.Len(t, c.Contacts(""), 2)
}

func TestSendRefetchDoesNotJoinStalePoll(t *testing.T) {
	api := newFakeChat()
	api.add(2, 2, "hello", true)
	c := chat.NewController(api, me, chat.Options{
		ListInterval:   time.Hour,
		ActiveInterval: 20 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.NoError(t, c.Select(context.Background(), 2))

	release, started := api.holdNext(2)
	defer close(release)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("active poll did not start")
	}

	out, err := c.Send(context.Background(), "fresh")
	require.NoError(t, err)
	select {
	case <-out.Done():
	case <-time.After(time.Second):
		t.Fatal("send waited for the poll that started before it")
	}
	require.NoError(t, out.Err())
	require.Equal(t, []string{"hello", "fresh"}, texts(c.Conversation()))
}
