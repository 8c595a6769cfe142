package relay

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"tellbot/internal/storage"
)

type notice struct{ target, text string }

type recordSink struct {
	notices []notice
	failAt  int
}

func (s *recordSink) Notice(_ context.Context, target, text string) error {
	if s.failAt > 0 && len(s.notices)+1 == s.failAt {
		return errors.New("send failed")
	}
	s.notices = append(s.notices, notice{target, text})
	return nil
}

func (s *recordSink) texts() []string {
	out := make([]string, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, n.text)
	}
	return out
}

func newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	return c
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   []string
		want Command
		ok   bool
	}{
		{in: nil},
		{in: []string{}},
		{in: []string{"onlyrecipient"}},
		{in: []string{"", ""}},
		{in: []string{"bob", "hello", "world"}, want: Command{"bob", "hello world"}, ok: true},
		{in: []string{"bob", "", "hi"}, want: Command{"bob", "hi"}, ok: true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.in), func(t *testing.T) {
			got, ok := ParseCommand(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFieldsFeedsParser(t *testing.T) {
	cmd, ok := ParseCommand(Fields("  bob   see you\tat  noon "))
	require.True(t, ok)
	assert.Equal(t, "bob", cmd.Recipient)
	assert.Equal(t, "see you at noon", cmd.Body)
}

func TestOnCommandPostsBody(t *testing.T) {
	c := newCoordinator(t, Options{})
	sink := &recordSink{}

	require.NoError(t, c.OnCommand(context.Background(), sink, Invocation{
		Invoker: "alice", Command: "tell", Args: []string{"bob", "hello", "world"},
	}))
	assert.Equal(t, []notice{{"alice", DefaultSuccessText}}, sink.notices)

	msgs, err := c.Store().RetrieveMessages(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.Equal(t, "hello world", msgs[0].Body)
}

func TestOnCommandMalformed(t *testing.T) {
	for _, args := range [][]string{nil, {}, {"onlyrecipient"}} {
		t.Run(fmt.Sprintf("%q", args), func(t *testing.T) {
			c := newCoordinator(t, Options{Commands: Aliases{"tell", "remind"}})
			sink := &recordSink{}
			require.NoError(t, c.OnCommand(context.Background(), sink, Invocation{
				Invoker: "alice", Command: "remind", Args: args,
			}))
			assert.Equal(t, []notice{
				{"alice", "Can't identify nickname or message."},
				{"alice", "Usage: remind <nickname> <message>"},
				{"alice", "Stores a <message> to be send next time the <nickname> is seen."},
			}, sink.notices)

			st, err := c.Store().Stats(context.Background())
			require.NoError(t, err)
			assert.Empty(t, st)
		})
	}
}

func TestOnCommandQueueFull(t *testing.T) {
	two := 2
	c := newCoordinator(t, Options{MaxMessages: &two, SuccessText: "queued", FullText: "full"})
	sink := &recordSink{}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.OnCommand(context.Background(), sink, Invocation{
			Invoker: "alice", Command: "tell", Args: []string{"bob", fmt.Sprint(i)},
		}))
	}
	assert.Equal(t, []string{"queued", "queued", "full"}, sink.texts())
}

func TestOnCommandNormalizesRecipient(t *testing.T) {
	c := newCoordinator(t, Options{NormalizeRecipient: func(s string) string { return strings.TrimPrefix(s, "@") }})
	sink := &recordSink{}
	require.NoError(t, c.OnCommand(context.Background(), sink, Invocation{
		Invoker: "alice", Command: "tell", Args: []string{"@bob", "hi"},
	}))
	msgs, err := c.Store().RetrieveMessages(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// A recipient that normalizes to nothing is malformed.
	sink = &recordSink{}
	require.NoError(t, c.OnCommand(context.Background(), sink, Invocation{
		Invoker: "alice", Command: "tell", Args: []string{"@", "hi"},
	}))
	require.NotEmpty(t, sink.notices)
	assert.Equal(t, "Can't identify nickname or message.", sink.notices[0].text)
}

func TestOnHelp(t *testing.T) {
	c := newCoordinator(t, Options{})
	cases := []struct {
		name string
		inv  Invocation
		want string
	}{
		{"plain", Invocation{Invoker: "alice", Command: "tell"}, "Usage: tell <nickname> <message>"},
		{"suffixed", Invocation{Invoker: "alice", Command: "remind.help"}, "Usage: remind <nickname> <message>"},
		{"from args", Invocation{Invoker: "alice", Args: []string{"tell"}}, "Usage: tell <nickname> <message>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordSink{}
			require.NoError(t, c.OnHelp(context.Background(), sink, tc.inv))
			require.Len(t, sink.notices, 2)
			assert.Equal(t, notice{"alice", tc.want}, sink.notices[0])
			assert.Equal(t, descriptionText, sink.notices[1].text)
		})
	}
}

func TestOnActivityDeliversInOrder(t *testing.T) {
	at := time.Date(2024, 3, 14, 21, 5, 0, 0, time.UTC)
	store := storage.NewMemory(storage.WithClock(func() time.Time { return at }))
	c := newCoordinator(t, Options{Database: store})
	ctx := context.Background()

	_, err := store.PostMessage(ctx, "A", "X", "first")
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, "B", "X", "second")
	require.NoError(t, err)

	sink := &recordSink{}
	require.NoError(t, c.OnActivity(ctx, sink, "X", false))
	assert.Equal(t, []notice{
		{"X", "(03/14 09:05pm) A: first"},
		{"X", "(03/14 09:05pm) B: second"},
	}, sink.notices)

	// Delivered once.
	sink = &recordSink{}
	require.NoError(t, c.OnActivity(ctx, sink, "X", false))
	assert.Empty(t, sink.notices)
}

func TestOnActivityContainsSenderPrefix(t *testing.T) {
	c := newCoordinator(t, Options{})
	ctx := context.Background()
	for _, inv := range []Invocation{
		{Invoker: "A", Command: "tell", Args: []string{"X", "one"}},
		{Invoker: "B", Command: "tell", Args: []string{"X", "two"}},
	} {
		require.NoError(t, c.OnCommand(ctx, &recordSink{}, inv))
	}
	sink := &recordSink{}
	require.NoError(t, c.OnActivity(ctx, sink, "X", false))
	texts := sink.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "A: one")
	assert.Contains(t, texts[1], "B: two")
}

func TestOnActivitySelfSuppressed(t *testing.T) {
	c := newCoordinator(t, Options{})
	ctx := context.Background()
	_, err := c.Store().PostMessage(ctx, "alice", "tellbot", "hi bot")
	require.NoError(t, err)

	sink := &recordSink{}
	require.NoError(t, c.OnActivity(ctx, sink, "tellbot", true))
	assert.Empty(t, sink.notices)

	// Still queued.
	st, err := c.Store().Stats(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Equal(t, 1, st[0].Count)
}

func TestOnActivityNoMessages(t *testing.T) {
	c := newCoordinator(t, Options{})
	sink := &recordSink{}
	require.NoError(t, c.OnActivity(context.Background(), sink, "nobody", false))
	assert.Empty(t, sink.notices)
}

func TestOnActivitySinkFailureDoesNotRequeue(t *testing.T) {
	c := newCoordinator(t, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Store().PostMessage(ctx, "A", "X", fmt.Sprint(i))
		require.NoError(t, err)
	}
	sink := &recordSink{failAt: 2}
	err := c.OnActivity(ctx, sink, "X", false)
	require.Error(t, err)
	assert.Len(t, sink.notices, 1)

	msgs, err := c.Store().RetrieveMessages(ctx, "X")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCommandBindings(t *testing.T) {
	c := newCoordinator(t, Options{Commands: Aliases{"tell", "remind"}})
	keys := make([]string, 0)
	for k := range c.CommandBindings() {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"command.tell", "command.tell.help", "command.remind", "command.remind.help",
	}, keys)

	assert.Equal(t, []string{
		"command.remind", "command.remind.help", "command.tell", "command.tell.help",
		"user.join", "user.message",
	}, c.BindingNames())
}

func TestDefaultBindings(t *testing.T) {
	c := newCoordinator(t, Options{})
	assert.Equal(t, []string{"tell"}, c.Commands())
	assert.Len(t, c.CommandBindings(), 2)
}

func TestBindingsDispatch(t *testing.T) {
	c := newCoordinator(t, Options{Commands: ParseAliases("tell, remind")})
	b := c.Bindings()
	ctx := context.Background()

	sink := &recordSink{}
	require.NoError(t, b["command.remind"](ctx, sink, Event{Name: "command.remind", Actor: "alice", Args: []string{"bob", "hi"}}))
	assert.Equal(t, []string{DefaultSuccessText}, sink.texts())

	sink = &recordSink{}
	require.NoError(t, b["command.remind.help"](ctx, sink, Event{Name: "command.remind.help", Actor: "alice"}))
	assert.Equal(t, "Usage: remind <nickname> <message>", sink.notices[0].text)

	sink = &recordSink{}
	require.NoError(t, b[EventMessage](ctx, sink, Event{Name: EventMessage, Actor: "bob"}))
	require.Len(t, sink.notices, 1)
	assert.Equal(t, "bob", sink.notices[0].target)
	assert.True(t, strings.HasSuffix(sink.notices[0].text, "alice: hi"))
}

func TestAliasesJSON(t *testing.T) {
	var a struct {
		Commands Aliases `json:"commands"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"commands":"tell,remind"}`), &a))
	assert.Equal(t, Aliases{"tell", "remind"}, a.Commands)

	require.NoError(t, json.Unmarshal([]byte(`{"commands":["tell"," note "]}`), &a))
	assert.Equal(t, Aliases{"tell", "note"}, a.Commands)

	assert.Error(t, json.Unmarshal([]byte(`{"commands":42}`), &a))
}

func TestAliasesNormalized(t *testing.T) {
	assert.Equal(t, []string{"tell", "remind"}, Aliases{"/tell", "remind", "tell", " "}.normalized())
	assert.Equal(t, []string{"tell"}, Aliases(nil).normalized())
}

func TestNewRejectsUnsupportedDatabase(t *testing.T) {
	_, err := New(context.Background(), Options{Database: &bytes.Buffer{}})
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "*bytes.Buffer", cerr.Type)
	assert.Contains(t, err.Error(), "*bytes.Buffer")

	_, err = New(context.Background(), Options{Database: "sqlite://tell.db"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, `"string" database type is not supported`, err.Error())
}

func TestNewWithSQLDatabase(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tell.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	five := 5
	c := newCoordinator(t, Options{Database: db, CreateDatabase: true, MaxMessages: &five})
	_, ok := c.Store().(*storage.SQLBackend)
	require.True(t, ok)
	assert.Equal(t, 5, c.Store().MaxMessages())

	ctx := context.Background()
	rejected := 0
	for i := 0; i < 7; i++ {
		sink := &recordSink{}
		require.NoError(t, c.OnCommand(ctx, sink, Invocation{Invoker: "alice", Command: "tell", Args: []string{"bob", fmt.Sprint(i)}}))
		if sink.notices[0].text == DefaultFullText {
			rejected++
		}
	}
	assert.Equal(t, 2, rejected)

	sink := &recordSink{}
	require.NoError(t, c.OnActivity(ctx, sink, "bob", false))
	require.Len(t, sink.notices, 5)
	assert.True(t, strings.HasSuffix(sink.notices[0].text, "alice: 0"))
	assert.True(t, strings.HasSuffix(sink.notices[4].text, "alice: 4"))
}

func TestMaxMessagesDisabled(t *testing.T) {
	zero := 0
	c := newCoordinator(t, Options{MaxMessages: &zero})
	ctx := context.Background()
	for i := 0; i < 17; i++ {
		sink := &recordSink{}
		require.NoError(t, c.OnCommand(ctx, sink, Invocation{Invoker: "a", Command: "tell", Args: []string{"b", "m"}}))
		assert.Equal(t, DefaultSuccessText, sink.notices[0].text)
	}
}

func TestStorageErrorPropagates(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.Close())
	c := newCoordinator(t, Options{Database: store})

	err := c.OnCommand(context.Background(), &recordSink{}, Invocation{Invoker: "a", Command: "tell", Args: []string{"b", "m"}})
	assert.ErrorIs(t, err, storage.ErrClosed)

	err = c.OnActivity(context.Background(), &recordSink{}, "b", false)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
