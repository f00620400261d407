package discord

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

func TestMapErr(t *testing.T) {
	if mapErr("x", nil) != nil {
		t.Fatal("nil must stay nil")
	}

	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 3 * time.Second},
		URL:             "https://discord.com/api/x",
	}}
	got, ok := transport.AsRateLimit(mapErr("add role", rl))
	if !ok || got.RetryAfter != 3*time.Second || got.Op != "add role" {
		t.Fatalf("rate limit = %+v, %v", got, ok)
	}

	if err := mapErr("member", discordgo.ErrStateNotFound); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("state miss = %v", err)
	}

	unknownMember := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest, Status: "400 Bad Request"},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember},
	}
	if err := mapErr("member", unknownMember); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("unknown member = %v", err)
	}

	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"}}
	if err := mapErr("channel", notFound); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("404 = %v", err)
	}

	tooMany := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429"}}
	if _, ok := transport.AsRateLimit(mapErr("send", tooMany)); !ok {
		t.Fatal("429 must map to a rate limit")
	}

	server := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}}
	err := mapErr("send", server)
	if errors.Is(err, transport.ErrNotFound) {
		t.Fatal("502 is not a missing entity")
	}
	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		t.Fatal("original error must stay wrapped")
	}
}

func TestToApplicationCommands(t *testing.T) {
	specs := []transport.CommandSpec{
		{Name: "link", Description: "Link", Options: []transport.OptionSpec{
			{Name: "player_id", Description: "id", Type: transport.OptionString, Required: true},
		}},
		{Name: "set_mode", Description: "Mode", Admin: true, Options: []transport.OptionSpec{
			{Name: "mode", Description: "m", Type: transport.OptionString, Required: true, Choices: []string{"total", "ffa", "team"}},
			{Name: "user", Description: "u", Type: transport.OptionUser},
			{Name: "n", Description: "n", Type: transport.OptionInt},
		}},
	}
	cmds := toApplicationCommands(specs)
	if len(cmds) != 2 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].DefaultMemberPermissions != nil {
		t.Fatal("member command must not require permissions")
	}
	if p := cmds[1].DefaultMemberPermissions; p == nil || *p != int64(discordgo.PermissionManageServer) {
		t.Fatalf("admin permissions = %v", p)
	}
	opts := cmds[1].Options
	if len(opts[0].Choices) != 3 || opts[0].Choices[1].Value != "ffa" {
		t.Fatalf("choices = %+v", opts[0].Choices)
	}
	if opts[1].Type != discordgo.ApplicationCommandOptionUser || opts[2].Type != discordgo.ApplicationCommandOptionInteger {
		t.Fatalf("option types = %v, %v", opts[1].Type, opts[2].Type)
	}
	if cmds[0].DMPermission == nil || *cmds[0].DMPermission {
		t.Fatal("commands are guild only")
	}
}

func TestHashCommandsChangesWithOptions(t *testing.T) {
	a := toApplicationCommands([]transport.CommandSpec{{Name: "sync", Description: "Sync"}})
	b := toApplicationCommands([]transport.CommandSpec{{Name: "sync", Description: "Sync"}})
	if hashCommands(a) != hashCommands(b) {
		t.Fatal("identical sets must hash the same")
	}
	c := toApplicationCommands([]transport.CommandSpec{{Name: "sync", Description: "Sync", Options: []transport.OptionSpec{
		{Name: "user", Description: "u", Type: transport.OptionUser},
	}}})
	if hashCommands(a) == hashCommands(c) {
		t.Fatal("option change must change the hash")
	}
}

func TestCommandFromInteraction(t *testing.T) {
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "u1", Username: "alice"},
			Nick:        "Ali",
			Roles:       []string{"r1"},
			Permissions: discordgo.PermissionManageServer,
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "audit",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "page", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(2)},
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u2"},
				{Name: "enabled", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
				{Name: "tag", Type: discordgo.ApplicationCommandOptionString, Value: "ABC"},
			},
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Users:   map[string]*discordgo.User{"u2": {ID: "u2", Username: "bob"}},
				Members: map[string]*discordgo.Member{"u2": {Nick: "Bobby"}},
				Roles:   map[string]*discordgo.Role{"r9": {ID: "r9", Name: "Gold"}},
			},
		},
	}
	cmd := commandFromInteraction(i)
	if cmd.Name != "audit" || cmd.GuildID != "g1" || cmd.ChannelID != "c1" {
		t.Fatalf("cmd = %+v", cmd)
	}
	if cmd.Invoker.ID != "u1" || cmd.Invoker.DisplayName != "Ali" || !cmd.Invoker.HasRole("r1") {
		t.Fatalf("invoker = %+v", cmd.Invoker)
	}
	if !transport.IsAdminPermission(cmd.Invoker.Permissions) {
		t.Fatal("invoker permissions lost")
	}
	if n, ok := cmd.Int("page"); !ok || n != 2 {
		t.Fatalf("page = %d, %v", n, ok)
	}
	if v, ok := cmd.String("user"); !ok || v != "u2" {
		t.Fatalf("user = %q", v)
	}
	if v, ok := cmd.Bool("enabled"); !ok || !v {
		t.Fatal("enabled flag lost")
	}
	if v, _ := cmd.String("tag"); v != "ABC" {
		t.Fatalf("tag = %q", v)
	}
	if cmd.Names["u2"] != "Bobby" || cmd.Names["r9"] != "Gold" {
		t.Fatalf("names = %v", cmd.Names)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Fatalf("short = %q", got)
	}
	if got := truncate("héllo", 3); got != "hé…" {
		t.Fatalf("long = %q", got)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func runningAdapter(t *testing.T, out chan transport.Update) *Adapter {
	t.Helper()
	a, err := New(Config{Token: "test"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.out = out
	a.stopCh = make(chan struct{})
	return a
}

func TestJoinsWaitForRoomInsteadOfDropping(t *testing.T) {
	out := make(chan transport.Update, 2)
	a := runningAdapter(t, out)

	ids := []string{"g1", "g2", "g3", "g4", "g5"}
	sent := make(chan struct{})
	go func() {
		for _, id := range ids {
			a.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: id}})
		}
		a.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})
		close(sent)
	}()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < len(ids)+1 {
		select {
		case up := <-out:
			got = append(got, string(up.Kind)+":"+up.Guild.ID)
			time.Sleep(5 * time.Millisecond)
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	<-sent
	if got[len(got)-1] != string(transport.UpdateGuildLeft)+":g1" {
		t.Fatalf("updates = %v", got)
	}
	if n := atomic.LoadUint64(&a.droppedUpdates); n != 0 {
		t.Fatalf("dropped = %d", n)
	}
}

func TestCommandsDropWhenFull(t *testing.T) {
	out := make(chan transport.Update, 1)
	a := runningAdapter(t, out)
	a.emit(transport.Update{Kind: transport.UpdateCommand, Command: &transport.Command{Name: "status"}})
	a.emit(transport.Update{Kind: transport.UpdateCommand, Command: &transport.Command{Name: "status"}})
	if n := atomic.LoadUint64(&a.droppedUpdates); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}
}

func TestBlockedJoinReleasedByStop(t *testing.T) {
	out := make(chan transport.Update)
	a := runningAdapter(t, out)
	returned := make(chan struct{})
	go func() {
		a.emit(transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: "g1"}})
		close(returned)
	}()
	close(a.stopCh)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("emit still blocked after stop")
	}
}
