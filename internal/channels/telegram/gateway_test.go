package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/mingle/internal/onebot"
)

func TestStripMention(t *testing.T) {
	tests := []struct{ text, username, want string }{
		{"@mingle_bot hello", "mingle_bot", "hello"},
		{"hello @Mingle_Bot there", "mingle_bot", "hello  there"},
		{"no mention here", "mingle_bot", "no mention here"},
		{"@other_bot hi", "mingle_bot", "@other_bot hi"},
		{"", "mingle_bot", ""},
	}
	for _, tt := range tests {
		if got := stripMention(tt.text, tt.username); got != tt.want {
			t.Errorf("stripMention(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestRenderSegments(t *testing.T) {
	text, replyTo, image := renderSegments([]onebot.Segment{
		onebot.Reply(77),
		onebot.At(42),
		onebot.Text(" <hello>"),
	})
	if replyTo != 77 {
		t.Errorf("replyTo = %d", replyTo)
	}
	if image != "" {
		t.Errorf("image = %q", image)
	}
	want := `<a href="tg://user?id=42">@42</a> &lt;hello&gt;`
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestRenderSegments_Image(t *testing.T) {
	_, _, image := renderSegments([]onebot.Segment{onebot.Image("file:///tmp/cat.png")})
	if image != "file:///tmp/cat.png" {
		t.Errorf("image = %q", image)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct{ in, want string }{
		{"creator", "owner"},
		{"administrator", "admin"},
		{"member", "member"},
		{"restricted", "member"},
		{"left", "member"},
	}
	for _, tt := range tests {
		if got := mapStatus(tt.in); got != tt.want {
			t.Errorf("mapStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSenderName(t *testing.T) {
	if got := senderName(&telego.User{Username: "bob", FirstName: "Bob"}); got != "bob" {
		t.Errorf("got %q", got)
	}
	if got := senderName(&telego.User{FirstName: "Bob", LastName: "Smith"}); got != "Bob Smith" {
		t.Errorf("got %q", got)
	}
}

func TestMessageCacheEviction(t *testing.T) {
	g := &Gateway{cache: make(map[int32]*onebot.StoredMsg)}
	for i := 0; i < msgCacheSize+10; i++ {
		g.remember(&onebot.StoredMsg{MessageID: int32(i)})
	}
	if len(g.cache) != msgCacheSize {
		t.Errorf("cache size = %d, want %d", len(g.cache), msgCacheSize)
	}
	if _, err := g.GetMsg(nil, 0); err == nil {
		t.Error("evicted message still served")
	}
	if m, err := g.GetMsg(nil, msgCacheSize+5); err != nil || m == nil {
		t.Errorf("recent message missing: %v", err)
	}
}
