package humanizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

func emojiConfig(dir string) config.EmojiConfig {
	return config.EmojiConfig{Enabled: true, EmojiDir: dir, SendProbability: 0.2}
}

func TestScanDir_RegistersImagesOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cat.png", "dog.JPG", "readme.txt", "clip.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	st := openTestStore(t)
	e := NewEmojis(st, nil, nil, emojiConfig(dir))
	if err := e.ScanDir(context.Background()); err != nil {
		t.Fatal(err)
	}

	all, err := st.GetAllEmojis()
	if err != nil || len(all) != 2 {
		t.Fatalf("registered %d emojis, want 2 (%v)", len(all), err)
	}
	// No vision model: filename description, neutral emotion.
	for _, em := range all {
		if em.Emotion != "neutral" {
			t.Errorf("emotion = %q", em.Emotion)
		}
	}

	// Second scan is a no-op thanks to the unique file name constraint.
	if err := e.ScanDir(context.Background()); err != nil {
		t.Fatal(err)
	}
	all, _ = st.GetAllEmojis()
	if len(all) != 2 {
		t.Errorf("rescan duplicated rows: %d", len(all))
	}
}

func TestPick_ProbabilityGate(t *testing.T) {
	st := openTestStore(t)
	st.SaveEmoji(&store.Emoji{FileName: "cat.png", Emotion: "funny"})
	e := NewEmojis(st, nil, nil, emojiConfig(t.TempDir()))

	e.rand = func() float64 { return 0.9 } // above send_probability
	if got := e.Pick(context.Background(), "哈哈哈"); got != "" {
		t.Errorf("gate failed open: %q", got)
	}

	e.rand = func() float64 { return 0.1 }
	got := e.Pick(context.Background(), "哈哈哈")
	if filepath.Base(got) != "cat.png" {
		t.Errorf("picked %q", got)
	}
}

func TestPick_NeutralFallback(t *testing.T) {
	st := openTestStore(t)
	st.SaveEmoji(&store.Emoji{FileName: "shrug.png", Emotion: "neutral"})
	e := NewEmojis(st, nil, nil, emojiConfig(t.TempDir()))
	e.rand = func() float64 { return 0 }

	// "哈哈" classifies as funny; no funny emojis exist, neutral steps in.
	got := e.Pick(context.Background(), "哈哈")
	if filepath.Base(got) != "shrug.png" {
		t.Errorf("picked %q", got)
	}
}

func TestPick_BumpsUsage(t *testing.T) {
	st := openTestStore(t)
	st.SaveEmoji(&store.Emoji{FileName: "cat.png", Emotion: "funny"})
	e := NewEmojis(st, nil, nil, emojiConfig(t.TempDir()))
	e.rand = func() float64 { return 0 }
	e.Pick(context.Background(), "哈哈")

	all, _ := st.GetAllEmojis()
	if all[0].UsageCount != 1 {
		t.Errorf("usage = %d, want 1", all[0].UsageCount)
	}
}

func TestClassify_CueTableBeforeLLM(t *testing.T) {
	gen := &stubGen{resp: "sad"}
	e := NewEmojis(openTestStore(t), nil, gen, emojiConfig(t.TempDir()))

	if got := e.classify(context.Background(), "笑死我了"); got != "funny" {
		t.Errorf("cue classify = %q", got)
	}
	if gen.calls != 0 {
		t.Error("cue hit should skip the LLM")
	}

	if got := e.classify(context.Background(), "今天天气不错"); got != "sad" {
		t.Errorf("LLM classify = %q", got)
	}
	if gen.calls != 1 {
		t.Error("cue miss should ask the LLM")
	}
}

func TestEmotionTaxonomyIsClosed(t *testing.T) {
	want := map[string]bool{
		"happy": true, "sad": true, "angry": true, "surprised": true,
		"disgusted": true, "scared": true, "neutral": true, "funny": true,
		"cute": true, "confused": true, "excited": true, "tired": true,
		"love": true,
	}
	if len(emotionTaxonomy) != len(want) {
		t.Fatalf("taxonomy has %d labels, want %d", len(emotionTaxonomy), len(want))
	}
	seen := map[string]bool{}
	for _, label := range emotionTaxonomy {
		if !want[label] {
			t.Errorf("unexpected label %q", label)
		}
		if seen[label] {
			t.Errorf("duplicate label %q", label)
		}
		seen[label] = true
	}
	// Every quick-classifier cue must land inside the taxonomy.
	for _, c := range emotionCues {
		if !want[c.emotion] {
			t.Errorf("cue %q targets %q, outside the taxonomy", c.cue, c.emotion)
		}
	}
}

func TestNormalizeEmotion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"happy", "happy"},
		{" Happy ", "happy"},
		{"The emotion is: funny.", "funny"},
		{"jubilant", "neutral"},
		{"", "neutral"},
	}
	for _, tt := range tests {
		if got := normalizeEmotion(tt.in); got != tt.want {
			t.Errorf("normalizeEmotion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWeightedPick_FavorsLessUsed(t *testing.T) {
	e := NewEmojis(openTestStore(t), nil, nil, emojiConfig(t.TempDir()))
	candidates := []store.Emoji{
		{ID: 1, FileName: "worn.png", UsageCount: 10},
		{ID: 2, FileName: "fresh.png", UsageCount: 0},
	}
	fresh := 0
	for i := 0; i < 1000; i++ {
		if e.weightedPick(candidates).ID == 2 {
			fresh++
		}
	}
	// Weights are 2 vs 12; the fresh one should win most rolls.
	if fresh < 700 {
		t.Errorf("fresh picked only %d/1000", fresh)
	}
}

func TestExtFromContentType(t *testing.T) {
	tests := []struct{ ct, want string }{
		{"image/jpeg", ".jpg"},
		{"image/png; charset=binary", ".png"},
		{"image/gif", ".gif"},
		{"image/webp", ".webp"},
		{"text/html", ""},
	}
	for _, tt := range tests {
		if got := extFromContentType(tt.ct); got != tt.want {
			t.Errorf("extFromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}
