package humanizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

// Emotion taxonomy. Vision tagging and the reply classifier both map
// into this closed set; anything else becomes neutral.
var emotionTaxonomy = []string{
	"happy", "sad", "angry", "surprised", "disgusted", "scared", "neutral",
	"funny", "cute", "confused", "excited", "tired", "love",
}

const emotionNeutral = "neutral"

var emojiExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// visionMaxEdge bounds the image sent for tagging.
const visionMaxEdge = 512

// scanConcurrency bounds parallel vision calls during the boot scan.
const scanConcurrency = 4

// emotionCues is the quick classifier: the first cue found in the reply
// text picks the emotion without an LLM round-trip.
var emotionCues = []struct {
	cue     string
	emotion string
}{
	{"哈哈", "funny"}, {"笑死", "funny"}, {"lol", "funny"}, {"lmao", "funny"},
	{"开心", "happy"}, {"耶", "happy"}, {"nice", "happy"}, {"great", "happy"},
	{"难过", "sad"}, {"呜呜", "sad"}, {"哭", "sad"}, {"sad", "sad"},
	{"生气", "angry"}, {"气死", "angry"}, {"怒", "angry"},
	{"可爱", "cute"}, {"萌", "cute"}, {"cute", "cute"},
	{"恶心", "disgusted"}, {"yuck", "disgusted"}, {"gross", "disgusted"},
	{"害怕", "scared"}, {"吓死", "scared"}, {"scary", "scared"},
	{"激动", "excited"}, {"兴奋", "excited"}, {"excited", "excited"},
	{"累", "tired"}, {"困", "tired"}, {"tired", "tired"},
	{"爱", "love"}, {"喜欢", "love"}, {"love", "love"},
	{"惊", "surprised"}, {"wow", "surprised"},
	{"懵", "confused"}, {"尴尬", "confused"}, {"啥情况", "confused"},
}

// EmojiStore is the store surface the emoji system uses.
type EmojiStore interface {
	SaveEmoji(e *store.Emoji) (bool, error)
	GetEmojisByEmotion(emotion string, limit int) ([]store.Emoji, error)
	GetAllEmojis() ([]store.Emoji, error)
	IncrementEmojiUsage(id int64) error
}

// Emojis manages the sticker collection: registering files with a vision
// pass, harvesting images seen in chat, and picking one to send.
type Emojis struct {
	st     EmojiStore
	vision VisionDescriber
	gen    TextGenerator
	cfg    config.EmojiConfig

	httpc *http.Client
	rng   *rand.Rand
	rand  func() float64 // test hook
}

func NewEmojis(st EmojiStore, vision VisionDescriber, gen TextGenerator, cfg config.EmojiConfig) *Emojis {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Emojis{
		st:     st,
		vision: vision,
		gen:    gen,
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		rng:    rng,
		rand:   rng.Float64,
	}
}

// ScanDir registers every image in the emoji directory that the store
// does not know yet. Run at boot.
func (e *Emojis) ScanDir(ctx context.Context) error {
	if !e.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(e.cfg.EmojiDir, 0o755); err != nil {
		return fmt.Errorf("emoji dir: %w", err)
	}
	entries, err := os.ReadDir(e.cfg.EmojiDir)
	if err != nil {
		return err
	}

	// Vision tagging dominates the scan; run a few files at a time.
	// Registration is best-effort, so per-file failures only log.
	var registered atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(scanConcurrency)
	for _, entry := range entries {
		if entry.IsDir() || !emojiExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		name := entry.Name()
		g.Go(func() error {
			ok, err := e.register(ctx, name)
			if err != nil {
				slog.Warn("emoji registration failed", "file", name, "error", err)
				return nil
			}
			if ok {
				registered.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	if n := registered.Load(); n > 0 {
		slog.Info("emoji scan complete", "new", n)
	}
	return nil
}

// Collect downloads an image seen in chat into the emoji directory and
// registers it. Failures are logged; harvesting is best-effort.
func (e *Emojis) Collect(ctx context.Context, url string) {
	if !e.cfg.Enabled || url == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		slog.Debug("emoji download failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	ext := extFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		return
	}
	name := uuid.NewString() + ext
	path := filepath.Join(e.cfg.EmojiDir, name)
	f, err := os.Create(path)
	if err != nil {
		return
	}
	_, copyErr := io.Copy(f, io.LimitReader(resp.Body, 10<<20))
	f.Close()
	if copyErr != nil {
		os.Remove(path)
		return
	}
	if _, err := e.register(ctx, name); err != nil {
		slog.Debug("collected emoji not registered", "file", name, "error", err)
	}
}

// register tags and stores one file; returns false when already known.
func (e *Emojis) register(ctx context.Context, fileName string) (bool, error) {
	desc, emotion := e.analyzeEmotion(ctx, fileName)
	return e.st.SaveEmoji(&store.Emoji{
		FileName:    fileName,
		Description: desc,
		Emotion:     emotion,
	})
}

// analyzeEmotion describes the image with the vision model, or falls
// back to filename + neutral on non-multimodal setups and errors.
func (e *Emojis) analyzeEmotion(ctx context.Context, fileName string) (string, string) {
	fallback := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if e.vision == nil || !e.vision.Multimodal() {
		return fallback, emotionNeutral
	}

	data, err := e.loadDownscaled(filepath.Join(e.cfg.EmojiDir, fileName))
	if err != nil {
		slog.Debug("emoji image unreadable", "file", fileName, "error", err)
		return fallback, emotionNeutral
	}

	prompt := fmt.Sprintf(
		`This is a chat sticker. Describe it briefly and pick ONE emotion from: %s.
JSON: {"description":"...","emotion":"..."}`,
		strings.Join(emotionTaxonomy, ", "))
	resp, err := e.vision.GenerateVision(ctx, prompt, "image/jpeg", base64.StdEncoding.EncodeToString(data))
	if err != nil {
		slog.Debug("emoji vision call failed", "file", fileName, "error", err)
		return fallback, emotionNeutral
	}

	var parsed struct {
		Description string `json:"description"`
		Emotion     string `json:"emotion"`
	}
	if err := llm.DecodeLoose(resp, &parsed); err != nil || parsed.Description == "" {
		return fallback, emotionNeutral
	}
	return parsed.Description, normalizeEmotion(parsed.Emotion)
}

// loadDownscaled re-encodes the image as a small JPEG for the vision call.
func (e *Emojis) loadDownscaled(path string) ([]byte, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	img = imaging.Fit(img, visionMaxEdge, visionMaxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pick maybe chooses a sticker matching the reply's mood. Returns the
// file path, or "" (most of the time).
func (e *Emojis) Pick(ctx context.Context, replyText string) string {
	if !e.cfg.Enabled || e.rand() >= e.cfg.SendProbability {
		return ""
	}

	emotion := e.classify(ctx, replyText)
	candidates, err := e.st.GetEmojisByEmotion(emotion, 5)
	if err != nil {
		return ""
	}
	if len(candidates) == 0 && emotion != emotionNeutral {
		candidates, err = e.st.GetEmojisByEmotion(emotionNeutral, 3)
		if err != nil {
			return ""
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	chosen := e.weightedPick(candidates)
	if err := e.st.IncrementEmojiUsage(chosen.ID); err != nil {
		slog.Debug("emoji usage bump failed", "id", chosen.ID, "error", err)
	}
	return filepath.Join(e.cfg.EmojiDir, chosen.FileName)
}

// classify maps reply text to an emotion: cue table first, LLM on miss.
func (e *Emojis) classify(ctx context.Context, text string) string {
	lower := strings.ToLower(text)
	for _, c := range emotionCues {
		if strings.Contains(lower, c.cue) {
			return c.emotion
		}
	}
	if e.gen == nil {
		return emotionNeutral
	}
	resp, err := e.gen.GenerateText(ctx, llm.TextRequest{
		System:      "Classify the emotional tone of a chat message.",
		Prompt:      fmt.Sprintf("Message: %s\n\nAnswer with exactly one word from: %s", text, strings.Join(emotionTaxonomy, ", ")),
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return emotionNeutral
	}
	return normalizeEmotion(resp)
}

// weightedPick favors less-used stickers: weight is
// max_usage + 1 - usage + 1, sampled proportionally.
func (e *Emojis) weightedPick(candidates []store.Emoji) store.Emoji {
	maxUsage := 0
	for _, c := range candidates {
		if c.UsageCount > maxUsage {
			maxUsage = c.UsageCount
		}
	}
	weights := make([]int, len(candidates))
	total := 0
	for i, c := range candidates {
		weights[i] = maxUsage + 1 - c.UsageCount + 1
		total += weights[i]
	}
	roll := e.rng.Intn(total)
	for i, w := range weights {
		if roll < w {
			return candidates[i]
		}
		roll -= w
	}
	return candidates[len(candidates)-1]
}

func normalizeEmotion(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range emotionTaxonomy {
		if strings.Contains(s, e) {
			return e
		}
	}
	return emotionNeutral
}

func extFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "jpeg"):
		return ".jpg"
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "webp"):
		return ".webp"
	default:
		return ""
	}
}
