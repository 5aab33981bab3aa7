package humanizer

import (
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

// casualRewrite is one ordered phrase substitution. Only the first
// matching rewrite fires per message.
type casualRewrite struct {
	re   *regexp.Regexp
	repl string
}

var casualRewrites = []casualRewrite{
	{regexp.MustCompile(`什么`), "啥"},
	{regexp.MustCompile(`这样子?`), "酱紫"},
	{regexp.MustCompile(`好的`), "好滴"},
	{regexp.MustCompile(`谢谢`), "蟹蟹"},
	{regexp.MustCompile(`没有`), "木有"},
	{regexp.MustCompile(`知道了`), "知道啦"},
	{regexp.MustCompile(`非常`), "超"},
	{regexp.MustCompile(`喜欢`), "稀饭"},
	{regexp.MustCompile(`(?i)\bthanks\b`), "thx"},
	{regexp.MustCompile(`(?i)\breally\b`), "rly"},
}

// homophones maps single CJK characters to sound-alikes people mistype
// with pinyin input.
var homophones = map[rune][]rune{
	'的': {'得', '地'},
	'得': {'的'},
	'在': {'再'},
	'再': {'在'},
	'吗': {'嘛', '麻'},
	'吧': {'把', '八'},
	'他': {'她', '它'},
	'她': {'他'},
	'做': {'作'},
	'作': {'做'},
	'那': {'哪'},
	'哪': {'那'},
	'以': {'已'},
	'已': {'以'},
	'像': {'象'},
	'到': {'道'},
}

// Typos injects plausible input-method slips into outgoing text. It is
// the identity function when disabled.
type Typos struct {
	cfg  config.TypoConfig
	rng  *rand.Rand
	rand func() float64 // test hook
}

func NewTypos(cfg config.TypoConfig) *Typos {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Typos{cfg: cfg, rng: rng, rand: rng.Float64}
}

// Apply runs the casual-phrase pass, then the per-rune homophone pass.
func (t *Typos) Apply(text string) string {
	if !t.cfg.Enabled || text == "" {
		return text
	}

	if t.rand() < t.cfg.WordReplaceRate {
		for _, rw := range casualRewrites {
			if rw.re.MatchString(text) {
				text = rw.re.ReplaceAllString(text, rw.repl)
				break
			}
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		alts, ok := homophones[r]
		if ok && t.rand() < t.cfg.ErrorRate {
			r = alts[t.rng.Intn(len(alts))]
		}
		b.WriteRune(r)
	}
	return b.String()
}
