package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/models"
	"golang.org/x/net/html"
)

// Length budgets, counted in runes.
const (
	// ShortPromptLength is what the model is asked to stay under for the showcase scene.
	ShortPromptLength = 120
	// ShortMaxLength caps model output for the showcase scene.
	ShortMaxLength = 150
	// FallbackMaxLength caps composed fallback text.
	FallbackMaxLength = 120
	// DetailedMaxLength caps the one-line call-to-action text, model or fallback.
	DetailedMaxLength = 80

	ellipsis = "..."

	maxContextDescription = 600
)

const copywriterSystemPrompt = `You write copy for short videos that showcase items listed on a precious metals and collectibles marketplace.
Describe the item itself. Be evocative and specific, never pushy: no prices, no exclamation marks, no hashtags, no emojis.
Reply with the text only.`

// TextGenerator is a text completion backend (OpenAI, Gemini).
type TextGenerator interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Descriptions holds both pieces of copy the composition needs.
type Descriptions struct {
	Short    string // showcase scene
	Detailed string // call-to-action scene
}

// DescriptionGenerator produces listing copy. With no TextGenerator it only
// uses the fallback templates.
type DescriptionGenerator struct {
	gen     TextGenerator
	timeout time.Duration
}

// NewDescriptionGenerator creates a generator. gen may be nil.
func NewDescriptionGenerator(gen TextGenerator, timeout time.Duration) *DescriptionGenerator {
	return &DescriptionGenerator{gen: gen, timeout: timeout}
}

// Describe generates both descriptions, one after the other.
func (g *DescriptionGenerator) Describe(ctx context.Context, listing *models.Listing) Descriptions {
	return Descriptions{
		Short:    g.Generate(ctx, listing),
		Detailed: g.GenerateDetailed(ctx, listing),
	}
}

// Generate returns the short showcase description. It always returns usable text.
func (g *DescriptionGenerator) Generate(ctx context.Context, listing *models.Listing) string {
	logger := logging.Component("description").With().Str("listing_id", listing.ID).Logger()

	prompt := fmt.Sprintf(`Write a description of this item for a video showcase in under %d characters.
Make the viewer feel what is special about it.

%s`, ShortPromptLength, buildListingContext(listing))

	text, err := g.complete(ctx, prompt, 80)
	if err != nil {
		logger.Warn().Err(err).Msg("using fallback description")
		return FallbackDescription(listing)
	}

	text = Truncate(text, ShortMaxLength)
	logger.Info().Str("provider", g.gen.Name()).Int("length", utf8.RuneCountInString(text)).Msg("generated description")
	return text
}

// GenerateDetailed returns the one-sentence call-to-action line.
func (g *DescriptionGenerator) GenerateDetailed(ctx context.Context, listing *models.Listing) string {
	logger := logging.Component("description").With().Str("listing_id", listing.ID).Logger()

	prompt := fmt.Sprintf(`Write one punchy sentence about this item for the closing scene of a video, under %d characters.

%s`, DetailedMaxLength, buildListingContext(listing))

	text, err := g.complete(ctx, prompt, 40)
	if err != nil {
		logger.Warn().Err(err).Msg("using fallback detailed description")
		return FallbackDetailedDescription(listing)
	}

	text = Truncate(StripQuotes(text), DetailedMaxLength)
	if text == "" {
		logger.Warn().Msg("detailed description was only quotes, using fallback")
		return FallbackDetailedDescription(listing)
	}

	logger.Info().Str("provider", g.gen.Name()).Int("length", utf8.RuneCountInString(text)).Msg("generated detailed description")
	return text
}

// complete calls the generator under the per-step timeout. Any problem,
// including no generator at all, comes back as an error for the fallback path.
func (g *DescriptionGenerator) complete(ctx context.Context, prompt string, maxTokens int) (text string, err error) {
	if g.gen == nil {
		return "", fmt.Errorf("no text generation service configured")
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("text generation panicked: %v", r)
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	text, err = g.gen.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s returned an empty answer", g.gen.Name())
	}
	return text, nil
}

func buildListingContext(listing *models.Listing) string {
	var b strings.Builder
	line := func(label string, value *string) {
		if value != nil && *value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, *value)
		}
	}

	fmt.Fprintf(&b, "Title: %s\n", listing.Title)
	line("Category", listing.ResolvedCategory())
	line("Condition", listing.Specifications.Condition)
	if w := listing.Specifications.Weight; w != nil {
		fmt.Fprintf(&b, "Weight: %s oz\n", strconv.FormatFloat(*w, 'f', -1, 64))
	}
	line("Purity", listing.Specifications.Purity)
	line("Year", listing.Specifications.Year)
	if listing.Description != nil {
		if plain := Truncate(StripHTML(*listing.Description), maxContextDescription); plain != "" {
			fmt.Fprintf(&b, "Seller's description: %s\n", plain)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// FallbackDescription composes the short description from structured fields
// without any network access. Branch priority: purity+year, purity, year, neither.
func FallbackDescription(listing *models.Listing) string {
	specs := listing.Specifications
	category := "piece"
	if c := listing.ResolvedCategory(); c != nil && *c != "" {
		category = strings.ToLower(*c)
	}
	condition := "excellent"
	if specs.Condition != nil && *specs.Condition != "" {
		condition = strings.ToLower(*specs.Condition)
	}

	purity := valueOf(specs.Purity)
	year := valueOf(specs.Year)

	var text string
	switch {
	case purity != "" && year != "":
		text = fmt.Sprintf("Struck in %s at %s purity, this %s arrives in %s condition.", year, purity, category, condition)
	case purity != "":
		text = fmt.Sprintf("Refined to %s purity, this %s arrives in %s condition.", purity, category, condition)
	case year != "":
		text = fmt.Sprintf("Dating from %s, this %s arrives in %s condition.", year, category, condition)
	default:
		text = fmt.Sprintf("A distinctive %s in %s condition, ready for a new collection.", category, condition)
	}

	return Truncate(text, FallbackMaxLength)
}

// FallbackDetailedDescription is the call-to-action line used without a model.
func FallbackDetailedDescription(listing *models.Listing) string {
	category := "piece"
	if c := listing.ResolvedCategory(); c != nil && *c != "" {
		category = strings.ToLower(*c)
	}
	return Truncate(fmt.Sprintf("Make this %s part of your collection.", category), DetailedMaxLength)
}

// Truncate cuts s to at most max runes, ending in "..." when it had to cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-len(ellipsis)]), " ")
	return cut + ellipsis
}

var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
	'«':  '»',
}

// StripQuotes removes one pair of wrapping quotes, if present.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) < 2 {
		return s
	}
	if closing, ok := quotePairs[runes[0]]; ok && runes[len(runes)-1] == closing {
		return strings.TrimSpace(string(runes[1 : len(runes)-1]))
	}
	return s
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return strings.Join(strings.Fields(s), " ")
			}
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li":
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
