// Package vision decides per-image bodywear probability through a
// vision-capable chat model and averages the answers into one vision score.
package vision

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"brandspy/packages/metrics"

	openai "github.com/sashabaranov/go-openai"
)

const productImagePrompt = `Analyze this product image and determine if it shows BODYWEAR/INTIMATE APPAREL.

BODYWEAR INCLUDES:
- Lingerie: bras, panties, underwear, corsets, babydolls, chemises, teddies
- Sleepwear: pajamas, pyjamas, nightgowns, robes, sleep sets
- Swimwear: bikinis, one-pieces, swim trunks, boardshorts
- Shapewear: control garments, body shapers
- Hosiery: stockings, tights, socks
- Loungewear: comfortable home wear
- Basic underwear: boxers, briefs, trunks, boyshorts, thongs

NOT BODYWEAR:
- Regular clothing: dresses, shirts, pants, skirts, outerwear
- Accessories: bags, shoes, jewelry
- Non-intimate apparel

Respond with JSON where bodywear_score is the probability this image shows bodywear (0.0=definitely not bodywear, 1.0=definitely bodywear):
{"bodywear_score": 0.0-1.0, "reasoning": "brief explanation"}`

const screenshotPrompt = `Analyze this e-commerce homepage screenshot to determine the retailer type.

CLASSIFICATION GUIDE:

BODYWEAR SPECIALIST (score 0.7-1.0):
- Navigation shows PRIMARILY bodywear categories: Lingerie, Bras, Underwear, Sleepwear, Swimwear, Shapewear
- Hero images feature models in lingerie, bras, underwear, or swimwear
- Brand positioning focuses on intimate apparel, bodywear, or sleepwear

BODYWEAR LEANING (score 0.45-0.7):
- Significant bodywear presence (30-60% of navigation)
- Mix of bodywear (sleepwear, swimwear, loungewear) + other apparel (dresses, tops)

GENERALIST (score 0.0-0.45):
- Broad fashion categories: Outerwear, Denim, Shoes, Accessories, Kids, Home
- Bodywear is minor/absent in navigation

LOOK FOR:
1. Navigation menu (most important) - what categories dominate?
2. Hero images - what products are showcased?
3. Visible product imagery - lingerie/underwear vs regular clothing?
4. Brand name/messaging - does it suggest intimates focus?

Respond with JSON where bodywear_score is the probability this is a bodywear specialist (0.0=definitely generalist, 1.0=definitely bodywear specialist):
{"bodywear_score": 0.0-1.0, "reasoning": "brief explanation"}`

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

var quotaPhrases = []string{"rate limit", "quota", "insufficient_quota", "429", "too many requests"}

// chatCompleter is the slice of the OpenAI client the scorer needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Scorer struct {
	client          chatCompleter
	model           string
	imagesPerDomain int
	maxDimension    int
	downloader      *http.Client
}

func New(apiKey, model string, imagesPerDomain, maxDimension int) *Scorer {
	return &Scorer{
		client:          openai.NewClient(apiKey),
		model:           model,
		imagesPerDomain: imagesPerDomain,
		maxDimension:    maxDimension,
		downloader:      &http.Client{Timeout: 10 * time.Second},
	}
}

// ScoreImages downloads, downscales and classifies up to the configured number
// of product images and returns the mean probability. A nil return means no
// vision score is available; the caller falls back to text-only scoring.
func (s *Scorer) ScoreImages(ctx context.Context, imageURLs []string) *float64 {
	selected := imageURLs
	if len(selected) > s.imagesPerDomain {
		selected = selected[:s.imagesPerDomain]
	}

	var scores []float64
	for _, url := range selected {
		encoded, err := s.downloadAndEncode(ctx, url)
		if err != nil {
			slog.Debug("Image download/resize failed", "url", url, "error", err)
			continue
		}
		score := s.classifyImage(ctx, encoded, productImagePrompt, 150)
		if score != nil {
			scores = append(scores, *score)
		}
	}

	if len(scores) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range scores {
		sum += v
	}
	mean := sum / float64(len(scores))
	return &mean
}

// ScoreScreenshot classifies a full-page screenshot with the homepage-oriented
// prompt. Used when no product images were extracted.
func (s *Scorer) ScoreScreenshot(ctx context.Context, screenshot []byte) *float64 {
	encoded, err := s.encodeScreenshot(screenshot)
	if err != nil {
		slog.Debug("Screenshot resize failed", "error", err)
		return nil
	}
	return s.classifyImage(ctx, encoded, screenshotPrompt, 200)
}

func (s *Scorer) classifyImage(ctx context.Context, imageBase64, prompt string, maxTokens int) *float64 {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageBase64,
							// Low detail bounds the token cost per image.
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		if IsQuotaError(err) {
			slog.Error("Vision API quota/rate limit exceeded", "error", err)
			metrics.VisionRequests.WithLabelValues("quota").Inc()
		} else {
			slog.Error("Vision API call failed", "error", err)
			metrics.VisionRequests.WithLabelValues("error").Inc()
		}
		return nil
	}

	metrics.VisionRequests.WithLabelValues("ok").Inc()
	if len(resp.Choices) == 0 {
		return nil
	}
	return ParseScore(resp.Choices[0].Message.Content)
}

// ParseScore extracts a bodywear probability from a model answer. The answer is
// expected to embed a {"bodywear_score": ...} object in free text; malformed
// answers degrade to the legacy boolean fields and then to a keyword scan.
func ParseScore(content string) *float64 {
	content = strings.TrimSpace(content)

	if match := jsonObjectRe.FindString(content); match != "" {
		var payload struct {
			BodywearScore *float64 `json:"bodywear_score"`
			IsBodywear    *bool    `json:"is_bodywear"`
			Confidence    *float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(match), &payload); err == nil {
			if payload.BodywearScore != nil {
				return payload.BodywearScore
			}
			if payload.IsBodywear != nil {
				confidence := 0.8
				if payload.Confidence != nil {
					confidence = *payload.Confidence
				}
				if *payload.IsBodywear {
					return &confidence
				}
				inverted := 1.0 - confidence
				return &inverted
			}
		}
	}

	lower := strings.ToLower(content)
	for _, word := range []string{"bodywear", "lingerie", "underwear", "bra", "intimate"} {
		if strings.Contains(lower, word) {
			v := 0.8
			return &v
		}
	}
	v := 0.2
	return &v
}

// IsQuotaError classifies a provider error as quota/rate-limit by matching the
// error text against known phrases. Used for reporting only; both quota and
// other failures make the score unavailable.
func IsQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range quotaPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
