// Package openai provides translation and speech synthesis backed by the
// OpenAI API. Translation goes through chat completions at temperature 0
// with an in-process memo so identical inputs yield identical output within
// a run; synthesis goes through the audio/speech endpoint with raw PCM
// output, downsampled to the 16 kHz wire format.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxbridge/voxbridge/pkg/pcm"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultSpeechModel = "gpt-4o-mini-tts"

	// The audio/speech endpoint emits 24 kHz mono s16le for pcm output.
	speechSampleRate = 24000
)

// languageNames maps supported language codes to the names used in the
// translation prompt.
var languageNames = map[string]string{
	"he": "Hebrew",
	"en": "English",
	"ru": "Russian",
}

// config holds optional configuration for the Client.
type config struct {
	baseURL     string
	chatModel   string
	speechModel string
	timeout     time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithChatModel sets the model used for translation.
func WithChatModel(model string) Option {
	return func(c *config) {
		c.chatModel = model
	}
}

// WithSpeechModel sets the model used for synthesis.
func WithSpeechModel(model string) Option {
	return func(c *config) {
		c.speechModel = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Client implements speech.Translator, speech.ContextTranslator, and
// speech.Synthesizer using the OpenAI API.
type Client struct {
	client      oai.Client
	chatModel   string
	speechModel string

	memoMu sync.Mutex
	memo   map[string]string
}

// New constructs a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		chatModel:   defaultChatModel,
		speechModel: defaultSpeechModel,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{
		client:      oai.NewClient(reqOpts...),
		chatModel:   cfg.chatModel,
		speechModel: cfg.speechModel,
		memo:        make(map[string]string),
	}, nil
}

var (
	_ speech.Translator        = (*Client)(nil)
	_ speech.ContextTranslator = (*Client)(nil)
	_ speech.Synthesizer       = (*Client)(nil)
)

// Translate translates text from source to target. Results are memoized per
// (text, source, target) so repeated calls within a run return byte-equal
// output even though the model is nondeterministic across sampling.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	return c.translate(ctx, text, source, target, nil)
}

// TranslateWithContext is like Translate but passes the speaker's recent
// utterances as conversational context. Context does not participate in the
// memo key: within one utterance the router always supplies the same context,
// and across utterances the text itself differs.
func (c *Client) TranslateWithContext(ctx context.Context, text, source, target string, recent []string) (string, error) {
	return c.translate(ctx, text, source, target, recent)
}

func (c *Client) translate(ctx context.Context, text, source, target string, recent []string) (string, error) {
	key := text + "\x00" + source + "\x00" + target
	c.memoMu.Lock()
	if out, ok := c.memo[key]; ok {
		c.memoMu.Unlock()
		return out, nil
	}
	c.memoMu.Unlock()

	sys := fmt.Sprintf(
		"You are a translator for a live voice call. Translate the user's message from %s to %s. Reply with the translation only, no commentary.",
		languageName(source), languageName(target),
	)
	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(sys),
	}
	if len(recent) > 0 {
		ctxMsg := "Recent utterances from the same speaker, oldest first:\n" + strings.Join(recent, "\n")
		messages = append(messages, oai.SystemMessage(ctxMsg))
	}
	messages = append(messages, oai.UserMessage(text))

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.chatModel),
		Messages:    messages,
		Temperature: param.NewOpt(0.0),
		Seed:        param.NewOpt(int64(0)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: translate: %v: %w", err, speech.ErrTranslationUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: translate: empty choices: %w", speech.ErrTranslationUnavailable)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("openai: translate: empty translation: %w", speech.ErrTranslationUnavailable)
	}

	c.memoMu.Lock()
	c.memo[key] = out
	c.memoMu.Unlock()
	return out, nil
}

// Synthesize renders text as 16 kHz mono s16le PCM. voiceID selects an
// OpenAI voice; the stock voice-<lang>-default identifiers and the empty
// string map to a per-language default.
func (c *Client) Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error) {
	resp, err := c.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          providerVoice(language, voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %v: %w", err, speech.ErrSynthesisUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: read body: %v: %w", err, speech.ErrSynthesisUnavailable)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai: synthesize: empty audio: %w", speech.ErrSynthesisUnavailable)
	}

	return pcm.Resample(data, speechSampleRate, pcm.SampleRate), nil
}

// providerVoice maps a VoxBridge voice id to an OpenAI voice name. Unknown
// ids pass through unchanged so operators can configure raw OpenAI voices.
func providerVoice(language, voiceID string) oai.AudioSpeechNewParamsVoice {
	switch voiceID {
	case "", speech.DefaultVoice(language):
		// "onyx" and "nova" are valid API voices the SDK ships no
		// constants for.
		switch language {
		case "he":
			return oai.AudioSpeechNewParamsVoice("onyx")
		case "ru":
			return oai.AudioSpeechNewParamsVoice("nova")
		default:
			return oai.AudioSpeechNewParamsVoiceAlloy
		}
	default:
		return oai.AudioSpeechNewParamsVoice(voiceID)
	}
}

// languageName resolves a language code to its prompt name, falling back to
// the raw code for anything outside the supported set.
func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
