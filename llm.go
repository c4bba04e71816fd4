package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const gameRulesPrompt = `You are playing a 9-player game of Werewolf: 3 wolves, 3 villagers, 1 seer, 1 witch and 1 hunter.
Each night the wolves pick a victim, the seer learns whether one player is a wolf, and the witch may use her single cure and her single poison.
The hunter may shoot one player when killed by the wolves or executed by vote, but not when poisoned.
Each day the players speak and then vote; the player with the most votes is executed, a tie executes nobody.
Villagers win when all wolves are dead. Wolves win when all villagers or all of seer, witch and hunter are dead.
Always answer with a single JSON object containing every field listed in required_fields. Use -1 for "nobody".`

// instructions tells the model what each action expects.
var instructions = map[ActionKind]string{
	ActionKill:          `Pick the player the wolves should kill tonight. Answer {"kill": <seat>, "reason": "..."}.`,
	ActionDivine:        `Pick one living player to divine. Answer {"divine": <seat>, "thinking": "..."}.`,
	ActionCureOrPoison:  `Decide whether to cure tonight's victim and whom to poison. Answer {"cure": 0 or 1, "poison": <seat or -1>, "thinking": "..."}.`,
	ActionVote:          `Vote for the player to execute, or -1 to abstain. Answer {"vote": <seat>, "thinking": "..."}.`,
	ActionSpeak:         `Give your speech for today. Answer {"speak": "...", "thinking": "..."}.`,
	ActionLastWord:      `You are dead. Give your last words. Answer {"speak": "...", "thinking": "..."}.`,
	ActionHunterRevenge: `You are the hunter and have died. Pick a player to shoot, or -1 to hold fire. Answer {"attack": <seat>, "thinking": "..."}.`,
	ActionMVP:           `You are the judge of a finished game. Pick the most valuable player. Answer {"mvp_seat": <seat>, "reason": "..."}.`,
}

// llmDecider asks a language model for each decision.
type llmDecider struct {
	llm      llms.Model
	callOpts []llms.CallOption
}

func (d *llmDecider) Decide(ctx context.Context, p Prompt) (Decision, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, gameRulesPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, instructions[p.Kind]+"\n\n"+string(body)),
	}

	opts := append([]llms.CallOption{llms.WithJSONMode()}, d.callOpts...)
	resp, err := d.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", errIncompleteDecision)
	}
	return parseDecision(resp.Choices[0].Content)
}

// parseDecision extracts the JSON object from a model answer. Code fences
// and surrounding prose are tolerated.
func parseDecision(text string) (Decision, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in %q", errIncompleteDecision, truncate(text, 200))
	}
	var d Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", errIncompleteDecision, err)
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.LLMTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.LLMTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("LLM: temperature=%.2f", f)
		} else {
			log.Printf("LLM: invalid temperature %q: %v", cfg.LLMTemperature, err)
		}
	}

	if cfg.LLMThinking != "" {
		mode := llms.ThinkingMode(cfg.LLMThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("LLM: thinking=%s", mode)
		default:
			log.Printf("LLM: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.LLMThinking)
		}
	}

	return opts
}

// httpClient returns the client used for provider calls; with request
// logging on, traffic goes through LoggingRoundTripper.
func httpClient() *http.Client {
	if appLogger == nil || !appLogger.logRequests {
		return http.DefaultClient
	}
	return &http.Client{Transport: &LoggingRoundTripper{Transport: http.DefaultTransport, Logger: appLogger}}
}

// newLLMModel builds the langchaingo model for m. The provider defaults to
// ollama.
func newLLMModel(ctx context.Context, cfg AppConfig, m ModelConfig) (llms.Model, error) {
	client := httpClient()
	switch m.Provider {
	case "", "ollama":
		url := m.BaseURL
		if url == "" {
			url = cfg.OllamaURL
		}
		return ollama.New(ollama.WithModel(m.ModelName), ollama.WithServerURL(url), ollama.WithHTTPClient(client))
	case "openai":
		opts := []openai.Option{openai.WithModel(m.ModelName), openai.WithHTTPClient(client)}
		if m.APIKey != "" {
			opts = append(opts, openai.WithToken(m.APIKey))
		}
		return openai.New(opts...)
	case "claude":
		opts := []anthropic.Option{anthropic.WithModel(m.ModelName), anthropic.WithHTTPClient(client)}
		if m.APIKey != "" {
			opts = append(opts, anthropic.WithToken(m.APIKey))
		}
		return anthropic.New(opts...)
	case "gemini":
		opts := []googleai.Option{googleai.WithDefaultModel(m.ModelName), googleai.WithHTTPClient(client)}
		if m.APIKey != "" {
			opts = append(opts, googleai.WithAPIKey(m.APIKey))
		}
		return googleai.New(ctx, opts...)
	case "groq":
		key := m.APIKey
		if key == "" {
			key = cfg.GroqAPIKey
		}
		return openai.New(
			openai.WithModel(m.ModelName),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(key),
			openai.WithHTTPClient(client),
		)
	case "openai-compatible":
		if m.BaseURL == "" {
			return nil, fmt.Errorf("%w: base_url is required for openai-compatible provider", ErrBadRequest)
		}
		opts := []openai.Option{
			openai.WithModel(m.ModelName),
			openai.WithBaseURL(m.BaseURL),
			openai.WithHTTPClient(client),
		}
		if m.APIKey != "" {
			opts = append(opts, openai.WithToken(m.APIKey))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrBadRequest, m.Provider)
	}
}

// newDeciderFactory binds "human" seats to the hub and everything else to an
// LLM.
func newDeciderFactory(ctx context.Context, cfg AppConfig, hub *Hub) DeciderFactory {
	callOpts := buildCallOpts(cfg)
	return func(seat int, m ModelConfig) (DecisionMaker, error) {
		if strings.EqualFold(m.ModelName, "human") {
			if hub == nil || seat == 0 {
				return nil, fmt.Errorf("%w: seat %d cannot be human", ErrBadRequest, seat)
			}
			return &humanDecider{hub: hub, timeout: cfg.HumanTimeout}, nil
		}
		if m.ModelName == "" {
			return nil, fmt.Errorf("%w: seat %d has no model", ErrBadRequest, seat)
		}
		llm, err := newLLMModel(ctx, cfg, m)
		if err != nil {
			return nil, fmt.Errorf("init %s model %s: %w", m.Provider, m.ModelName, err)
		}
		log.Printf("LLM: seat %d bound to %s (%s)", seat, m.ModelName, m.Provider)
		return &llmDecider{llm: llm, callOpts: callOpts}, nil
	}
}
