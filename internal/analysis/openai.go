package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"voxsight/internal/command"
)

const systemPrompt = `
You are the eyes of a voice assistant for blind and low-vision users.
You receive one camera photo and a task.

RULES:
1. Answer in plain spoken English, at most three short sentences.
2. No markdown, no lists, no emoji.
3. Describe only what is visible. Never guess hidden details.
4. If the photo is too dark or blurred for the task, say so and suggest how to hold the camera.
`

var modeInstructions = map[command.Mode]string{
	command.ModeObject:   "Identify the main object in front of the camera and describe it briefly.",
	command.ModeCurrency: "Identify the banknote or coin: currency, denomination and country. Say if none is visible.",
	command.ModeText:     "Read the visible printed text aloud, verbatim, in reading order.",
	command.ModeScene:    "Describe the scene around the user: setting, main objects and their positions, lighting.",
}

// OpenAI analyzes frames with a vision-capable chat model.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAI{client: client, model: model}
}

func (a *OpenAI) Analyze(ctx context.Context, req Request) (string, error) {
	if len(req.Frame) == 0 {
		return "", ErrNoFrame
	}

	instruction, ok := modeInstructions[req.Mode]
	if !ok {
		return "", fmt.Errorf("no analysis for mode %q", req.Mode)
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.Frame)

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(instruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Model: openai.ChatModel(a.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty message content")
	}

	log.Debug("Analyzed frame", "mode", req.Mode, "bytes", len(req.Frame), "answer", content)

	return content, nil
}
