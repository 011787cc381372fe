package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultSystemPrompt = "You are controlling a computer to complete the user's task. " +
	"Use the computer tool to interact with the screen, keyboard and mouse."

// AnthropicOptions configures the Anthropic computer-use engine.
type AnthropicOptions struct {
	DisplayWidthPx  int64
	DisplayHeightPx int64
	DisplayNumber   int64
}

// Anthropic drives the Anthropic Messages API computer-use loop. Tool
// invocations requested by the model are dispatched to the configured
// ToolExecutor; its results (including screenshots) are fed back into the
// conversation until the model stops asking for tools.
type Anthropic struct {
	executor ToolExecutor
	opts     AnthropicOptions
}

// NewAnthropic creates a computer-use engine backed by the given executor.
func NewAnthropic(executor ToolExecutor, optFns ...func(o *AnthropicOptions)) *Anthropic {
	opts := AnthropicOptions{
		DisplayWidthPx:  1280,
		DisplayHeightPx: 800,
		DisplayNumber:   1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Anthropic{executor: executor, opts: opts}
}

// Run executes the sampling loop for one user message.
func (a *Anthropic) Run(ctx context.Context, userMessage string, hooks Hooks, cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("no Anthropic API key provided")
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	system := defaultSystemPrompt
	if cfg.SystemPromptSuffix != "" {
		system += " " + cfg.SystemPromptSuffix
	}

	messages := []anthropic.BetaMessageParam{
		{
			Role:    anthropic.BetaMessageParamRoleUser,
			Content: []anthropic.BetaContentBlockParamUnion{anthropic.NewBetaTextBlock(userMessage)},
		},
	}

	tools := []anthropic.BetaToolUnionParam{
		{
			OfComputerUseTool20250124: &anthropic.BetaToolComputerUse20250124Param{
				DisplayWidthPx:  a.opts.DisplayWidthPx,
				DisplayHeightPx: a.opts.DisplayHeightPx,
				DisplayNumber:   anthropic.Int(a.opts.DisplayNumber),
			},
		},
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cfg.RecentImageLimit > 0 {
			trimOldImages(messages, cfg.RecentImageLimit)
		}

		params := anthropic.BetaMessageNewParams{
			Model:     anthropic.Model(cfg.Model),
			MaxTokens: cfg.MaxTokens,
			System:    []anthropic.BetaTextBlockParam{{Text: system}},
			Messages:  messages,
			Tools:     tools,
			Betas:     []anthropic.AnthropicBeta{anthropic.AnthropicBetaComputerUse2025_01_24},
		}

		resp, err := client.Beta.Messages.New(ctx, params)
		hooks.OnAPIResponse(params, resp, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("anthropic api error: %w", err)
		}

		var assistantBlocks []anthropic.BetaContentBlockParamUnion
		var toolUses []anthropic.BetaToolUseBlock

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text := block.AsText()
				if err := hooks.OnContent(ctx, ContentBlock{Type: "text", Text: text.Text}); err != nil {
					return err
				}
				assistantBlocks = append(assistantBlocks, anthropic.NewBetaTextBlock(text.Text))
			case "thinking":
				thinking := block.AsThinking()
				if err := hooks.OnContent(ctx, ContentBlock{Type: "thinking", Thinking: thinking.Thinking}); err != nil {
					return err
				}
			case "tool_use":
				toolUse := block.AsToolUse()
				input, _ := json.Marshal(toolUse.Input)
				if err := hooks.OnContent(ctx, ContentBlock{
					Type:  "tool_use",
					ID:    toolUse.ID,
					Name:  toolUse.Name,
					Input: input,
				}); err != nil {
					return err
				}
				toolUses = append(toolUses, toolUse)
				assistantBlocks = append(assistantBlocks, anthropic.BetaContentBlockParamUnion{
					OfToolUse: &anthropic.BetaToolUseBlockParam{
						ID:    toolUse.ID,
						Name:  toolUse.Name,
						Input: toolUse.Input,
					},
				})
			}
		}

		if len(assistantBlocks) > 0 {
			messages = append(messages, anthropic.BetaMessageParam{
				Role:    anthropic.BetaMessageParamRoleAssistant,
				Content: assistantBlocks,
			})
		}

		if len(toolUses) == 0 {
			return nil
		}

		var resultBlocks []anthropic.BetaContentBlockParamUnion
		for _, toolUse := range toolUses {
			if err := ctx.Err(); err != nil {
				return err
			}

			input, _ := json.Marshal(toolUse.Input)
			result := a.execute(ctx, toolUse.Name, input)

			if err := hooks.OnToolResult(ctx, toolUse.ID, result); err != nil {
				return err
			}

			resultBlocks = append(resultBlocks, buildToolResultBlock(toolUse.ID, result))
		}

		messages = append(messages, anthropic.BetaMessageParam{
			Role:    anthropic.BetaMessageParamRoleUser,
			Content: resultBlocks,
		})
	}
}

func (a *Anthropic) execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	if a.executor == nil {
		return ToolResult{Error: fmt.Sprintf("no executor configured for tool %s", name)}
	}
	return a.executor.Execute(ctx, name, input)
}

// buildToolResultBlock converts a ToolResult into the tool_result content
// block fed back to the model.
func buildToolResultBlock(toolUseID string, result ToolResult) anthropic.BetaContentBlockParamUnion {
	var content []anthropic.BetaToolResultBlockParamContentUnion
	if result.Output != "" {
		content = append(content, anthropic.BetaToolResultBlockParamContentUnion{
			OfText: &anthropic.BetaTextBlockParam{Text: result.Output},
		})
	}
	if result.Base64Image != "" {
		content = append(content, anthropic.BetaToolResultBlockParamContentUnion{
			OfImage: &anthropic.BetaImageBlockParam{
				Source: anthropic.BetaImageBlockParamSourceUnion{
					OfBase64: &anthropic.BetaBase64ImageSourceParam{
						MediaType: anthropic.BetaBase64ImageSourceMediaTypeImagePNG,
						Data:      result.Base64Image,
					},
				},
			},
		})
	}

	block := &anthropic.BetaToolResultBlockParam{
		ToolUseID: toolUseID,
		Content:   content,
	}
	if result.Error != "" {
		block.IsError = anthropic.Bool(true)
		block.Content = append(block.Content, anthropic.BetaToolResultBlockParamContentUnion{
			OfText: &anthropic.BetaTextBlockParam{Text: result.Error},
		})
	}

	return anthropic.BetaContentBlockParamUnion{OfToolResult: block}
}

// trimOldImages strips screenshot blocks from all but the most recent
// tool results so long conversations stay under the request size limit.
func trimOldImages(messages []anthropic.BetaMessageParam, keep int) {
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		for j := len(messages[i].Content) - 1; j >= 0; j-- {
			toolResult := messages[i].Content[j].OfToolResult
			if toolResult == nil {
				continue
			}
			for k := len(toolResult.Content) - 1; k >= 0; k-- {
				if toolResult.Content[k].OfImage == nil {
					continue
				}
				seen++
				if seen > keep {
					toolResult.Content = append(toolResult.Content[:k], toolResult.Content[k+1:]...)
				}
			}
		}
	}
}
