package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tailortalk/internal/apperr"
	appLog "tailortalk/internal/log"
	"tailortalk/internal/metrics"
)

// Completer sends one system+user prompt pair to a language model and
// returns its raw text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ConversationTurn is one incoming utterance.
type ConversationTurn struct {
	UserInput    string
	UserIdentity string
}

const systemPromptTemplate = `You are %[1]s, a conversational calendar assistant.

Your task is to:
1. Respond naturally to user input.
2. Identify calendar-related intent and return a JSON with:
   {
     "reply": "<assistant reply>",
     "action": "none" | "check_availability" | "book",
     "time": "<user mentioned time>"
   }
3. If the user input is unclear or lacks time info, set "action": "book" and provide a clarifying reply like "When should I schedule it?"

ALWAYS return valid JSON. Do NOT include explanations outside the JSON.`

// SystemPrompt returns the instruction that defines the JSON reply contract.
func SystemPrompt(productName string) string {
	return fmt.Sprintf(systemPromptTemplate, productName)
}

// Controller is the single entry point for a turn. It keeps no state
// between turns.
type Controller struct {
	llm        Completer
	dispatcher *Dispatcher
	system     string
}

func NewController(llm Completer, d *Dispatcher, productName string) *Controller {
	if productName == "" {
		productName = "TailorTalk"
	}
	return &Controller{llm: llm, dispatcher: d, system: SystemPrompt(productName)}
}

// HandleTurn runs one turn: START -> LLM_CALLED -> LLM_FAILED, or
// PARSED -> DISPATCHED. It always returns non-empty text.
func (c *Controller) HandleTurn(ctx context.Context, turn ConversationTurn) string {
	started := time.Now()
	raw, err := c.llm.Complete(ctx, c.system, turn.UserInput)
	metrics.ObserveLLM(time.Since(started), err)
	if err != nil {
		appLog.Error("llm call failed", err, "user", turn.UserIdentity)
		metrics.TurnFailure(apperr.CodeLLMTransport)
		return "LLM error: " + err.Error()
	}
	raw = strings.TrimSpace(raw)
	appLog.Debug("llm raw output", "user", turn.UserIdentity, "output", raw)

	intent := ParseIntent(raw, func(err error) {
		appLog.Info("model reply malformed; using fallback", "user", turn.UserIdentity, "reason", err.Error())
		metrics.TurnFailure(apperr.CodeLLMMalformed)
	})
	metrics.Turn(intent.Action.String())

	reply := c.dispatcher.Dispatch(ctx, intent, turn.UserIdentity)
	appLog.Info("turn handled", "user", turn.UserIdentity, "action", intent.Action.String(), "elapsed", time.Since(started).String())
	return reply
}
