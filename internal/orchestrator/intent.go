package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// Intent is one of the six intents the Dialogue Orchestrator recognizes
// from a user turn (spec.md §4.1).
type Intent string

const (
	IntentConfirm  Intent = "CONFIRM"
	IntentCancel   Intent = "CANCEL"
	IntentEdit     Intent = "EDIT"
	IntentNewTopic Intent = "NEW_TOPIC"
	IntentChat     Intent = "CHAT"
	IntentOther    Intent = "OTHER"
)

// confirmPhrases, cancelPhrases, newTopicPhrases, chatPhrases are the
// multilingual keyword/phrase sets the first classification stage matches
// against, covering the same language set the Query Analyzer detects
// (English, Vietnamese, Spanish, French, German).
var confirmPhrases = []string{
	"yes", "confirm", "proceed", "go ahead", "sounds good", "looks good", "approve", "ok", "okay", "sure",
	"có", "đồng ý", "xác nhận", "tiến hành", "ừ",
	"sí", "confirmar", "adelante", "de acuerdo",
	"oui", "confirmer", "d'accord", "continuer",
	"ja", "bestätigen", "weiter", "einverstanden",
}

var cancelPhrases = []string{
	"no", "cancel", "stop", "abort", "nevermind", "never mind", "forget it",
	"không", "hủy", "dừng lại", "thôi đi",
	"cancelar", "detener", "olvídalo",
	"non", "annuler", "arrêter", "laisse tomber",
	"nein", "abbrechen", "stopp", "vergiss es",
}

var newTopicPhrases = []string{
	"new topic", "different topic", "something else", "switch to",
	"chủ đề mới", "chủ đề khác",
	"nuevo tema", "otro tema",
	"nouveau sujet", "autre sujet",
	"neues thema", "anderes thema",
}

var chatPhrases = []string{
	"hello", "hi there", "hey", "thanks", "thank you", "good morning", "good evening", "how are you",
	"xin chào", "cảm ơn", "chào bạn",
	"hola", "gracias",
	"bonjour", "merci",
	"hallo", "danke",
}

// editVerbs are the leading-word forms the EDIT classifier and
// ParseEditDirective both recognize; keeping this single list means a
// message that classifies as EDIT is always parseable by ParseEditDirective.
var editVerbs = []string{"add", "remove", "thêm", "xóa", "agregar", "quitar", "ajouter", "supprimer", "hinzufügen", "entfernen"}

// containsPhrase matches each phrase on word boundaries by padding both the
// haystack and single-word phrases with spaces (the convention
// internal/query's compoundJoiners also uses), so a short word like "no" or
// "ok" doesn't false-positive inside "know" or "look".
func containsPhrase(lower string, phrases []string) bool {
	padded := " " + lower + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func firstWordIsAny(lower string, words []string) bool {
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return false
	}
	for _, w := range words {
		if fields[0] == w {
			return true
		}
	}
	return false
}

// classifyByKeyword runs the multilingual matcher, the first stage of
// intent classification. EDIT is checked first since its verb-prefix form
// ("add adapter tuning") would otherwise never be distinguishable from a
// longer OTHER message once other phrase sets are tried.
func classifyByKeyword(lower string) (Intent, bool) {
	switch {
	case firstWordIsAny(lower, editVerbs):
		return IntentEdit, true
	case containsPhrase(lower, newTopicPhrases):
		return IntentNewTopic, true
	case containsPhrase(lower, cancelPhrases):
		return IntentCancel, true
	case containsPhrase(lower, confirmPhrases):
		return IntentConfirm, true
	case containsPhrase(lower, chatPhrases):
		return IntentChat, true
	default:
		return IntentOther, false
	}
}

type intentResponse struct {
	Intent string `json:"intent"`
}

const intentSystemPromptTemplate = `You classify a single user message into exactly one of six intents:
CONFIRM, CANCEL, EDIT, NEW_TOPIC, CHAT, OTHER.
The conversation is currently in state %s. Reply with the single intent name that best fits.`

// ClassifyIntent runs the keyword matcher first; only on no match, and only
// when an LLM client is configured, does it fall back to an LLM
// classification carrying the conversation's current state as a hint. With
// no client configured and no keyword hit, the intent defaults to OTHER.
func ClassifyIntent(ctx context.Context, client llm.Client, state domain.ConversationState, text string) Intent {
	lower := strings.ToLower(text)
	if intent, ok := classifyByKeyword(lower); ok {
		return intent
	}
	if client == nil {
		return IntentOther
	}

	var resp intentResponse
	_, err := client.Chat(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(intentSystemPromptTemplate, state),
		UserPrompt:   text,
		SchemaName:   "intent",
		Schema:       llm.GenerateSchema[intentResponse](),
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		slog.WarnContext(ctx, "orchestrator: intent llm fallback failed, defaulting to OTHER", "error", err)
		return IntentOther
	}

	switch Intent(strings.ToUpper(strings.TrimSpace(resp.Intent))) {
	case IntentConfirm, IntentCancel, IntentEdit, IntentNewTopic, IntentChat:
		return Intent(strings.ToUpper(strings.TrimSpace(resp.Intent)))
	default:
		return IntentOther
	}
}
