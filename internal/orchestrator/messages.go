package orchestrator

import (
	"fmt"
	"strings"

	"scholarpilot.dev/core/internal/domain"
)

// maxHistoryHints bounds the "from your history" hints appended to a
// clarification message (spec.md §4.1).
const maxHistoryHints = 2

// clarificationMessage renders a natural-toned clarification prompt in the
// conversation's detected language, with no robotic headers, plus up to
// two history hints when memory surfaced similar past sessions.
func clarificationMessage(pc domain.PendingClarification, historyHints []string) string {
	var b strings.Builder
	if pc.Language == "vi" {
		fmt.Fprintf(&b, "Mình hiểu là bạn đang muốn tìm hiểu về: %s.\n", pc.Understanding)
		if len(pc.Questions) > 0 {
			b.WriteString("Bạn có thể cho mình biết thêm không?\n")
		}
	} else {
		fmt.Fprintf(&b, "Here's what I understand so far: %s.\n", pc.Understanding)
		if len(pc.Questions) > 0 {
			b.WriteString("Could you tell me a bit more?\n")
		}
	}
	for _, q := range pc.Questions {
		fmt.Fprintf(&b, "- %s\n", q)
	}

	hints := historyHints
	if len(hints) > maxHistoryHints {
		hints = hints[:maxHistoryHints]
	}
	for _, h := range hints {
		if pc.Language == "vi" {
			fmt.Fprintf(&b, "(từ lịch sử của bạn: %s)\n", h)
		} else {
			fmt.Fprintf(&b, "(from your history: %s)\n", h)
		}
	}
	return strings.TrimSpace(b.String())
}

// clarificationCanceledMessage replies to a CANCEL in CLARIFYING.
func clarificationCanceledMessage(language string) string {
	if language == "vi" {
		return "Được rồi, mình sẽ bỏ qua câu hỏi đó. Bạn muốn tìm hiểu về chủ đề gì?"
	}
	return "No problem, I'll drop that. What would you like to look into?"
}

// planMessage renders a ResearchPlan as the REVIEWING-state reply: a
// summary line plus each step's title and queries, so the user can read it
// back and decide to confirm, edit, or cancel.
func planMessage(plan domain.ResearchPlan, language string) string {
	var b strings.Builder
	if language == "vi" {
		fmt.Fprintf(&b, "Đây là kế hoạch nghiên cứu cho \"%s\":\n%s\n\n", plan.Topic, plan.Summary)
	} else {
		fmt.Fprintf(&b, "Here's the research plan for \"%s\":\n%s\n\n", plan.Topic, plan.Summary)
	}
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s", step.ID, step.Title)
		if len(step.Queries) > 0 {
			fmt.Fprintf(&b, " — %s", strings.Join(step.Queries, "; "))
		}
		b.WriteString("\n")
	}
	if language == "vi" {
		b.WriteString("\nBạn có muốn tiến hành không? Bạn cũng có thể chỉnh sửa (\"thêm ...\" / \"xóa ...\") hoặc hủy.")
	} else {
		b.WriteString("\nWant me to proceed? You can also edit (\"add ...\" / \"remove ...\") or cancel.")
	}
	return b.String()
}

// planCanceledMessage replies to a CANCEL in REVIEWING.
func planCanceledMessage(language string) string {
	if language == "vi" {
		return "Đã hủy kế hoạch. Bạn muốn nghiên cứu chủ đề nào khác?"
	}
	return "Plan discarded. What would you like to research instead?"
}

// startedMessage replies to a CONFIRM in REVIEWING, right as execution
// begins.
func startedMessage(language string) string {
	if language == "vi" {
		return "Mình đang bắt đầu nghiên cứu, sẽ cập nhật tiến độ cho bạn."
	}
	return "Starting the research run now — I'll keep you posted on progress."
}

// stillWorkingMessage replies when a turn arrives while EXECUTING
// (spec.md §5: a turn may not be processed while the prior pipeline run is
// still in flight).
func stillWorkingMessage(language string) string {
	if language == "vi" {
		return "Mình vẫn đang xử lý yêu cầu nghiên cứu trước đó, vui lòng đợi một chút."
	}
	return "Still working on the previous research run — one moment."
}

// completeMessage replies once the pipeline finishes successfully.
func completeMessage(language string, paperCount int, reportAvailable bool) string {
	if language == "vi" {
		if reportAvailable {
			return fmt.Sprintf("Hoàn tất! Mình đã xem xét %d bài báo và đã tạo báo cáo tổng hợp.", paperCount)
		}
		return fmt.Sprintf("Hoàn tất! Mình đã tìm thấy %d bài báo liên quan.", paperCount)
	}
	if reportAvailable {
		return fmt.Sprintf("Done — I reviewed %d papers and put together a grounded report.", paperCount)
	}
	return fmt.Sprintf("Done — I found %d relevant papers.", paperCount)
}

// failedMessage replies when the pipeline terminates with a fatal error.
// The internal error string is logged, never shown verbatim to the user.
func failedMessage(language string) string {
	if language == "vi" {
		return "Đã xảy ra lỗi trong quá trình nghiên cứu. Bạn có muốn thử lại không?"
	}
	return "Something went wrong during the research run. Want to try again?"
}

// chatReply is the IDLE-state reply to a CHAT-classified turn.
func chatReply(language string) string {
	if language == "vi" {
		return "Chào bạn! Cứ cho mình biết bạn muốn nghiên cứu chủ đề gì nhé."
	}
	return "Hey! Tell me what topic you'd like me to research."
}
