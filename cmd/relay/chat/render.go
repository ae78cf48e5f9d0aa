package chatcmder

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/conversation"
	"github.com/papercomputeco/relay/pkg/llm"
)

// typingIndicator is shown after the assistant prompt until the first
// response byte arrives.
const typingIndicator = "…"

// renderer mirrors a conversation onto a terminal by applying its updates.
// User messages are not echoed: the user just typed them.
type renderer struct {
	mu sync.Mutex
	w  io.Writer

	// interactive enables the typing indicator, which relies on erasing the
	// current line.
	interactive bool

	// markdown buffers each answer and prints it rendered once it closes.
	markdown bool
	width    int

	// streamed is set once the current answer printed any text.
	streamed bool

	messages func() []llm.Message
}

func newRenderer(w io.Writer, conv *conversation.Conversation, interactive, markdown bool, width int) *renderer {
	r := &renderer{
		w:           w,
		interactive: interactive,
		markdown:    markdown,
		width:       width,
		messages:    conv.Messages,
	}
	conv.OnUpdate(r.apply)
	return r
}

// awaiting prints the assistant prompt before the request is sent.
func (r *renderer) awaiting() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamed = false
	fmt.Fprint(r.w, cliui.AssistantPrompt)
	if r.interactive {
		fmt.Fprint(r.w, cliui.DimStyle.Render(typingIndicator))
	}
}

func (r *renderer) apply(u conversation.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case conversation.UpdateAppendMessage:
		if u.State == conversation.StateStreaming && r.interactive {
			// First byte: replace the typing indicator.
			fmt.Fprint(r.w, "\r"+ansi.EraseEntireLine+cliui.AssistantPrompt)
		}

	case conversation.UpdateAppendText:
		if !r.markdown {
			fmt.Fprint(r.w, u.Delta)
			r.streamed = true
		}

	case conversation.UpdateReplaceText:
		if r.markdown {
			break
		}
		if r.streamed {
			fmt.Fprint(r.w, "\n")
		}
		fmt.Fprint(r.w, cliui.ErrorStyle.Render(u.Delta))

	case conversation.UpdateClose:
		if r.markdown {
			r.printMarkdown(u.Index)
		}
		fmt.Fprint(r.w, "\n\n")
	}
}

// printMarkdown renders the closed message at index. Requires r.mu.
func (r *renderer) printMarkdown(index int) {
	messages := r.messages()
	if index < 0 || index >= len(messages) {
		return
	}

	content := messages[index].Content
	if content == conversation.ErrorText {
		fmt.Fprint(r.w, cliui.ErrorStyle.Render(content))
		return
	}

	rendered, err := cliui.RenderMarkdown(content, r.width)
	if err != nil {
		fmt.Fprint(r.w, content)
		return
	}
	fmt.Fprint(r.w, "\n"+rendered)
}
