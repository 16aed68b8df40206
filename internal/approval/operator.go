package approval

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/okvist/waypost/internal/protocol"
	"github.com/okvist/waypost/internal/tasks"
)

// OperatorHub fans task cards out to connected operator websockets and
// funnels their replies back as events. It is the fallback transport when
// no Telegram credentials are configured.
type OperatorHub struct {
	mu      sync.Mutex
	clients map[int]chan any
	nextID  int
	nextSeq uint64
	events  chan Event
}

func NewOperatorHub() *OperatorHub {
	return &OperatorHub{
		clients: make(map[int]chan any),
		events:  make(chan Event, 64),
	}
}

func (h *OperatorHub) Name() string { return "operator" }

// Attach registers an operator connection. The returned channel carries
// outbound frames; the cancel func detaches and closes it.
func (h *OperatorHub) Attach() (int, <-chan any, func()) {
	ch := make(chan any, 256)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.clients[id] = ch
	h.mu.Unlock()

	return id, ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.clients[id]; ok {
			delete(h.clients, id)
			close(c)
		}
	}
}

func (h *OperatorHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *OperatorHub) SendCard(ctx context.Context, card Card) (tasks.Binding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return tasks.Binding{}, fmt.Errorf("%w: no operator connected", ErrChannelUnavailable)
	}

	h.nextSeq++
	ref := strconv.FormatUint(h.nextSeq, 10)
	actions := make([]string, 0, len(card.Actions))
	for _, a := range card.Actions {
		actions = append(actions, string(a))
	}
	h.broadcastLocked(protocol.TaskCard{
		Type:       protocol.TypeTaskCard,
		TaskID:     card.TaskID,
		MessageRef: ref,
		Text:       card.Text,
		Actions:    actions,
	})
	return tasks.Binding{Channel: h.Name(), MessageRef: ref}, nil
}

func (h *OperatorHub) EditMessage(ctx context.Context, binding tasks.Binding, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(protocol.TaskCard{
		Type:     protocol.TypeTaskCard,
		Text:     text,
		Replaces: binding.MessageRef,
	})
	return nil
}

func (h *OperatorHub) Notify(ctx context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(protocol.Notice{Type: protocol.TypeNotice, Text: text})
	return nil
}

func (h *OperatorHub) Run(ctx context.Context, events chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Inbound feeds a parsed operator frame into the event stream. replyRef
// scopes edit mode to the submitting connection.
func (h *OperatorHub) Inbound(replyRef string, msg any) {
	switch m := msg.(type) {
	case protocol.Decision:
		h.events <- Event{
			Kind:     KindDecision,
			Action:   DecisionAction(m.Action),
			TaskID:   m.TaskID,
			ReplyRef: replyRef,
		}
	case protocol.FreeText:
		h.events <- Event{
			Kind:     KindFreeText,
			ReplyRef: replyRef,
			Text:     m.Text,
		}
	}
}

// Slow clients drop frames rather than stalling the hub.
func (h *OperatorHub) broadcastLocked(frame any) {
	for _, ch := range h.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}
