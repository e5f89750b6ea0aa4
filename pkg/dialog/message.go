package dialog

// Message is an ordered list of blocks produced for one turn.
type Message struct {
	Blocks []Block
}

// NewMessage builds a message from blocks.
func NewMessage(blocks ...Block) Message {
	return Message{Blocks: blocks}
}

// TextMessage is a single-text message, used for fallbacks.
func TextMessage(text string) Message {
	return Message{Blocks: []Block{Text{Message: text}}}
}

func (m *Message) Push(block Block) {
	m.Blocks = append(m.Blocks, block)
}

// Prepend inserts a block in front of the message.
func (m *Message) Prepend(block Block) {
	m.Blocks = append([]Block{block}, m.Blocks...)
}

func (m Message) Len() int {
	return len(m.Blocks)
}

func (m Message) Empty() bool {
	return len(m.Blocks) == 0
}

// Last returns the final block, or nil for an empty message.
func (m Message) Last() Block {
	if len(m.Blocks) == 0 {
		return nil
	}
	return m.Blocks[len(m.Blocks)-1]
}

// TrimEnd strips a trailing End block and reports whether the conversation ended.
func (m *Message) TrimEnd() bool {
	if _, ok := m.Last().(End); !ok {
		return false
	}
	m.Blocks = m.Blocks[:len(m.Blocks)-1]
	return true
}
