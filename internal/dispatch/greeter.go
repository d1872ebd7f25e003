package dispatch

// DefaultGreeting is sent to every participant that joins a conversation.
const DefaultGreeting = "Hello and welcome to the Pet Store, you can ask me questions about our products, " +
	"your shopping cart and your order, you can also ask me for information about pet animals. How can I help you?"

// Greeter welcomes new conversation participants.
type Greeter struct {
	text string
}

func NewGreeter(text string) *Greeter {
	if text == "" {
		text = DefaultGreeting
	}
	return &Greeter{text: text}
}

// Greet returns one greeting per joined member, in order, skipping the bot itself.
func (g *Greeter) Greet(members []string, recipientID string) []string {
	var out []string
	for _, m := range members {
		if m == recipientID {
			continue
		}
		out = append(out, g.text)
	}
	return out
}
