package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"petassist/internal/domain"
)

const (
	cliChatID = "direct"
	cliBotID  = "petassist"
)

// CLI implements domain.Channel for interactive terminal chat. It publishes
// one line at a time and waits for the end-of-turn marker before reading
// the next.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	user   string

	spinner   bool
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	outMu    sync.Mutex
	turnDone chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	User   string // sender id for typed lines
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.User == "" {
		cfg.User = "cli-user"
	}
	spinner := false
	if f, ok := cfg.Out.(*os.File); ok {
		spinner = isatty.IsTerminal(f.Fd())
	}
	return &CLI{
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		user:     cfg.User,
		spinner:  spinner,
		turnDone: make(chan struct{}, 1),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until EOF, /quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.deliver)

	c.println("Pet Store assistant. Type your message and press Enter. Type /quit to exit.")

	// The user joins the conversation, which triggers the welcome.
	bus.Publish(domain.InboundMessage{
		Kind:         domain.KindMembersAdded,
		Channel:      c.Name(),
		ChatID:       cliChatID,
		SenderID:     c.user,
		RecipientID:  cliBotID,
		MembersAdded: []string{c.user},
	})
	if !c.waitTurn(ctx) {
		return nil
	}

	scanner := bufio.NewScanner(c.in)
	for {
		c.print("You> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		c.bus.Publish(domain.InboundMessage{
			Kind:        domain.KindMessage,
			Channel:     c.Name(),
			ChatID:      cliChatID,
			SenderID:    c.user,
			RecipientID: cliBotID,
			Content:     line,
		})
		if !c.waitTurn(ctx) {
			return nil
		}
	}
}

func (c *CLI) deliver(msg domain.OutboundMessage) {
	c.stopThinking()
	if msg.EndOfTurn {
		if msg.Error != "" {
			c.println("(no reply: something went wrong, please try again)")
		}
		select {
		case c.turnDone <- struct{}{}:
		default:
		}
		return
	}
	c.println("Assistant> " + msg.Content)
}

func (c *CLI) waitTurn(ctx context.Context) bool {
	select {
	case <-c.turnDone:
		return true
	case <-ctx.Done():
		c.stopThinking()
		return false
	}
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.print("\r\033[K")
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Thinking...", frames[i%len(frames)]))
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.println(content)
	return nil
}
