// Package chatcmder provides the chat command for interactive LLM chat
// through a running relay server.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/conversation"
	"github.com/papercomputeco/relay/pkg/logger"
)

const exitCommand = "/exit"

type chatCommander struct {
	target   string
	path     string
	timeout  time.Duration
	model    string
	system   string
	markdown bool
	debug    bool

	v      *viper.Viper
	logger *zap.Logger

	in  io.Reader
	out io.Writer
	// interactive is true when stdin and stdout are terminals.
	interactive bool
	width       int
}

var chatFlags = config.FlagSet{
	config.FlagTarget: {
		Name:        "target",
		Shorthand:   "t",
		ViperKey:    "client.target",
		Description: "Relay server URL",
	},
	config.FlagPath: {
		Name:        "path",
		ViperKey:    "client.path",
		Description: "Chat route on the relay server",
	},
	config.FlagClientTimeout: {
		Name:        "timeout",
		ViperKey:    "client.timeout",
		Description: "Maximum duration of one turn",
	},
}

var chatFlagKeys = []string{config.FlagTarget, config.FlagPath, config.FlagClientTimeout}

const chatLongDesc string = `Start an interactive chat session through a running relay server.

Each message you type is sent with the whole conversation so far, and the
answer is printed token by token as it streams in. The conversation lives
only in this session.

Type /exit or press Ctrl+D to quit. Input can also be piped, one message per
line.

Examples:
  relay chat
  relay chat --target http://localhost:8080 --path /api/llm-chat
  relay chat --system "Answer in one sentence." --markdown`

const chatShortDesc string = "Interactive LLM chat through the relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, chatFlags, chatFlagKeys)
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.target = cmder.v.GetString("client.target")
			cmder.path = cmder.v.GetString("client.path")
			cmder.timeout = cmder.v.GetDuration("client.timeout")

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.interactive, cmder.width = terminalInfo()

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, chatFlags, config.FlagTarget, &cmder.target)
	config.AddStringFlag(cmd, chatFlags, config.FlagPath, &cmder.path)
	config.AddDurationFlag(cmd, chatFlags, config.FlagClientTimeout, &cmder.timeout)
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model to request (only honoured when the server allows overrides)")
	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt sent with every turn")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render each completed answer as markdown")

	return cmd
}

// terminalInfo reports whether the session is interactive and the terminal
// width used to wrap rendered markdown.
func terminalInfo() (bool, int) {
	inFd, outFd := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	if !term.IsTerminal(inFd) || !term.IsTerminal(outFd) {
		return false, 0
	}

	width, _, err := term.GetSize(outFd)
	if err != nil {
		return true, 0
	}
	return true, width
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.logger == nil {
		c.logger = logger.NewLoggerWithWriters(c.debug, os.Stderr)
		defer func() { _ = c.logger.Sync() }()
	}

	client, err := conversation.NewClient(conversation.ClientConfig{
		Target:  c.target,
		Path:    c.path,
		Timeout: c.timeout,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	conv := conversation.New(
		conversation.WithModel(c.model),
		conversation.WithSystemPrompt(c.system),
	)
	r := newRenderer(c.out, conv, c.interactive, c.markdown, c.width)

	if c.interactive {
		c.banner(ctx, client)
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		if c.interactive {
			fmt.Fprint(c.out, cliui.UserPrompt)
		}
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := scanner.Text()
		if strings.TrimSpace(input) == exitCommand {
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}

		r.awaiting()
		err := client.Turn(ctx, conv, input)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrStreamFailed):
			fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, cliui.DimStyle.Render("the answer was cut short"))
		default:
			c.logger.Debug("turn failed", zap.Error(err))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if c.interactive {
		fmt.Fprintln(c.out)
	}
	return nil
}

// banner prints the session header and checks that the relay is reachable.
// An unreachable relay is reported but not fatal: every turn reports its own
// failure.
func (c *chatCommander) banner(ctx context.Context, client *conversation.Client) {
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s %s\n",
		cliui.KeyStyle.Render("Relay:"),
		cliui.NameStyle.Render(client.Endpoint()),
	)

	_ = cliui.Step(c.out, "Checking relay", func() error {
		return ping(ctx, strings.TrimRight(c.target, "/")+"/ping")
	})

	fmt.Fprintf(c.out, "\n  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))
}

func ping(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	return nil
}
