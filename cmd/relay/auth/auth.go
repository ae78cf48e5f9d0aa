// Package authcmder provides the auth command for storing upstream API keys.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/credentials"
)

const authLongDesc string = `Store API keys for upstream LLM endpoints.

Keys are stored in credentials.toml in the .relay/ directory with owner-only
permissions. The relay uses a stored key when upstream.api_key is not set by
flag, environment or config.toml.

Upstreams:
  gemini   Gemini's OpenAI compatible endpoint (the default upstream)
  openai   Any other endpoint served by the openai provider

Examples:
  relay auth gemini               Prompt for a Gemini API key
  relay auth --list               List stored keys
  relay auth --remove openai      Remove the stored OpenAI key
  echo $KEY | relay auth openai   Read the key from stdin`

const authShortDesc string = "Store upstream API keys"

type authCommander struct {
	list      bool
	remove    string
	configDir string

	in  io.Reader
	out io.Writer
}

func NewAuthCmd() *cobra.Command {
	cmder := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth [upstream]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()

			switch {
			case cmder.list:
				return cmder.runList()
			case cmder.remove != "":
				return cmder.runRemove(cmder.remove)
			case len(args) == 0:
				return fmt.Errorf("upstream argument required\n\nSupported upstreams: %s",
					strings.Join(credentials.SupportedUpstreams(), ", "))
			default:
				return cmder.runAuth(args[0])
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return credentials.SupportedUpstreams(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&cmder.list, "list", false, "List stored keys")
	cmd.Flags().StringVar(&cmder.remove, "remove", "", "Remove the stored key for an upstream")

	return cmd
}

func (c *authCommander) runAuth(upstream string) error {
	upstream = strings.ToLower(strings.TrimSpace(upstream))
	if !credentials.IsSupportedUpstream(upstream) {
		return fmt.Errorf("unsupported upstream: %q\n\nSupported upstreams: %s",
			upstream, strings.Join(credentials.SupportedUpstreams(), ", "))
	}

	key, err := c.readAPIKey(upstream)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key cannot be empty")
	}

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if err := mgr.SetKey(upstream, key); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Stored %s key %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(upstream),
		cliui.DimStyle.Render("in "+mgr.GetTarget()),
	)
	return nil
}

func (c *authCommander) runList() error {
	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	names, err := mgr.List()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Fprintf(c.out, "\n  %s No stored keys.\n", cliui.DimStyle.Render("●"))
		fmt.Fprintf(c.out, "  Use 'relay auth <upstream>' to store one. Supported: %s\n\n",
			strings.Join(credentials.SupportedUpstreams(), ", "))
		return nil
	}

	fmt.Fprintf(c.out, "\n  %s\n\n", cliui.StepStyle.Render("Stored keys"))
	for _, name := range names {
		fmt.Fprintf(c.out, "  %s  %s  %s\n",
			cliui.SuccessMark,
			cliui.NameStyle.Render(name),
			cliui.DimStyle.Render("instead of "+credentials.EnvVarFor(name)),
		)
	}
	fmt.Fprintln(c.out)

	return nil
}

func (c *authCommander) runRemove(upstream string) error {
	upstream = strings.ToLower(strings.TrimSpace(upstream))

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if err := mgr.RemoveKey(upstream); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Removed %s key.\n\n", cliui.SuccessMark, cliui.NameStyle.Render(upstream))
	return nil
}

// readAPIKey prompts with hidden input on a terminal and otherwise reads the
// first line of input.
func (c *authCommander) readAPIKey(upstream string) (string, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(c.out, "Enter API key for %s (%s): ", upstream, credentials.EnvVarFor(upstream))

		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.out)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(key), nil
	}

	scanner := bufio.NewScanner(c.in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
