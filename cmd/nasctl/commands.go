package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"github.com/tdisawas0github/project-os/internal/apiclient"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username      string
		passwordStdin bool
		otpCode       string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the NAS",
		Long: `Sign in with a username and password. The session is saved and reused
by later commands until you log out or the NAS rejects it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr, _, err := a.session(ctx)
			if err != nil {
				return err
			}

			creds := apiclient.Credentials{Username: username}
			if creds.Username == "" {
				if !a.interactive() {
					return errors.New("--username is required when not running in a terminal")
				}
				if err := survey.AskOne(&survey.Input{Message: "Username:"}, &creds.Username, survey.WithValidator(survey.Required)); err != nil {
					return err
				}
			}
			if creds.Password, err = a.readSecret(passwordStdin, "Password:"); err != nil {
				return err
			}

			creds.OTP = otpCode
			if creds.OTP == "" && a.cfg.TOTPSecret != "" {
				code, err := totp.GenerateCode(a.cfg.TOTPSecret, time.Now())
				if err != nil {
					return fmt.Errorf("generate one-time code: %w", err)
				}
				creds.OTP = code
			}

			if err := mgr.LoginWith(ctx, creds); err != nil {
				return err
			}
			u, _ := mgr.User()
			p := a.printer()
			if !p.human() {
				return p.print(u, nil)
			}
			p.done("Logged in as %s (%s)", u.Username, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().StringVar(&otpCode, "otp", "", "one-time code, if the NAS asks for one")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			mgr.Logout(cmd.Context())
			a.printer().done("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			u, _ := mgr.User()
			return a.printer().print(u, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Username:\t%s\n", u.Username)
				fmt.Fprintf(tw, "Role:\t%s\n", u.Role)
				fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
				fmt.Fprintf(tw, "ID:\t%d\n", u.ID)
				if u.LastLogin != nil && !u.LastLogin.IsZero() {
					fmt.Fprintf(tw, "Last login:\t%s\n", u.LastLogin.Format(time.RFC1123))
				}
				fmt.Fprintf(tw, "Server:\t%s\n", a.cfg.URL)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show nasctl version",
		// skip config loading
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nasctl version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for nasctl.

Bash:
  $ source <(nasctl completion bash)

Zsh:
  $ nasctl completion zsh > "${fpath[1]}/_nasctl"

Fish:
  $ nasctl completion fish | source
`,
		Args:              cobra.ExactArgs(1),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}

// confirm asks before destructive actions. Without a terminal, --yes is the
// only way through.
func (a *app) confirm(yes bool, msg string) error {
	if yes {
		return nil
	}
	if !a.interactive() {
		return errors.New("refusing to continue without --yes when not running in a terminal")
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: msg, Default: false}, &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("cancelled")
	}
	return nil
}

// readSecret takes a password from the first line of stdin or from a prompt.
func (a *app) readSecret(fromStdin bool, prompt string) (string, error) {
	switch {
	case fromStdin:
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	case a.interactive():
		var secret string
		if err := survey.AskOne(&survey.Password{Message: prompt}, &secret, survey.WithValidator(survey.Required)); err != nil {
			return "", err
		}
		return secret, nil
	default:
		return "", errors.New("no password given: use --password-stdin when not running in a terminal")
	}
}
