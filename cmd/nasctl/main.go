package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := newApp(in, out, errOut)
	root := &cobra.Command{
		Use:   "nasctl",
		Short: "NAS OS command-line console",
		Long: `nasctl is the command-line console for a NAS OS appliance.

It keeps you signed in between runs and covers the dashboard screens:
system status, files, Samba shares, users and network.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	a.bindFlags(root)

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newFilesCmd(a),
		newSharesCmd(a),
		newSambaCmd(a),
		newUsersCmd(a),
		newNetworkCmd(a),
		newVersionCmd(),
		newCompletionCmd(root),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
