package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/staging"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the build version, commit and date, plus the staging and ledger
backends compiled into this binary.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout(), versionShort)
	},
}

func printVersion(w io.Writer, short bool) {
	version, commit, date := BuildInfo()
	if short {
		fmt.Fprintln(w, version)
		return
	}
	fmt.Fprintf(w, "whexport %s\ncommit:   %s\nbuilt:    %s\ngo:       %s\n", version, commit, date, runtime.Version())
	fmt.Fprintf(w, "staging:  %s\nledger:   %s\n", strings.Join(staging.Kinds(), ", "), strings.Join(ledger.Kinds(), ", "))
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version")
}
