package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLogCmd())
}

// newLogCmd wires the three LOG DEBUG|VERBOSE|TRACE [ON|OFF] control
// commands.
func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "log <debug|verbose|trace> [on|off]",
		Short: "Query or toggle a runtime verbosity flag",
		Long: `log sends "LOG <FLAG> [ON|OFF]" over the control socket. With no
ON/OFF argument it reports the flag's current value.

Example:
  diskqctl log debug on
  diskqctl log trace`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag := strings.ToUpper(args[0])
			switch flag {
			case "DEBUG", "VERBOSE", "TRACE":
			default:
				return fmt.Errorf("unknown flag %q: expected debug, verbose, or trace", args[0])
			}
			line := "LOG " + flag
			if len(args) == 2 {
				onOff, err := boolArg(args[1])
				if err != nil {
					return err
				}
				line += " " + onOff
			}
			lines, err := sendCommand(line)
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}
			printLines(lines)
			return nil
		},
	}
	return cmd
}
