package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/muther/internal/runtime/process"
)

// newConsoleBreakCmd is the helper the Windows process implementation
// re-executes to deliver a console control event to a hidden child.
func newConsoleBreakCmd() *cobra.Command {
	return &cobra.Command{
		Use:    process.ConsoleBreakCommand + " <pid> <c|break>",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			switch args[1] {
			case "c", "break":
			default:
				return fmt.Errorf("invalid console event %q (want c or break)", args[1])
			}
			return process.RunConsoleBreakHelper(pid, args[1])
		},
	}
}
