package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/golin"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range golin.ListAdapters() {
			fmt.Printf("%s %s\n", color.CyanString(a.Name), a.Description)
			fmt.Printf("   %s, requires serial port: %v\n", a.Capabilities.String(), a.RequiresSerialPort)
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
