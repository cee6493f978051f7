package cmd

import (
	"errors"
	"log"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			return errors.New("no serial ports found")
		}
		log.Println("discovered com ports:")
		for _, port := range ports {
			log.Printf("port: %s\n", port.Name)
			if port.IsUSB {
				log.Printf("   USB ID      %s:%s\n", port.VID, port.PID)
				log.Printf("   USB serial  %s\n", port.SerialNumber)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
