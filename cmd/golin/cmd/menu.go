package cmd

import (
	"errors"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/roffe/golin"
	"github.com/roffe/golin/pkg/console"
	"github.com/spf13/cobra"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "key driven role menu on stdin",
	Long:  `m, r, s and p select the node role, h shows the menu again`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		node, dev, err := initNode(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()
		defer node.Close()

		if sel, _ := cmd.Flags().GetBool("select"); sel {
			role, err := pickRole()
			if err != nil {
				return err
			}
			if err := node.SelectRole(role); err != nil {
				return err
			}
		}

		if err := console.New(node, os.Stdout).Run(ctx, os.Stdin); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		return nil
	},
}

func init() {
	menuCmd.Flags().BoolP("select", "s", false, "pick the initial role from a list")
	rootCmd.AddCommand(menuCmd)
}

func pickRole() (golin.Role, error) {
	items := make([]string, len(golin.Roles))
	for i, r := range golin.Roles {
		items[i] = r.String()
	}
	prompt := promptui.Select{
		Label:    "LIN node role",
		HideHelp: true,
		Items:    items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return golin.RoleNone, err
	}
	return golin.Roles[idx], nil
}
