package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/roffe/golin"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "interactive shell to switch roles and inspect the node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		node, dev, err := initNode(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()
		defer node.Close()

		sh := ishell.New()
		sh.SetPrompt("lin > ")
		for _, c := range roleCmds(node) {
			sh.AddCmd(c)
		}
		sh.AddCmd(&ishell.Cmd{
			Name: "role",
			Help: "set LIN node role by key or name, e.g. role slave-publish",
			Func: func(c *ishell.Context) {
				role, err := roleFromArgs(c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				if err := node.SelectRole(role); err != nil {
					c.Err(err)
					return
				}
				c.Println("-- Set LIN to " + role.String() + " mode")
			},
		})
		sh.AddCmd(&ishell.Cmd{
			Name: "status",
			Help: "show role, triggers and frame buffer",
			Func: func(c *ishell.Context) {
				st := node.Status()
				c.Printf("role: %s node: %d request: %v\n", st.Role, st.Node, st.Request)
				c.Printf("bus armed: %v tick armed: %v scheduler: %s\n", st.BusArmed, st.TickArmed, st.Scheduler)
				c.Printf("frame: 0x%02X len: %d %s handler: %s\n", st.Descriptor.ID, st.Descriptor.Length, st.Descriptor.Direction, st.Handler)
				c.Printf("counter: %d buffer: % X\n", st.Counter, st.Buffer)
			},
		})
		sh.AddCmd(&ishell.Cmd{
			Name: "stats",
			Help: "show frame counters",
			Func: func(c *ishell.Context) {
				c.Println(node.Stats().String())
			},
		})

		go func() {
			<-ctx.Done()
			sh.Close()
		}()
		sh.Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

var roleCmdNames = map[golin.Role]string{
	golin.MasterPublish:   "master",
	golin.MasterSubscribe: "request",
	golin.SlaveSubscribe:  "slave",
	golin.SlavePublish:    "publish",
}

func roleCmds(node *golin.Node) []*ishell.Cmd {
	var out []*ishell.Cmd
	for _, r := range golin.Roles {
		role := r
		out = append(out, &ishell.Cmd{
			Name:    roleCmdNames[role],
			Aliases: []string{string(role.Key())},
			Help:    "set LIN node as " + role.String(),
			Func: func(c *ishell.Context) {
				if err := node.SelectRole(role); err != nil {
					c.Err(err)
					return
				}
				c.Println("-- Set LIN to " + role.String() + " mode")
			},
		})
	}
	return out
}

// roleFromArgs resolves shell arguments such as "r" or "master subscribe".
func roleFromArgs(args []string) (golin.Role, error) {
	if len(args) == 0 {
		return golin.RoleNone, errors.New("missing role, one of m, r, s, p")
	}
	name := strings.Join(args, " ")
	role, ok := golin.RoleByName(name)
	if !ok {
		return golin.RoleNone, fmt.Errorf("%w: %q", golin.ErrUnknownRole, name)
	}
	return role, nil
}
