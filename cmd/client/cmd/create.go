package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagRoomName string
	flagMaxUsers int
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a voice room and wait for participants",
	Example: `  huddle create --name alice --room standup
  huddle create --name alice --room standup --max 4`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		if err := a.start(ctx); err != nil {
			return err
		}
		defer a.shutdown(context.Background())

		if _, err := a.coord.CreateRoom(ctx, flagRoomName, flagMaxUsers); err != nil {
			return err
		}
		id := a.coord.Identity()
		fmt.Printf("room %q created\n  id:  %s\n  pin: %s\n", id.RoomName, id.RoomID, id.Pin)

		<-ctx.Done()
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&flagRoomName, "room", "huddle", "room name")
	createCmd.Flags().IntVar(&flagMaxUsers, "max", 0, "participant cap (0 for default)")
}
