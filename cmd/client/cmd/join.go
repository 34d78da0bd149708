package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/huddlekit/huddle/internal/session"
)

var flagPin string

var joinCmd = &cobra.Command{
	Use:     "join [room-id]",
	Aliases: []string{"j"},
	Short:   "Join an existing voice room by id or pin",
	Example: `  huddle join --name bob 7f3c9c1e-...
  huddle join --name bob --pin 4821-0937-5614`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && flagPin == "" {
			return fmt.Errorf("a room id argument or --pin is required")
		}

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

		prefs := session.MediaPrefs{Audio: true, CapturePath: flagCapture}
		if flagPin != "" {
			err = a.coord.JoinRoomByPin(ctx, flagPin, prefs)
		} else {
			err = a.coord.JoinRoom(ctx, args[0], prefs)
		}
		if err != nil {
			return err
		}
		fmt.Printf("joined room %s with %d participant(s)\n",
			a.coord.Identity().RoomID, len(a.coord.Roster()))

		<-ctx.Done()
		return nil
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagPin, "pin", "", "room pin")
}
