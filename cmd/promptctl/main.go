package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/internal/pairing"
	"github.com/imarenge/promptcast/internal/sync"
)

// Storage keys shared with the web client; tabs and devices syncing the same
// key converge on the same value.
const (
	keyPlaying  = "teleprompter-isPlaying"
	keySpeed    = "teleprompter-speed"
	keyPosition = "teleprompter-position"
)

var (
	flagServer string
	flagKey    string
	flagRole   string
)

// sendSettle gives the fire-and-forget broadcast a moment to reach the relay
// before a one-shot command exits.
const sendSettle = 500 * time.Millisecond

func main() {
	root := &cobra.Command{
		Use:   "promptctl",
		Short: "Remote control for a promptcast teleprompter session",
	}

	root.PersistentFlags().StringVar(&flagServer, "server", "ws://localhost:8080/ws", "relay websocket endpoint")
	root.PersistentFlags().StringVar(&flagKey, "key", "", "shared access key")
	root.PersistentFlags().StringVar(&flagRole, "role", string(domain.RoleController), "device role (host|controller|viewer)")

	root.AddCommand(watchCmd(), playCmd(), pauseCmd(), speedCmd(), shareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSession() (*sync.Session, error) {
	role, ok := domain.ParseRole(flagRole)
	if !ok {
		return nil, fmt.Errorf("invalid role %q", flagRole)
	}

	return sync.NewSession(sync.Options{
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Enabled:     true,
		InitialRole: role,
		ServerURL:   flagServer,
		AccessKey:   flagKey,
	})
}

// waitForRelay blocks until the session has a live relay connection or the
// deadline passes; one-shot commands need the socket before they can send.
func waitForRelay(session *sync.Session, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if session.RelayConnected() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("relay unreachable at %s", flagServer)
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the synchronized playback state",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Close()

			playing := sync.NewSyncedState(session, keyPlaying, false)
			speed := sync.NewSyncedState(session, keySpeed, 50.0)
			position := sync.NewSyncedState(session, keyPosition, 0.0)
			defer playing.Close()
			defer speed.Close()
			defer position.Close()

			playing.OnChange(func(v bool) { fmt.Printf("playing=%v\n", v) })
			speed.OnChange(func(v float64) { fmt.Printf("speed=%v\n", v) })
			position.OnChange(func(v float64) { fmt.Printf("position=%v\n", v) })

			fmt.Printf("watching as %s (%s), ctrl-c to stop\n", session.Device().Name, session.Role())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Start playback on all connected devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPlaying(true)
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause playback on all connected devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPlaying(false)
		},
	}
}

func setPlaying(value bool) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if !session.CanControl() {
		return fmt.Errorf("role %s cannot control playback", session.Role())
	}
	if err := waitForRelay(session, 5*time.Second); err != nil {
		return err
	}

	playing := sync.NewSyncedState(session, keyPlaying, !value)
	defer playing.Close()

	playing.Set(value)
	time.Sleep(sendSettle)

	fmt.Printf("playing=%v\n", value)
	return nil
}

func speedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "speed <value>",
		Short: "Set scroll speed on all connected devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid speed %q", args[0])
			}

			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Close()

			if !session.CanControl() {
				return fmt.Errorf("role %s cannot control playback", session.Role())
			}
			if err := waitForRelay(session, 5*time.Second); err != nil {
				return err
			}

			speed := sync.NewSyncedState(session, keySpeed, 0.0)
			defer speed.Close()

			speed.Set(value)
			time.Sleep(sendSettle)

			fmt.Printf("speed=%v\n", value)
			return nil
		},
	}
}

func shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <base-url> <role>",
		Short: "Print a pairing URL that assigns the given role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := domain.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("invalid role %q", args[1])
			}

			url, err := pairing.ShareURL(args[0], role)
			if err != nil {
				return err
			}

			fmt.Println(url)
			return nil
		},
	}
}
