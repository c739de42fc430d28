package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ankith2004ahms/video-calling/internal/config"
	"github.com/ankith2004ahms/video-calling/internal/media"
	"github.com/ankith2004ahms/video-calling/internal/peer"
	"github.com/ankith2004ahms/video-calling/internal/session"
	"github.com/ankith2004ahms/video-calling/internal/signaling"
	"github.com/ankith2004ahms/video-calling/internal/ui"
)

var (
	flagIdentity string
	flagDomain   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a room and wait for a peer",
	Long: `Join a named room on the signaling relay.

Once another participant is present, start the call with /call. Joining never
rings the other side.

Examples:
  videocall join standup
  videocall join standup --identity alice
  videocall join standup --domain call.example.com --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(room string) error {
	cfg, err := config.Load(config.Options{
		Domain:     flagDomain,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	identity := flagIdentity
	if identity == "" {
		identity = "user-" + uuid.NewString()[:8]
	}

	client := signaling.NewClient(cfg.WebSocketURL)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Domain, err)
	}
	defer client.Close()

	events := signaling.NewEvents()
	go func() {
		events.Run(client.Incoming())
		events.Close()
	}()

	engine, err := peer.New(peer.OptionsFromConfig(cfg, log.Logger))
	if err != nil {
		return err
	}
	defer engine.Close()

	coord := session.New(client, events, engine, media.NewStaticSource(), session.Options{
		Identity: identity,
		Room:     room,
		OnRemoteStream: func(stream *peer.RemoteStream) {
			ui.PrintSuccessf("%s receiving %d remote track(s)", ui.IconCall, len(stream.Tracks()))
		},
		OnMessage: func(msg *signaling.ReceiveMessage) {
			ui.RenderChatMessage(msg.From, msg.Message)
		},
		OnCallEnded: func() {
			ui.PrintInfof("%s call ended", ui.IconHangUp)
		},
		Logger: log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	if err := coord.Join(); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	ui.RenderRoomInfo(room, identity)
	ui.RenderHelp()

	go promptLoop(stop, coord)

	<-ctx.Done()
	<-done
	fmt.Println()
	ui.PrintInfo("left the room")
	return nil
}

// promptLoop reads commands and chat lines from stdin until /quit or EOF.
func promptLoop(stop context.CancelFunc, coord *session.Coordinator) {
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/call":
			switch err := coord.StartCall(); err {
			case nil:
				ui.PrintInfof("%s calling %s", ui.IconCall, coord.RemoteHandle())
			case session.ErrNoActivePeer:
				ui.PrintWarning("no one else is in the room yet")
			case session.ErrBusy:
				ui.PrintWarning("a call is already being set up")
			default:
				ui.PrintErrorf("call failed: %v", err)
			}

		case "/hangup":
			if err := coord.HangUp(); err != nil {
				ui.PrintErrorf("hang up: %v", err)
			}

		case "/mute":
			stream := coord.LocalStream()
			if stream == nil {
				ui.PrintWarning("not in a call")
				continue
			}
			stream.SetAudioEnabled(!stream.AudioEnabled())
			if stream.AudioEnabled() {
				ui.PrintInfo("microphone on")
			} else {
				ui.PrintInfo("microphone muted")
			}

		case "/camera":
			stream := coord.LocalStream()
			if stream == nil {
				ui.PrintWarning("not in a call")
				continue
			}
			stream.SetVideoEnabled(!stream.VideoEnabled())
			if stream.VideoEnabled() {
				ui.PrintInfo("camera on")
			} else {
				ui.PrintInfo("camera off")
			}

		case "/quit":
			return

		case "/help":
			ui.RenderHelp()

		default:
			if err := coord.SendMessage(line); err != nil {
				if err == session.ErrNoActivePeer {
					ui.PrintWarning("no one else is in the room yet")
				} else {
					ui.PrintErrorf("send message: %v", err)
				}
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagIdentity, "identity", "i", "", "Display name shown to the peer")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom signaling server domain")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
