package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/WatchParty/internal/client"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/playback"
	"github.com/dkeye/WatchParty/internal/protocol"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and chat from stdin.",
	Long: `Join a room. Every stdin line is sent as chat, except:

  /play <seconds> [url]  start playback at seconds, optionally switching source
  /pause <seconds>       pause at seconds
  /sync                  ask the room for its current playback state
  /quit                  leave and exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		name, _ := cmd.Flags().GetString("name")
		userID, _ := cmd.Flags().GetString("user")

		endpoint, err := withUserID(viper.GetString(serverKey), userID)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runJoin(ctx, endpoint, domain.RoomID(room), name, driftTolerance(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	joinCmd.Flags().String("room", "", "room id")
	joinCmd.Flags().String("name", "", "display name")
	joinCmd.Flags().String("user", "", "account id for servers with admission enabled")
	joinCmd.Flags().Float64("tolerance", playback.DefaultDriftTolerance, "drift tolerance in seconds (env WATCHPARTY_SYNC_DRIFT_TOLERANCE)")
	_ = viper.BindPFlag(toleranceKey, joinCmd.Flags().Lookup("tolerance"))
	_ = joinCmd.MarkFlagRequired("room")
	_ = joinCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(joinCmd)
}

func driftTolerance() float64 {
	return viper.GetFloat64(toleranceKey)
}

func withUserID(endpoint, userID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func runJoin(ctx context.Context, endpoint string, room domain.RoomID, name string, tolerance float64, in io.Reader, out io.Writer) error {
	player := playback.NewMemoryPlayer("")
	c, err := client.Dial(ctx, endpoint, client.Handlers{
		OnJoined:  func(n string) { fmt.Fprintf(out, "* %s\n", n) },
		OnLeft:    func(n string) { fmt.Fprintf(out, "* %s\n", n) },
		OnMessage: func(m protocol.ReceiveMessage) { fmt.Fprintf(out, "<%s> %s\n", m.Username, m.Message) },
		OnSync: func(s domain.PlaybackState, a playback.Applied) {
			fmt.Fprintf(out, "* sync %s at %.1fs (%s) seeked=%t\n", s.Action, player.Position(), player.Source(), a.Seeked)
		},
		OnError: func(e protocol.Error) { fmt.Fprintf(out, "! %s: %s\n", e.Code, e.Message) },
	})
	if err != nil {
		return err
	}
	defer c.Close()

	syncer := playback.NewSynchronizer(player, tolerance, c.PublishState)
	player.OnEvent(syncer.OnPlayerEvent)
	c.Attach(syncer)

	if err := c.Join(room, name); err != nil {
		return err
	}
	fmt.Fprintf(out, "* joined %s as %s\n", room, name)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("connection closed by server")
		case line, ok := <-lines:
			if !ok {
				return c.Leave()
			}
			cmd, err := parseLine(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			if cmd.kind == cmdQuit {
				return c.Leave()
			}
			if err := cmd.apply(c, player, syncer.OnPlayerEvent); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

type commandKind int

const (
	cmdChat commandKind = iota
	cmdPlay
	cmdPause
	cmdSync
	cmdQuit
	cmdNone
)

type command struct {
	kind     commandKind
	text     string
	position float64
	source   string
}

func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdChat, text: line}, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return command{kind: cmdQuit}, nil
	case "/sync":
		return command{kind: cmdSync}, nil
	case "/play", "/pause":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("usage: %s <seconds>", fields[0])
		}
		pos, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || pos < 0 {
			return command{}, fmt.Errorf("invalid position %q", fields[1])
		}
		if fields[0] == "/pause" {
			return command{kind: cmdPause, position: pos}, nil
		}
		cmd := command{kind: cmdPlay, position: pos}
		if len(fields) > 2 {
			cmd.source = fields[2]
		}
		return cmd, nil
	}
	return command{}, fmt.Errorf("unknown command %s", fields[0])
}

// roomSender is the part of the client that local commands talk to.
type roomSender interface {
	SendMessage(text string) error
	RequestVideoState() error
	VideoAction(state domain.PlaybackState) error
}

// apply performs a local command. Playback commands run with the player's
// listener detached and then publish the resulting state as one frame.
func (c command) apply(room roomSender, player *playback.MemoryPlayer, listener func(playback.EventKind)) error {
	switch c.kind {
	case cmdChat:
		return room.SendMessage(c.text)
	case cmdSync:
		return room.RequestVideoState()
	case cmdPlay, cmdPause:
		player.OnEvent(nil)
		if c.kind == cmdPlay {
			if c.source != "" && c.source != player.Source() {
				player.Load(c.source)
			}
			player.Seek(c.position)
			player.Play()
		} else {
			player.Pause()
			player.Seek(c.position)
		}
		player.OnEvent(listener)
		return room.VideoAction(playback.Snapshot(player))
	}
	return nil
}
