package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/spf13/cobra"
)

// Flag variables.
var (
	profileFlag string
	jsonOut     bool
	timeout     time.Duration
	filePath    string
	caption     string
	background  bool
	distance    int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "parleyctl",
	Short:         "Control a running parleyd daemon",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "",
		"profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"per-request timeout")

	sendCmd.Flags().StringVarP(&filePath, "file", "f", "", "attach a file")
	sendBatchCmd.Flags().StringVarP(&caption, "caption", "c", "",
		"text sent after the files")
	viewportCmd.Flags().BoolVar(&background, "background", false,
		"report the window as not focused")
	viewportCmd.Flags().IntVar(&distance, "distance", 0,
		"scroll distance from the bottom of the timeline")

	callCmd.AddCommand(callStartCmd, callAcceptCmd, callRejectCmd, callEndCmd,
		callAckCmd, callStatusCmd, callVideoCmd, callAudioCmd)
	rootCmd.AddCommand(statusCmd, listCmd, openCmd, closeCmd, olderCmd,
		timelineCmd, sendCmd, sendBatchCmd, readCmd, viewportCmd, callCmd,
		watchCmd)
}

// connect dials the daemon of the selected profile.
func connect() (*control.Client, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := control.Dial(profile.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

// withClient runs fn against the daemon under the request timeout.
func withClient(fn func(ctx context.Context, c *control.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func parseContact(arg string) (domain.UserID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid contact id %q", arg)
	}
	return domain.UserID(id), nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay, profile and call status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(resp)
			}
			fmt.Printf("Profile: %s\n", resp.Profile)
			fmt.Printf("Self:    %s (%d)\n", resp.Self.DisplayName, resp.Self.ID)
			fmt.Printf("Relay:   %s\n", resp.Relay)
			fmt.Printf("Unread:  %d\n", resp.UnreadTotal)
			if resp.Active != nil {
				fmt.Printf("Open:    %s (%d)\n", resp.Active.DisplayName, resp.Active.ID)
			}
			fmt.Printf("Call:    %s\n", resp.Call)
			fmt.Printf("Uptime:  %s\n", time.Duration(resp.UptimeMs)*time.Millisecond)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "List conversations and contacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter string
		if len(args) == 1 {
			filter = args[0]
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.ListConversations(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(resp)
			}
			fmt.Println(resp.Title)
			if len(resp.View.Conversations) == 0 {
				fmt.Println("No conversations.")
			}
			for _, conv := range resp.View.Conversations {
				preview := ""
				if conv.LastMessage != nil {
					preview = conv.LastMessage.Preview()
				}
				fmt.Printf("%-6d %-20s %-7s %3d  %s\n", conv.Contact.ID,
					conv.Contact.DisplayName, conv.Contact.Presence, conv.UnreadCount, preview)
			}
			fmt.Printf("\nOnline:  %s\n", names(resp.View.Online))
			fmt.Printf("Offline: %s\n", names(resp.View.Offline))
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <contact-id>",
	Short: "Open the conversation with a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseContact(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.OpenConversation(ctx, id)
			if err != nil {
				return err
			}
			return printTimeline(resp)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.CloseConversation(ctx)
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older",
	Short: "Load the previous page of the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.LoadOlder(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(resp)
			}
			fmt.Printf("Loaded %d messages (more: %v)\n", resp.Added, resp.HasMore)
			return nil
		})
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Print the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.Timeline(ctx)
			if err != nil {
				return err
			}
			return printTimeline(resp)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send text and/or a file to the open conversation",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" && filePath == "" {
			return errors.New("nothing to send: give text or --file")
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.Send(ctx, text, filePath)
			if err != nil {
				return err
			}
			return printSend(resp)
		})
	},
}

var sendBatchCmd = &cobra.Command{
	Use:   "send-batch <path>...",
	Short: "Send several files, then an optional caption",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.SendBatch(ctx, args, caption)
			if err != nil {
				return err
			}
			return printSend(resp)
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Mark the open conversation as read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.MarkRead(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(resp)
			}
			if resp.Sent {
				fmt.Println("Read receipt sent.")
			} else {
				fmt.Println("Nothing unread.")
			}
			return nil
		})
	},
}

var viewportCmd = &cobra.Command{
	Use:   "viewport",
	Short: "Report window focus and scroll position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.ReportViewport(ctx, !background, distance)
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Video call actions",
}

func callAction(use, short string, fn func(*control.Client, context.Context) (*call.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *control.Client) error {
				st, err := fn(c, ctx)
				if err != nil {
					return err
				}
				return printCall(st)
			})
		},
	}
}

var (
	callAcceptCmd = callAction("accept", "Accept the ringing call", (*control.Client).AcceptCall)
	callRejectCmd = callAction("reject", "Reject the ringing call", (*control.Client).RejectCall)
	callEndCmd    = callAction("end", "Hang up", (*control.Client).EndCall)
	callAckCmd    = callAction("ack", "Dismiss an ended call", (*control.Client).AcknowledgeCall)
	callStatusCmd = callAction("status", "Show the call state", (*control.Client).CallStatus)
	callVideoCmd  = toggleAction("video", "Toggle the camera", (*control.Client).ToggleVideo)
	callAudioCmd  = toggleAction("audio", "Toggle the microphone", (*control.Client).ToggleAudio)
)

var callStartCmd = &cobra.Command{
	Use:   "start <contact-id>",
	Short: "Call a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseContact(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			st, err := c.StartCall(ctx, id)
			if err != nil {
				return err
			}
			return printCall(st)
		})
	},
}

func toggleAction(use, short string, fn func(*control.Client, context.Context) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *control.Client) error {
				on, err := fn(c, ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(control.ToggleReply{On: on})
				}
				state := "off"
				if on {
					state = "on"
				}
				fmt.Printf("%s %s\n", use, state)
				return nil
			})
		},
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch [topic-prefix]",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		stream, err := c.WatchEvents(ctx, prefix)
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if jsonOut {
				if err := outputJSON(evt); err != nil {
					return err
				}
				continue
			}
			at := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
			fmt.Printf("%s %-28s %s\n", at, evt.Topic, evt.Payload)
		}
	},
}

func printTimeline(resp *control.TimelineReply) error {
	if jsonOut {
		return outputJSON(resp)
	}
	if resp.Contact != nil {
		fmt.Printf("== %s (%d) ==\n", resp.Contact.DisplayName, resp.Contact.ID)
	}
	if resp.HasMore {
		fmt.Println("(older messages available)")
	}
	for i := range resp.Messages {
		printMessage(&resp.Messages[i])
	}
	return nil
}

func printSend(resp *control.SendReply) error {
	if jsonOut {
		return outputJSON(resp)
	}
	for i := range resp.Messages {
		printMessage(&resp.Messages[i])
	}
	if !resp.OK {
		return errors.New("send failed")
	}
	return nil
}

func printMessage(m *domain.Message) {
	mark := ""
	switch {
	case m.Delivery == domain.Failed:
		mark = " !"
	case m.Delivery == domain.Pending:
		mark = " …"
	case m.IsRead():
		mark = " ✓✓"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.SentAt.Local().Format("2006-01-02 15:04"),
		m.From.DisplayName, m.Preview(), mark)
}

func printCall(st *call.Status) error {
	if jsonOut {
		return outputJSON(st)
	}
	fmt.Printf("State:  %s\n", st.State)
	if st.Reason != "" {
		fmt.Printf("Reason: %s\n", st.Reason)
	}
	if st.Peer.ID != 0 {
		fmt.Printf("Peer:   %s (%d)\n", st.Peer.DisplayName, st.Peer.ID)
	}
	fmt.Printf("Local:  video=%v audio=%v tracks=%d\n", st.Local.Video, st.Local.Audio, st.LocalTracks)
	fmt.Printf("Remote: video=%v audio=%v tracks=%d\n", st.Remote.Video, st.Remote.Audio, st.RemoteTracks)
	return nil
}

func names(contacts []domain.Contact) string {
	if len(contacts) == 0 {
		return "-"
	}
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.DisplayName)
	}
	return strings.Join(out, ", ")
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
