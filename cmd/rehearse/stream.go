package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/protocol"
)

type streamFlags struct {
	url      string
	token    string
	scenario string
	pattern  string
}

func newStreamCmd(g *globals) *cobra.Command {
	f := &streamFlags{}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a synthetic microphone to a running server",
		Long: `Connects to a server's practice websocket, starts a session and streams
synthetic microphone audio in real time until the record arrives.`,
		Example: `  rehearse stream --url ws://localhost:8080/ws/practice --token $TOKEN --scenario intro`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runStream(ctx, cfg, f)
		},
	}

	cmd.Flags().StringVarP(&f.url, "url", "u", "ws://localhost:8080/ws/practice", "practice websocket URL")
	cmd.Flags().StringVarP(&f.token, "token", "t", "", "bearer token (empty connects as guest)")
	cmd.Flags().StringVarP(&f.scenario, "scenario", "s", "casual", "scenario id")
	cmd.Flags().StringVarP(&f.pattern, "pattern", "p", "speech:4s,silence:1s", "synthetic speech pattern")
	return cmd
}

// streamClient serializes writes to a practice connection.
type streamClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamClient) send(msg *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func runStream(ctx context.Context, cfg *config.Config, f *streamFlags) error {
	segments, err := parsePattern(f.pattern)
	if err != nil {
		return err
	}

	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s", f.url, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()
	client := &streamClient{conn: conn}
	logger := log.Component("stream")

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.BackendMock
	audioCfg.SampleRate = cfg.Audio.SampleRate
	src := audioio.NewMockSource(audioCfg, logger, audioio.WithPattern(true, segments...))
	defer src.Close()

	if err := client.send(protocol.NewStartMessage(f.scenario, false)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- readStream(conn, started)
		cancel()
	}()

	select {
	case <-started:
	case <-ctx.Done():
		return <-result
	case <-time.After(10 * time.Second):
		return fmt.Errorf("no response from server")
	}

	if err := src.Start(ctx); err != nil {
		return err
	}
	stream := src.Stream()
	for {
		select {
		case <-ctx.Done():
			client.send(protocol.NewStopMessage())
			select {
			case err := <-result:
				return err
			case <-time.After(2 * time.Second):
				return ctx.Err()
			}
		case chunk, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			if err := client.send(protocol.NewMicMessage(chunk.Bytes(), chunk.SampleRate, chunk.Channels)); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

// readStream prints server messages until the record arrives, a fatal
// error is reported or the connection drops.
func readStream(conn *websocket.Conn, started chan<- struct{}) error {
	lastLeft, running := -1, false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case protocol.TypeStarted:
			d, err := msg.GetStartedData()
			if err != nil {
				return err
			}
			fmt.Printf("Session %s: %s (%ds)\n", d.SessionID, d.Scenario.Title, d.TimeLeft)
			fmt.Println(d.Scenario.Text)
			fmt.Println()
			if !running {
				running = true
				close(started)
			}

		case protocol.TypeScore:
			d, err := msg.GetScoreData()
			if err != nil || d.TimeLeft == lastLeft {
				continue
			}
			lastLeft = d.TimeLeft
			state := "silent"
			if d.Audio.Speaking {
				state = "speaking"
			}
			fmt.Printf("  %3ds  score %3d  %s\n", d.TimeLeft, d.Score, state)

		case protocol.TypeRecord:
			rec, err := msg.GetRecord()
			if err != nil {
				return err
			}
			printRecord(*rec)
			return nil

		case protocol.TypeError:
			d, err := msg.GetErrorData()
			if err != nil {
				return err
			}
			if d.Fatal || !running || d.Code == protocol.CodeSessionAborted {
				return fmt.Errorf("%s: %s", d.Code, d.Message)
			}
			fmt.Fprintf(os.Stderr, "server: %s: %s\n", d.Code, d.Message)
		}
	}
}
