package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/coach"
	"github.com/teslashibe/go-rehearse/pkg/inference"
	"github.com/teslashibe/go-rehearse/pkg/server"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

type simulateFlags struct {
	scenario   string
	pattern    string
	seconds    int
	speed      float64
	user       string
	save       bool
	feedback   bool
	selfRating int
	jsonOut    bool
}

func newSimulateCmd(g *globals) *cobra.Command {
	f := &simulateFlags{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a session offline against a synthetic microphone",
		Long: `Runs a full session with a synthetic microphone that follows a speech
pattern, then prints the record and coaching feedback.

The pattern is a comma-separated list of speech:DURATION and
silence:DURATION segments, repeated until the timer ends.`,
		Example: `  rehearse simulate --scenario project --pattern speech:4s,silence:2s --speed 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runSimulate(ctx, cfg, f)
		},
	}

	cmd.Flags().StringVarP(&f.scenario, "scenario", "s", "casual", "scenario id")
	cmd.Flags().StringVarP(&f.pattern, "pattern", "p", "speech:4s,silence:1s", "synthetic speech pattern")
	cmd.Flags().IntVar(&f.seconds, "seconds", 0, "override the scenario duration")
	cmd.Flags().Float64Var(&f.speed, "speed", 1, "time acceleration factor")
	cmd.Flags().StringVar(&f.user, "user", store.GuestUser, "user the record belongs to")
	cmd.Flags().BoolVar(&f.save, "save", false, "save the record to the configured store")
	cmd.Flags().BoolVar(&f.feedback, "feedback", true, "generate coaching feedback")
	cmd.Flags().IntVar(&f.selfRating, "self-rating", coach.DefaultSelfRating, "self-assessed confidence, 1-5")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the record and feedback as JSON")
	return cmd
}

func runSimulate(ctx context.Context, cfg *config.Config, f *simulateFlags) error {
	if f.speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", f.speed)
	}
	segments, err := parsePattern(f.pattern)
	if err != nil {
		return err
	}

	catalog, err := session.LoadCatalog(cfg.Server.ScenariosFile)
	if err != nil {
		return err
	}
	scenario, ok := catalog.Find(f.scenario)
	if !ok {
		return fmt.Errorf("unknown scenario %q", f.scenario)
	}
	if f.seconds > 0 {
		scenario.Seconds = f.seconds
	}

	opts := server.OptionsFromConfig(*cfg, version)
	scale := func(d time.Duration) time.Duration {
		return time.Duration(float64(d) / f.speed)
	}

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.BackendMock
	audioCfg.SampleRate = cfg.Audio.SampleRate
	src := audioio.NewMockSource(audioCfg, log.L(),
		audioio.WithPattern(true, segments...),
		audioio.WithInterval(scale(audioCfg.BufferDuration)),
	)

	var st store.Store
	if f.save {
		st, err = store.New(ctx, cfg.Store, log.L())
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var recorder session.Recorder
	var baseline session.BaselineSource
	if st != nil {
		recorder, baseline = st, st
	}

	fusion := opts.Fusion
	fusion.TickInterval = scale(fusion.TickInterval)
	fusion.SilenceGrace = scale(fusion.SilenceGrace)

	var lastLeft atomic.Int64
	lastLeft.Store(-1)
	sess := session.New(f.user, scenario, session.Deps{
		Audio:      src,
		Aggregator: session.NewAggregator(baseline, cfg.Session.BaselineCategory, log.L()),
		Store:      recorder,
		Activity:   opts.Activity,
		Face:       opts.Face,
		Fusion:     fusion,
		Countdown:  scale(time.Second),
		OnUpdate: func(u session.Update) {
			if f.jsonOut || int64(u.TimeLeft) == lastLeft.Swap(int64(u.TimeLeft)) {
				return
			}
			state := "silent"
			if u.Audio.Speaking {
				state = "speaking"
			}
			fmt.Printf("  %3ds  score %3d  %s\n", u.TimeLeft, u.Score, state)
		},
		OnNotice: func(msg string) { fmt.Println("  !", msg) },
		Logger:   log.L(),
	})

	if !f.jsonOut {
		fmt.Printf("Scenario: %s (%ds, %s)\n", scenario.Title, scenario.Seconds, scenario.Category)
		fmt.Println(scenario.Text)
		fmt.Println()
	}

	rec, err := sess.Run(ctx)
	if err != nil && rec.ID == "" {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	var fb *coach.Feedback
	if f.feedback {
		provider, perr := inference.New(cfg.Inference, log.L())
		if perr != nil {
			return perr
		}
		if provider != nil {
			defer provider.Close()
		}
		out := coach.New(provider, log.L()).Generate(ctx, coach.Request{Record: rec, SelfRating: f.selfRating})
		fb = &out
	}

	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Record   session.Record  `json:"record"`
			Feedback *coach.Feedback `json:"feedback,omitempty"`
		}{rec, fb})
	}

	printRecord(rec)
	if fb != nil {
		printFeedback(*fb)
	}
	return nil
}

// parsePattern parses "speech:4s,silence:1s" into segments.
func parsePattern(pattern string) ([]audioio.Segment, error) {
	var segments []audioio.Segment
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, dur, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("pattern segment %q: expected kind:duration", part)
		}
		d, err := time.ParseDuration(dur)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("pattern segment %q: invalid duration", part)
		}
		switch strings.ToLower(kind) {
		case "speech", "speak":
			segments = append(segments, audioio.Speech(d))
		case "silence", "pause":
			segments = append(segments, audioio.Silence(d))
		default:
			return nil, fmt.Errorf("pattern segment %q: unknown kind %q", part, kind)
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	return segments, nil
}

func printRecord(r session.Record) {
	fmt.Println()
	fmt.Printf("Average confidence  %3.0f\n", r.AvgConfidence)
	fmt.Printf("Minimum confidence  %3.0f\n", r.MinConfidence)
	fmt.Printf("Variance            %6.2f\n", r.ConfidenceVariance)
	fmt.Printf("Silence ratio       %5.1f%%\n", r.SilenceRatio*100)
	fmt.Printf("Long pauses         %d\n", r.LongPauseCount)
	fmt.Printf("Speech bursts       %d\n", r.SpeechBursts)
	if r.DeltaConfidenceVsBaseline != nil {
		fmt.Printf("Vs. casual baseline %+.0f\n", *r.DeltaConfidenceVsBaseline)
	}
	if r.NeverSpoke {
		fmt.Println("No speech was detected.")
	}
}

func printFeedback(fb coach.Feedback) {
	fmt.Println()
	fmt.Println(fb.Summary)
	for _, tip := range fb.Tips {
		fmt.Println("  -", tip)
	}
	if len(fb.Signals) > 0 {
		names := make([]string, len(fb.Signals))
		for i, s := range fb.Signals {
			names[i] = string(s)
		}
		fmt.Println("Signals:", strings.Join(names, ", "))
	}
}
