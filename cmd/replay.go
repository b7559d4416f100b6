package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tarunvoff/apiris-sdk/pipeline"
	"github.com/Tarunvoff/apiris-sdk/pipeline/advisory"
	"github.com/Tarunvoff/apiris-sdk/store"
	"github.com/Tarunvoff/apiris-sdk/workload"
)

var (
	replaySeed     int64   // Seed controlling all synthetic randomness
	replayRequests int     // Number of synthetic requests
	replayRate     float64 // Synthetic arrival rate (req/s)
	eventsOut      string  // Optional JSONL decision event output
)

// replayCmd drives deterministic synthetic traffic through the pipeline
// and reports the decision mix.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay synthetic traffic through the decision pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logrus.Fatalf("unable to load config: %v", err)
		}

		opts := []pipeline.EngineOption{}
		var sink *store.JSONLStore
		var emitter *pipeline.Emitter
		if eventsOut != "" {
			sink, err = store.Open(eventsOut)
			if err != nil {
				logrus.Fatalf("unable to open event store: %v", err)
			}
			emitter = pipeline.NewEmitter(cfg.Events.Buffer)
			opts = append(opts, pipeline.WithEmitter(emitter))
		}
		if cfg.Advisory.DataPath != "" {
			table, err := advisory.Load(cfg.Advisory.DataPath)
			if err != nil {
				logrus.Fatalf("unable to load advisory table: %v", err)
			}
			opts = append(opts, pipeline.WithAdvisoryTable(table))
		}

		engine, err := pipeline.NewEngine(cfg, opts...)
		if err != nil {
			logrus.Fatalf("unable to build engine: %v", err)
		}

		done := make(chan struct{})
		if sink != nil {
			go func() {
				sink.Consume(emitter)
				close(done)
			}()
		}

		logrus.Infof("Starting replay: %d requests, seed=%d", replayRequests, replaySeed)
		start := time.Now()

		gen := workload.NewGenerator(replaySeed, replayRate, nil)
		counts := map[pipeline.ActionTag]int{}
		var scoreSum float64
		for i := 0; i < replayRequests; i++ {
			sample := gen.Next()
			pre, err := engine.DecideBefore(sample.Descriptor)
			if err != nil {
				logrus.Warnf("skipping request %d: %v", i, err)
				continue
			}
			bundle := engine.DecideAfter(sample.Descriptor, pre, sample.Outcome)
			counts[bundle.Action]++
			scoreSum += bundle.AnomalyScore
			logrus.Debugf("%s %s -> %s (score %.2f)", sample.Descriptor.Method, pre.EndpointKey, bundle.Action, bundle.AnomalyScore)
		}

		engine.Close()
		if sink != nil {
			<-done
			if err := sink.Close(); err != nil {
				logrus.Warnf("closing event store: %v", err)
			}
			logrus.Infof("Wrote %d decision events to %s", sink.Count(), eventsOut)
		}

		total := counts[pipeline.ActionProceed] + counts[pipeline.ActionNotice] + counts[pipeline.ActionWarn]
		logrus.Infof("Replay complete in %s: PROCEED=%d NOTICE=%d WARN=%d mean_score=%.3f",
			time.Since(start).Round(time.Millisecond),
			counts[pipeline.ActionProceed], counts[pipeline.ActionNotice], counts[pipeline.ActionWarn],
			scoreSum/float64(max(total, 1)))
	},
}

func init() {
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 42, "master seed for synthetic traffic")
	replayCmd.Flags().IntVar(&replayRequests, "requests", 500, "number of synthetic requests")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 20, "synthetic arrival rate (req/s)")
	replayCmd.Flags().StringVar(&eventsOut, "events-out", "", "write decision events to this JSONL file")
}
