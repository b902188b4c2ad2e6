package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	persistlog "blockstage.ai/internal/persistence/log"
	"blockstage.ai/internal/sim/stage"
)

func main() {
	var (
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		actorID   = flag.String("actor", "", "only audit this actor (optional)")
		cooldown  = flag.Duration("cooldown", time.Second, "minimum spacing expected between collision swaps")
		verbose   = flag.Bool("v", false, "print every event")
	)
	flag.Parse()

	if *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -events")
		os.Exit(2)
	}

	files, err := persistlog.ListEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	a := newAuditor(*cooldown)
	for _, path := range files {
		err := persistlog.ReadEventFile(path, func(ev stage.Event) error {
			if *actorID != "" && ev.ActorID != *actorID && ev.PeerID != *actorID {
				return nil
			}
			if *verbose {
				fmt.Printf("%s %s %s %s\n", ev.Time.Format(time.RFC3339Nano), ev.Type, ev.ActorID, describe(ev))
			}
			a.observe(ev)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Println("--", filepath.Base(path))
		}
	}

	s := a.summary()
	fmt.Printf("events=%d runs=%d finished=%d aborted=%d skipped=%d collisions=%d open=%d\n",
		s.Events, s.Runs, s.Finished, s.Aborted, s.Skipped, s.Collisions, s.Open)
	for reason, n := range s.AbortReasons {
		fmt.Printf("  aborted %s=%d\n", reason, n)
	}
	if len(s.Violations) > 0 {
		for _, v := range s.Violations {
			fmt.Fprintln(os.Stderr, "violation:", v)
		}
		os.Exit(1)
	}
	fmt.Println("replay ok")
}

func describe(ev stage.Event) string {
	switch ev.Type {
	case stage.EventCollisionSwap:
		return fmt.Sprintf("<-> %s distance=%.1f", ev.PeerID, ev.Distance)
	case stage.EventRunAborted:
		return fmt.Sprintf("run=%s reason=%s", ev.RunID, ev.Reason)
	case stage.EventInstructionSkipped:
		return fmt.Sprintf("run=%s kind=%s", ev.RunID, ev.Kind)
	default:
		return fmt.Sprintf("run=%s token=%d", ev.RunID, ev.Token)
	}
}
