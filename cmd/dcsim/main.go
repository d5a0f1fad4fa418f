// dcsim runs consensus-protocol experiments on the discrete-event
// simulator: a single configured run, or a packet-loss sweep, with
// optional leader-crash injection, CSV export and a bolt results
// archive.
//
// Usage:
//
//	dcsim -config run.yaml
//	dcsim -protocol primary_backup -crash
//	dcsim -sweep 0,0.01,0.05,0.1 -csv results.csv -db runs.db
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"dcsim/internal/benchmark"
	"dcsim/internal/config"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML run configuration (defaults apply if empty)")
		protocol = flag.String("protocol", "", "override the configured protocol")
		seed     = flag.Uint64("seed", 0, "override the configured seed (0 keeps it)")
		crash    = flag.Bool("crash", false, "crash the lead node a third of the way in")
		sweep    = flag.String("sweep", "", "comma-separated packet loss rates to sweep")
		csvPath  = flag.String("csv", "", "write results to this CSV file")
		dbPath   = flag.String("db", "", "archive results in this bolt database")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("dcsim: %v", err)
		}
		cfg = loaded
	}
	if *protocol != "" {
		cfg.Protocol = *protocol
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	lossRates := []float64{cfg.Network.PacketLossRate}
	if *sweep != "" {
		lossRates = nil
		for _, s := range strings.Split(*sweep, ",") {
			rate, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				log.Fatalf("dcsim: bad sweep value %q: %v", s, err)
			}
			lossRates = append(lossRates, rate)
		}
	}

	var results []benchmark.Result
	for _, loss := range lossRates {
		run := cfg
		run.Network.PacketLossRate = loss
		res, err := benchmark.Run(run, benchmark.Registry(run), *crash)
		if err != nil {
			log.Fatalf("dcsim: run failed: %v", err)
		}
		printResult(res)
		results = append(results, res)
	}

	if *csvPath != "" {
		if err := benchmark.WriteCSV(*csvPath, results); err != nil {
			log.Fatalf("dcsim: %v", err)
		}
		log.Printf("dcsim: wrote %d result(s) to %s", len(results), *csvPath)
	}
	if *dbPath != "" {
		store, err := benchmark.OpenStore(*dbPath)
		if err != nil {
			log.Fatalf("dcsim: %v", err)
		}
		defer store.Close()
		for _, res := range results {
			if err := store.Save(res); err != nil {
				log.Fatalf("dcsim: %v", err)
			}
		}
		log.Printf("dcsim: archived %d result(s) in %s", len(results), *dbPath)
	}
}

func printResult(r benchmark.Result) {
	fmt.Printf("%s  nodes=%d loss=%.1f%% crash=%v\n", r.Protocol, r.NumNodes, r.PacketLoss*100, r.Crashed)
	fmt.Printf("  requests=%d commits=%d aborts=%d commit_rate=%.3f\n",
		r.Requests, r.Commits, r.Aborts, r.CommitRate)
	fmt.Printf("  messages=%d dropped=%d sync_violations=%d\n",
		r.MessagesSent, r.Dropped, r.SyncViolations)
	fmt.Printf("  t=%.1fms tps=%.1f latency avg=%.2fms p95=%.2fms p99=%.2fms\n",
		r.Duration, r.ThroughputTPS, r.Latency.Avg, r.Latency.P95, r.Latency.P99)
}
