package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/engine"
	"main/internal/gateway"
	"main/internal/journal"
	"main/internal/notify"
	"main/internal/ops"
	"main/internal/reconcile"
	"main/internal/registry"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/stream"
	"main/pkg/websocket"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const loopInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logs.Errorf("trader: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	if loaded.Profile.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "options-trader",
			ServerAddress:   loaded.Profile.ServerURL,
			Tags:            map[string]string{"bot": loaded.BotID},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Warnf("pyroscope start failed, continuing without profiling: %v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := broker.New(loaded.Broker, nil)
	if err := client.Authenticate(ctx); err != nil {
		return err
	}
	balances, err := client.AccountBalances(ctx)
	if err != nil {
		return err
	}
	logs.Infof("connected as %s: equity %s, option bp %s",
		loaded.Broker.AccountID, balances.TotalEquity, balances.OptionBP)

	cache := stream.NewCache()
	var listener *stream.Listener
	if loaded.StreamURL != "" {
		dialer, err := websocket.NewDialer(loaded.StreamURL, nil)
		if err != nil {
			return err
		}
		listener = stream.NewListener(dialer, cache, []string{loaded.Underlying})
		go listener.Run(ctx)
	} else {
		listener = stream.NewListener(nil, cache, nil)
		logs.Warn("no stream url configured, quotes served by REST fallback only")
	}
	quotes := stream.NewQuotes(cache, listener, client)

	brk := breaker.New(loaded.Breaker)
	notifier := notify.NewLog()
	eng := engine.New(loaded.Engine, gateway.New(client), quotes, brk, engine.CreditStop{}, notifier)

	store := state.NewStore(loaded.SnapshotPath)
	if snap, found, err := store.Load(); err != nil {
		return err
	} else if found {
		eng.Restore(snap.Groups)
		eng.RestoreOrphans(snap.Orphans)
		brk.Restore(snap.Breaker)
	}

	jrnl, err := journal.Open(loaded.BotID, loaded.JournalDSN)
	if err != nil {
		logs.Warnf("journal unavailable, continuing without it: %v", err)
	}
	defer func() { _ = jrnl.Close() }()

	reg := registry.New(loaded.RegistryPath)
	eng.OnClosed = func(group *schema.PositionGroup, result engine.CloseResult) {
		for _, leg := range group.Legs {
			if err := reg.Release(ctx, leg.Spec.Symbol, loaded.BotID); err != nil {
				logs.Warnf("registry release %s failed: %v", leg.Spec.Symbol, err)
			}
		}
		jrnl.RecordClose(group, result.Debit, result.Realized)
	}

	rec := reconcile.New(loaded.Reconcile, client, reg, eng, notifier)
	rec.OnOrphan = func(symbol string) {
		jrnl.RecordOrphan(symbol, "position without registry owner")
	}

	// startup pass before any trading decision
	if report, err := rec.RunOnce(ctx); err != nil {
		logs.Errorf("startup reconciliation failed: %v", err)
	} else if !report.Clean() {
		logs.Warnf("startup reconciliation: %d orphans, %d missing legs",
			len(report.Orphans), len(report.MissingLegs))
	}

	// Strategy collaborators register a planner here; without one the
	// process manages existing positions only.
	var planner engine.LegPlanner

	// one control loop per process; the flag keeps a slow iteration from
	// being re-entered by the next tick
	var inProgress atomic.Bool
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	logs.Infof("trader %s running on %s, %d groups restored",
		loaded.BotID, loaded.Underlying, len(eng.Groups()))

	for {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal, persisting state")
			saveSnapshot(store, loaded.BotID, eng, brk)
			return nil

		case <-ticker.C:
			if !inProgress.CompareAndSwap(false, true) {
				continue
			}
			iterate(ctx, loaded, eng, rec, reg, planner)
			saveSnapshot(store, loaded.BotID, eng, brk)
			inProgress.Store(false)
		}
	}
}

// iterate is one control-loop pass: drain any pending emergency close, run
// reconciliation when due, evaluate stops, and only then consider a new
// entry.
func iterate(ctx context.Context, loaded ops.Loaded, eng *engine.Engine, rec *reconcile.Reconciler, reg *registry.Registry, planner engine.LegPlanner) {
	eng.DrainEmergency(ctx)

	if rec.Due(time.Now()) {
		if _, err := rec.RunOnce(ctx); err != nil {
			logs.Errorf("reconciliation failed: %v", err)
		}
	}

	eng.MonitorStops(ctx)

	if planner == nil || len(eng.OpenGroups()) > 0 {
		return
	}
	plan, err := planner.Plan(engine.Signal{Underlying: loaded.Underlying})
	if err != nil {
		logs.Warnf("planner declined: %v", err)
		return
	}
	group, err := eng.Enter(ctx, plan)
	if err != nil {
		logs.Warnf("entry failed: %v", err)
		return
	}
	claimLegs(ctx, reg, loaded.BotID, group)
}

// claimLegs records ownership of every filled leg in the shared registry.
// A conflict here means another process raced us into the same contract;
// reconciliation surfaces it next cycle.
func claimLegs(ctx context.Context, reg *registry.Registry, botID string, group *schema.PositionGroup) {
	for _, leg := range group.FilledLegs() {
		err := reg.Claim(ctx, registry.Entry{
			Key:        leg.Spec.Symbol,
			Owner:      botID,
			StrategyID: group.StrategyID,
			Meta:       map[string]string{"group_id": strconv.FormatUint(group.ID, 10)},
		})
		if err != nil {
			logs.Errorf("registry claim %s failed: %v", leg.Spec.Symbol, err)
		}
	}
}

func saveSnapshot(store *state.Store, botID string, eng *engine.Engine, brk *breaker.Breaker) {
	snap := state.Snapshot{
		SavedAt: time.Now(),
		BotID:   botID,
		Groups:  eng.Groups(),
		Orphans: eng.OrphanedTickets(),
		Breaker: brk.Standing(),
	}
	if err := store.Save(snap); err != nil {
		logs.Errorf("snapshot save failed: %v", err)
	}
}
