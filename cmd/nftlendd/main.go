package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"nftlend/config"
	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/native/liquidation"
	"nftlend/native/loan"
	"nftlend/native/otc"
	"nftlend/native/pool"
	"nftlend/native/vault"
	"nftlend/observability/logging"
	"nftlend/observability/metrics"
	"nftlend/rpc"
	"nftlend/state"
	"nftlend/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("nftlendd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	deployment, err := config.LoadDeployment(cfg.DeploymentFile, cfg.Environment)
	if err != nil {
		logger.Error("load deployment manifest", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	collector := events.NewCollector(4096)
	emitter := &recordingEmitter{collector: collector, metrics: metrics.Protocol()}

	poolEngine, err := buildPool(cfg, deployment, manager, emitter)
	if err != nil {
		logger.Error("configure pool engine", "error", err)
		os.Exit(1)
	}
	vaultEngine, err := buildVault(cfg, deployment, manager, emitter)
	if err != nil {
		logger.Error("configure vault engine", "error", err)
		os.Exit(1)
	}

	liquidationEngine := liquidation.NewEngine(deployment.Owner, deployment.Contract(config.ContractLiquidations))
	liquidationEngine.SetState(manager)
	liquidationEngine.SetEmitter(emitter)
	liquidationEngine.SetPool(poolEngine)
	liquidationEngine.SetVault(vaultEngine)
	liquidationEngine.SetPeriods(cfg.Liquidation.GracePeriodSeconds, cfg.Liquidation.LenderPeriodSeconds)

	domain := loan.Domain{
		Name:              cfg.Loan.DomainName,
		Version:           cfg.Loan.DomainVersion,
		ChainID:           cfg.Loan.ChainID,
		VerifyingContract: deployment.Contract(config.ContractLoans),
	}
	loanEngine := loan.NewEngine(deployment.Owner, deployment.Contract(config.ContractLoans), deployment.Asset, deployment.OfferSigner, domain)
	loanEngine.SetState(manager)
	loanEngine.SetEmitter(emitter)
	loanEngine.SetPool(poolEngine)
	loanEngine.SetVault(vaultEngine)
	loanEngine.SetLiquidationOpener(liquidationEngine)
	loanEngine.SetAccrual(cfg.Loan.MinInterestSeconds, cfg.Loan.AccrualPeriodSeconds)

	otcEngine := otc.NewEngine(deployment.Owner, deployment.Contract(config.ContractOTCFactory))
	otcEngine.SetState(manager)
	otcEngine.SetEmitter(emitter)
	otcEngine.SetClaimer(liquidationEngine)

	loanAddr := deployment.Contract(config.ContractLoans)
	liqAddr := deployment.Contract(config.ContractLiquidations)
	if err := errors.Join(
		poolEngine.AuthorizeController(deployment.Owner, loanAddr),
		poolEngine.AuthorizeController(deployment.Owner, liqAddr),
		vaultEngine.SetLoanController(deployment.Owner, deployment.Asset, loanAddr),
		vaultEngine.SetLiquidationController(deployment.Owner, liqAddr),
		liquidationEngine.AuthorizeLoanController(deployment.Owner, loanAddr),
	); err != nil {
		logger.Error("wire controllers", "error", err)
		os.Exit(1)
	}

	authToken := ""
	if cfg.RPCAuthTokenEnv != "" {
		authToken = os.Getenv(cfg.RPCAuthTokenEnv)
		if authToken == "" {
			logger.Warn("rpc auth token env is set but empty; admin endpoints disabled", "env", cfg.RPCAuthTokenEnv)
		}
	}

	server := rpc.NewServer(poolEngine, loanEngine, liquidationEngine, otcEngine, vaultEngine, rpc.Options{
		Collector:      collector,
		Logger:         logger,
		AuthToken:      authToken,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	logger.Info("starting nftlendd", "pool", cfg.Pool.ID, "environment", cfg.Environment)
	if err := server.Serve(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
}

func buildPool(cfg *config.Config, deployment *config.Deployment, manager *state.Manager, emitter events.Emitter) (*pool.Engine, error) {
	engine := pool.NewEngine(deployment.Owner, deployment.Contract(config.ContractPool))
	engine.SetState(manager)
	engine.SetEmitter(emitter)
	engine.SetPoolID(cfg.Pool.ID)
	engine.SetControls(&pool.Controls{
		MaxPoolShareBps:      cfg.Pool.MaxPoolShareBps,
		LockPeriodSeconds:    cfg.Pool.LockPeriodSeconds,
		MaxLoansPoolShareBps: cfg.Pool.MaxLoansPoolShareBps,
	})

	existing, err := manager.GetPool(cfg.Pool.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if _, err := engine.CreatePool(deployment.Owner, cfg.Pool.ID, deployment.Asset, deployment.ProtocolWallet, cfg.Pool.ProtocolFeeBps, cfg.Pool.MaxCapitalEfficiencyBps); err != nil {
			return nil, err
		}
		if cfg.Pool.WhitelistEnabled {
			if err := engine.SetWhitelistEnabled(deployment.Owner, true); err != nil {
				return nil, err
			}
		}
	}
	return engine, nil
}

func buildVault(cfg *config.Config, deployment *config.Deployment, manager *state.Manager, emitter events.Emitter) (*vault.Engine, error) {
	engine := vault.NewEngine(deployment.Owner, deployment.Contract(config.ContractVault))
	engine.SetState(manager)
	engine.SetEmitter(emitter)
	for collection, kind := range deployment.Collections {
		backend := vault.BackendStandard
		if kind == "punk" {
			backend = vault.BackendPunk
		}
		if err := engine.RegisterCollection(deployment.Owner, collection, backend); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// recordingEmitter forwards events to the collector and mirrors the ones with
// operational value into Prometheus.
type recordingEmitter struct {
	collector *events.Collector
	metrics   *metrics.ProtocolMetrics
}

type eventPayload interface {
	Event() *types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.collector.Emit(evt)

	var attrs map[string]string
	if payload, ok := evt.(eventPayload); ok && payload.Event() != nil {
		attrs = payload.Event().Attributes
	}
	switch evt.EventType() {
	case pool.EventTypeDeposit:
		r.metrics.ObserveDeposit(attrs["poolId"])
		r.recordPoolFunds(attrs)
	case pool.EventTypeWithdraw:
		r.metrics.ObserveWithdrawal(attrs["poolId"])
		r.recordPoolFunds(attrs)
	case pool.EventTypeFundsSent:
		r.recordPoolFunds(attrs)
	case pool.EventTypeFundsReceived:
		r.recordPoolFunds(attrs)
		if rewards, err := strconv.ParseFloat(attrs["rewardsPool"], 64); err == nil {
			r.metrics.ObserveRewards(attrs["fundsOrigin"], rewards)
		}
	case loan.EventTypeLoanStarted:
		r.metrics.ObserveLoanStarted()
	case loan.EventTypeLoanPaid:
		r.metrics.ObserveLoanPaid()
	case loan.EventTypeLoanDefaulted:
		r.metrics.ObserveLoanDefaulted()
	case liquidation.EventTypeLiquidationSettled:
		r.metrics.ObserveLiquidationSettled(attrs["method"])
	}
}

func (r *recordingEmitter) recordPoolFunds(attrs map[string]string) {
	available, errA := strconv.ParseFloat(attrs["fundsAvailable"], 64)
	invested, errI := strconv.ParseFloat(attrs["fundsInvested"], 64)
	if errA != nil || errI != nil {
		return
	}
	r.metrics.SetPoolFunds(attrs["poolId"], available, invested)
}
