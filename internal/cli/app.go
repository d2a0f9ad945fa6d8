package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/batch"
	"github.com/clawinfra/toolgate/internal/breaker"
	"github.com/clawinfra/toolgate/internal/config"
	"github.com/clawinfra/toolgate/internal/gateway"
	"github.com/clawinfra/toolgate/internal/profile"
	"github.com/clawinfra/toolgate/internal/security"
	"github.com/clawinfra/toolgate/internal/significance"
	"github.com/clawinfra/toolgate/internal/workflow"
)

// buildOptions select the optional audit mirrors.
type buildOptions struct {
	// mqtt connects the MQTT publisher. Only long-running modes use it.
	mqtt bool
	// mqttFactory replaces the paho client in tests.
	mqttFactory func(cfg audit.MQTTConfig, logger *slog.Logger) *audit.MQTTPublisher
}

// app holds the runtime components shared by every command.
type app struct {
	logger   *slog.Logger
	sink     *audit.Sink
	sqlite   *audit.SQLiteMirror
	mqtt     *audit.MQTTPublisher
	store    *profile.Store
	resource *gateway.ResourceLayer
	consent  *breaker.ConsentStore
	gateway  *gateway.Gateway

	cfg *config.Config

	mu       sync.RWMutex
	context  string
	approver *breaker.AutoApprover
	rules    *batch.RuleClassifier
}

// build wires every component from cfg. The profile is loaded once.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts buildOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, context: cfg.Profile.Context}

	sinkOpts := []audit.Option{redactor(cfg)}
	if cfg.Audit.SQLitePath != "" {
		m, err := audit.NewSQLiteMirror(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.sqlite = m
		sinkOpts = append(sinkOpts, audit.WithMirror(m))
	}
	if opts.mqtt && cfg.Audit.MQTT.Enabled {
		mcfg := audit.MQTTConfig{
			Broker:   cfg.Audit.MQTT.Broker,
			ClientID: fmt.Sprintf("toolgate-%d", time.Now().UnixNano()),
			Username: cfg.Audit.MQTT.Username,
			Password: cfg.Audit.MQTT.Password,
			Topic:    cfg.Audit.MQTT.Topic,
			Events:   cfg.Audit.MQTT.Events,
		}
		newPub := opts.mqttFactory
		if newPub == nil {
			newPub = audit.NewMQTTPublisher
		}
		pub := newPub(mcfg, logger)
		if err := pub.Connect(); err != nil {
			logger.Warn("audit MQTT mirror disabled", "broker", mcfg.Broker, "error", err)
		} else {
			a.mqtt = pub
			sinkOpts = append(sinkOpts, audit.WithMirror(pub))
		}
	}
	sink, err := audit.NewSink(cfg.AuditPath(), logger, sinkOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = sink

	var pub []byte
	if cfg.Profile.PublicKey != "" {
		key, err := security.DecodePublicKey(cfg.Profile.PublicKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("profile public key: %w", err)
		}
		pub = key
	}
	a.store = profile.NewStore(profile.Options{
		Path:        cfg.Profile.Path,
		Context:     cfg.Profile.Context,
		PublicKey:   pub,
		LoadTimeout: cfg.ProfileLoadTimeout(),
		Audit:       sink,
		Logger:      logger,
	})
	a.store.Reload(ctx)

	a.resource = gateway.NewResourceLayer(
		security.NewValidator(cfg.Server.WorkspaceRoot, cfg.LookupTimeout()), a.store)
	a.consent = breaker.NewConsentStore(cfg.ConsentPath())

	a.approver = a.newApprover(cfg)
	if a.rules, err = newRules(cfg, sink, logger); err != nil {
		a.Close()
		return nil, err
	}
	layers, err := a.layers(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = gateway.New(gateway.Options{
		Layers:       layers,
		LayerTimeout: cfg.LayerTimeout(),
		Snapshots:    a.store,
		Audit:        sink,
		Logger:       logger,
	})
	return a, nil
}

func redactor(cfg *config.Config) audit.Option {
	return audit.WithRedactor(audit.NewRedactor([]byte(cfg.Audit.RedactSalt)))
}

// openSink opens the audit log without mirrors, for one-shot commands that
// only record administrative events.
func openSink(cfg *config.Config, logger *slog.Logger) (*audit.Sink, error) {
	return audit.NewSink(cfg.AuditPath(), logger, redactor(cfg))
}

func (a *app) newApprover(cfg *config.Config) *breaker.AutoApprover {
	trusted := append([]string(nil), cfg.Breaker.TrustedCallers...)
	if cfg.Breaker.TrustedCallersFile != "" {
		extra, err := config.ReadList(cfg.Breaker.TrustedCallersFile)
		if err != nil {
			a.logger.Warn("trusted callers file unreadable", "path", cfg.Breaker.TrustedCallersFile, "error", err)
		}
		trusted = append(trusted, extra...)
	}
	return breaker.New(breaker.Options{
		Threshold:      cfg.Breaker.Threshold,
		Validator:      a.resource,
		Consent:        breaker.AnyConsent{breaker.StaticConsent(cfg.Breaker.Consent), a.consent},
		TrustedCallers: trusted,
		AutonomousEnv:  cfg.Breaker.AutonomousEnv,
		StateFile:      breaker.NewStateFile(cfg.BreakerStatePath()),
		Audit:          a.sink,
		Logger:         a.logger,
	})
}

func newRules(cfg *config.Config, rec audit.Recorder, logger *slog.Logger) (*batch.RuleClassifier, error) {
	rules := make([]batch.Rule, 0, len(cfg.Batch.Rules))
	for _, r := range cfg.Batch.Rules {
		rules = append(rules, batch.Rule{
			Tool:       r.Tool,
			MaxRepeats: r.MaxRepeats,
			Window:     time.Duration(r.WindowSec) * time.Second,
		})
	}
	return batch.NewRuleClassifier(rules, rec, logger)
}

func newWorkflow(cfg *config.Config) (*workflow.Policy, error) {
	level, err := workflow.ParseLevel(cfg.Workflow.Level)
	if err != nil {
		return nil, err
	}
	p := workflow.New(level)
	if cfg.Workflow.EntryPoint != "" {
		p.EntryPoint = cfg.Workflow.EntryPoint
	}
	if len(cfg.Workflow.PipelineRoles) > 0 {
		p.PipelineRoles = cfg.Workflow.PipelineRoles
	}
	c := significance.New(cfg.Workflow.ExemptPaths...)
	if cfg.Workflow.LineThreshold > 0 {
		c.LineThreshold = cfg.Workflow.LineThreshold
	}
	p.Classifier = c
	p.WorkspaceRoot = cfg.Server.WorkspaceRoot
	return p, nil
}

// layers returns the enabled layers for cfg. The batch layer is always
// present so that a disabled layer still reports its allow.
func (a *app) layers(cfg *config.Config) ([]gateway.Layer, error) {
	var out []gateway.Layer
	if cfg.Layers.Resource {
		out = append(out, a.resource)
	}
	if cfg.Layers.Workflow {
		wf, err := newWorkflow(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	a.mu.RLock()
	approver, rules := a.approver, a.rules
	a.mu.RUnlock()
	if cfg.Layers.Breaker {
		out = append(out, approver)
	}
	var classifier batch.Classifier
	if len(rules.Rules()) > 0 {
		classifier = rules
	}
	out = append(out, &batch.Layer{Enabled: cfg.Layers.Batch, Classifier: classifier})
	return out, nil
}

// apply installs the hot-reloadable parts of the config. Config.Reload
// updates the config in place, so the profile context last applied is
// tracked separately.
func (a *app) apply(ctx context.Context) error {
	config.RLock()
	cfg := *a.cfg
	config.RUnlock()

	approver := a.newApprover(&cfg)
	rules, err := newRules(&cfg, a.sink, a.logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.approver, a.rules = approver, rules
	switchTo := ""
	if profile.CanonicalContext(cfg.Profile.Context) != profile.CanonicalContext(a.context) {
		a.context = cfg.Profile.Context
		switchTo = cfg.Profile.Context
	}
	a.mu.Unlock()

	layers, err := a.layers(&cfg)
	if err != nil {
		return err
	}
	a.gateway.SetLayers(layers...)
	a.gateway.SetLayerTimeout(cfg.LayerTimeout())
	if switchTo != "" {
		a.store.SwitchContext(ctx, switchTo)
	}
	return nil
}

// Close releases mirrors and the audit sink.
func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("closing audit sink", "error", err)
		}
		return
	}
	// The sink owns its mirrors once created.
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.mqtt != nil {
		_ = a.mqtt.Close()
	}
}

// breakerControl forwards to the approver currently installed.
type breakerControl struct{ a *app }

func (b breakerControl) current() *breaker.AutoApprover {
	b.a.mu.RLock()
	defer b.a.mu.RUnlock()
	return b.a.approver
}

func (b breakerControl) Name() string         { return b.current().Name() }
func (b breakerControl) State() breaker.State { return b.current().State() }
func (b breakerControl) Threshold() int       { return b.current().Threshold() }
func (b breakerControl) Reset(ctx context.Context, operator string) breaker.State {
	return b.current().Reset(ctx, operator)
}

// batchControl forwards to the rule classifier currently installed.
type batchControl struct{ a *app }

func (b batchControl) Confirm(ctx context.Context, caller, tool string) (bool, error) {
	b.a.mu.RLock()
	rules := b.a.rules
	b.a.mu.RUnlock()
	return rules.Confirm(ctx, caller, tool)
}

// callerOrUser names the operator for administrative commands.
func callerOrUser(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "cli"
}
