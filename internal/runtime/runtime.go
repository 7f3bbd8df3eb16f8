// Package runtime wires the fabric together: one Runtime value owns every
// subsystem, constructed at boot and passed explicitly. There are no process
// singletons; tests build a fresh Runtime per case.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/bus"
	"github.com/ssd-technologies/glyphnet/internal/crypto"
	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/gwip"
	"github.com/ssd-technologies/glyphnet/internal/keys"
	"github.com/ssd-technologies/glyphnet/internal/lock"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
	"github.com/ssd-technologies/glyphnet/internal/router"
	"github.com/ssd-technologies/glyphnet/internal/telemetry"
	"github.com/ssd-technologies/glyphnet/internal/threadlog"
)

// Sentinel errors surfaced at the ingress boundary.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrTooLarge     = errors.New("payload too large")
)

const (
	lockSweepInterval   = 5 * time.Second
	beaconFlushInterval = 10 * time.Second
)

// Runtime is the assembled fabric.
type Runtime struct {
	Cfg       Config
	Bus       *bus.Bus
	Telemetry *telemetry.Hub
	Metrics   *telemetry.Metrics
	Registry  *prometheus.Registry
	ACL       *router.ACL
	Dedup     *gip.DedupCache
	Locks     *lock.Manager
	ThreadLog *threadlog.Log
	Handshake *qkd.Handshake
	GKeys     *qkd.Store
	Enforcer  *qkd.Enforcer
	Deriver   *keys.Deriver
	Vault     *keys.Vault
	Ephemeral *keys.EphemeralKeyManager
	Keys      *crypto.Registry
	Codec     *gwip.Codec
	Phase     *gwip.PhaseScheduler
	Router    *router.Router
	Peers     *router.Peers
	Presence  *router.Tracker
	Beacon    *router.BeaconBuffer
	Air       *router.AirLog

	log zerolog.Logger
}

// New constructs the full runtime from cfg. The thread log database and the
// node's RSA keypair are created on first boot.
func New(cfg Config, log zerolog.Logger) (*Runtime, error) {
	r := &Runtime{
		Cfg: cfg,
		log: log.With().Str("component", "runtime").Logger(),
	}

	r.Bus = bus.New(log)
	r.Telemetry = telemetry.NewHub(log)
	r.Registry = prometheus.NewRegistry()
	r.Metrics = telemetry.NewMetrics(r.Registry)

	acl, err := router.NewACL(router.ACLConfig{
		AllowPrefixes: cfg.AllowPrefixes,
		DenyPrefixes:  cfg.DenyPrefixes,
		AllowRegex:    cfg.AllowRegex,
		DenyRegex:     cfg.DenyRegex,
		Production:    cfg.Production(),
		Strict:        cfg.StrictProdACL,
	}, log)
	if err != nil {
		return nil, err
	}
	r.ACL = acl

	r.Dedup = gip.NewDedupCache(gip.DefaultDedupTTL)
	r.Locks = lock.NewManager(log)
	r.Locks.SetCallback(func(topic string, ev lock.Event) {
		r.Bus.Publish(topic, bus.Envelope{
			TS: float64(time.Now().UnixNano()) / 1e9,
			Op: ev.Type,
			Capsule: map[string]any{
				"type": ev.Type, "resource": ev.Resource, "state": ev.State,
				"owner": ev.Owner, "until": ev.Until, "granted": ev.Granted,
			},
		})
		r.Telemetry.Log("lock_event", map[string]any{"resource": ev.Resource, "state": ev.State})
	})

	tlog, err := threadlog.Open(cfg.ThreadLogDB)
	if err != nil {
		return nil, err
	}
	r.ThreadLog = tlog

	r.Handshake = qkd.NewHandshake(log)
	r.GKeys = qkd.NewStore()
	r.Enforcer = qkd.NewEnforcer(r.Handshake, r.GKeys, log)

	r.Deriver = keys.NewDeriver(log)
	r.Vault = keys.NewVault()
	r.Ephemeral = keys.NewEphemeralKeyManager(r.Deriver, r.Vault, log)

	r.Keys = crypto.NewRegistry(cfg.KeysDir)
	pub, priv, err := r.Keys.EnsureKeys("node")
	if err != nil {
		return nil, err
	}

	r.Codec = gwip.NewCodec(r.Handshake, r.GKeys, log)
	r.Codec.SetSigningKeys(priv, pub)
	r.Phase = gwip.NewPhaseScheduler(r.Telemetry, func(packetID, reason string) {
		r.Metrics.Gated.Inc()
		r.Telemetry.Log("soullaw_veto", map[string]any{"packet_id": packetID, "reason": reason})
	}, log)

	r.Peers = router.NewPeers(log)
	r.Presence = router.NewTracker()
	r.Beacon = router.NewBeaconBuffer(r.Presence, log)
	r.Air = router.NewAirLog()
	radio, err := router.NewRadioCoder()
	if err != nil {
		return nil, err
	}

	r.Router = router.New(r.Enforcer, r.Metrics, log)
	var codec *gwip.Codec
	var phase *gwip.PhaseScheduler
	if cfg.GWEnabled {
		codec = r.Codec
		phase = r.Phase
	}
	transports := router.NewTransports(r.Bus, codec, phase, r.Peers, r.Beacon, radio, r.Air, log)
	transports.RegisterAll(r.Router)

	r.Peers.SetReceiver(func(p *gip.Packet, from string) {
		r.Presence.MarkOnline(from)
		if _, err := r.Router.Dispatch(context.Background(), p, "local", router.Options{}); err != nil {
			r.log.Warn().Str("peer", from).Err(err).Msg("inbound peer packet rejected")
		}
	})

	return r, nil
}

// Start launches the background sweeps and dials configured peers. It
// returns immediately; ctx cancellation stops the sweeps.
func (r *Runtime) Start(ctx context.Context) {
	go r.Ephemeral.Run(ctx)

	go func() {
		ticker := time.NewTicker(lockSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if freed := r.Locks.Sweep(); len(freed) > 0 {
					r.Telemetry.Log("lock_sweep", map[string]any{"freed": len(freed)})
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(beaconFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Beacon.Flush(ctx, func(ctx context.Context, p *gip.Packet, opts router.Options) bool {
					ok, err := r.Router.Dispatch(ctx, p, "local", opts)
					return err == nil && ok
				})
			}
		}
	}()

	for _, addr := range r.Cfg.PeerAddrs {
		if err := r.Peers.Connect(addr); err != nil {
			r.log.Warn().Str("peer", addr).Err(err).Msg("peer dial failed")
		}
	}
}

// Close releases the runtime's durable resources.
func (r *Runtime) Close() error {
	r.Peers.Close()
	return r.ThreadLog.Close()
}
